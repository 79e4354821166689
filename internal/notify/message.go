// Package notify formats drop notifications and delivers them to the
// configured sinks from a background worker.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/droplog/droplog/internal/chat"
	"github.com/droplog/droplog/internal/drops"
	"github.com/droplog/droplog/internal/prices"
)

const (
	// Username is the display name used for webhook posts.
	Username = "Drop Tracker"
	// PriceUnavailable replaces the value when the price lookup fails.
	PriceUnavailable = "price unavailable"

	embedColor     = 0xD4AF37
	bossEmbedColor = 0x8B0000
)

// Notification is one drop ready for delivery.
type Notification struct {
	Record drops.Record  `json:"record"`
	Price  *prices.Quote `json:"price,omitempty"` // nil when the lookup failed
}

// ItemName returns the item name without its quantity.
func (n Notification) ItemName() string {
	if n.Record.Name != "" {
		return n.Record.Name
	}
	if _, name, ok := chat.SplitItem(n.Record.Item); ok {
		return name
	}
	return n.Record.Item
}

// Quantity returns the dropped quantity, defaulting to 1.
func (n Notification) Quantity() int {
	if n.Record.Quantity > 0 {
		return n.Record.Quantity
	}
	if qty, _, ok := chat.SplitItem(n.Record.Item); ok {
		return qty
	}
	return 1
}

// Value renders the market value of the whole stack, e.g. "1,234,500 gp".
func (n Notification) Value() string {
	if n.Price == nil {
		return PriceUnavailable
	}
	return humanize.Comma(n.Price.Value()*int64(n.Quantity())) + " gp"
}

// Content is the one-line summary: "[<time>] Received - <item>".
func (n Notification) Content() string {
	return fmt.Sprintf("[%s] Received - %s", drops.FormatTime(n.Record.Time), n.Record.Item)
}

// Text is the plain-text body used by chat and desktop sinks.
func (n Notification) Text() string {
	var b strings.Builder
	b.WriteString(n.Content())
	b.WriteString("\nValue: ")
	b.WriteString(n.Value())
	if boss := n.Record.Boss; boss != nil {
		fmt.Fprintf(&b, "\nBoss: %s (kill count %s)", boss.Name, boss.KillCount)
	}
	return b.String()
}

// WebhookPayload is the JSON body posted to a Discord-style webhook.
type WebhookPayload struct {
	Username string  `json:"username"`
	Content  string  `json:"content"`
	Embeds   []Embed `json:"embeds"`
}

type Embed struct {
	Author      *EmbedAuthor    `json:"author,omitempty"`
	Description string          `json:"description,omitempty"`
	Fields      []EmbedField    `json:"fields,omitempty"`
	Color       int             `json:"color"`
	Footer      *EmbedFooter    `json:"footer,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
	Thumbnail   *EmbedThumbnail `json:"thumbnail,omitempty"`
}

type EmbedAuthor struct {
	Name string `json:"name"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

type EmbedThumbnail struct {
	URL string `json:"url"`
}

// BuildPayload renders n as a webhook payload. A non-empty userID is
// mentioned at the start of the content.
func BuildPayload(n Notification, userID string) WebhookPayload {
	content := n.Content()
	if userID != "" {
		content = fmt.Sprintf("<@%s> %s", userID, content)
	}

	embed := Embed{
		Author:      &EmbedAuthor{Name: Username},
		Description: fmt.Sprintf("Received **%s**", n.Record.Item),
		Fields: []EmbedField{
			{Name: "Item", Value: n.ItemName(), Inline: true},
			{Name: "Quantity", Value: humanize.Comma(int64(n.Quantity())), Inline: true},
			{Name: "Value", Value: n.Value(), Inline: true},
		},
		Color:     embedColor,
		Footer:    &EmbedFooter{Text: "droplog"},
		Timestamp: n.Record.Time.UTC().Format(time.RFC3339),
	}
	if boss := n.Record.Boss; boss != nil {
		embed.Color = bossEmbedColor
		embed.Fields = append(embed.Fields,
			EmbedField{Name: "Boss", Value: boss.Name, Inline: true},
			EmbedField{Name: "Kill count", Value: boss.KillCount, Inline: true},
		)
	}
	if n.Price != nil && n.Price.ID > 0 {
		embed.Thumbnail = &EmbedThumbnail{URL: prices.ThumbnailURL(n.Price.ID)}
	}

	return WebhookPayload{
		Username: Username,
		Content:  content,
		Embeds:   []Embed{embed},
	}
}
