// Package drops persists the drop log and derives the totals view from it.
package drops

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/droplog/droplog/internal/chat"
)

// KV keys.
const (
	KeyBundle         = "droplog"
	KeyBossName       = "droplog.bossName"
	KeyKillCount      = "droplog.killCount"
	KeyDiscordWebhook = "droplog.discordWebhook"
	KeyDiscordID      = "droplog.discordId"
)

// Mode selects how the log is shown and exported.
type Mode string

const (
	ModeHistory Mode = "history"
	ModeTotal   Mode = "total"
)

// ParseMode validates a mode string. "totals" is accepted for "total".
func ParseMode(s string) (Mode, error) {
	switch s {
	case string(ModeHistory):
		return ModeHistory, nil
	case string(ModeTotal), "totals":
		return ModeTotal, nil
	default:
		return "", fmt.Errorf("mode must be one of: history, total")
	}
}

// Toggle returns the other mode.
func (m Mode) Toggle() Mode {
	if m == ModeTotal {
		return ModeHistory
	}
	return ModeTotal
}

// Record is one stored drop. Records are never modified once appended.
type Record struct {
	ID       string            `json:"id,omitempty"`
	Item     string            `json:"item"` // "<N> x <Name>"
	Name     string            `json:"name,omitempty"`
	Quantity int               `json:"quantity,omitempty"`
	Time     time.Time         `json:"time"`
	Boss     *chat.BossContext `json:"boss,omitempty"`
}

// FromEvent builds a Record from an item-drop event. boss is attached only for
// boss drops.
func FromEvent(ev chat.Event, boss chat.BossContext) Record {
	r := Record{
		Item:     ev.Item,
		Name:     ev.Name,
		Quantity: ev.Quantity,
		Time:     ev.Time,
	}
	if ev.BossDrop {
		b := boss
		r.Boss = &b
	}
	return r
}

// Bundle is the save document stored under KeyBundle.
type Bundle struct {
	Chat string   `json:"chat,omitempty"`
	Mode Mode     `json:"mode"`
	Data []Record `json:"data"`
}

func emptyBundle() Bundle {
	return Bundle{Mode: ModeHistory, Data: []Record{}}
}

// Total is one row of the aggregate view.
type Total struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

func generateULID(now time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
