package notify

import (
	"context"
	"strings"

	"github.com/gen2brain/beeep"
)

const desktopBodyMax = 200

// DesktopSink shows an OS notification.
type DesktopSink struct {
	notify func(title, body string) error
}

func NewDesktopSink() *DesktopSink {
	return &DesktopSink{notify: func(title, body string) error {
		return beeep.Notify(title, body, "")
	}}
}

func (d *DesktopSink) Name() string { return "desktop" }

func (d *DesktopSink) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	title := "Drop: " + n.Record.Item
	return d.notify(title, truncate(n.Text(), desktopBodyMax))
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
