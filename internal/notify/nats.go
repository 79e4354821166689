package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes each notification as JSON on a subject.
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

// NewNATSSink connects to url. The connection keeps retrying in the
// background if the server is not up yet.
func NewNATSSink(url, subject string) (*NATSSink, error) {
	if subject == "" {
		return nil, fmt.Errorf("nats subject is required")
	}
	nc, err := nats.Connect(url,
		nats.Name("droplog"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSSink{nc: nc, subject: subject}, nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(natsEvent(n))
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := s.nc.Publish(s.subject, data); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", s.subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (s *NATSSink) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}

// NATSEvent is the message body published on the subject.
type NATSEvent struct {
	ID       string    `json:"id,omitempty"`
	Item     string    `json:"item"`
	Name     string    `json:"name"`
	Quantity int       `json:"quantity"`
	Value    string    `json:"value"`
	Price    *int64    `json:"price,omitempty"`
	Boss     string    `json:"boss,omitempty"`
	KC       string    `json:"kill_count,omitempty"`
	Time     time.Time `json:"time"`
}

func natsEvent(n Notification) NATSEvent {
	ev := NATSEvent{
		ID:       n.Record.ID,
		Item:     n.Record.Item,
		Name:     n.ItemName(),
		Quantity: n.Quantity(),
		Value:    n.Value(),
		Time:     n.Record.Time,
	}
	if n.Price != nil {
		v := n.Price.Value()
		ev.Price = &v
	}
	if b := n.Record.Boss; b != nil {
		ev.Boss = b.Name
		ev.KC = b.KillCount
	}
	return ev
}
