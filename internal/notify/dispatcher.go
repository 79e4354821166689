package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/droplog/droplog/internal/drops"
	"github.com/droplog/droplog/internal/logger"
	"github.com/droplog/droplog/internal/prices"
)

// Topic carries notification jobs between the poll loop and the worker.
const Topic = "drops.notify"

// Sink delivers a notification to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Job is the queued unit of work. Seq numbers jobs from 1 in Enqueue order.
type Job struct {
	Seq    uint64       `json:"seq"`
	Record drops.Record `json:"record"`
}

// Dispatcher queues drop records and delivers them from a single worker, in
// the order they were enqueued. The gochannel hands messages over from one
// goroutine per publish, so the worker acks on receipt and reorders by Seq.
// Delivery is best-effort: failures are logged and nothing is retried.
type Dispatcher struct {
	pubSub  *gochannel.GoChannel
	prices  prices.Service
	sinks   []Sink
	filter  *Filter
	log     logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	started bool
	closed  bool
	seq     uint64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Options configures a Dispatcher.
type Options struct {
	Prices  prices.Service // nil disables price lookups
	Sinks   []Sink
	Filter  *Filter
	Logger  logger.Logger
	Timeout time.Duration // per price lookup and per sink send; 0 means 5s
}

// NewDispatcher returns a Dispatcher. Call Start before Enqueue.
func NewDispatcher(opts Options) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
		prices:  opts.Prices,
		sinks:   opts.Sinks,
		filter:  opts.Filter,
		log:     log,
		timeout: timeout,
	}
}

// Sinks returns the names of the configured sinks.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Start subscribes the worker. It returns once the subscription exists.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("dispatcher closed")
	}
	if d.started {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	messages, err := d.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", Topic, err)
	}
	d.cancel = cancel
	d.started = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		next := uint64(1)
		pending := make(map[uint64]drops.Record)
		for msg := range messages {
			job, ok := d.receive(msg)
			if !ok {
				continue
			}
			pending[job.Seq] = job.Record
			for {
				rec, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				d.Deliver(ctx, rec)
			}
		}
	}()
	return nil
}

// Enqueue hands rec to the worker without waiting for delivery.
func (d *Dispatcher) Enqueue(rec drops.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("dispatcher closed")
	}
	payload, err := json.Marshal(Job{Seq: d.seq + 1, Record: rec})
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := d.pubSub.Publish(Topic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		return err
	}
	d.seq++
	return nil
}

// Close stops the worker and waits for it to exit. Queued jobs that have not
// started are dropped.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	err := d.pubSub.Close()
	d.wg.Wait()
	return err
}

// receive decodes and acks msg. The gochannel holds back the next message
// until this one is acked, so acking cannot wait for delivery.
func (d *Dispatcher) receive(msg *message.Message) (Job, bool) {
	// Never Nack: the queue has no retries.
	defer msg.Ack()

	var job Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil || job.Seq == 0 {
		d.log.Error("notify", "dropping malformed job", map[string]any{"error": err})
		return Job{}, false
	}
	return job, true
}

// Deliver looks up the price of rec and sends it to every sink.
// It never fails; problems are logged.
func (d *Dispatcher) Deliver(ctx context.Context, rec drops.Record) {
	n := Notification{Record: rec}
	if d.filter.Ignored(n.ItemName()) {
		d.log.Debug("notify", "item ignored", map[string]any{"item": rec.Item})
		return
	}

	if d.prices != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, d.timeout)
		quote, err := d.prices.Lookup(lookupCtx, n.ItemName())
		cancel()
		if err != nil {
			d.log.Warn("notify", "price lookup failed", map[string]any{"item": n.ItemName(), "error": err})
		} else {
			n.Price = &quote
		}
	}

	for _, sink := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Send(sendCtx, n)
		cancel()
		if err != nil {
			d.log.Warn("notify", "send failed", map[string]any{"sink": sink.Name(), "item": rec.Item, "error": err})
			continue
		}
		d.log.Debug("notify", "sent", map[string]any{"sink": sink.Name(), "item": rec.Item})
	}
}
