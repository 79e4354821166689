// Package tracker runs the capture → reassemble → dedup → classify → store
// pipeline on a fixed poll period.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/droplog/droplog/internal/capture"
	"github.com/droplog/droplog/internal/chat"
	"github.com/droplog/droplog/internal/drops"
	"github.com/droplog/droplog/internal/errors"
	"github.com/droplog/droplog/internal/logger"
)

const (
	DefaultPollInterval = 600 * time.Millisecond
	DefaultFindInterval = time.Second
)

// Notifier accepts records for asynchronous delivery. *notify.Dispatcher satisfies it.
type Notifier interface {
	Enqueue(rec drops.Record) error
}

// Options configures a Tracker. Source and Store are required.
type Options struct {
	Source       capture.Source
	Store        *drops.Store
	Classifier   *chat.Classifier // nil uses the built-in phrases
	Notifier     Notifier         // nil disables notifications
	Logger       logger.Logger
	HistorySize  int
	PollInterval time.Duration
	FindInterval time.Duration

	// OnRecord and OnBoss are called from the poll goroutine after a record is
	// stored or the boss context changes.
	OnRecord func(drops.Record)
	OnBoss   func(chat.BossContext)
}

// PollResult summarizes one poll.
type PollResult struct {
	Lines       int            // logical lines after reassembly
	New         int            // lines not seen before
	Records     []drops.Record // stored drops
	BossChanged bool
}

// Tracker holds the pipeline state. History, boss context and record appends
// are only touched from the goroutine running Poll.
type Tracker struct {
	src        capture.Source
	store      *drops.Store
	classifier *chat.Classifier
	notifier   Notifier
	log        logger.Logger
	history    *chat.History
	boss       *chat.BossTracker

	pollInterval time.Duration
	findInterval time.Duration
	onRecord     func(drops.Record)
	onBoss       func(chat.BossContext)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Tracker and restores the persisted boss context.
func New(ctx context.Context, opts Options) (*Tracker, error) {
	if opts.Source == nil {
		return nil, errors.NewInvalidRequest("capture source is required")
	}
	if opts.Store == nil {
		return nil, errors.NewInvalidRequest("record store is required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = chat.NewClassifier()
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	find := opts.FindInterval
	if find <= 0 {
		find = DefaultFindInterval
	}

	boss, err := opts.Store.BossContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("load boss context: %w", err)
	}

	return &Tracker{
		src:          opts.Source,
		store:        opts.Store,
		classifier:   classifier,
		notifier:     opts.Notifier,
		log:          log,
		history:      chat.NewHistory(opts.HistorySize),
		boss:         chat.NewBossTracker(boss),
		pollInterval: poll,
		findInterval: find,
		onRecord:     opts.OnRecord,
		onBoss:       opts.OnBoss,
		stopCh:       make(chan struct{}),
	}, nil
}

// Start runs the loop in a goroutine.
func (t *Tracker) Start(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.Run(ctx); err != nil {
			t.log.Debug("tracker", "loop exited", map[string]any{"error": err})
		}
	}()
}

// Stop prevents further polls and waits for the loop started by Start.
// A poll in progress is allowed to finish.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

// Run waits for the source, then polls until ctx is cancelled or Stop is called.
// Polls never overlap; ticks missed during a slow poll are dropped by the ticker.
func (t *Tracker) Run(ctx context.Context) error {
	if err := t.waitForSource(ctx); err != nil {
		return err
	}
	t.log.Info("tracker", "capture source found, polling", map[string]any{"interval": t.pollInterval.String()})

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.stopCh:
			return nil
		case <-ticker.C:
			if _, err := t.Poll(ctx); err != nil {
				t.log.Warn("tracker", "poll failed", map[string]any{"error": err})
			}
		}
	}
}

func (t *Tracker) waitForSource(ctx context.Context) error {
	found, err := t.src.Find(ctx)
	if found {
		return nil
	}
	t.log.Info("tracker", "waiting for capture source", map[string]any{"error": err})

	ticker := time.NewTicker(t.findInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.stopCh:
			return errors.NewCancelled("find capture source")
		case <-ticker.C:
			found, err := t.src.Find(ctx)
			if found {
				return nil
			}
			if err != nil {
				t.log.Debug("tracker", "capture source not ready", map[string]any{"error": err})
			}
		}
	}
}

// Poll runs one pipeline pass. Individual lines never fail the poll; only a
// capture read error is returned.
func (t *Tracker) Poll(ctx context.Context) (PollResult, error) {
	var res PollResult

	raw, err := t.src.Read(ctx)
	if err != nil {
		return res, errors.NewSourceUnavailable("read", err)
	}
	lines := chat.Reassemble(raw)
	res.Lines = len(lines)

	for _, line := range lines {
		if t.history.Seen(line.Text) {
			continue
		}
		t.history.Record(line.Text)
		res.New++

		ev := t.classifier.Classify(line.Text)
		switch ev.Kind {
		case chat.KindItemDrop:
			if rec, ok := t.recordDrop(ctx, ev); ok {
				res.Records = append(res.Records, rec)
			}
		case chat.KindBossSessionStart, chat.KindBossKillCount:
			if t.boss.Apply(ev) {
				res.BossChanged = true
				t.saveBoss(ctx)
			}
		default:
			t.log.Debug("tracker", "unclassified line", map[string]any{"line": line.Text})
		}
	}
	return res, nil
}

func (t *Tracker) recordDrop(ctx context.Context, ev chat.Event) (drops.Record, bool) {
	rec, err := t.store.Append(ctx, drops.FromEvent(ev, t.boss.Current()))
	if err != nil {
		t.log.Error("tracker", "failed to store drop", map[string]any{"item": ev.Item, "error": err})
		return drops.Record{}, false
	}
	t.log.Info("tracker", "drop recorded", map[string]any{"id": rec.ID, "item": rec.Item, "boss_drop": ev.BossDrop})

	if t.notifier != nil {
		if err := t.notifier.Enqueue(rec); err != nil {
			t.log.Warn("tracker", "failed to queue notification", map[string]any{"item": rec.Item, "error": err})
		}
	}
	if t.onRecord != nil {
		t.onRecord(rec)
	}
	return rec, true
}

func (t *Tracker) saveBoss(ctx context.Context) {
	current := t.boss.Current()
	if err := t.store.SaveBossContext(ctx, current); err != nil {
		t.log.Warn("tracker", "failed to persist boss context", map[string]any{"error": err})
	}
	t.log.Info("tracker", "boss context updated", map[string]any{"boss": current.Name, "kill_count": current.KillCount})
	if t.onBoss != nil {
		t.onBoss(current)
	}
}
