package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/droplog/droplog/internal/capture"
	"github.com/droplog/droplog/internal/chat"
	"github.com/droplog/droplog/internal/drops"
	"github.com/droplog/droplog/internal/kv"
)

// scriptSource replays batches of rows; after the script runs out it keeps
// returning nothing.
type scriptSource struct {
	mu      sync.Mutex
	found   bool
	finds   int
	batches [][]string
	err     error
}

func (s *scriptSource) Find(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	return s.found, nil
}

func (s *scriptSource) Read(context.Context) ([]capture.RawLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	out := make([]capture.RawLine, len(batch))
	for i, text := range batch {
		out[i] = capture.RawLine{Text: text, Index: i}
	}
	return out, nil
}

func (s *scriptSource) push(batch ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
}

func (s *scriptSource) setFound(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.found = v
}

type queue struct {
	mu   sync.Mutex
	recs []drops.Record
}

func (q *queue) Enqueue(rec drops.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recs = append(q.recs, rec)
	return nil
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.recs)
}

func newTracker(t *testing.T, src capture.Source, opts Options) (*Tracker, *drops.Store) {
	t.Helper()
	store := drops.NewStore(kv.NewMemory(), nil)
	opts.Source = src
	opts.Store = store
	tr, err := New(context.Background(), opts)
	require.NoError(t, err)
	return tr, store
}

func TestPoll_SerenGift(t *testing.T) {
	src := &scriptSource{found: true}
	q := &queue{}
	var hooked []drops.Record
	tr, store := newTracker(t, src, Options{
		Notifier: q,
		OnRecord: func(r drops.Record) { hooked = append(hooked, r) },
	})
	ctx := context.Background()

	src.push("[08:15:30] The Seren spirit gifts you: 10 x Rune essence")
	res, err := tr.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Equal(t, "10 x Rune essence", res.Records[0].Item)

	totals, err := store.Totals(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, totals["Rune essence"])
	require.Equal(t, 1, q.len())
	require.Len(t, hooked, 1)
}

func TestPoll_DuplicateLineAppendsOnce(t *testing.T) {
	src := &scriptSource{found: true}
	tr, store := newTracker(t, src, Options{})
	ctx := context.Background()

	line := "[12:00:01] Materials gained: 5 x Iron ore"
	src.push(line)
	src.push("[11:59:59] Hello", line)

	_, err := tr.Poll(ctx)
	require.NoError(t, err)
	res, err := tr.Poll(ctx)
	require.NoError(t, err)
	require.Empty(t, res.Records)
	require.Equal(t, 1, res.New)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestPoll_ReassemblesWrappedLines(t *testing.T) {
	src := &scriptSource{found: true}
	tr, store := newTracker(t, src, Options{})
	ctx := context.Background()

	src.push("gifts you: 3 x Coal", "[12:00:01] Materials gained: ", "5 x Iron ore")
	res, err := tr.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Lines)

	totals, err := store.Totals(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"Iron ore": 5}, totals)
}

func TestPoll_BossContext(t *testing.T) {
	src := &scriptSource{found: true}
	var changes []chat.BossContext
	tr, store := newTracker(t, src, Options{
		OnBoss: func(b chat.BossContext) { changes = append(changes, b) },
	})
	ctx := context.Background()

	src.push(
		"[10:00:00] Welcome to your session against: Rasial.",
		"[10:05:00] You have killed 12 Rasial.",
		"[10:05:01] You receive: 1 x Omen crest",
		"[10:05:02] Materials gained: 2 x Coal",
	)
	res, err := tr.Poll(ctx)
	require.NoError(t, err)
	require.True(t, res.BossChanged)
	require.Len(t, res.Records, 2)

	bossDrop := res.Records[0]
	require.NotNil(t, bossDrop.Boss)
	require.Equal(t, chat.BossContext{Name: "Rasial", KillCount: "12"}, *bossDrop.Boss)
	require.Nil(t, res.Records[1].Boss)

	persisted, err := store.BossContext(ctx)
	require.NoError(t, err)
	require.Equal(t, chat.BossContext{Name: "Rasial", KillCount: "12"}, persisted)
	require.Len(t, changes, 2)

	// same boss again: no change, kill count kept
	src.push("[10:10:00] Welcome to your session against: Rasial.")
	res, err = tr.Poll(ctx)
	require.NoError(t, err)
	require.False(t, res.BossChanged)

	src.push("[10:20:00] Welcome to your session against: Raksha.")
	res, err = tr.Poll(ctx)
	require.NoError(t, err)
	require.True(t, res.BossChanged)
	persisted, err = store.BossContext(ctx)
	require.NoError(t, err)
	require.Equal(t, chat.BossContext{Name: "Raksha", KillCount: chat.NoKillCount}, persisted)
}

func TestNew_RestoresBossContext(t *testing.T) {
	ctx := context.Background()
	store := drops.NewStore(kv.NewMemory(), nil)
	require.NoError(t, store.SaveBossContext(ctx, chat.BossContext{Name: "Kerapac", KillCount: "40"}))

	src := &scriptSource{found: true}
	tr, err := New(ctx, Options{Source: src, Store: store})
	require.NoError(t, err)

	src.push("[09:00:00] You receive: 1 x Kerapac's wrist wraps")
	res, err := tr.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Equal(t, "Kerapac", res.Records[0].Boss.Name)
	require.Equal(t, "40", res.Records[0].Boss.KillCount)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Options{})
	require.Error(t, err)
	_, err = New(context.Background(), Options{Source: &scriptSource{}})
	require.Error(t, err)
}

func TestPoll_ReadError(t *testing.T) {
	src := &scriptSource{found: true, err: errors.New("screen gone")}
	tr, _ := newTracker(t, src, Options{})
	_, err := tr.Poll(context.Background())
	require.ErrorContains(t, err, "screen gone")
}

func TestRun_WaitsForSourceThenPolls(t *testing.T) {
	src := &scriptSource{}
	tr, store := newTracker(t, src, Options{
		PollInterval: 5 * time.Millisecond,
		FindInterval: 5 * time.Millisecond,
	})
	ctx := context.Background()

	src.push("[08:15:30] The Seren spirit gifts you: 10 x Rune essence")
	tr.Start(ctx)
	t.Cleanup(tr.Stop)

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.finds >= 2
	}, time.Second, 5*time.Millisecond)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, records)

	src.setFound(true)
	require.Eventually(t, func() bool {
		records, err := store.List(ctx)
		return err == nil && len(records) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStop_Idempotent(t *testing.T) {
	src := &scriptSource{found: true}
	tr, _ := newTracker(t, src, Options{PollInterval: time.Millisecond})
	tr.Start(context.Background())
	tr.Stop()
	tr.Stop()
}

func TestRun_ContextCancel(t *testing.T) {
	src := &scriptSource{found: true}
	tr, _ := newTracker(t, src, Options{PollInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
