package drops

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/droplog/droplog/internal/chat"
	"github.com/droplog/droplog/internal/errors"
	"github.com/droplog/droplog/internal/kv"
	"github.com/droplog/droplog/internal/logger"
)

// Store reads and writes the save bundle, boss context and webhook credentials.
//
// Every Append is a read-modify-write of the whole bundle. The mutex keeps
// one process consistent; concurrent writers in other processes are not
// coordinated.
type Store struct {
	kv  kv.Store
	log logger.Logger
	now func() time.Time

	mu sync.Mutex
}

// NewStore wraps a kv.Store.
func NewStore(store kv.Store, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{kv: store, log: log, now: time.Now}
}

// Load returns the bundle. A missing or unreadable bundle loads as empty defaults.
func (s *Store) Load(ctx context.Context) (Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) (Bundle, error) {
	data, found, err := s.kv.Get(ctx, KeyBundle)
	if err != nil {
		return Bundle{}, err
	}
	b := emptyBundle()
	if !found {
		return b, nil
	}
	if err := json.Unmarshal(data, &b); err != nil {
		s.log.Warn("drops", "save bundle is corrupt, starting empty", map[string]any{"error": err})
		return emptyBundle(), nil
	}
	if b.Mode != ModeTotal {
		b.Mode = ModeHistory
	}
	if b.Data == nil {
		b.Data = []Record{}
	}
	return b, nil
}

func (s *Store) save(ctx context.Context, b Bundle) error {
	return kv.SetJSON(ctx, s.kv, KeyBundle, b)
}

func (s *Store) update(ctx context.Context, fn func(*Bundle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := fn(&b); err != nil {
		return err
	}
	return s.save(ctx, b)
}

// Append stores rec, assigning an ID and time when unset.
func (s *Store) Append(ctx context.Context, rec Record) (Record, error) {
	if strings.TrimSpace(rec.Item) == "" {
		return Record{}, errors.NewInvalidRequest("item is required")
	}
	if rec.Time.IsZero() {
		rec.Time = s.now()
	}
	if rec.ID == "" {
		id, err := generateULID(rec.Time)
		if err != nil {
			return Record{}, errors.NewInternal(err)
		}
		rec.ID = id
	}
	err := s.update(ctx, func(b *Bundle) error {
		b.Data = append(b.Data, rec)
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns all records in the order they were appended.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	b, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return b.Data, nil
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Get returns the record with the given ID.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	records, err := s.List(ctx)
	if err != nil {
		return Record{}, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return Record{}, errors.NewNotFound(id)
}

// Totals folds the log into item name -> summed quantity.
func (s *Store) Totals(ctx context.Context) (map[string]int, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return Totals(records), nil
}

// SortedTotals returns the totals ordered by item name.
func (s *Store) SortedTotals(ctx context.Context) ([]Total, error) {
	totals, err := s.Totals(ctx)
	if err != nil {
		return nil, err
	}
	return SortTotals(totals), nil
}

// Totals folds records by splitting each Item on " x ".
// Entries whose quantity is not an integer are skipped.
func Totals(records []Record) map[string]int {
	totals := make(map[string]int)
	for _, r := range records {
		qty, name, ok := chat.SplitItem(r.Item)
		if !ok {
			continue
		}
		current, seen := totals[name]
		if !seen {
			current = 0
		}
		totals[name] = current + qty
	}
	return totals
}

// SortTotals orders a totals map by item name.
func SortTotals(totals map[string]int) []Total {
	out := make([]Total, 0, len(totals))
	for item, qty := range totals {
		out = append(out, Total{Item: item, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}

// Mode returns the stored display mode.
func (s *Store) Mode(ctx context.Context) (Mode, error) {
	b, err := s.Load(ctx)
	if err != nil {
		return "", err
	}
	return b.Mode, nil
}

// SetMode stores m.
func (s *Store) SetMode(ctx context.Context, m Mode) error {
	if m != ModeHistory && m != ModeTotal {
		return errors.NewInvalidRequest("mode must be one of: history, total")
	}
	return s.update(ctx, func(b *Bundle) error {
		b.Mode = m
		return nil
	})
}

// ToggleMode flips between history and total and returns the new mode.
func (s *Store) ToggleMode(ctx context.Context) (Mode, error) {
	var next Mode
	err := s.update(ctx, func(b *Bundle) error {
		next = b.Mode.Toggle()
		b.Mode = next
		return nil
	})
	return next, err
}

// Chat returns the stored capture source selection.
func (s *Store) Chat(ctx context.Context) (string, error) {
	b, err := s.Load(ctx)
	if err != nil {
		return "", err
	}
	return b.Chat, nil
}

// SetChat stores the capture source selection.
func (s *Store) SetChat(ctx context.Context, source string) error {
	return s.update(ctx, func(b *Bundle) error {
		b.Chat = source
		return nil
	})
}

// Reset deletes every record and returns how many were removed.
// The mode and source selection are kept.
func (s *Store) Reset(ctx context.Context) (int, error) {
	var n int
	err := s.update(ctx, func(b *Bundle) error {
		n = len(b.Data)
		b.Data = []Record{}
		return nil
	})
	return n, err
}

// BossContext loads the persisted boss context, falling back to the sentinels.
func (s *Store) BossContext(ctx context.Context) (chat.BossContext, error) {
	out := chat.EmptyBossContext()
	if err := s.getString(ctx, KeyBossName, &out.Name); err != nil {
		return out, err
	}
	if err := s.getString(ctx, KeyKillCount, &out.KillCount); err != nil {
		return out, err
	}
	return out, nil
}

// SaveBossContext persists b.
func (s *Store) SaveBossContext(ctx context.Context, b chat.BossContext) error {
	if err := kv.SetJSON(ctx, s.kv, KeyBossName, b.Name); err != nil {
		return err
	}
	return kv.SetJSON(ctx, s.kv, KeyKillCount, b.KillCount)
}

// ClearBossContext removes the persisted boss context.
func (s *Store) ClearBossContext(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyBossName); err != nil {
		return err
	}
	return s.kv.Delete(ctx, KeyKillCount)
}

// Webhook holds the Discord notification credentials.
type Webhook struct {
	URL    string `json:"url"`
	UserID string `json:"user_id,omitempty"`
}

// Webhook returns the stored credentials; empty fields when unset.
func (s *Store) Webhook(ctx context.Context) (Webhook, error) {
	var w Webhook
	if err := s.getString(ctx, KeyDiscordWebhook, &w.URL); err != nil {
		return w, err
	}
	if err := s.getString(ctx, KeyDiscordID, &w.UserID); err != nil {
		return w, err
	}
	return w, nil
}

// SetWebhook stores the credentials. An empty UserID removes the mention.
func (s *Store) SetWebhook(ctx context.Context, w Webhook) error {
	if strings.TrimSpace(w.URL) == "" {
		return errors.NewInvalidRequest("webhook URL is required")
	}
	if err := kv.SetJSON(ctx, s.kv, KeyDiscordWebhook, strings.TrimSpace(w.URL)); err != nil {
		return err
	}
	if strings.TrimSpace(w.UserID) == "" {
		return s.kv.Delete(ctx, KeyDiscordID)
	}
	return kv.SetJSON(ctx, s.kv, KeyDiscordID, strings.TrimSpace(w.UserID))
}

// ClearWebhook removes the credentials.
func (s *Store) ClearWebhook(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyDiscordWebhook); err != nil {
		return err
	}
	return s.kv.Delete(ctx, KeyDiscordID)
}

// getString decodes a JSON string value into dst, leaving dst untouched when
// the key is missing or corrupt.
func (s *Store) getString(ctx context.Context, key string, dst *string) error {
	var v string
	found, err := kv.GetJSON(ctx, s.kv, key, &v)
	if err != nil {
		if found {
			s.log.Warn("drops", "ignoring corrupt value", map[string]any{"key": key, "error": err})
			return nil
		}
		return err
	}
	if found && v != "" {
		*dst = v
	}
	return nil
}
