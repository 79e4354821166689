package chat

// Sentinels for an untracked boss context.
const (
	NoBoss      = "No boss"
	NoKillCount = "N/A"
)

// BossContext is the boss encounter currently being tracked.
type BossContext struct {
	Name      string `json:"boss_name"`
	KillCount string `json:"kill_count"`
}

// EmptyBossContext returns the sentinel context.
func EmptyBossContext() BossContext {
	return BossContext{Name: NoBoss, KillCount: NoKillCount}
}

// Tracked reports whether a boss session has been seen.
func (b BossContext) Tracked() bool {
	return b.Name != "" && b.Name != NoBoss
}

// BossTracker applies boss events to a BossContext.
type BossTracker struct {
	current BossContext
}

// NewBossTracker starts from ctx; zero fields take the sentinel values.
func NewBossTracker(ctx BossContext) *BossTracker {
	if ctx.Name == "" {
		ctx.Name = NoBoss
	}
	if ctx.KillCount == "" {
		ctx.KillCount = NoKillCount
	}
	return &BossTracker{current: ctx}
}

// Current returns a copy of the tracked context.
func (t *BossTracker) Current() BossContext {
	return t.current
}

// StartSession switches to name. The kill count resets only when the boss changes.
func (t *BossTracker) StartSession(name string) (changed bool) {
	if name == t.current.Name {
		return false
	}
	t.current = BossContext{Name: name, KillCount: NoKillCount}
	return true
}

// SetKillCount records count against whichever boss is tracked.
// The kill-count message does not name its boss, so no attribution check is made.
func (t *BossTracker) SetKillCount(count string) (changed bool) {
	if count == t.current.KillCount {
		return false
	}
	t.current.KillCount = count
	return true
}

// Apply feeds a classified event to the tracker. Events of other kinds are ignored.
func (t *BossTracker) Apply(ev Event) (changed bool) {
	switch ev.Kind {
	case KindBossSessionStart:
		return t.StartSession(ev.Boss)
	case KindBossKillCount:
		return t.SetKillCount(ev.KillCount)
	default:
		return false
	}
}

// Reset returns the tracker to the sentinel context.
func (t *BossTracker) Reset() {
	t.current = EmptyBossContext()
}
