package chat

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Built-in message templates.
const (
	PhraseSerenGift    = "Seren spirit gifts you"
	PhraseMaterials    = "Materials gained"
	PhraseReceive      = "You receive"
	PhraseBossSession  = "Welcome to your session against"
	PhraseKillCount    = "You have killed"
	itemNameCharacters = `A-Za-z\s&+'()1-4-`
)

// DefaultDropPhrases are the item-gain phrases always recognized.
var DefaultDropPhrases = []string{PhraseSerenGift, PhraseMaterials, PhraseReceive}

// DefaultBossDropPhrases mark drops received from a boss.
var DefaultBossDropPhrases = []string{PhraseReceive}

var killCountPattern = regexp.MustCompile(regexp.QuoteMeta(PhraseKillCount) + `\s*:?\s*(\d[\d,]*)`)

// leadingArticle matches "a", "an" or "the" opening a quantity-less item name.
var leadingArticle = regexp.MustCompile(`(?i)^(?:an?|the)\s+`)

// Kind tags a classified Event.
type Kind int

const (
	KindUnclassified Kind = iota
	KindItemDrop
	KindBossSessionStart
	KindBossKillCount
)

func (k Kind) String() string {
	switch k {
	case KindItemDrop:
		return "item_drop"
	case KindBossSessionStart:
		return "boss_session_start"
	case KindBossKillCount:
		return "boss_kill_count"
	default:
		return "unclassified"
	}
}

// Event is the result of classifying one chat line. Which fields are set
// depends on Kind.
type Event struct {
	Kind Kind
	Line string
	Time time.Time

	// KindItemDrop
	Item     string // "<N> x <Name>"
	Name     string
	Quantity int
	Phrase   string
	BossDrop bool

	// KindBossSessionStart
	Boss string

	// KindBossKillCount
	KillCount string
}

type dropRule struct {
	phrase  string
	pattern *regexp.Regexp
	// speaker also matches "<phrase> <speaker>: <N> x <name>"; nil for built-in phrases.
	speaker *regexp.Regexp
	boss    bool
}

// Classifier matches chat lines against drop and boss templates.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	rules []dropRule
	now   func() time.Time
}

// Option configures a Classifier.
type Option func(*classifierOptions)

type classifierOptions struct {
	dropPhrases     []string
	bossDropPhrases []string
	now             func() time.Time
}

// WithDropPhrases adds phrases that mark an item gain, e.g. a clan chat name.
func WithDropPhrases(phrases ...string) Option {
	return func(o *classifierOptions) { o.dropPhrases = append(o.dropPhrases, phrases...) }
}

// WithBossDropPhrases adds phrases whose drops are attributed to the tracked boss.
func WithBossDropPhrases(phrases ...string) Option {
	return func(o *classifierOptions) { o.bossDropPhrases = append(o.bossDropPhrases, phrases...) }
}

// WithClock overrides the clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(o *classifierOptions) { o.now = now }
}

// NewClassifier builds a classifier over the built-in phrases plus any configured ones.
func NewClassifier(opts ...Option) *Classifier {
	o := &classifierOptions{now: time.Now}
	o.dropPhrases = append(o.dropPhrases, DefaultDropPhrases...)
	o.bossDropPhrases = append(o.bossDropPhrases, DefaultBossDropPhrases...)
	for _, opt := range opts {
		opt(o)
	}

	builtin := make(map[string]bool)
	for _, p := range DefaultDropPhrases {
		builtin[p] = true
	}
	for _, p := range DefaultBossDropPhrases {
		builtin[p] = true
	}
	boss := make(map[string]bool)
	for _, p := range o.bossDropPhrases {
		if p = strings.TrimSpace(p); p != "" {
			boss[p] = true
		}
	}

	c := &Classifier{now: o.now}
	seen := make(map[string]bool)
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		r := dropRule{phrase: p, pattern: dropPattern(p), boss: boss[p]}
		if !builtin[p] {
			r.speaker = speakerPattern(p)
		}
		c.rules = append(c.rules, r)
	}
	for _, p := range o.dropPhrases {
		add(p)
	}
	for _, p := range o.bossDropPhrases {
		add(p)
	}
	return c
}

// dropPattern matches "<phrase>[:] [<N> x ]<name>" running to the end of the line.
func dropPattern(phrase string) *regexp.Regexp {
	expr := regexp.QuoteMeta(phrase)
	if last := phrase[len(phrase)-1]; isWordByte(last) {
		expr += `\b`
	}
	expr += `:?\s*(?:(\d[\d,]*) x )?([A-Za-z][` + itemNameCharacters + `]*?)\s*[.!]?$`
	return regexp.MustCompile(expr)
}

// speakerPattern matches "<phrase> <anything> <N> x <name>" for chat channels
// where the sender's name sits between the channel tag and the item. The
// quantity is mandatory.
func speakerPattern(phrase string) *regexp.Regexp {
	expr := regexp.QuoteMeta(phrase) + `.*?\s(\d[\d,]*) x ([A-Za-z][` + itemNameCharacters + `]*?)\s*[.!]?$`
	return regexp.MustCompile(expr)
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// Phrases returns the drop phrases in match order.
func (c *Classifier) Phrases() []string {
	out := make([]string, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.phrase
	}
	return out
}

// Classify returns the first matching event for line. It never fails: text that
// matches no template, or matches a phrase but not its pattern, is KindUnclassified.
func (c *Classifier) Classify(line string) Event {
	line = strings.TrimSpace(line)
	now := c.now()

	for _, r := range c.rules {
		if !strings.Contains(line, r.phrase) {
			continue
		}
		if ev, ok := matchDrop(r, line); ok {
			ev.Time = now
			return ev
		}
	}

	if name, ok := bossName(line); ok {
		return Event{Kind: KindBossSessionStart, Line: line, Time: now, Boss: name}
	}

	if m := killCountPattern.FindStringSubmatch(line); m != nil {
		return Event{Kind: KindBossKillCount, Line: line, Time: now, KillCount: strings.ReplaceAll(m[1], ",", "")}
	}

	return Event{Kind: KindUnclassified, Line: line, Time: now}
}

func matchDrop(r dropRule, line string) (Event, bool) {
	var m []string
	if r.speaker != nil {
		m = r.speaker.FindStringSubmatch(line)
	}
	if m == nil {
		m = r.pattern.FindStringSubmatch(line)
	}
	if m == nil {
		return Event{}, false
	}
	qty := 1
	if m[1] != "" {
		n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err != nil || n <= 0 {
			return Event{}, false
		}
		qty = n
	}
	name := strings.Join(strings.Fields(m[2]), " ")
	if m[1] == "" {
		name = leadingArticle.ReplaceAllString(name, "")
	}
	if name == "" {
		return Event{}, false
	}
	return Event{
		Kind:     KindItemDrop,
		Line:     line,
		Item:     FormatItem(qty, name),
		Name:     name,
		Quantity: qty,
		Phrase:   r.phrase,
		BossDrop: r.boss,
	}, true
}

// bossName extracts the boss from "... Welcome to your session against: <Name>."
// The name is taken after the first colon following the phrase, or directly
// after the phrase when there is none.
func bossName(line string) (string, bool) {
	text := StripMarker(line)
	idx := strings.Index(text, PhraseBossSession)
	if idx < 0 {
		return "", false
	}
	rest := trimBossPunct(text[idx+len(PhraseBossSession):])
	if colon := strings.Index(rest, ":"); colon >= 0 {
		rest = rest[colon+1:]
	}
	name := trimBossPunct(rest)
	return name, name != ""
}

func trimBossPunct(s string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ".,;:"))
}

// FormatItem renders the stored item description "<N> x <Name>".
func FormatItem(quantity int, name string) string {
	return fmt.Sprintf("%d x %s", quantity, name)
}

// SplitItem parses "<N> x <Name>". ok is false when the left side is not an integer.
func SplitItem(item string) (quantity int, name string, ok bool) {
	left, right, found := strings.Cut(item, " x ")
	if !found {
		return 0, "", false
	}
	n, err := strconv.Atoi(strings.TrimSpace(left))
	if err != nil {
		return 0, "", false
	}
	return n, strings.TrimSpace(right), true
}
