package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// KV backends understood by the kv package.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// DefaultItemDBURL is the RuneScape Grand Exchange detail endpoint used by the price proxy.
const DefaultItemDBURL = "https://secure.runescape.com/m=itemdb_rs/api/catalogue/detail.json"

// Config holds application configuration.
type Config struct {
	// PollIntervalMS is the period of the capture → classify poll loop.
	PollIntervalMS int `json:"poll_interval_ms"`

	// FindIntervalMS is how often the tracker retries locating the capture source
	// before polling starts.
	FindIntervalMS int `json:"find_interval_ms"`

	// HistorySize is the capacity of the dedup window (raw lines remembered).
	HistorySize int `json:"history_size"`

	// DropPhrases are extra phrases that mark a chat line as an item gain,
	// e.g. a clan chat name used as a custom drop marker. Built-in phrases always apply.
	DropPhrases []string `json:"drop_phrases,omitempty"`

	// BossDropPhrases are drop phrases whose drops are attributed to the tracked boss.
	// Built-in: "You receive".
	BossDropPhrases []string `json:"boss_drop_phrases,omitempty"`

	// PriceAPIURL is the base URL of the price lookup service. Lookups are
	// GET <PriceAPIURL>/<Normalized_name>. Empty disables lookups.
	PriceAPIURL string `json:"price_api_url,omitempty"`

	// PriceCacheTTLSeconds controls how long a price (or proxy response) is cached.
	PriceCacheTTLSeconds int `json:"price_cache_ttl_seconds"`

	// HTTPTimeoutSeconds bounds every outgoing HTTP call (prices, webhooks, proxy upstream).
	HTTPTimeoutSeconds int `json:"http_timeout_seconds"`

	// IgnoreItems are glob patterns (e.g. "*essence*") for items that are recorded
	// but never sent to notification sinks.
	IgnoreItems []string `json:"ignore_items,omitempty"`

	// KVBackend selects the persistence backend: "sqlite" (default) or "redis".
	KVBackend string `json:"kv_backend"`

	// RedisURL is used when KVBackend is "redis".
	RedisURL string `json:"redis_url,omitempty"`

	// DiscordWebhookURL and DiscordUserID are fallbacks for the credentials stored
	// with `droplog webhook set`. The stored values win when both exist.
	DiscordWebhookURL string `json:"discord_webhook_url,omitempty"`
	DiscordUserID     string `json:"discord_user_id,omitempty"`

	// TelegramToken and TelegramChatID enable the Telegram sink.
	TelegramToken  string `json:"telegram_token,omitempty"`
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`

	// NATSURL enables publishing drops to NATS on NATSSubject.
	NATSURL     string `json:"nats_url,omitempty"`
	NATSSubject string `json:"nats_subject,omitempty"`

	// DesktopNotify enables OS desktop notifications for drops.
	DesktopNotify bool `json:"desktop_notify,omitempty"`

	// WebBind and WebPort configure the dashboard / price proxy listener.
	WebBind string `json:"web_bind"`
	WebPort int    `json:"web_port"`

	// ItemDBURL is the upstream used by the /api/item/{id} proxy.
	ItemDBURL string `json:"item_db_url"`

	// ProxyAPIKeyHash is a bcrypt hash (see `droplog hash-key`). When set, proxy
	// requests must carry a matching X-API-KEY header.
	ProxyAPIKeyHash string `json:"proxy_api_key_hash,omitempty"`

	// ProxyRateLimit is the per-IP request budget per minute for the proxy.
	ProxyRateLimit int `json:"proxy_rate_limit"`

	// ProxyAllowedOrigins lists browser origins allowed to call the proxy.
	// Requests without an Origin header are always allowed.
	ProxyAllowedOrigins []string `json:"proxy_allowed_origins,omitempty"`

	// LogMaxSizeMB, LogMaxBackups and LogMaxAgeDays tune log file rotation.
	LogMaxSizeMB  int `json:"log_max_size_mb"`
	LogMaxBackups int `json:"log_max_backups"`
	LogMaxAgeDays int `json:"log_max_age_days"`

	// Debug enables debug-level console logging.
	Debug bool `json:"debug,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		PollIntervalMS:       600,
		FindIntervalMS:       1000,
		HistorySize:          100,
		PriceCacheTTLSeconds: 60,
		HTTPTimeoutSeconds:   5,
		KVBackend:            BackendSQLite,
		NATSSubject:          "drops.item",
		WebBind:              "127.0.0.1",
		WebPort:              8080,
		ItemDBURL:            DefaultItemDBURL,
		ProxyRateLimit:       60,
		LogMaxSizeMB:         10,
		LogMaxBackups:        5,
		LogMaxAgeDays:        30,
	}
}

// PollInterval returns the poll period as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// FindInterval returns the source discovery period as a duration.
func (c *Config) FindInterval() time.Duration {
	return time.Duration(c.FindIntervalMS) * time.Millisecond
}

// HTTPTimeout returns the outgoing HTTP timeout as a duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// PriceCacheTTL returns the price cache TTL as a duration.
func (c *Config) PriceCacheTTL() time.Duration {
	return time.Duration(c.PriceCacheTTLSeconds) * time.Second
}

// Load loads configuration from baseDir/config.json, then applies environment
// overrides (including baseDir/.env). Returns defaults if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.droplog.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if err := LoadEnvFile(baseDir); err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.Getenv)
	return cfg, nil
}

// LoadWithRepo loads configuration from both global (~/.droplog) and repo (.droplog) directories.
// Repo config is found by walking upward from startDir to find the nearest .droplog/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	if err := LoadEnvFile(globalDir); err != nil {
		return nil, err
	}
	ApplyEnv(cfg, os.Getenv)
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .droplog/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".droplog", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadEnvFile loads baseDir/.env into the process environment.
// Variables already set in the environment are not overridden. A missing file is not an error.
func LoadEnvFile(baseDir string) error {
	envPath := filepath.Join(baseDir, ".env")
	if _, err := os.Stat(envPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(envPath)
}

// ApplyEnv overrides config values from DROPLOG_* environment variables.
// getenv is injected so tests don't have to mutate the process environment.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("DROPLOG_PRICE_API_URL"); v != "" {
		cfg.PriceAPIURL = v
	}
	if v := getenv("DROPLOG_KV_BACKEND"); v != "" {
		cfg.KVBackend = v
	}
	if v := getenv("DROPLOG_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := getenv("DROPLOG_DISCORD_WEBHOOK"); v != "" {
		cfg.DiscordWebhookURL = v
	}
	if v := getenv("DROPLOG_DISCORD_ID"); v != "" {
		cfg.DiscordUserID = v
	}
	if v := getenv("DROPLOG_TELEGRAM_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}
	if v := getenv("DROPLOG_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = id
		}
	}
	if v := getenv("DROPLOG_NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := getenv("DROPLOG_PROXY_API_KEY_HASH"); v != "" {
		cfg.ProxyAPIKeyHash = v
	}
	if v := getenv("DROPLOG_DEBUG"); v != "" {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true")
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.PollIntervalMS = pickInt(overlay.PollIntervalMS, base.PollIntervalMS)
	result.FindIntervalMS = pickInt(overlay.FindIntervalMS, base.FindIntervalMS)
	result.HistorySize = pickInt(overlay.HistorySize, base.HistorySize)
	result.PriceCacheTTLSeconds = pickInt(overlay.PriceCacheTTLSeconds, base.PriceCacheTTLSeconds)
	result.HTTPTimeoutSeconds = pickInt(overlay.HTTPTimeoutSeconds, base.HTTPTimeoutSeconds)
	result.WebPort = pickInt(overlay.WebPort, base.WebPort)
	result.ProxyRateLimit = pickInt(overlay.ProxyRateLimit, base.ProxyRateLimit)
	result.LogMaxSizeMB = pickInt(overlay.LogMaxSizeMB, base.LogMaxSizeMB)
	result.LogMaxBackups = pickInt(overlay.LogMaxBackups, base.LogMaxBackups)
	result.LogMaxAgeDays = pickInt(overlay.LogMaxAgeDays, base.LogMaxAgeDays)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.TelegramChatID = overlay.TelegramChatID
	if result.TelegramChatID == 0 {
		result.TelegramChatID = base.TelegramChatID
	}

	result.PriceAPIURL = pickString(overlay.PriceAPIURL, base.PriceAPIURL)
	result.KVBackend = pickString(overlay.KVBackend, base.KVBackend)
	result.RedisURL = pickString(overlay.RedisURL, base.RedisURL)
	result.DiscordWebhookURL = pickString(overlay.DiscordWebhookURL, base.DiscordWebhookURL)
	result.DiscordUserID = pickString(overlay.DiscordUserID, base.DiscordUserID)
	result.TelegramToken = pickString(overlay.TelegramToken, base.TelegramToken)
	result.NATSURL = pickString(overlay.NATSURL, base.NATSURL)
	result.NATSSubject = pickString(overlay.NATSSubject, base.NATSSubject)
	result.WebBind = pickString(overlay.WebBind, base.WebBind)
	result.ItemDBURL = pickString(overlay.ItemDBURL, base.ItemDBURL)
	result.ProxyAPIKeyHash = pickString(overlay.ProxyAPIKeyHash, base.ProxyAPIKeyHash)

	// Booleans: overlay wins if true, else base
	result.DesktopNotify = base.DesktopNotify || overlay.DesktopNotify
	result.Debug = base.Debug || overlay.Debug

	// Arrays: merge and deduplicate
	result.DropPhrases = mergeStringSlice(base.DropPhrases, overlay.DropPhrases)
	result.BossDropPhrases = mergeStringSlice(base.BossDropPhrases, overlay.BossDropPhrases)
	result.IgnoreItems = mergeStringSlice(base.IgnoreItems, overlay.IgnoreItems)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.ProxyAllowedOrigins = mergeStringSlice(base.ProxyAllowedOrigins, overlay.ProxyAllowedOrigins)

	return result
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
