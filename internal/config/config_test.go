package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollIntervalMS != 600 {
		t.Fatalf("PollIntervalMS = %d, want 600", cfg.PollIntervalMS)
	}
	if cfg.HistorySize != 100 {
		t.Fatalf("HistorySize = %d, want 100", cfg.HistorySize)
	}
	if cfg.KVBackend != BackendSQLite {
		t.Fatalf("KVBackend = %q, want %q", cfg.KVBackend, BackendSQLite)
	}
	if cfg.PollInterval() != 600*time.Millisecond {
		t.Fatalf("PollInterval() = %v, want 600ms", cfg.PollInterval())
	}
	if cfg.HTTPTimeout() != 5*time.Second {
		t.Fatalf("HTTPTimeout() = %v, want 5s", cfg.HTTPTimeout())
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"history_size": 250, "drop_phrases": ["Clan Loot"]}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HistorySize != 250 {
		t.Fatalf("HistorySize = %d, want 250", cfg.HistorySize)
	}
	if cfg.PollIntervalMS != 600 {
		t.Fatalf("PollIntervalMS = %d, want 600 (default kept)", cfg.PollIntervalMS)
	}
	if len(cfg.DropPhrases) != 1 || cfg.DropPhrases[0] != "Clan Loot" {
		t.Fatalf("DropPhrases = %v, want [Clan Loot]", cfg.DropPhrases)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_DisabledTools(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"disabled_tools": ["drops_export", "drops_boss"]}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.DisabledTools) != 2 {
		t.Fatalf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
	if cfg.DisabledTools[0] != "drops_export" {
		t.Errorf("DisabledTools[0] = %q, want %q", cfg.DisabledTools[0], "drops_export")
	}
	if cfg.DisabledTools[1] != "drops_boss" {
		t.Errorf("DisabledTools[1] = %q, want %q", cfg.DisabledTools[1], "drops_boss")
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	globalConfig := `{"web_port": 9000, "ignore_items": ["*essence*"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	repoDir := filepath.Join(repoRoot, ".droplog")
	if err := os.MkdirAll(repoDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	repoConfig := `{"web_port": 9100, "ignore_items": ["Coal"]}`
	if err := os.WriteFile(filepath.Join(repoDir, "config.json"), []byte(repoConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, repoRoot)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.WebPort != 9100 {
		t.Errorf("WebPort = %d, want 9100 (repo override)", cfg.WebPort)
	}
	if len(cfg.IgnoreItems) != 2 {
		t.Errorf("IgnoreItems = %v, want 2 merged entries", cfg.IgnoreItems)
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoDir := t.TempDir()

	cfg, err := LoadWithRepo(globalDir, repoDir)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.WebPort != 8080 {
		t.Errorf("WebPort = %d, want 8080", cfg.WebPort)
	}
	if cfg.ItemDBURL != DefaultItemDBURL {
		t.Errorf("ItemDBURL = %q, want default", cfg.ItemDBURL)
	}
}

func TestMerge_ScalarOverride(t *testing.T) {
	base := &Config{HistorySize: 100, DBMaxOpenConns: 5, KVBackend: BackendSQLite}
	overlay := &Config{HistorySize: 50, KVBackend: BackendRedis}

	result := Merge(base, overlay)

	if result.HistorySize != 50 {
		t.Errorf("HistorySize = %d, want 50 (overlay)", result.HistorySize)
	}
	if result.DBMaxOpenConns != 5 {
		t.Errorf("DBMaxOpenConns = %d, want 5 (base, overlay is zero)", result.DBMaxOpenConns)
	}
	if result.KVBackend != BackendRedis {
		t.Errorf("KVBackend = %q, want %q", result.KVBackend, BackendRedis)
	}
}

func TestMerge_BooleanOr(t *testing.T) {
	base := &Config{DesktopNotify: true}
	overlay := &Config{DesktopNotify: false}

	result := Merge(base, overlay)

	if !result.DesktopNotify {
		t.Error("DesktopNotify should be true (base OR overlay)")
	}
}

func TestMerge_ArrayMergeDedup(t *testing.T) {
	base := &Config{BossDropPhrases: []string{"You receive", "Loot Beam"}}
	overlay := &Config{BossDropPhrases: []string{" Loot Beam ", "Rare drop"}}

	result := Merge(base, overlay)

	if len(result.BossDropPhrases) != 3 {
		t.Fatalf("BossDropPhrases = %v, want 3 (merged, deduped)", result.BossDropPhrases)
	}
	has := make(map[string]bool)
	for _, s := range result.BossDropPhrases {
		has[s] = true
	}
	for _, want := range []string{"You receive", "Loot Beam", "Rare drop"} {
		if !has[want] {
			t.Errorf("BossDropPhrases missing %q", want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DROPLOG_PRICE_API_URL":    "http://prices.local/api",
		"DROPLOG_KV_BACKEND":       "redis",
		"DROPLOG_REDIS_URL":        "redis://localhost:6379/0",
		"DROPLOG_TELEGRAM_CHAT_ID": "12345",
		"DROPLOG_DEBUG":            "true",
	}
	cfg := DefaultConfig()
	ApplyEnv(cfg, func(k string) string { return env[k] })

	if cfg.PriceAPIURL != "http://prices.local/api" {
		t.Errorf("PriceAPIURL = %q", cfg.PriceAPIURL)
	}
	if cfg.KVBackend != BackendRedis {
		t.Errorf("KVBackend = %q, want redis", cfg.KVBackend)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.TelegramChatID != 12345 {
		t.Errorf("TelegramChatID = %d, want 12345", cfg.TelegramChatID)
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}
}

func TestApplyEnv_InvalidChatIDIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TelegramChatID = 7
	ApplyEnv(cfg, func(k string) string {
		if k == "DROPLOG_TELEGRAM_CHAT_ID" {
			return "not-a-number"
		}
		return ""
	})
	if cfg.TelegramChatID != 7 {
		t.Errorf("TelegramChatID = %d, want 7 (unchanged)", cfg.TelegramChatID)
	}
}

func TestLoadEnvFile_MissingIsNotError(t *testing.T) {
	if err := LoadEnvFile(t.TempDir()); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
}

func TestLoadEnvFile_SetsUnsetVariables(t *testing.T) {
	tmpDir := t.TempDir()
	const key = "DROPLOG_TEST_ENVFILE_VALUE"
	if err := os.WriteFile(filepath.Join(tmpDir, ".env"), []byte(key+"=from-file\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	if err := LoadEnvFile(tmpDir); err != nil {
		t.Fatalf("LoadEnvFile() error = %v", err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Errorf("%s = %q, want %q", key, got, "from-file")
	}
}

func TestFindRepoConfig_InParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	repoDir := filepath.Join(tmpDir, ".droplog")
	if err := os.MkdirAll(repoDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	configPath := filepath.Join(repoDir, "config.json")
	if err := os.WriteFile(configPath, []byte(`{}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	subdir := filepath.Join(tmpDir, "subdir", "deeper")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	found := FindRepoConfig(subdir)
	if found != configPath {
		t.Errorf("FindRepoConfig() = %q, want %q", found, configPath)
	}
}

func TestFindRepoConfig_Empty(t *testing.T) {
	if found := FindRepoConfig(""); found != "" {
		t.Errorf("FindRepoConfig(\"\") = %q, want empty string", found)
	}
}
