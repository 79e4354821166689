package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/droplog/droplog/internal/chat"
	"github.com/droplog/droplog/internal/config"
	"github.com/droplog/droplog/internal/drops"
	"github.com/droplog/droplog/internal/mcp"
)

// setupTestEnv opens a full environment under a temporary directory.
func setupTestEnv(t *testing.T) *env {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.PollIntervalMS = 20
	cfg.FindIntervalMS = 20
	e, cleanup, err := openEnv(context.Background(), t.TempDir(), cfg, false)
	if err != nil {
		t.Fatalf("openEnv: %v", err)
	}
	t.Cleanup(cleanup)
	return e
}

// runCLI runs args against a fresh app and returns what was written to stdout.
func runCLI(t *testing.T, e *env, args ...string) (string, error) {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w

	app := newCLIApp(e)
	runErr := app.Run(append([]string{"droplog"}, args...))

	w.Close()
	os.Stdout = oldStdout
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String(), runErr
}

func seedDrops(t *testing.T, e *env, items ...string) {
	t.Helper()
	base := time.Date(2026, 10, 17, 8, 0, 0, 0, time.Local)
	for i, item := range items {
		if _, err := e.store.Append(context.Background(), drops.Record{Item: item, Time: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestCLIHistory(t *testing.T) {
	e := setupTestEnv(t)
	seedDrops(t, e, "1 x Coal", "10 x Rune essence", "2 x Iron ore")

	out, err := runCLI(t, e, "history", "--limit", "2")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var resp struct {
		Items []drops.Record `json:"items"`
		Count int            `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("parse output: %v\n%s", err, out)
	}
	if resp.Count != 3 || len(resp.Items) != 2 {
		t.Fatalf("count=%d items=%d", resp.Count, len(resp.Items))
	}
	if resp.Items[0].Item != "2 x Iron ore" || resp.Items[1].Item != "10 x Rune essence" {
		t.Errorf("items not newest first: %+v", resp.Items)
	}

	if _, err := runCLI(t, e, "history", "--limit", "-1"); err == nil {
		t.Error("expected error for negative limit")
	}
}

func TestCLITotals(t *testing.T) {
	e := setupTestEnv(t)
	seedDrops(t, e, "3 x Coal", "2 x Coal", "1 x Iron ore")

	out, err := runCLI(t, e, "totals")
	require.NoError(t, err)

	var resp struct {
		Totals []drops.Total `json:"totals"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, []drops.Total{{Item: "Coal", Quantity: 5}, {Item: "Iron ore", Quantity: 1}}, resp.Totals)
}

func TestCLIMode(t *testing.T) {
	e := setupTestEnv(t)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"mode"}, "history"},
		{[]string{"mode", "toggle"}, "total"},
		{[]string{"mode", "history"}, "history"},
		{[]string{"mode", "totals"}, "total"},
	}
	for _, tt := range tests {
		out, err := runCLI(t, e, tt.args...)
		if err != nil {
			t.Fatalf("%v: %v", tt.args, err)
		}
		var resp struct {
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal([]byte(out), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Mode != tt.want {
			t.Errorf("%v → %q, want %q", tt.args, resp.Mode, tt.want)
		}
	}

	if _, err := runCLI(t, e, "mode", "grid"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestCLIExport(t *testing.T) {
	e := setupTestEnv(t)
	seedDrops(t, e, "10 x Rune essence")

	path := filepath.Join(t.TempDir(), "history.csv")
	out, err := runCLI(t, e, "export", "--mode", "history", "--path", path)
	require.NoError(t, err)

	var resp drops.ExportOutput
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, path, resp.Path)
	require.Equal(t, 1, resp.Rows)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "Item,Time\n10 x Rune essence,2026-10-17 08:00:00\n", string(data))

	// Default location.
	out, err = runCLI(t, e, "export")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.True(t, strings.HasPrefix(resp.Path, e.exportsDir()), resp.Path)
}

func TestCLIReset(t *testing.T) {
	e := setupTestEnv(t)
	seedDrops(t, e, "1 x Coal", "1 x Coal")
	require.NoError(t, e.store.SetMode(context.Background(), drops.ModeTotal))

	_, err := runCLI(t, e, "reset")
	require.Error(t, err)
	recs, _ := e.store.List(context.Background())
	require.Len(t, recs, 2)

	out, err := runCLI(t, e, "reset", "--yes")
	require.NoError(t, err)
	require.Contains(t, out, `"deleted": 2`)

	recs, _ = e.store.List(context.Background())
	require.Empty(t, recs)
	mode, _ := e.store.Mode(context.Background())
	require.Equal(t, drops.ModeTotal, mode)
}

func TestCLIBoss(t *testing.T) {
	e := setupTestEnv(t)
	require.NoError(t, e.store.SaveBossContext(context.Background(), chat.BossContext{Name: "Rasial", KillCount: "7"}))

	out, err := runCLI(t, e, "boss")
	require.NoError(t, err)
	require.Contains(t, out, `"boss_name": "Rasial"`)

	out, err = runCLI(t, e, "boss", "--clear")
	require.NoError(t, err)
	require.Contains(t, out, chat.NoBoss)
}

func TestCLIWebhook(t *testing.T) {
	e := setupTestEnv(t)
	url := "https://discord.com/api/webhooks/123/abcdefghijkl"

	out, err := runCLI(t, e, "webhook", "set", "--discord-id", "42", url)
	require.NoError(t, err)
	require.NotContains(t, out, "abcdefghijkl")
	require.Contains(t, out, "********ijkl")

	w, err := e.store.Webhook(context.Background())
	require.NoError(t, err)
	require.Equal(t, drops.Webhook{URL: url, UserID: "42"}, w)

	out, err = runCLI(t, e, "webhook", "show")
	require.NoError(t, err)
	require.Contains(t, out, `"user_id": "42"`)

	_, err = runCLI(t, e, "webhook", "clear")
	require.NoError(t, err)
	w, _ = e.store.Webhook(context.Background())
	require.Empty(t, w.URL)

	_, err = runCLI(t, e, "webhook", "set")
	require.Error(t, err)
}

func TestMaskWebhook(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://x/1/abcdefgh", "https://x/1/****efgh"},
		{"https://x/1/abc", "https://x/1/***"},
		{"", ""},
		{"https://x/1/", "https://x/1/"},
	}
	for _, tt := range tests {
		if got := maskWebhook(drops.Webhook{URL: tt.in}).URL; got != tt.want {
			t.Errorf("maskWebhook(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCLIHashKey(t *testing.T) {
	out, err := runCLI(t, nil, "hash-key", "s3cret")
	require.NoError(t, err)

	var resp struct {
		Hash string `json:"hash"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(resp.Hash), []byte("s3cret")))
}

func TestCLIClassify(t *testing.T) {
	e := setupTestEnv(t)
	e.cfg.DropPhrases = []string{"Loot Beam"}

	out, err := runCLI(t, e, "classify",
		"[08:15:30] You receive 10 x Rune essence",
		"[08:15:31] Loot Beam: 1 x Dragon bones",
		"[08:15:32] Welcome to your session against: Rasial.",
		"[08:15:33] just chatting")
	require.NoError(t, err)

	var resp []mcp.ClassifyOutput
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp, 4)
	require.Equal(t, "item_drop", resp[0].Kind)
	require.True(t, resp[0].BossDrop)
	require.Equal(t, "1 x Dragon bones", resp[1].Item)
	require.Equal(t, "boss_session_start", resp[2].Kind)
	require.Equal(t, "Rasial", resp[2].Boss)
	require.Equal(t, "unclassified", resp[3].Kind)
}

func TestCLIKeys(t *testing.T) {
	e := setupTestEnv(t)
	seedDrops(t, e, "1 x Coal")

	out, err := runCLI(t, e, "keys")
	require.NoError(t, err)
	require.Contains(t, out, drops.KeyBundle)
}

func TestCLILogs(t *testing.T) {
	e := setupTestEnv(t)
	e.log.Warn("test", "something odd", map[string]any{"n": 1})
	require.NoError(t, e.log.Sync())

	out, err := runCLI(t, e, "logs", "--level", "warn")
	require.NoError(t, err)
	require.Contains(t, out, "something odd")
}

func TestResolveSource(t *testing.T) {
	e := setupTestEnv(t)
	ctx := context.Background()

	_, err := resolveSource(ctx, e.store, "")
	require.Error(t, err, "no stored source yet")

	spec, err := resolveSource(ctx, e.store, "file:/tmp/chat.txt")
	require.NoError(t, err)
	require.Equal(t, "file:/tmp/chat.txt", spec.String())

	spec, err = resolveSource(ctx, e.store, "")
	require.NoError(t, err)
	require.Equal(t, "file:/tmp/chat.txt", spec.String())

	_, err = resolveSource(ctx, e.store, "screen:1")
	require.Error(t, err)
}

func TestEchoDrop(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var buf bytes.Buffer
	echoDrop(&buf, drops.Record{
		Item: "1 x Omen crest",
		Time: time.Date(2026, 10, 17, 21, 3, 10, 0, time.Local),
		Boss: &chat.BossContext{Name: "Rasial", KillCount: "12"},
	})
	require.Equal(t, "[2026-10-17 21:03:10] 1 x Omen crest  (Rasial, kc 12)\n", buf.String())

	buf.Reset()
	echoBoss(&buf, chat.BossContext{Name: "Rasial", KillCount: "N/A"})
	require.Equal(t, "Boss: Rasial (kill count N/A)\n", buf.String())
}

func TestCLITrack_FileSource(t *testing.T) {
	e := setupTestEnv(t)
	chatFile := filepath.Join(t.TempDir(), "chat.txt")
	require.NoError(t, os.WriteFile(chatFile, []byte("[08:15:30] The Seren spirit gifts you: 10 x Rune essence\n"), 0600))

	var echoed bytes.Buffer
	oldEcho := echo
	echo = &echoed
	defer func() { echo = oldEcho }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		app := newCLIApp(e)
		done <- app.RunContext(ctx, []string{"droplog", "track", "--source", "file:" + chatFile, "--no-notify"})
	}()

	require.Eventually(t, func() bool {
		totals, err := e.store.Totals(context.Background())
		return err == nil && totals["Rune essence"] == 10
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("track did not stop after cancel")
	}

	source, err := e.store.Chat(context.Background())
	require.NoError(t, err)
	require.Equal(t, "file:"+chatFile, source)
	require.Contains(t, echoed.String(), "10 x Rune essence")
}

func TestCLITrack_NoSource(t *testing.T) {
	e := setupTestEnv(t)
	_, err := runCLI(t, e, "track", "--no-notify")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no chat source")
}
