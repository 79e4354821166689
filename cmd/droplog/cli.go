package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/droplog/droplog/internal/capture"
	"github.com/droplog/droplog/internal/chat"
	"github.com/droplog/droplog/internal/config"
	"github.com/droplog/droplog/internal/db"
	"github.com/droplog/droplog/internal/drops"
	"github.com/droplog/droplog/internal/errors"
	"github.com/droplog/droplog/internal/kv"
	"github.com/droplog/droplog/internal/logger"
	"github.com/droplog/droplog/internal/mcp"
	"github.com/droplog/droplog/internal/notify"
	"github.com/droplog/droplog/internal/prices"
	"github.com/droplog/droplog/internal/tracker"
	"github.com/droplog/droplog/internal/web"
)

// env carries what every command needs.
type env struct {
	baseDir string
	logPath string
	cfg     *config.Config
	db      *sql.DB
	kv      kv.Store
	store   *drops.Store
	log     logger.Logger
}

func (e *env) exportsDir() string {
	return filepath.Join(e.baseDir, "exports")
}

// redisClient returns the shared client when the redis backend is active.
func (e *env) redisClient() *redis.Client {
	if r, ok := e.kv.(*kv.Redis); ok {
		return r.Client()
	}
	return nil
}

// echo receives the colored drop feed printed by track.
var echo io.Writer = color.Output

// newCLIApp creates the CLI application with all commands.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "droplog",
		Usage:   "Chat drop tracker",
		Version: Version,
		Commands: []*cli.Command{
			trackCmd(e),
			serveCmd(e),
			historyCmd(e),
			totalsCmd(e),
			modeCmd(e),
			bossCmd(e),
			exportCmd(e),
			resetCmd(e),
			webhookCmd(e),
			hashKeyCmd(),
			classifyCmd(e),
			logsCmd(e),
			keysCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// trackCmd creates the track command.
func trackCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "track",
		Usage: "Watch a chat source and record drops until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "Chat source: file:<path>, exec:<command> or stdin (default: last used)"},
			&cli.BoolFlag{Name: "web", Usage: "Also serve the dashboard and price proxy"},
			&cli.BoolFlag{Name: "no-notify", Usage: "Record drops without sending notifications"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Do not echo drops to the terminal"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			spec, err := resolveSource(ctx, e.store, c.String("source"))
			if err != nil {
				return outputError(err)
			}
			src, err := capture.Open(spec, os.Stdin)
			if err != nil {
				return outputError(err)
			}
			defer capture.Close(src)

			var notifier tracker.Notifier
			if !c.Bool("no-notify") {
				d, closeSinks, err := startDispatcher(ctx, e)
				if err != nil {
					return outputError(err)
				}
				defer closeSinks()
				defer d.Close()
				notifier = d
			}

			hub, err := startFeed(ctx, e, c.Bool("web"))
			if err != nil {
				return outputError(err)
			}

			quiet := c.Bool("quiet")
			t, err := tracker.New(ctx, tracker.Options{
				Source: src,
				Store:  e.store,
				Classifier: chat.NewClassifier(
					chat.WithDropPhrases(e.cfg.DropPhrases...),
					chat.WithBossDropPhrases(e.cfg.BossDropPhrases...),
				),
				Notifier:     notifier,
				Logger:       e.log,
				HistorySize:  e.cfg.HistorySize,
				PollInterval: e.cfg.PollInterval(),
				FindInterval: e.cfg.FindInterval(),
				OnRecord: func(rec drops.Record) {
					if !quiet {
						echoDrop(echo, rec)
					}
					if hub != nil {
						hub.PublishDrop(rec)
					}
				},
				OnBoss: func(b chat.BossContext) {
					if !quiet {
						echoBoss(echo, b)
					}
					if hub != nil {
						hub.PublishBoss(b)
					}
				},
			})
			if err != nil {
				return outputError(err)
			}

			e.log.Info("cli", "tracking", map[string]any{"source": spec.String()})
			if err := t.Run(ctx); err != nil && ctx.Err() == nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// resolveSource picks the --source flag or the stored selection, and
// remembers an explicit choice for next time.
func resolveSource(ctx context.Context, store *drops.Store, flag string) (capture.Spec, error) {
	raw := strings.TrimSpace(flag)
	if raw == "" {
		stored, err := store.Chat(ctx)
		if err != nil {
			return capture.Spec{}, err
		}
		if stored == "" {
			return capture.Spec{}, errors.NewInvalidRequest("no chat source selected; pass --source")
		}
		return capture.ParseSpec(stored)
	}

	spec, err := capture.ParseSpec(raw)
	if err != nil {
		return capture.Spec{}, err
	}
	if err := store.SetChat(ctx, spec.String()); err != nil {
		return capture.Spec{}, err
	}
	return spec, nil
}

// startDispatcher builds the configured sinks and starts the notification worker.
func startDispatcher(ctx context.Context, e *env) (*notify.Dispatcher, func(), error) {
	filter, err := notify.NewFilter(e.cfg.IgnoreItems)
	if err != nil {
		return nil, nil, errors.NewInvalidRequest(fmt.Sprintf("ignore_items: %v", err))
	}

	var svc prices.Service
	if e.cfg.PriceAPIURL != "" {
		svc = prices.NewClient(e.cfg.PriceAPIURL, e.cfg.HTTPTimeout(), e.cfg.PriceCacheTTL())
	}

	sinks, closeSinks := notify.SinksFromConfig(e.cfg, e.store, e.log)
	d := notify.NewDispatcher(notify.Options{
		Prices:  svc,
		Sinks:   sinks,
		Filter:  filter,
		Logger:  e.log,
		Timeout: e.cfg.HTTPTimeout(),
	})
	if err := d.Start(ctx); err != nil {
		closeSinks()
		return nil, nil, errors.NewInternal(err)
	}
	e.log.Info("cli", "notifications enabled", map[string]any{"sinks": d.Sinks()})
	return d, closeSinks, nil
}

// startFeed returns a hub when there is somewhere to send live events: the
// dashboard served from this process, or Redis for a separate serve process.
// With serveWeb the dashboard runs until ctx is cancelled.
func startFeed(ctx context.Context, e *env, serveWeb bool) (*web.Hub, error) {
	rdb := e.redisClient()
	if !serveWeb && rdb == nil {
		return nil, nil
	}

	hub := web.NewHub(rdb, e.log)
	if !serveWeb {
		// Publish only; the serve process owns the subscriber.
		return hub, nil
	}

	srv, err := newWebServer(e, hub)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	go hub.Run(ctx)
	go func() {
		if err := web.Run(ctx, srv, e.log); err != nil {
			e.log.Error("web", "dashboard stopped", map[string]any{"error": err})
		}
	}()
	return hub, nil
}

func newWebServer(e *env, hub *web.Hub) (*http.Server, error) {
	itemdb := prices.NewItemDB(e.cfg.ItemDBURL, e.cfg.HTTPTimeout(), e.cfg.PriceCacheTTL())
	return web.NewServer(web.Deps{
		Store:  e.store,
		ItemDB: itemdb,
		Hub:    hub,
		Logger: e.log,
	}, e.cfg, Version)
}

// serveCmd creates the serve command.
func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the dashboard and price proxy without tracking",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Listen address (default from config)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Listen port (default from config)"},
		},
		Action: func(c *cli.Context) error {
			if bind := c.String("bind"); bind != "" {
				e.cfg.WebBind = bind
			}
			if c.IsSet("port") {
				e.cfg.WebPort = c.Int("port")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			hub := web.NewHub(e.redisClient(), e.log)
			srv, err := newWebServer(e, hub)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			go hub.Run(ctx)
			if err := web.Run(ctx, srv, e.log); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// historyCmd creates the history command.
func historyCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded drops, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum items to return (0 for all)"},
		},
		Action: func(c *cli.Context) error {
			if c.Int("limit") < 0 {
				return outputError(errors.NewInvalidRequest("limit must be >= 0"))
			}
			records, err := e.store.Recent(c.Context, c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			all, err := e.store.List(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"items": records, "count": len(all)})
		},
	}
}

// totalsCmd creates the totals command.
func totalsCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "totals",
		Usage: "Sum recorded quantities per item",
		Action: func(c *cli.Context) error {
			totals, err := e.store.SortedTotals(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"totals": totals})
		},
	}
}

// modeCmd creates the mode command.
func modeCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "mode",
		Usage:     "Show, set or toggle the display/export mode",
		ArgsUsage: "[history|total|toggle]",
		Action: func(c *cli.Context) error {
			arg := c.Args().First()
			var (
				mode drops.Mode
				err  error
			)
			switch arg {
			case "":
				mode, err = e.store.Mode(c.Context)
			case "toggle":
				mode, err = e.store.ToggleMode(c.Context)
			default:
				mode, err = drops.ParseMode(arg)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				err = e.store.SetMode(c.Context, mode)
			}
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"mode": mode})
		},
	}
}

// bossCmd creates the boss command.
func bossCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "boss",
		Usage: "Show the tracked boss and kill count",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "clear", Usage: "Forget the tracked boss"},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("clear") {
				if err := e.store.ClearBossContext(c.Context); err != nil {
					return outputError(err)
				}
			}
			boss, err := e.store.BossContext(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(boss)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export the drop log to CSV",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "history|total (default: stored mode)"},
			&cli.StringFlag{Name: "path", Usage: "Output .csv path (default: ~/.droplog/exports/)"},
		},
		Action: func(c *cli.Context) error {
			var mode drops.Mode
			if raw := c.String("mode"); raw != "" {
				m, err := drops.ParseMode(raw)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				mode = m
			}
			output, err := e.store.Export(c.Context, e.exportsDir(), c.String("path"), mode)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// resetCmd creates the reset command.
func resetCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Delete every recorded drop (mode and source are kept)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm deletion"},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				return outputError(errors.NewInvalidRequest("reset deletes all drops; pass --yes to confirm"))
			}
			n, err := e.store.Reset(c.Context)
			if err != nil {
				return outputError(err)
			}
			e.log.Info("cli", "drop log reset", map[string]any{"deleted": n})
			return outputJSON(map[string]any{"deleted": n})
		},
	}
}

// webhookCmd creates the webhook command group.
func webhookCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "webhook",
		Usage: "Manage Discord webhook credentials",
		Subcommands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store the webhook URL and optional Discord user ID to mention",
				ArgsUsage: "<url>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "discord-id", Usage: "Discord user ID to mention"},
				},
				Action: func(c *cli.Context) error {
					w := drops.Webhook{URL: c.Args().First(), UserID: c.String("discord-id")}
					if err := e.store.SetWebhook(c.Context, w); err != nil {
						return outputError(err)
					}
					return outputJSON(maskWebhook(w))
				},
			},
			{
				Name:  "show",
				Usage: "Show the stored credentials (URL masked)",
				Action: func(c *cli.Context) error {
					w, err := e.store.Webhook(c.Context)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(maskWebhook(w))
				},
			},
			{
				Name:  "clear",
				Usage: "Remove the stored credentials",
				Action: func(c *cli.Context) error {
					if err := e.store.ClearWebhook(c.Context); err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{"cleared": true})
				},
			},
		},
	}
}

// maskWebhook hides the webhook token, which grants posting rights.
func maskWebhook(w drops.Webhook) drops.Webhook {
	url := strings.TrimSpace(w.URL)
	if i := strings.LastIndex(url, "/"); i >= 0 && i < len(url)-1 {
		tail := url[i+1:]
		keep := 4
		if len(tail) <= keep {
			keep = 0
		}
		url = url[:i+1] + strings.Repeat("*", len(tail)-keep) + tail[len(tail)-keep:]
	}
	w.URL = url
	return w
}

// hashKeyCmd creates the hash-key command.
func hashKeyCmd() *cli.Command {
	return &cli.Command{
		Name:      "hash-key",
		Usage:     "Hash a price proxy API key for proxy_api_key_hash (reads stdin when no arg)",
		ArgsUsage: "[key]",
		Action: func(c *cli.Context) error {
			key := c.Args().First()
			if key == "" && stdinHasData() {
				text, err := readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				key = text
			}
			if key == "" {
				return outputError(errors.NewInvalidRequest("key is required"))
			}
			hash, err := web.HashAPIKey(key)
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return outputJSON(map[string]any{"hash": hash})
		},
	}
}

// classifyCmd creates the classify command.
func classifyCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Classify chat lines (arguments, or one per stdin line) without recording them",
		ArgsUsage: "[line...]",
		Action: func(c *cli.Context) error {
			classifier := chat.NewClassifier(
				chat.WithDropPhrases(e.cfg.DropPhrases...),
				chat.WithBossDropPhrases(e.cfg.BossDropPhrases...),
			)

			lines := c.Args().Slice()
			if len(lines) == 0 && stdinHasData() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					if line := strings.TrimSpace(scanner.Text()); line != "" {
						lines = append(lines, line)
					}
				}
				if err := scanner.Err(); err != nil {
					return outputError(errors.NewInternal(err))
				}
			}
			if len(lines) == 0 {
				return outputError(errors.NewInvalidRequest("no lines to classify"))
			}

			out := make([]mcp.ClassifyOutput, 0, len(lines))
			for _, line := range lines {
				out = append(out, mcp.ClassifyResult(classifier.Classify(line)))
			}
			return outputJSON(out)
		},
	}
}

// logsCmd creates the logs command.
func logsCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Show recent log entries, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "level", Usage: "Only entries at this level (DEBUG, INFO, WARN, ERROR)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 50, Usage: "Maximum entries"},
		},
		Action: func(c *cli.Context) error {
			entries, err := logger.ReadFile(e.logPath, strings.ToUpper(c.String("level")), c.Int("limit"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return outputJSON(map[string]any{"entries": entries})
		},
	}
}

// keysCmd creates the keys command.
func keysCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "keys",
		Usage: "List stored keys (sqlite backend)",
		Action: func(c *cli.Context) error {
			if _, ok := e.kv.(*kv.SQLite); !ok {
				return outputError(errors.NewInvalidRequest("keys is only available with the sqlite backend"))
			}
			keys, err := db.ListKeys(c.Context, e.db)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"keys": keys})
		},
	}
}

// Helper functions

var (
	dropColor = color.New(color.FgGreen, color.Bold)
	bossColor = color.New(color.FgRed)
	timeColor = color.New(color.FgHiBlack)
)

// echoDrop prints one stored drop line.
func echoDrop(w io.Writer, rec drops.Record) {
	timeColor.Fprintf(w, "[%s] ", drops.FormatTime(rec.Time))
	dropColor.Fprint(w, rec.Item)
	if rec.Boss != nil && rec.Boss.Tracked() {
		bossColor.Fprintf(w, "  (%s, kc %s)", rec.Boss.Name, rec.Boss.KillCount)
	}
	fmt.Fprintln(w)
}

// echoBoss prints a boss context change.
func echoBoss(w io.Writer, b chat.BossContext) {
	bossColor.Fprintf(w, "Boss: %s (kill count %s)\n", b.Name, b.KillCount)
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if dropErr, ok := err.(*errors.DropError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", dropErr.Code, dropErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
