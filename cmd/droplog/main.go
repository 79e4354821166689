package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/droplog/droplog/internal/config"
	"github.com/droplog/droplog/internal/db"
	"github.com/droplog/droplog/internal/drops"
	"github.com/droplog/droplog/internal/kv"
	"github.com/droplog/droplog/internal/logger"
	"github.com/droplog/droplog/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"track": true, "serve": true,
	"history": true, "totals": true, "mode": true, "boss": true,
	"export": true, "reset": true, "webhook": true,
	"hash-key": true, "classify": true, "logs": true, "keys": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
       _                 _
    __| |_ __ ___  _ __ | | ___   __ _
   / _' | '__/ _ \| '_ \| |/ _ \ / _' |
  | (_| | | | (_) | |_) | | (_) | (_| |
   \__,_|_|  \___/| .__/|_|\___/ \__, |
                  |_|            |___/

  Chat drop tracker

  Usage: droplog <command> [options]
         droplog --help

  MCP server mode requires piped input.`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if !isCLIMode() && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'droplog --help' for usage.\n")
		os.Exit(1)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatal("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".droplog")

	cwd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	e, cleanup, err := openEnv(context.Background(), baseDir, cfg, isCLIMode())
	if err != nil {
		fatal("%v", err)
	}
	defer cleanup()

	if isCLIMode() {
		app := newCLIApp(e)
		if err := app.Run(os.Args); err != nil {
			e.log.Error("cli", "command failed", map[string]any{"command": os.Args[1], "error": err})
			cleanup()
			fatal("%v", err)
		}
		return
	}

	// MCP server mode (default)
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		e.log.Warn("mcp", "unknown tools in disabled_tools", map[string]any{"tools": unknown})
	}
	if err := mcp.Run(e.store, cfg, e.exportsDir(), Version); err != nil {
		cleanup()
		fatal("%v", err)
	}
}

// openEnv initializes logging, the database and the configured key-value
// backend under baseDir. console enables warnings on stderr; the MCP server
// keeps quiet there.
func openEnv(ctx context.Context, baseDir string, cfg *config.Config, console bool) (*env, func(), error) {
	logPath := filepath.Join(baseDir, "logs", "droplog.log")
	opts := logger.Options{
		FilePath:   logPath,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Debug:      cfg.Debug,
	}
	if console {
		opts.Console = os.Stderr
	}
	log := logger.New(opts)

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	store, err := kv.Open(ctx, cfg, database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.KVBackend, err)
	}

	e := &env{
		baseDir: baseDir,
		logPath: logPath,
		cfg:     cfg,
		db:      database,
		kv:      store,
		store:   drops.NewStore(store, log),
		log:     log,
	}

	var once bool
	cleanup := func() {
		if once {
			return
		}
		once = true
		if r, ok := store.(*kv.Redis); ok {
			r.Close()
		}
		database.Close()
		log.Sync()
	}
	return e, cleanup, nil
}
