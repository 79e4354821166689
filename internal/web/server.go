// Package web serves the drop dashboard, the live feed and the item price proxy.
package web

import (
	"bufio"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/droplog/droplog/internal/config"
	"github.com/droplog/droplog/internal/drops"
	"github.com/droplog/droplog/internal/logger"
	"github.com/droplog/droplog/internal/prices"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Deps are the collaborators the server routes to.
type Deps struct {
	Store  *drops.Store
	ItemDB *prices.ItemDB // nil disables /api/item/{id}
	Hub    *Hub           // nil disables /ws
	Logger logger.Logger
}

// NewServer creates and configures the HTTP server for the dashboard and proxy.
func NewServer(deps Deps, cfg *config.Config, version string) (*http.Server, error) {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}

	// Create sub-FS for templates (strip "templates/" prefix)
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}

	// Create sub-FS for static files (strip "static/" prefix)
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	renderer, err := NewRenderer(templateSub, version, log)
	if err != nil {
		return nil, err
	}

	h := &Handlers{
		store:    deps.Store,
		renderer: renderer,
		log:      log,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/drops", http.StatusFound)
	})
	mux.HandleFunc("GET /drops", h.HandleDrops)
	mux.HandleFunc("POST /mode", h.HandleMode)
	mux.HandleFunc("GET /drops/export.csv", h.HandleExportCSV)
	mux.HandleFunc("GET /api/drops", h.HandleAPIDrops)
	mux.HandleFunc("GET /api/totals", h.HandleAPITotals)
	mux.HandleFunc("GET /api/boss", h.HandleAPIBoss)

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.ServeWS)
	}

	if deps.ItemDB != nil {
		proxy := NewItemProxy(deps.ItemDB, cfg.ProxyAPIKeyHash, cfg.ProxyRateLimit, cfg.ProxyAllowedOrigins, log)
		item := proxy.Wrap(http.HandlerFunc(proxy.HandleItem))
		mux.Handle("GET /api/item/{id}", item)
		mux.Handle("OPTIONS /api/item/{id}", item)
	}
	mux.HandleFunc("/api/", HandleNotFound)

	// Static file server
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	handler := securityHeaders(requestLog(log, mux))

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.WebBind, cfg.WebPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'; img-src 'self' https://secure.runescape.com")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func requestLog(log logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("web", "request", map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"remote":      clientIP(r),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, srv *http.Server, log logger.Logger) error {
	if log == nil {
		log = logger.NewNop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info("web", "dashboard running", map[string]any{"url": "http://" + srv.Addr})

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn("web", "server is binding to all interfaces and may be accessible from the network", nil)
	}

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("web", "shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
