package web

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/droplog/droplog/internal/drops"
	"github.com/droplog/droplog/internal/errors"
	"github.com/droplog/droplog/internal/logger"
)

// Handlers contains HTTP route handlers for the dashboard.
type Handlers struct {
	store    *drops.Store
	renderer *Renderer
	log      logger.Logger
}

// HandleDrops handles GET /drops, the history or totals page.
// ?mode= overrides the stored mode for this request only.
func (h *Handlers) HandleDrops(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	b, err := h.store.Load(ctx)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	mode := b.Mode
	if raw := r.URL.Query().Get("mode"); raw != "" {
		mode, err = drops.ParseMode(raw)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest(err.Error()))
			return
		}
	}

	boss, err := h.store.BossContext(ctx)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	var md string
	if mode == drops.ModeTotal {
		md = totalsMarkdown(drops.SortTotals(drops.Totals(b.Data)))
	} else {
		md = historyMarkdown(b.Data)
	}

	title := "Drop History"
	if mode == drops.ModeTotal {
		title = "Drop Totals"
	}
	h.renderer.renderPage(w, "drops", DropsPageData{
		PageData:  PageData{Title: title, Version: h.renderer.version},
		Mode:      mode,
		OtherMode: mode.Toggle(),
		Count:     len(b.Data),
		Boss:      boss,
		Table:     h.renderer.renderMarkdown(md),
	})
}

// HandleMode handles POST /mode. It sets the stored mode from the "mode" form
// value, or toggles it when absent.
func (h *Handlers) HandleMode(w http.ResponseWriter, r *http.Request) {
	if !sameOrigin(r) {
		h.renderer.renderError(w, r, &errors.DropError{
			Code:    errors.ErrInvalidRequest,
			Status:  http.StatusForbidden,
			Message: "cross-origin request rejected",
		})
		return
	}

	ctx := r.Context()
	var mode drops.Mode
	if raw := r.FormValue("mode"); raw != "" {
		m, err := drops.ParseMode(raw)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest(err.Error()))
			return
		}
		if err := h.store.SetMode(ctx, m); err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		mode = m
	} else {
		m, err := h.store.ToggleMode(ctx)
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		mode = m
	}

	h.log.Info("web", "mode changed", map[string]any{"mode": string(mode)})
	http.Redirect(w, r, "/drops", http.StatusSeeOther)
}

// HandleExportCSV handles GET /drops/export.csv.
func (h *Handlers) HandleExportCSV(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.Load(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	mode := b.Mode
	if raw := r.URL.Query().Get("mode"); raw != "" {
		if mode, err = drops.ParseMode(raw); err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest(err.Error()))
			return
		}
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="droplog-%s.csv"`, mode))
	if _, err := drops.WriteCSV(w, mode, b.Data); err != nil {
		h.log.Warn("web", "csv export interrupted", map[string]any{"error": err})
	}
}

// HandleAPIDrops handles GET /api/drops?limit=, records newest first.
func (h *Handlers) HandleAPIDrops(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)
	if limit < 0 {
		renderAPIError(w, errors.NewInvalidRequest("limit must be >= 0"))
		return
	}
	records, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		renderAPIError(w, err)
		return
	}
	total, err := h.store.List(r.Context())
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{
		"items": records,
		"count": len(total),
	})
}

// HandleAPITotals handles GET /api/totals.
func (h *Handlers) HandleAPITotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.store.SortedTotals(r.Context())
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"totals": totals})
}

// HandleAPIBoss handles GET /api/boss.
func (h *Handlers) HandleAPIBoss(w http.ResponseWriter, r *http.Request) {
	boss, err := h.store.BossContext(r.Context())
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, boss)
}

// sameOrigin accepts requests without an Origin header (forms from older
// browsers, curl) and those whose Origin host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// parseIntParam parses an integer query parameter with a default.
func parseIntParam(r *http.Request, name string, def int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
