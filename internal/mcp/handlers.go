package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/droplog/droplog/internal/chat"
	"github.com/droplog/droplog/internal/config"
	"github.com/droplog/droplog/internal/drops"
	"github.com/droplog/droplog/internal/errors"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	store      *drops.Store
	cfg        *config.Config
	exportsDir string
	classifier *chat.Classifier
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store *drops.Store, cfg *config.Config, exportsDir string) *Handlers {
	return &Handlers{
		store:      store,
		cfg:        cfg,
		exportsDir: exportsDir,
		classifier: chat.NewClassifier(
			chat.WithDropPhrases(cfg.DropPhrases...),
			chat.WithBossDropPhrases(cfg.BossDropPhrases...),
		),
	}
}

// HistoryRequest represents the arguments for drops_history.
type HistoryRequest struct {
	Limit *int `json:"limit,omitempty"`
}

// GetRequest represents the arguments for drops_get.
type GetRequest struct {
	ID string `json:"id"`
}

// ModeRequest represents the arguments for drops_mode.
type ModeRequest struct {
	Mode string `json:"mode,omitempty"`
}

// ExportRequest represents the arguments for drops_export.
type ExportRequest struct {
	Mode string `json:"mode,omitempty"`
	Path string `json:"path,omitempty"`
}

// ResetRequest represents the arguments for drops_reset.
type ResetRequest struct {
	Confirm bool `json:"confirm"`
}

// ClassifyRequest represents the arguments for drops_classify.
type ClassifyRequest struct {
	Line string `json:"line"`
}

// ClassifyOutput is the JSON shape of a classified line.
type ClassifyOutput struct {
	Kind      string `json:"kind"`
	Item      string `json:"item,omitempty"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
	Phrase    string `json:"phrase,omitempty"`
	BossDrop  bool   `json:"boss_drop,omitempty"`
	Boss      string `json:"boss,omitempty"`
	KillCount string `json:"kill_count,omitempty"`
}

// HandleHistory handles drops_history.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	limit := 50
	if r.Limit != nil {
		limit = *r.Limit
	}
	if limit < 0 {
		return errorResult(errors.NewInvalidRequest("limit must be >= 0")), nil
	}

	records, err := h.store.Recent(ctx, limit)
	if err != nil {
		return errorResult(err), nil
	}
	all, err := h.store.List(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"items": records, "count": len(all)})
}

// HandleTotals handles drops_totals.
func (h *Handlers) HandleTotals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	totals, err := h.store.SortedTotals(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"totals": totals})
}

// HandleGet handles drops_get.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	rec, err := h.store.Get(ctx, r.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(rec)
}

// HandleBoss handles drops_boss.
func (h *Handlers) HandleBoss(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	boss, err := h.store.BossContext(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(boss)
}

// HandleMode handles drops_mode.
func (h *Handlers) HandleMode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ModeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	var mode drops.Mode
	if r.Mode == "" {
		mode, err = h.store.ToggleMode(ctx)
		if err != nil {
			return errorResult(err), nil
		}
	} else {
		mode, err = drops.ParseMode(r.Mode)
		if err != nil {
			return errorResult(errors.NewInvalidRequest(err.Error())), nil
		}
		if err := h.store.SetMode(ctx, mode); err != nil {
			return errorResult(err), nil
		}
	}
	return successResult(map[string]any{"mode": mode})
}

// HandleExport handles drops_export.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	var mode drops.Mode
	if r.Mode != "" {
		if mode, err = drops.ParseMode(r.Mode); err != nil {
			return errorResult(errors.NewInvalidRequest(err.Error())), nil
		}
	}

	out, err := h.store.Export(ctx, h.exportsDir, strings.TrimSpace(r.Path), mode)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleReset handles drops_reset.
func (h *Handlers) HandleReset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ResetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if !r.Confirm {
		return errorResult(errors.NewInvalidRequest("confirm must be true")), nil
	}
	n, err := h.store.Reset(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"deleted": n})
}

// HandleClassify handles drops_classify.
func (h *Handlers) HandleClassify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r, err := decode[ClassifyRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(r.Line) == "" {
		return errorResult(errors.NewInvalidRequest("line is required")), nil
	}
	return successResult(ClassifyResult(h.classifier.Classify(r.Line)))
}

// ClassifyResult converts a classified event to its JSON shape.
func ClassifyResult(ev chat.Event) ClassifyOutput {
	return ClassifyOutput{
		Kind:      ev.Kind.String(),
		Item:      ev.Item,
		Name:      ev.Name,
		Quantity:  ev.Quantity,
		Phrase:    ev.Phrase,
		BossDrop:  ev.BossDrop,
		Boss:      ev.Boss,
		KillCount: ev.KillCount,
	}
}

// errorResult creates an MCP error result from an error.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if dropErr, ok := err.(*errors.DropError); ok {
		errorObj := map[string]any{
			"code":    dropErr.Code,
			"message": dropErr.Message,
			"status":  dropErr.Status,
		}
		// Internal details may carry paths or SQL errors.
		if dropErr.Code != errors.ErrInternal && dropErr.Details != nil {
			errorObj["details"] = dropErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
