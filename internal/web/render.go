package web

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/droplog/droplog/internal/chat"
	"github.com/droplog/droplog/internal/drops"
	"github.com/droplog/droplog/internal/errors"
	"github.com/droplog/droplog/internal/logger"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
}

// DropsPageData is the template data for the drops page.
type DropsPageData struct {
	PageData
	Mode      drops.Mode
	OtherMode drops.Mode
	Count     int
	Boss      chat.BossContext
	Table     template.HTML
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	markdown  goldmark.Markdown
	log       logger.Logger
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string, log logger.Logger) (*Renderer, error) {
	if log == nil {
		log = logger.NewNop()
	}
	funcMap := template.FuncMap{
		"comma": func(n int) string { return humanize.Comma(int64(n)) },
	}

	layoutTmpl, err := template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	pages := map[string]string{
		"drops": "drops.html",
		"error": "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		if _, err := t.ParseFS(templateFS, file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
		markdown:  goldmark.New(goldmark.WithExtensions(extension.Table)),
		log:       log,
	}, nil
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, name string, data any) {
	r.renderPageStatus(w, http.StatusOK, name, data)
}

func (r *Renderer) renderPageStatus(w http.ResponseWriter, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		r.log.Error("web", "template not found", map[string]any{"template": name})
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.log.Error("web", "template execution error", map[string]any{"template": name, "error": err})
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	dErr := asDropError(err)

	if strings.Contains(req.Header.Get("Accept"), "application/json") {
		renderAPIError(w, dErr)
		return
	}

	r.renderPageStatus(w, dErr.Status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", dErr.Status),
			Version: r.version,
		},
		StatusCode: dErr.Status,
		Message:    dErr.Message,
	})
}

func asDropError(err error) *errors.DropError {
	var dErr *errors.DropError
	if !stderrors.As(err, &dErr) {
		dErr = errors.NewInternal(err)
	}
	return dErr
}

// renderAPIError writes {"error": message, "code": code}.
func renderAPIError(w http.ResponseWriter, err error) {
	dErr := asDropError(err)
	renderJSON(w, dErr.Status, map[string]any{
		"error": dErr.Message,
		"code":  string(dErr.Code),
	})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderMarkdown converts markdown text to HTML using goldmark.
func (r *Renderer) renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(md), &buf); err != nil {
		return template.HTML("<pre>" + template.HTMLEscapeString(md) + "</pre>")
	}
	return template.HTML(buf.String())
}

// historyMarkdown renders records newest first as a Markdown table.
func historyMarkdown(records []drops.Record) string {
	if len(records) == 0 {
		return "_No drops recorded yet._\n"
	}
	var b strings.Builder
	b.WriteString("| Item | Time | Boss |\n|---|---|---|\n")
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		boss := ""
		if rec.Boss != nil && rec.Boss.Tracked() {
			boss = fmt.Sprintf("%s (kc %s)", rec.Boss.Name, rec.Boss.KillCount)
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", escapeCell(rec.Item), drops.FormatTime(rec.Time), escapeCell(boss))
	}
	return b.String()
}

// totalsMarkdown renders the aggregate view sorted by item name.
func totalsMarkdown(totals []drops.Total) string {
	if len(totals) == 0 {
		return "_No drops recorded yet._\n"
	}
	var b strings.Builder
	b.WriteString("| Item | Quantity |\n|---|--:|\n")
	for _, t := range totals {
		fmt.Fprintf(&b, "| %s | %s |\n", escapeCell(t.Item), humanize.Comma(int64(t.Quantity)))
	}
	return b.String()
}

var cellEscaper = strings.NewReplacer(
	`\`, `\\`,
	`|`, `\|`,
	`*`, `\*`,
	`_`, `\_`,
	"`", "\\`",
	`<`, `&lt;`,
	`>`, `&gt;`,
)

func escapeCell(s string) string {
	return cellEscaper.Replace(s)
}
