package api

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/olivestudio/leadrecon/internal/pkg/httputil"
	"github.com/olivestudio/leadrecon/internal/pkg/logger"
	"github.com/olivestudio/leadrecon/internal/publish"
	"github.com/olivestudio/leadrecon/internal/runner"
	"github.com/olivestudio/leadrecon/internal/storage"
	"github.com/olivestudio/leadrecon/internal/table"
)

// Runs is the part of the runner the handlers drive.
type Runs interface {
	Start(ctx context.Context) (string, error)
	Running() bool
	Progress(ctx context.Context) (runner.Progress, error)
	RecentRuns(ctx context.Context) ([]storage.RunRecord, error)
	Report(ctx context.Context) (string, error)
	ReportMarkdown(ctx context.Context) (string, error)
	Snapshot(ctx context.Context) (*table.Table, error)
	ReplaceInputs(ctx context.Context, uploads []runner.Upload) (int, error)
}

// Options carries the handler settings taken from config.
type Options struct {
	SheetURL    string
	SortColumn  string
	SheetName   string
	MaxUploadMB int
	Gatherer    prometheus.Gatherer
}

// Handlers holds the HTTP handlers.
type Handlers struct {
	runs      Runs
	sheetURL  string
	sortCol   string
	sheetName string
	maxUpload int64
	gatherer  prometheus.Gatherer
	started   time.Time
}

func NewHandlers(runs Runs, opts Options) *Handlers {
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 50
	}
	if opts.SheetName == "" {
		opts.SheetName = publish.DefaultSheetName
	}
	return &Handlers{
		runs:      runs,
		sheetURL:  opts.SheetURL,
		sortCol:   opts.SortColumn,
		sheetName: opts.SheetName,
		maxUpload: int64(opts.MaxUploadMB) << 20,
		gatherer:  opts.Gatherer,
		started:   time.Now(),
	}
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status":  "ok",
		"running": h.runs.Running(),
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

// Upload replaces the data directory with the posted exports. With
// ?run=true a run starts once the files are written.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	if h.runs.Running() {
		httputil.Conflict(w, runner.ErrAlreadyRunning.Error())
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		httputil.BadRequest(w, "invalid upload: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	uploads := make([]runner.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("reading %s: %v", fh.Filename, err))
			return
		}
		defer func(f multipart.File) { f.Close() }(f)
		uploads = append(uploads, runner.Upload{Name: fh.Filename, Body: f})
	}

	n, err := h.runs.ReplaceInputs(r.Context(), uploads)
	if err != nil {
		if errors.Is(err, runner.ErrAlreadyRunning) {
			httputil.Conflict(w, err.Error())
			return
		}
		if errors.Is(err, runner.ErrNotCSV) || len(uploads) == 0 {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	logger.Info("exports uploaded", "files", n)

	resp := map[string]any{"files": n}
	if r.URL.Query().Get("run") == "true" {
		id, err := h.runs.Start(r.Context())
		if err != nil {
			h.startError(w, err)
			return
		}
		resp["run_id"] = id
		httputil.Accepted(w, resp)
		return
	}
	httputil.OK(w, resp)
}

func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	id, err := h.runs.Start(r.Context())
	if err != nil {
		h.startError(w, err)
		return
	}
	httputil.Accepted(w, map[string]string{"run_id": id, "status": "started"})
}

func (h *Handlers) startError(w http.ResponseWriter, err error) {
	if errors.Is(err, runner.ErrAlreadyRunning) {
		httputil.Conflict(w, err.Error())
		return
	}
	httputil.InternalError(w, err)
}

func (h *Handlers) RunProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.runs.Progress(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, p)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.RecentRuns(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	httputil.OK(w, map[string]any{"runs": runs})
}

func (h *Handlers) Report(w http.ResponseWriter, r *http.Request) {
	html, err := h.runs.Report(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.HTML(w, http.StatusOK, html)
}

func (h *Handlers) ReportMarkdown(w http.ResponseWriter, r *http.Request) {
	md, err := h.runs.ReportMarkdown(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Text(w, http.StatusOK, md)
}

// ExportXLSX streams the cached snapshot as a workbook.
func (h *Handlers) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	t, err := h.runs.Snapshot(r.Context())
	if errors.Is(err, storage.ErrNoSnapshot) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="leads.xlsx"`)
	if err := publish.WriteXLSX(w, t, h.sortCol, h.sheetName); err != nil {
		logger.Error("xlsx export failed", "err", err)
	}
}

// OpenSheet redirects to the published spreadsheet.
func (h *Handlers) OpenSheet(w http.ResponseWriter, r *http.Request) {
	if h.sheetURL == "" {
		httputil.NotFound(w, "no sheet configured")
		return
	}
	http.Redirect(w, r, h.sheetURL, http.StatusFound)
}
