package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/olivestudio/leadrecon/internal/config"
	"github.com/olivestudio/leadrecon/internal/runner"
	"github.com/olivestudio/leadrecon/internal/storage"
	"github.com/olivestudio/leadrecon/internal/table"
)

type fakeRuns struct {
	dataDir  string
	running  bool
	startErr error
	started  int
	snapshot *table.Table
	runs     []storage.RunRecord
	// replaceErr simulates a run claiming the directory after the
	// Running check.
	replaceErr error
}

func (f *fakeRuns) Start(context.Context) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started++
	return "run-1", nil
}
func (f *fakeRuns) Running() bool { return f.running }
func (f *fakeRuns) Progress(context.Context) (runner.Progress, error) {
	return runner.Progress{RunID: "run-1", Stage: "merge", Percent: 30, Running: true}, nil
}
func (f *fakeRuns) RecentRuns(context.Context) ([]storage.RunRecord, error) { return f.runs, nil }
func (f *fakeRuns) Report(context.Context) (string, error) {
	return "<h2>מקורות</h2>", nil
}
func (f *fakeRuns) ReportMarkdown(context.Context) (string, error) { return "## מקורות", nil }
func (f *fakeRuns) Snapshot(context.Context) (*table.Table, error) {
	if f.snapshot == nil {
		return nil, storage.ErrNoSnapshot
	}
	return f.snapshot, nil
}
func (f *fakeRuns) ReplaceInputs(_ context.Context, uploads []runner.Upload) (int, error) {
	if f.running {
		return 0, runner.ErrAlreadyRunning
	}
	if f.replaceErr != nil {
		return 0, f.replaceErr
	}
	return runner.ReplaceInputs(f.dataDir, uploads)
}

func newTestServer(t *testing.T, runs *fakeRuns, opts Options) http.Handler {
	t.Helper()
	return NewServer(config.ServerConfig{}, NewHandlers(runs, opts)).Handler()
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthCheck(t *testing.T) {
	h := newTestServer(t, &fakeRuns{}, Options{})
	rec := do(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["running"])
}

func TestStartRun(t *testing.T) {
	runs := &fakeRuns{}
	h := newTestServer(t, runs, Options{})

	rec := do(t, h, http.MethodPost, "/api/runs")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "run-1")
	assert.Equal(t, 1, runs.started)

	runs.startErr = runner.ErrAlreadyRunning
	rec = do(t, h, http.MethodPost, "/api/runs")
	assert.Equal(t, http.StatusConflict, rec.Code)

	runs.startErr = errors.New("boom")
	rec = do(t, h, http.MethodPost, "/api/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestRunProgressAndList(t *testing.T) {
	h := newTestServer(t, &fakeRuns{}, Options{})

	rec := do(t, h, http.MethodGet, "/api/runs/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	var p runner.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, 30, p.Percent)

	rec = do(t, h, http.MethodGet, "/api/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
}

func TestReportEndpoints(t *testing.T) {
	h := newTestServer(t, &fakeRuns{}, Options{})

	rec := do(t, h, http.MethodGet, "/api/report")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "מקורות")

	rec = do(t, h, http.MethodGet, "/api/report/markdown")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "## מקורות", rec.Body.String())
}

func uploadRequest(t *testing.T, path string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, body := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.csv"), []byte("x"), 0o644))
	runs := &fakeRuns{dataDir: dir}
	h := newTestServer(t, runs, Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "/api/uploads?run=true", map[string]string{
		"all-leads-report.csv": "טלפון\n0501234567\n",
	}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"run_id":"run-1"`)
	assert.Equal(t, 1, runs.started)

	assert.NoFileExists(t, filepath.Join(dir, "stale.csv"))
	assert.FileExists(t, filepath.Join(dir, "all-leads-report.csv"))
}

func TestUploadRejectsNonCSV(t *testing.T) {
	dir := t.TempDir()
	h := newTestServer(t, &fakeRuns{dataDir: dir}, Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "/api/uploads", map[string]string{"notes.txt": "x"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "/api/uploads", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadWhileRunning(t *testing.T) {
	h := newTestServer(t, &fakeRuns{dataDir: t.TempDir(), running: true}, Options{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "/api/uploads", map[string]string{"a.csv": "x"}))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUploadRunStartedMeanwhile(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep.csv")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))
	runs := &fakeRuns{dataDir: dir, replaceErr: runner.ErrAlreadyRunning}
	h := newTestServer(t, runs, Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, "/api/uploads?run=true", map[string]string{"a.csv": "x"}))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.FileExists(t, keep)
	assert.Zero(t, runs.started)
}

func TestExportXLSX(t *testing.T) {
	runs := &fakeRuns{}
	h := newTestServer(t, runs, Options{})

	rec := do(t, h, http.MethodGet, "/api/export.xlsx")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	snap := table.New("טלפון", "מקור")
	snap.AddRow([]table.Value{table.Text("0501234567"), table.Text("instagram")})
	runs.snapshot = snap

	rec = do(t, h, http.MethodGet, "/api/export.xlsx")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "leads.xlsx")

	f, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("לידים")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"טלפון", "מקור"}, rows[0])
	assert.Equal(t, "instagram", rows[1][1])
}

func TestOpenSheet(t *testing.T) {
	h := newTestServer(t, &fakeRuns{}, Options{})
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/sheet").Code)

	url := "https://docs.google.com/spreadsheets/d/abc/edit"
	h = newTestServer(t, &fakeRuns{}, Options{SheetURL: url})
	rec := do(t, h, http.MethodGet, "/api/sheet")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, url, rec.Header().Get("Location"))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "leadrecon_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	h := newTestServer(t, &fakeRuns{}, Options{Gatherer: reg})
	rec := do(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "leadrecon_test_total 1")

	h = newTestServer(t, &fakeRuns{}, Options{})
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/metrics").Code)
}
