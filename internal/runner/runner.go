// Package runner executes pipeline runs end to end: reconcile the exports
// in the data directory, cache the snapshot, render statistics, publish and
// record the outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/olivestudio/leadrecon/internal/datanorm"
	"github.com/olivestudio/leadrecon/internal/pkg/distlock"
	"github.com/olivestudio/leadrecon/internal/pkg/logger"
	"github.com/olivestudio/leadrecon/internal/publish"
	"github.com/olivestudio/leadrecon/internal/stats"
	"github.com/olivestudio/leadrecon/internal/storage"
	"github.com/olivestudio/leadrecon/internal/table"
)

// ErrAlreadyRunning is returned when a run is in progress here or in
// another process holding the run lock.
var ErrAlreadyRunning = errors.New("a run is already in progress")

const (
	StageIdle      = "idle"
	StageSnapshot  = "snapshot"
	StageStats     = "stats"
	StagePublish   = "publish"
	StageDone      = "done"
	StageFailed    = "failed"
	StageEmpty     = "empty"
	recentRunLimit = 20
)

// Store is the snapshot and run log backend.
type Store interface {
	SaveSnapshot(ctx context.Context, t *table.Table) error
	LoadSnapshot(ctx context.Context) (*table.Table, error)
	RecordRun(ctx context.Context, rec storage.RunRecord) error
	RecentRuns(ctx context.Context, limit int) ([]storage.RunRecord, error)
}

// Archiver keeps a queryable copy of each reconciled record set.
type Archiver interface {
	Replace(ctx context.Context, runID string, t *table.Table) error
}

// Notifier mails the statistics report.
type Notifier interface {
	SendReport(ctx context.Context, html, text string, at time.Time) (string, error)
}

// NamedPublisher is a publish target with a label for the run log.
type NamedPublisher struct {
	Name string
	publish.Publisher
}

// Deps are the collaborators of a Runner. Only Pipeline, Store and DataDir
// are required.
type Deps struct {
	Pipeline    *datanorm.Pipeline
	Store       Store
	DataDir     string
	ColumnOrder []string
	Publishers  []NamedPublisher
	Archive     Archiver
	Notifier    Notifier
	Lock        distlock.DistLock
	Tracker     Tracker
	Metrics     *Metrics
	Renderer    *stats.Renderer
}

// Outcome summarizes a finished run.
type Outcome struct {
	Record     storage.RunRecord
	Result     *datanorm.Result
	Report     *stats.Report
	ReportHTML string
}

// Runner serializes pipeline runs.
type Runner struct {
	deps    Deps
	running atomic.Bool
	wg      sync.WaitGroup
	now     func() time.Time
}

// New builds a Runner, filling in a local lock, an in-memory tracker and a
// renderer when they are not provided.
func New(deps Deps) (*Runner, error) {
	if deps.Pipeline == nil || deps.Store == nil {
		return nil, errors.New("runner: pipeline and store are required")
	}
	if deps.Lock == nil {
		deps.Lock = &distlock.LocalLock{}
	}
	if deps.Tracker == nil {
		deps.Tracker = NewMemoryTracker()
	}
	if deps.Renderer == nil {
		rd, err := stats.NewRenderer()
		if err != nil {
			return nil, err
		}
		deps.Renderer = rd
	}
	if len(deps.ColumnOrder) == 0 {
		deps.ColumnOrder = datanorm.DefaultColumnOrder()
	}
	return &Runner{deps: deps, now: time.Now}, nil
}

// Running reports whether this process is executing a run.
func (r *Runner) Running() bool { return r.running.Load() }

// Progress returns the last tracked progress.
func (r *Runner) Progress(ctx context.Context) (Progress, error) {
	return r.deps.Tracker.Get(ctx)
}

// RecentRuns returns the newest entries of the run log.
func (r *Runner) RecentRuns(ctx context.Context) ([]storage.RunRecord, error) {
	return r.deps.Store.RecentRuns(ctx, recentRunLimit)
}

// ReplaceInputs swaps the contents of the data directory for uploads. It
// holds the running flag and the run lock meanwhile, so no run reads a
// half-replaced directory.
func (r *Runner) ReplaceInputs(ctx context.Context, uploads []Upload) (int, error) {
	if !r.running.CompareAndSwap(false, true) {
		return 0, ErrAlreadyRunning
	}
	defer r.running.Store(false)

	ok, err := r.deps.Lock.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !ok {
		return 0, ErrAlreadyRunning
	}
	defer func() {
		if err := r.deps.Lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("[runner] release lock: %v", err)
		}
	}()
	return ReplaceInputs(r.deps.DataDir, uploads)
}

// Start launches a run in the background and returns its ID.
func (r *Runner) Start(ctx context.Context) (string, error) {
	if !r.running.CompareAndSwap(false, true) {
		return "", ErrAlreadyRunning
	}
	id := uuid.New().String()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)
		if _, err := r.run(context.WithoutCancel(ctx), id, true); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			log.Printf("[runner] run %s: %v", id, err)
		}
	}()
	return id, nil
}

// Wait blocks until background runs started with Start have finished.
func (r *Runner) Wait() { r.wg.Wait() }

// Run executes one run synchronously. With publish false the publishers,
// archive and notification are skipped.
func (r *Runner) Run(ctx context.Context, withPublish bool) (*Outcome, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer r.running.Store(false)
	return r.run(ctx, uuid.New().String(), withPublish)
}

func (r *Runner) run(ctx context.Context, id string, withPublish bool) (*Outcome, error) {
	ok, err := r.deps.Lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	defer func() {
		if err := r.deps.Lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("[runner] release lock: %v", err)
		}
	}()

	started := r.now()
	rec := storage.RunRecord{ID: id, StartedAt: started}
	log.Printf("[runner] run %s started (dir=%s publish=%v)", id, r.deps.DataDir, withPublish)

	out, err := r.execute(ctx, id, withPublish, &rec)
	rec.FinishedAt = r.now()
	switch {
	case errors.Is(err, datanorm.ErrNoReports):
		rec.Status = storage.RunEmpty
		r.track(ctx, Progress{RunID: id, Stage: StageEmpty, Percent: 100})
	case err != nil:
		rec.Status = storage.RunFailed
		rec.Error = err.Error()
		r.track(ctx, Progress{RunID: id, Stage: StageFailed, Error: err.Error()})
	default:
		rec.Status = storage.RunSucceeded
		r.track(ctx, Progress{RunID: id, Stage: StageDone, Percent: 100})
	}

	if rerr := r.deps.Store.RecordRun(context.WithoutCancel(ctx), rec); rerr != nil {
		log.Printf("[runner] record run %s: %v", id, rerr)
	}
	r.deps.Metrics.observe(string(rec.Status), rec.FinishedAt.Sub(started), rec.Records, rec.Reports)
	log.Printf("[runner] run %s %s in %s", id, rec.Status, rec.FinishedAt.Sub(started).Round(time.Millisecond))

	if out != nil {
		out.Record = rec
	}
	return out, err
}

func (r *Runner) execute(ctx context.Context, id string, withPublish bool, rec *storage.RunRecord) (*Outcome, error) {
	progress := func(stage datanorm.Stage, pct int) {
		r.track(ctx, Progress{RunID: id, Stage: string(stage), Percent: pct, Running: true})
	}

	res, err := r.deps.Pipeline.Run(ctx, r.deps.DataDir, progress)
	if err != nil {
		return nil, err
	}
	rec.Reports = len(res.Reports)
	rec.Records = res.Table.Len()

	if err := r.deps.Store.SaveSnapshot(ctx, res.Table); err != nil {
		return nil, err
	}
	r.track(ctx, Progress{RunID: id, Stage: StageSnapshot, Percent: 60, Running: true})

	report := stats.Compute(res.Table, r.deps.Pipeline.Schema())
	html, err := r.deps.Renderer.HTML(report)
	if err != nil {
		return nil, fmt.Errorf("rendering report: %w", err)
	}
	r.track(ctx, Progress{RunID: id, Stage: StageStats, Percent: 70, Running: true})

	out := &Outcome{Result: res, Report: report, ReportHTML: html}
	if !withPublish {
		return out, nil
	}

	projected, ok := datanorm.Project(res.Table, r.deps.ColumnOrder)
	if !ok {
		log.Printf("[runner] column order does not match the reconciled columns, publishing all columns")
	}
	for _, p := range r.deps.Publishers {
		if err := p.Publish(ctx, projected); err != nil {
			return out, fmt.Errorf("publishing to %s: %w", p.Name, err)
		}
		rec.Published = append(rec.Published, p.Name)
	}
	r.track(ctx, Progress{RunID: id, Stage: StagePublish, Percent: 95, Running: true})

	if r.deps.Archive != nil {
		if err := r.deps.Archive.Replace(ctx, id, res.Table); err != nil {
			log.Printf("[runner] archive run %s: %v", id, err)
		} else {
			rec.Published = append(rec.Published, "archive")
		}
	}
	if r.deps.Notifier != nil {
		text, err := r.deps.Renderer.Markdown(html)
		if err != nil {
			log.Printf("[runner] markdown report: %v", err)
		}
		if _, err := r.deps.Notifier.SendReport(ctx, html, text, r.now()); err != nil {
			log.Printf("[runner] notify run %s: %v", id, err)
		} else {
			rec.Published = append(rec.Published, "email")
		}
	}
	return out, nil
}

// Report renders the statistics of the cached snapshot without running
// the pipeline. With no snapshot it returns the no-data fragment.
func (r *Runner) Report(ctx context.Context) (string, error) {
	t, err := r.deps.Store.LoadSnapshot(ctx)
	if errors.Is(err, storage.ErrNoSnapshot) {
		return stats.NoDataHTML, nil
	}
	if err != nil {
		return "", err
	}
	return r.deps.Renderer.HTML(stats.Compute(t, r.deps.Pipeline.Schema()))
}

// ReportMarkdown is Report converted to Markdown.
func (r *Runner) ReportMarkdown(ctx context.Context) (string, error) {
	html, err := r.Report(ctx)
	if err != nil {
		return "", err
	}
	return r.deps.Renderer.Markdown(html)
}

// Snapshot returns the cached reconciled table projected to the column
// order.
func (r *Runner) Snapshot(ctx context.Context) (*table.Table, error) {
	t, err := r.deps.Store.LoadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	// Dates come back from the CSV snapshot as text.
	if ci := t.Index(r.deps.Pipeline.Schema().CreatedAt); ci >= 0 {
		for _, row := range t.Rows {
			if row[ci].Kind == table.KindText {
				if d := table.ParseDayMonthYear(row[ci].Text); !d.IsNull() {
					row[ci] = d
				}
			}
		}
	}
	projected, _ := datanorm.Project(t, r.deps.ColumnOrder)
	return projected, nil
}

func (r *Runner) track(ctx context.Context, p Progress) {
	p.UpdatedAt = r.now()
	logger.Debug("run progress", "run_id", p.RunID, "stage", p.Stage, "percent", p.Percent)
	if err := r.deps.Tracker.Set(context.WithoutCancel(ctx), p); err != nil {
		log.Printf("[runner] track progress: %v", err)
	}
}
