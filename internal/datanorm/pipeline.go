package datanorm

import (
	"context"
	"fmt"
	"log"

	"github.com/olivestudio/leadrecon/internal/table"
)

// Stage names a coarse step of a pipeline run.
type Stage string

const (
	StageLoad      Stage = "load"
	StageMerge     Stage = "merge"
	StageReconcile Stage = "reconcile"
)

// ProgressFunc receives coarse progress. It is a presentation hook only.
type ProgressFunc func(stage Stage, percent int)

// Options configures a Pipeline. Zero values fall back to defaults.
type Options struct {
	Schema         Schema
	ReportLabels   map[string]string
	Pattern        string
	SupplementPath string
}

// Result is a reconciled record set.
type Result struct {
	Table   *table.Table
	Reports []Report
	// TrialKeys is nil when no trial export was loaded.
	TrialKeys map[string]bool
}

// Pipeline wires loader, merger and reconciler.
type Pipeline struct {
	schema         Schema
	loader         *Loader
	supplementPath string
}

// NewPipeline builds a pipeline from explicit options.
func NewPipeline(opts Options) *Pipeline {
	schema := opts.Schema
	if schema.Phone == "" {
		schema = DefaultSchema()
	}
	classifier := NewClassifier(opts.ReportLabels, schema.TrialSlugContains)
	return &Pipeline{
		schema:         schema,
		loader:         NewLoader(classifier, schema, opts.Pattern),
		supplementPath: opts.SupplementPath,
	}
}

func (p *Pipeline) Schema() Schema  { return p.schema }
func (p *Pipeline) Loader() *Loader { return p.loader }

// Run reconciles every export in dir. ErrNoReports is returned when the
// directory has no exports.
func (p *Pipeline) Run(ctx context.Context, dir string, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(Stage, int) {}
	}

	progress(StageLoad, 0)
	loaded, err := p.loader.LoadDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	if loaded.Empty() {
		return nil, ErrNoReports
	}

	supplement, err := LoadSupplemental(p.supplementPath, p.schema)
	if err != nil {
		return nil, err
	}

	tables := loaded.Tables()
	if supplement != nil {
		tables = append(tables, supplement)
	}
	merged := Merge(tables, p.schema)
	if merged == nil {
		return nil, ErrNoReports
	}
	progress(StageMerge, 30)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reconciled := Reconcile(merged, loaded.Trials, p.schema)
	progress(StageReconcile, 50)

	res := &Result{Table: reconciled, Reports: loaded.Reports}
	if len(loaded.Trials) > 0 {
		res.TrialKeys = TrialKeys(loaded.Trials, p.schema)
	}
	log.Printf("[datanorm] reconciled %d reports into %d records (trial keys=%d)",
		len(loaded.Reports), reconciled.Len(), len(res.TrialKeys))
	return res, nil
}

// Describe is a one-line summary for logs and CLI output.
func (r *Result) Describe() string {
	if r == nil || r.Table == nil {
		return "no data"
	}
	return fmt.Sprintf("%d records from %d reports", r.Table.Len(), len(r.Reports))
}
