package datanorm

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/olivestudio/leadrecon/internal/table"
)

// DefaultPattern matches report exports directly inside the data directory.
const DefaultPattern = "*.csv"

// Loader reads report exports from a directory and tags every row with its
// report category.
type Loader struct {
	classifier *Classifier
	schema     Schema
	pattern    string
}

// NewLoader creates a loader. An empty pattern uses DefaultPattern.
func NewLoader(classifier *Classifier, schema Schema, pattern string) *Loader {
	if pattern == "" {
		pattern = DefaultPattern
	}
	return &Loader{classifier: classifier, schema: schema, pattern: pattern}
}

// ListReports returns the export files in dir in lexical order, so that
// "first non-null" aggregation does not depend on directory listing order.
func (l *Loader) ListReports(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat data dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	matches, err := doublestar.Glob(os.DirFS(dir), l.pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", l.pattern, err)
	}

	var files []string
	for _, m := range matches {
		p := filepath.Join(dir, filepath.FromSlash(m))
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			files = append(files, p)
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadDir loads every export in dir. An empty directory yields an empty
// result, not an error.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*LoadResult, error) {
	files, err := l.ListReports(dir)
	if err != nil {
		return nil, err
	}

	res := &LoadResult{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rep, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if l.classifier.IsTrial(rep.Classification) {
			res.Trials = append(res.Trials, rep.Table)
		}
		res.Reports = append(res.Reports, *rep)
		log.Printf("[datanorm] loaded %s as %q: rows=%d cols=%d",
			filepath.Base(path), rep.Classification.Label, rep.Table.Len(), len(rep.Table.Columns))
	}
	return res, nil
}

// LoadFile loads and classifies one export. Trial-class exports are
// deduplicated down to the most recent row per phone key.
func (l *Loader) LoadFile(path string) (*Report, error) {
	t, err := table.ReadCSVFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	cl := l.classifier.Classify(stem)
	t.Fill(l.schema.SourceFile, table.Text(cl.Label))

	if l.classifier.IsTrial(cl) {
		t = DedupeTrials(t, l.schema)
	}
	return &Report{Path: path, Classification: cl, Table: t}, nil
}

// DedupeTrials parses the trial date column, orders rows newest first and
// keeps one row per phone key. Rows with an unparsable date sort last.
func DedupeTrials(t *table.Table, schema Schema) *table.Table {
	out := t.Clone()
	if di := out.Index(schema.TrialDate); di >= 0 {
		for _, row := range out.Rows {
			row[di] = parseDateCell(row[di])
		}
		sort.SliceStable(out.Rows, func(i, j int) bool {
			a, b := out.Rows[i][di], out.Rows[j][di]
			if a.IsNull() || b.IsNull() {
				return !a.IsNull() && b.IsNull()
			}
			return a.Time.After(b.Time)
		})
	}

	pi := out.Index(schema.Phone)
	seen := make(map[string]bool, len(out.Rows))
	kept := out.Rows[:0]
	for _, row := range out.Rows {
		var key string
		if pi >= 0 {
			key = NormalizeKey(row[pi])
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, row)
	}
	out.Rows = kept
	return out
}

// LoadSupplemental reads the bundled correction file. An empty path
// disables the supplement.
func LoadSupplemental(path string, schema Schema) (*table.Table, error) {
	if path == "" {
		return nil, nil
	}
	t, err := table.ReadCSVFile(path)
	if err != nil {
		return nil, fmt.Errorf("load supplemental %s: %w", path, err)
	}
	if pi := t.Index(schema.Phone); pi >= 0 {
		for _, row := range t.Rows {
			if row[pi].IsNull() {
				continue
			}
			row[pi] = table.Text(SupplementalPhone(row[pi].String()))
		}
	}
	return t, nil
}

func parseDateCell(v table.Value) table.Value {
	switch v.Kind {
	case table.KindDate:
		return v
	case table.KindText:
		return table.ParseDayMonthYear(strings.TrimSpace(v.Text))
	default:
		return table.Null
	}
}
