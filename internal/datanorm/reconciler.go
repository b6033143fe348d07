package datanorm

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/olivestudio/leadrecon/internal/table"
)

// Reconcile cleans a merged table in place and returns it. The steps run in
// a fixed order because each one reads the output of the previous.
// trials are the deduplicated trial tables from the loader; when none were
// loaded the did-trial column is left unset.
func Reconcile(merged *table.Table, trials []*table.Table, schema Schema) *table.Table {
	if merged == nil {
		return nil
	}
	UnifySubscription(merged, schema)
	NormalizeSources(merged, schema)
	ClampAges(merged, schema)
	DeriveRelevance(merged, schema)
	if len(trials) > 0 {
		DeriveTrials(merged, trials, schema)
	}
	return merged
}

// UnifySubscription folds the memberships column into the subscription
// column and drops it.
func UnifySubscription(t *table.Table, schema Schema) {
	for r := range t.Rows {
		m := t.Get(r, schema.Memberships)
		s := t.Get(r, schema.Subscription)
		var v table.Value
		switch {
		case !m.IsNull() && !s.IsNull() && m.String() != s.String():
			v = table.Text(m.String() + joinSep + s.String())
		case !m.IsNull():
			v = m
		default:
			v = s
		}
		t.Set(r, schema.Subscription, v)
	}
	t.AddColumn(schema.Subscription)
	t.DropColumn(schema.Memberships)
}

// NormalizeSources cleans the lead-source column. Placeholder items are
// dropped, ASCII items are trimmed, lowercased and have the "website"
// mislabel renamed, and the surviving items are re-joined sorted and
// distinct.
func NormalizeSources(t *table.Table, schema Schema) {
	i := t.Index(schema.Source)
	if i < 0 {
		return
	}
	for _, row := range t.Rows {
		if row[i].Kind != table.KindText {
			continue
		}
		row[i] = table.Text(NormalizeSource(row[i].Text, schema.NoSource))
	}
}

// NormalizeSource applies the source rules to one, possibly comma-joined,
// value.
func NormalizeSource(raw, placeholder string) string {
	var items []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == placeholder {
			continue
		}
		if isASCII(item) {
			item = asciiSource(item)
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		if isASCII(raw) {
			return asciiSource(raw)
		}
		return raw
	}

	seen := make(map[string]bool, len(items))
	uniq := items[:0]
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			uniq = append(uniq, item)
		}
	}
	sort.Strings(uniq)
	return strings.Join(uniq, joinSep)
}

func asciiSource(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "website", "whatsapp")
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// ClampAges replaces ages below schema.MinAge with the mean of all ages.
// The mean is taken before any replacement.
func ClampAges(t *table.Table, schema Schema) {
	i := t.Index(schema.Age)
	if i < 0 {
		return
	}
	var sum float64
	var n int
	for _, row := range t.Rows {
		if f, ok := row[i].Float(); ok && !math.IsNaN(f) {
			sum += f
			n++
		}
	}
	if n == 0 {
		return
	}
	mean := sum / float64(n)
	for _, row := range t.Rows {
		if f, ok := row[i].Float(); ok && f < schema.MinAge {
			row[i] = table.Number(mean)
		}
	}
}

// DeriveRelevance sets the relevant column from the status column: "no"
// for lost leads, empty for a missing status, "yes" otherwise.
func DeriveRelevance(t *table.Table, schema Schema) {
	for r := range t.Rows {
		status := t.Get(r, schema.Status)
		var v string
		switch {
		case status.Is(schema.LostStatus):
			v = schema.No
		case status.IsNull() || strings.TrimSpace(status.String()) == "":
			v = ""
		default:
			v = schema.Yes
		}
		t.Set(r, schema.Relevant, table.Text(v))
	}
	t.AddColumn(schema.Relevant)
}

// DeriveTrials marks every record whose key appears in a trial table.
func DeriveTrials(t *table.Table, trials []*table.Table, schema Schema) {
	keys := TrialKeys(trials, schema)
	ki := t.Index(KeyColumn)
	col := t.AddColumn(schema.DidTrial)
	for _, row := range t.Rows {
		v := ""
		if ki >= 0 && keys[row[ki].String()] {
			v = schema.TrialMarker
		}
		row[col] = table.Text(v)
	}
}

// TrialKeys collects the phone keys of the trial tables.
func TrialKeys(trials []*table.Table, schema Schema) map[string]bool {
	keys := make(map[string]bool)
	for _, tr := range trials {
		for _, v := range tr.Column(schema.Phone) {
			keys[NormalizeKey(v)] = true
		}
	}
	return keys
}
