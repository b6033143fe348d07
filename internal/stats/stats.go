// Package stats computes the business metrics shown after a pipeline run:
// lead-source effectiveness, subscription mix, trial conversion and per-coach
// closing rates.
package stats

import (
	"math"
	"sort"
	"strings"

	"github.com/olivestudio/leadrecon/internal/datanorm"
	"github.com/olivestudio/leadrecon/internal/table"
)

// Share is one labelled count with its percentage of the whole.
type Share struct {
	Label   string
	Count   int
	Percent float64
}

// Closing is one labelled population with the part of it that converted.
type Closing struct {
	Label     string
	Count     int
	Converted int
	Percent   float64
}

// Report holds every computed metric. Each slice excludes its totals row,
// which is carried in the matching *Total field.
type Report struct {
	Empty bool

	Sources      []Share
	SourcesTotal Share

	SourceClosing      []Closing
	SourceClosingTotal Closing

	TrialsBySource      []Closing
	TrialsBySourceTotal Closing

	Subscriptions      []Share
	SubscriptionsTotal Share

	Coaches      []Closing
	CoachesTotal Closing

	DidTrial         int
	TrialSubscribed  int
	TrialSuccessRate float64
	MeanAge          float64
}

// Compute derives the report from a reconciled table. Missing columns are
// treated as all-null; a nil or empty table yields an Empty report.
func Compute(t *table.Table, schema datanorm.Schema) *Report {
	if t == nil || t.Len() == 0 {
		return &Report{Empty: true}
	}
	c := columns{t: t, s: schema}
	r := &Report{}

	r.Sources, r.SourcesTotal = c.sourceShares()
	r.SourceClosing, r.SourceClosingTotal = c.sourceClosing(r.Sources)
	r.DidTrial, r.TrialSubscribed, r.TrialSuccessRate = c.trialConversion()
	r.TrialsBySource, r.TrialsBySourceTotal = c.trialsBySource(r.TrialSuccessRate)
	r.Subscriptions, r.SubscriptionsTotal = c.subscriptionShares()
	r.Coaches, r.CoachesTotal = c.coachClosing()
	r.MeanAge = c.meanAge()
	return r
}

type columns struct {
	t *table.Table
	s datanorm.Schema
}

// cell returns the stringified value and whether it is non-null.
func (c columns) cell(r int, col string) (string, bool) {
	v := c.t.Get(r, col)
	if v.IsNull() || v.IsNaN() {
		return "", false
	}
	return v.String(), true
}

func (c columns) sourceShares() ([]Share, Share) {
	counts, order := c.valueCounts(c.s.Source, nil)
	total := sum(counts)
	out := make([]Share, 0, len(order))
	for _, label := range order {
		out = append(out, Share{Label: label, Count: counts[label], Percent: percent(counts[label], total)})
	}
	return out, Share{Label: c.s.Total, Count: total, Percent: 100}
}

// sourceClosing counts, per source, the leads holding a subscription other
// than the presale-only type.
func (c columns) sourceClosing(sources []Share) ([]Closing, Closing) {
	converted := make(map[string]int)
	for r := range c.t.Rows {
		src, ok := c.cell(r, c.s.Source)
		if !ok {
			continue
		}
		has, _ := c.cell(r, c.s.HasSubscription)
		sub, _ := c.cell(r, c.s.Subscription)
		if has == c.s.TrialMarker && sub != c.s.PresaleOnly {
			converted[src]++
		}
	}

	out := make([]Closing, 0, len(sources))
	total := Closing{Label: c.s.Total}
	for _, sh := range sources {
		cl := Closing{Label: sh.Label, Count: sh.Count, Converted: converted[sh.Label]}
		cl.Percent = percent(cl.Converted, cl.Count)
		total.Count += cl.Count
		total.Converted += cl.Converted
		out = append(out, cl)
	}
	total.Percent = percent(total.Converted, total.Count)
	return out, total
}

func (c columns) didTrial(r int) bool {
	v, _ := c.cell(r, c.s.DidTrial)
	return v == c.s.TrialMarker
}

// subscribed reports a present subscription that is not the "none"
// placeholder.
func (c columns) subscribed(r int) bool {
	v, ok := c.cell(r, c.s.Subscription)
	return ok && v != c.s.NoSubscription
}

func (c columns) trialConversion() (int, int, float64) {
	var trials, members int
	for r := range c.t.Rows {
		if !c.didTrial(r) {
			continue
		}
		trials++
		if c.subscribed(r) {
			members++
		}
	}
	return trials, members, percent(members, trials)
}

// trialsBySource groups trial-takers by source in ascending source order.
// The totals row carries the global conversion rate.
func (c columns) trialsBySource(globalRate float64) ([]Closing, Closing) {
	groups := make(map[string]*Closing)
	for r := range c.t.Rows {
		if !c.didTrial(r) {
			continue
		}
		src, ok := c.cell(r, c.s.Source)
		if !ok {
			continue
		}
		g := groups[src]
		if g == nil {
			g = &Closing{Label: src}
			groups[src] = g
		}
		g.Count++
		if c.subscribed(r) {
			g.Converted++
		}
	}

	labels := make([]string, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	out := make([]Closing, 0, len(labels))
	total := Closing{Label: c.s.Total, Percent: round2(globalRate)}
	for _, l := range labels {
		g := *groups[l]
		g.Percent = percent(g.Converted, g.Count)
		total.Count += g.Count
		total.Converted += g.Converted
		out = append(out, g)
	}
	return out, total
}

func (c columns) subscriptionShares() ([]Share, Share) {
	excluded := map[string]bool{c.s.NoSubscription: true, c.s.PresaleOnly: true}
	counts, order := c.valueCounts(c.s.Subscription, excluded)
	total := sum(counts)

	out := make([]Share, 0, len(order))
	var pctSum float64
	for _, label := range order {
		sh := Share{Label: label, Count: counts[label], Percent: percent(counts[label], total)}
		pctSum += sh.Percent
		out = append(out, sh)
	}
	return out, Share{Label: c.s.Total, Count: total, Percent: math.Round(pctSum)}
}

// coachClosing counts records per coach and how many of them carry any
// subscription value.
func (c columns) coachClosing() ([]Closing, Closing) {
	counts, order := c.valueCounts(c.s.Coach, nil)
	converted := make(map[string]int)
	for r := range c.t.Rows {
		coach, ok := c.cell(r, c.s.Coach)
		if !ok {
			continue
		}
		if _, ok := c.cell(r, c.s.Subscription); ok {
			converted[coach]++
		}
	}

	out := make([]Closing, 0, len(order))
	total := Closing{Label: c.s.Total}
	for _, label := range order {
		cl := Closing{Label: label, Count: counts[label], Converted: converted[label]}
		cl.Percent = percent(cl.Converted, cl.Count)
		total.Count += cl.Count
		total.Converted += cl.Converted
		out = append(out, cl)
	}
	total.Percent = percent(total.Converted, total.Count)
	return out, total
}

func (c columns) meanAge() float64 {
	var total float64
	var n int
	for _, v := range c.t.Column(c.s.Age) {
		f, ok := v.Float()
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		total += f
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// valueCounts counts non-null values of col, skipping excluded labels. The
// order is by count descending, then label ascending.
func (c columns) valueCounts(col string, excluded map[string]bool) (map[string]int, []string) {
	counts := make(map[string]int)
	for r := range c.t.Rows {
		v, ok := c.cell(r, col)
		if !ok || excluded[v] {
			continue
		}
		counts[v]++
	}
	order := make([]string, 0, len(counts))
	for l := range counts {
		order = append(order, l)
	}
	sort.Slice(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		return strings.Compare(order[i], order[j]) < 0
	})
	return counts, order
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

// percent is part/whole*100 rounded to two places; a zero whole yields 0.
func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return round2(float64(part) / float64(whole) * 100)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
