package datanorm

import (
	"regexp"
	"strings"
)

// Classification is the report category inferred from an export filename.
type Classification struct {
	Slug  string // cleaned filename stem
	Label string // human-readable category, or the raw stem when unknown
	Known bool
}

// DefaultReportLabels maps the console's report slugs to category labels.
var DefaultReportLabels = map[string]string{
	"active-members-report":     "לקוחות פעילים",
	"active-memberships-report": "מנויים פעילים",
	"converted-leads-report":    "מתעניינים שהומרו ללקוחות",
	"all-leads-report":          "כל המתעניינים",
	"trial-classes-report":      "שיעורי ניסיון",
	"lost-leads-report":         "מתעניינים אבודים",
	"inactive-members-report":   "לקוחות לא פעילים",
	"future-memberships-report": "מנויים עתידיים",
}

// duplicateSuffix matches the " (2)" counter browsers append to repeated downloads.
var duplicateSuffix = regexp.MustCompile(`\s+\(\d+\)$`)

// Classifier determines the report category from a filename stem.
type Classifier struct {
	labels        map[string]string
	trialContains string
}

// NewClassifier builds a classifier. A nil map uses DefaultReportLabels.
func NewClassifier(labels map[string]string, trialContains string) *Classifier {
	if labels == nil {
		labels = DefaultReportLabels
	}
	if trialContains == "" {
		trialContains = "trial"
	}
	return &Classifier{labels: labels, trialContains: trialContains}
}

// Classify never fails: an unmapped stem comes back as its own label.
func (c *Classifier) Classify(stem string) Classification {
	slug := duplicateSuffix.ReplaceAllString(stem, "")
	if label, ok := c.labels[slug]; ok {
		return Classification{Slug: slug, Label: label, Known: true}
	}
	return Classification{Slug: slug, Label: stem}
}

// IsTrial reports whether the classification is a trial-classes export.
func (c *Classifier) IsTrial(cl Classification) bool {
	return strings.Contains(cl.Slug, c.trialContains)
}
