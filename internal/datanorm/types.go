package datanorm

import (
	"errors"

	"github.com/olivestudio/leadrecon/internal/table"
)

// ErrNoReports is returned when the input directory holds no report exports.
// It is the "nothing to process" signal, distinct from any failure.
var ErrNoReports = errors.New("no report files found")

// KeyColumn holds the derived join key in merged tables.
const KeyColumn = "Normalized Phone"

// Schema names the columns and literal values the pipeline works with. The
// exports use Hebrew field labels; DefaultSchema carries them.
type Schema struct {
	Phone           string
	CreatedAt       string
	TrialDate       string
	Source          string
	Status          string
	Age             string
	Coach           string
	Subscription    string
	Memberships     string
	HasSubscription string
	DidTrial        string
	Relevant        string
	SourceFile      string

	NoSource          string // placeholder in the source column
	LostStatus        string
	Yes               string
	No                string
	TrialMarker       string
	NoSubscription    string // placeholder in the subscription column
	PresaleOnly       string // subscription type excluded from statistics
	Total             string
	MinAge            float64
	TrialSlugContains string
}

// DefaultSchema returns the field labels used by the Arbox exports.
func DefaultSchema() Schema {
	return Schema{
		Phone:           "טלפון",
		CreatedAt:       "נוצר בתאריך",
		TrialDate:       "תאריך",
		Source:          "מקור",
		Status:          "סטטוס",
		Age:             "גיל",
		Coach:           "מאמנים",
		Subscription:    "מנוי",
		Memberships:     "חברות",
		HasSubscription: "יש מנוי",
		DidTrial:        "עשו ניסיון",
		Relevant:        "רלוונטי",
		SourceFile:      "קובץ מקור",

		NoSource:          "ללא מקור",
		LostStatus:        "סומן כאבוד",
		Yes:               "כן",
		No:                "לא",
		TrialMarker:       "V",
		NoSubscription:    "ללא",
		PresaleOnly:       "מנוי פריסייל",
		Total:             "סך הכל",
		MinAge:            13,
		TrialSlugContains: "trial",
	}
}

// DefaultColumnOrder is the presentation order of the published sheet.
func DefaultColumnOrder() []string {
	return []string{
		"נוצר בתאריך", "שם", "טלפון", "מקור", "סטטוס", "סיבות התנגדות",
		"מפגש ניסיון", "עשו ניסיון", "רלוונטי", "יש מנוי", "מנוי", "גיל", "קובץ מקור",
	}
}

// Report is one loaded export, stamped with its category.
type Report struct {
	Path           string
	Classification Classification
	Table          *table.Table
}

// LoadResult is the output of loading a directory.
type LoadResult struct {
	Reports []Report
	// Trials holds the deduplicated trial-class tables, kept for the
	// reconciler's trial derivation.
	Trials []*table.Table
}

// Empty reports whether no export was found.
func (r *LoadResult) Empty() bool { return r == nil || len(r.Reports) == 0 }

// Tables returns the loaded report tables in load order.
func (r *LoadResult) Tables() []*table.Table {
	out := make([]*table.Table, 0, len(r.Reports))
	for _, rep := range r.Reports {
		out = append(out, rep.Table)
	}
	return out
}
