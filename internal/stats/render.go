package stats

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/osteele/liquid"
)

// NoDataHTML is rendered in place of the report when there is nothing to
// compute.
const NoDataHTML = "<p style='color: red; text-align: right;'>אין נתונים לחישוב סטטיסטיקה.</p>"

const css = `<style>
    table {
        width: 100%;
        border-collapse: collapse;
        text-align: center;
        border: 1px solid black;
        margin-bottom: 20px;
    }
    th, td {
        padding: 8px;
        border: 1px solid white;
        vertical-align: middle;
        text-align: center;
    }
    tr:nth-child(even) {
        background-color: #f2f2f2;
    }
    tr:hover {
        background-color: #f5f5f5;
    }
    h2 {
        margin: 10px 0 10px 20px;
    }
</style>
`

const reportTemplate = `{{ css }}{% for s in sections %}<div><h2>{{ s.title }}</h2><table border="0" class="dataframe">
  <thead>
    <tr style="text-align: right;">{% for h in s.headers %}
      <th>{{ h | escape }}</th>{% endfor %}
    </tr>
  </thead>
  <tbody>{% for row in s.rows %}
    <tr>{% for c in row %}
      <td>{{ c | escape }}</td>{% endfor %}
    </tr>{% endfor %}
  </tbody>
</table></div>{% endfor %}<div><h2>הצלחת שיעורי המרה:</h2> <ul><li><h3>מספר המתאמנים שעשו אימון ניסיון: {{ did_trial }}</h3></li><li><h3>מספר מנויים שעשו אימון ניסיון: {{ trial_subscribed }}</h3></li> <li><h3>הצלחת שיעורי המרה באחוזים: {{ trial_rate }}%</h3></li></ul></div><div><h2>ממוצע גילאים: {{ mean_age }}</h2></div>`

// Section is one titled metric table, formatted for display. The last row
// is the totals row.
type Section struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Sections returns the metric tables in display order.
func (r *Report) Sections() []Section {
	return []Section{
		{
			Title:   "אחוזי קליטה עבור כל מקור: ",
			Headers: []string{"מקור", "כמות", "אחוזים"},
			Rows:    shareRows(r.Sources, r.SourcesTotal),
		},
		{
			Title:   "מספר לידים עבור כל מקור וסגירת מנויים עבור כל מקור: ",
			Headers: []string{"מקור", "כמות", "כמות עם מנוי", "אחוז מנויים"},
			Rows:    closingRows(r.SourceClosing, r.SourceClosingTotal),
		},
		{
			Title:   "מספר אימוני ניסיון שהגיעו עבור כל מקור: ",
			Headers: []string{"מקור", "מספר מתאמנות", "כמות מנויים", "אחוז מנויים"},
			Rows:    closingRows(r.TrialsBySource, r.TrialsBySourceTotal),
		},
		{
			Title:   "סוגי מנויים:",
			Headers: []string{"מנוי", "כמות", "אחוז מסך כלל המנויים"},
			Rows:    shareRows(r.Subscriptions, r.SubscriptionsTotal),
		},
		{
			Title:   "מאמנות:",
			Headers: []string{"מאמנים", "כמות", "כמות מנויים שסגרו", "אחוזי סגירה"},
			Rows:    closingRows(r.Coaches, r.CoachesTotal),
		},
	}
}

func shareRows(rows []Share, total Share) [][]string {
	out := make([][]string, 0, len(rows)+1)
	row := func(s Share) []string {
		return []string{s.Label, strconv.Itoa(s.Count), formatPercent(s.Percent)}
	}
	for _, s := range rows {
		out = append(out, row(s))
	}
	return append(out, row(total))
}

func closingRows(rows []Closing, total Closing) [][]string {
	out := make([][]string, 0, len(rows)+1)
	row := func(c Closing) []string {
		return []string{c.Label, strconv.Itoa(c.Count), strconv.Itoa(c.Converted), formatPercent(c.Percent)}
	}
	for _, c := range rows {
		out = append(out, row(c))
	}
	return append(out, row(total))
}

func formatPercent(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// Renderer turns a Report into an HTML fragment or markdown.
type Renderer struct {
	tpl       *liquid.Template
	converter *md.Converter
}

// NewRenderer parses the report template.
func NewRenderer() (*Renderer, error) {
	engine := liquid.NewEngine()
	tpl, err := engine.ParseString(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &Renderer{tpl: tpl, converter: converter}, nil
}

// HTML renders the CSS block followed by one titled section per metric.
func (rd *Renderer) HTML(r *Report) (string, error) {
	if r == nil || r.Empty {
		return NoDataHTML, nil
	}

	sections := make([]map[string]any, 0, 5)
	for _, s := range r.Sections() {
		sections = append(sections, map[string]any{
			"title":   s.Title,
			"headers": s.Headers,
			"rows":    s.Rows,
		})
	}
	out, err := rd.tpl.RenderString(map[string]any{
		"css":              css,
		"sections":         sections,
		"did_trial":        r.DidTrial,
		"trial_subscribed": r.TrialSubscribed,
		"trial_rate":       formatPercent(r.TrialSuccessRate),
		"mean_age":         formatPercent(r.MeanAge),
	})
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return out, nil
}

var styleRe = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)

// Markdown converts a rendered HTML fragment for terminal output.
func (rd *Renderer) Markdown(fragment string) (string, error) {
	out, err := rd.converter.ConvertString(styleRe.ReplaceAllString(fragment, ""))
	if err != nil {
		return "", fmt.Errorf("convert report to markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}
