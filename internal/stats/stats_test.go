package stats

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olivestudio/leadrecon/internal/datanorm"
	"github.com/olivestudio/leadrecon/internal/table"
)

func fixture() (*table.Table, datanorm.Schema) {
	s := datanorm.DefaultSchema()
	t := table.New(s.Source, s.Subscription, s.HasSubscription, s.DidTrial, s.Coach, s.Age)
	txt := table.Text
	null := table.Null
	t.AddRow([]table.Value{txt("instagram"), txt("Gold"), txt("V"), txt("V"), txt("דנה"), table.Number(20)})
	t.AddRow([]table.Value{txt("instagram"), txt("ללא"), txt(""), txt("V"), txt("דנה"), table.Number(30)})
	t.AddRow([]table.Value{txt("facebook"), txt("מנוי פריסייל"), txt("V"), txt(""), txt("רוני"), null})
	t.AddRow([]table.Value{txt("facebook"), txt("Silver"), txt("V"), txt("V"), null, table.Number(40)})
	t.AddRow([]table.Value{txt("whatsapp"), null, txt(""), txt(""), txt("דנה"), table.Number(10)})
	t.AddRow([]table.Value{null, txt("Gold"), txt("V"), txt(""), null, null})
	return t, s
}

func TestComputeSources(t *testing.T) {
	tbl, s := fixture()
	r := Compute(tbl, s)
	require.False(t, r.Empty)

	assert.Equal(t, []Share{
		{Label: "facebook", Count: 2, Percent: 40},
		{Label: "instagram", Count: 2, Percent: 40},
		{Label: "whatsapp", Count: 1, Percent: 20},
	}, r.Sources)
	assert.Equal(t, Share{Label: "סך הכל", Count: 5, Percent: 100}, r.SourcesTotal)

	assert.Equal(t, []Closing{
		{Label: "facebook", Count: 2, Converted: 1, Percent: 50},
		{Label: "instagram", Count: 2, Converted: 1, Percent: 50},
		{Label: "whatsapp", Count: 1, Converted: 0, Percent: 0},
	}, r.SourceClosing)
	assert.Equal(t, Closing{Label: "סך הכל", Count: 5, Converted: 2, Percent: 40}, r.SourceClosingTotal)
}

func TestComputeTrials(t *testing.T) {
	tbl, s := fixture()
	r := Compute(tbl, s)

	assert.Equal(t, 3, r.DidTrial)
	assert.Equal(t, 2, r.TrialSubscribed)
	assert.Equal(t, 66.67, r.TrialSuccessRate)

	assert.Equal(t, []Closing{
		{Label: "facebook", Count: 1, Converted: 1, Percent: 100},
		{Label: "instagram", Count: 2, Converted: 1, Percent: 50},
	}, r.TrialsBySource)
	assert.Equal(t, Closing{Label: "סך הכל", Count: 3, Converted: 2, Percent: 66.67}, r.TrialsBySourceTotal)
}

func TestComputeSubscriptionsAndCoaches(t *testing.T) {
	tbl, s := fixture()
	r := Compute(tbl, s)

	assert.Equal(t, []Share{
		{Label: "Gold", Count: 2, Percent: 66.67},
		{Label: "Silver", Count: 1, Percent: 33.33},
	}, r.Subscriptions)
	assert.Equal(t, Share{Label: "סך הכל", Count: 3, Percent: 100}, r.SubscriptionsTotal)

	assert.Equal(t, []Closing{
		{Label: "דנה", Count: 3, Converted: 2, Percent: 66.67},
		{Label: "רוני", Count: 1, Converted: 1, Percent: 100},
	}, r.Coaches)
	assert.Equal(t, Closing{Label: "סך הכל", Count: 4, Converted: 3, Percent: 75}, r.CoachesTotal)

	assert.Equal(t, 25.0, r.MeanAge)
}

func TestTotalsMatchRows(t *testing.T) {
	tbl, s := fixture()
	r := Compute(tbl, s)

	sumShares := func(rows []Share) (int, float64) {
		var n int
		var p float64
		for _, x := range rows {
			n += x.Count
			p += x.Percent
		}
		return n, p
	}
	n, p := sumShares(r.Sources)
	assert.Equal(t, r.SourcesTotal.Count, n)
	assert.InDelta(t, 100, p, 0.05)

	n, p = sumShares(r.Subscriptions)
	assert.Equal(t, r.SubscriptionsTotal.Count, n)
	assert.InDelta(t, 100, p, 0.05)

	for _, pair := range []struct {
		rows  []Closing
		total Closing
	}{
		{r.SourceClosing, r.SourceClosingTotal},
		{r.TrialsBySource, r.TrialsBySourceTotal},
		{r.Coaches, r.CoachesTotal},
	} {
		var count, conv int
		for _, c := range pair.rows {
			count += c.Count
			conv += c.Converted
		}
		assert.Equal(t, pair.total.Count, count)
		assert.Equal(t, pair.total.Converted, conv)
	}
}

func TestComputeMissingColumns(t *testing.T) {
	s := datanorm.DefaultSchema()
	tbl := table.New("something else")
	tbl.AddRow([]table.Value{table.Text("x")})

	r := Compute(tbl, s)
	require.False(t, r.Empty)
	assert.Empty(t, r.Sources)
	assert.Equal(t, 0, r.SourcesTotal.Count)
	assert.Equal(t, 0.0, r.TrialSuccessRate)
	assert.Equal(t, 0.0, r.SubscriptionsTotal.Percent)
	assert.Equal(t, 0.0, r.MeanAge)
}

func TestComputeEmpty(t *testing.T) {
	assert.True(t, Compute(nil, datanorm.DefaultSchema()).Empty)
	assert.True(t, Compute(table.New("a"), datanorm.DefaultSchema()).Empty)
}

func TestRendererHTML(t *testing.T) {
	rd, err := NewRenderer()
	require.NoError(t, err)

	tbl, s := fixture()
	html, err := rd.HTML(Compute(tbl, s))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(html, "<style>"))
	titles := []string{
		"אחוזי קליטה עבור כל מקור",
		"מספר לידים עבור כל מקור וסגירת מנויים",
		"מספר אימוני ניסיון שהגיעו עבור כל מקור",
		"סוגי מנויים",
		"מאמנות",
		"הצלחת שיעורי המרה:",
		"ממוצע גילאים: 25.00",
	}
	last := -1
	for _, title := range titles {
		i := strings.Index(html, title)
		require.GreaterOrEqual(t, i, 0, "missing section %q", title)
		assert.Greater(t, i, last, "section %q out of order", title)
		last = i
	}
	assert.Contains(t, html, "<td>66.67</td>")
	assert.Contains(t, html, "הצלחת שיעורי המרה באחוזים: 66.67%")
}

func TestRendererEscapesLabels(t *testing.T) {
	rd, err := NewRenderer()
	require.NoError(t, err)

	s := datanorm.DefaultSchema()
	tbl := table.New(s.Source)
	tbl.AddRow([]table.Value{table.Text("<b>x</b>")})
	html, err := rd.HTML(Compute(tbl, s))
	require.NoError(t, err)
	assert.Contains(t, html, "&lt;b&gt;x&lt;/b&gt;")
}

func TestRendererNoData(t *testing.T) {
	rd, err := NewRenderer()
	require.NoError(t, err)
	html, err := rd.HTML(&Report{Empty: true})
	require.NoError(t, err)
	assert.Equal(t, NoDataHTML, html)
}

func TestRendererMarkdown(t *testing.T) {
	rd, err := NewRenderer()
	require.NoError(t, err)

	tbl, s := fixture()
	html, err := rd.HTML(Compute(tbl, s))
	require.NoError(t, err)

	out, err := rd.Markdown(html)
	require.NoError(t, err)
	assert.NotContains(t, out, "border-collapse")
	assert.Contains(t, out, "facebook")
	assert.Contains(t, out, "|")
}
