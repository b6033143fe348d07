package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"

	"golang.org/x/oauth2/google"

	"github.com/olivestudio/leadrecon/internal/pkg/httpretry"
	"github.com/olivestudio/leadrecon/internal/pkg/logger"
	"github.com/olivestudio/leadrecon/internal/table"
)

const (
	// DefaultSheetsURL is the Sheets API v4 endpoint.
	DefaultSheetsURL = "https://sheets.googleapis.com"
	sheetsScope      = "https://www.googleapis.com/auth/spreadsheets"
)

var spreadsheetIDRe = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// SpreadsheetID extracts the spreadsheet id from a sheet URL.
func SpreadsheetID(sheetURL string) (string, error) {
	m := spreadsheetIDRe.FindStringSubmatch(sheetURL)
	if m == nil {
		return "", fmt.Errorf("no spreadsheet id in %q", sheetURL)
	}
	return m[1], nil
}

// SheetsPublisher replaces the contents of the first worksheet of a Google
// spreadsheet with a reconciled table.
type SheetsPublisher struct {
	client        httpretry.HTTPDoer
	baseURL       string
	spreadsheetID string
	sortColumn    string
}

// NewSheetsPublisher returns a publisher that talks to baseURL through
// client. The client must already carry credentials.
func NewSheetsPublisher(client httpretry.HTTPDoer, baseURL, sheetURL, sortColumn string) (*SheetsPublisher, error) {
	id, err := SpreadsheetID(sheetURL)
	if err != nil {
		return nil, err
	}
	if baseURL == "" {
		baseURL = DefaultSheetsURL
	}
	return &SheetsPublisher{client: client, baseURL: baseURL, spreadsheetID: id, sortColumn: sortColumn}, nil
}

// NewServiceAccountPublisher authenticates with a service-account JSON key
// file and wraps the token-bearing client in retries. An empty baseURL
// uses DefaultSheetsURL.
func NewServiceAccountPublisher(ctx context.Context, keyFile, baseURL, sheetURL, sortColumn string) (*SheetsPublisher, error) {
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(key, sheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account key: %w", err)
	}
	client := httpretry.NewRetryClient(conf.Client(ctx), 3)
	return NewSheetsPublisher(client, baseURL, sheetURL, sortColumn)
}

type sheetProps struct {
	SheetID int64  `json:"sheetId"`
	Title   string `json:"title"`
}

// Publish clears the first worksheet, writes the prepared grid from A1,
// formats the header row and sets a basic filter over the data.
func (p *SheetsPublisher) Publish(ctx context.Context, t *table.Table) error {
	grid := Prepare(t, p.sortColumn)
	if len(grid) == 0 {
		return nil
	}

	sheet, err := p.firstSheet(ctx)
	if err != nil {
		return err
	}
	rng := "'" + sheet.Title + "'"

	if err := p.call(ctx, http.MethodPost, p.valuesURL(rng, ":clear"), struct{}{}, nil); err != nil {
		return fmt.Errorf("clear sheet: %w", err)
	}

	body := map[string]any{"range": rng + "!A1", "majorDimension": "ROWS", "values": grid}
	if err := p.call(ctx, http.MethodPut, p.valuesURL(rng+"!A1", "?valueInputOption=RAW"), body, nil); err != nil {
		return fmt.Errorf("write values: %w", err)
	}

	if err := p.call(ctx, http.MethodPost, p.spreadsheetURL(":batchUpdate"), formatRequests(sheet.SheetID, len(grid), len(grid[0])), nil); err != nil {
		return fmt.Errorf("format sheet: %w", err)
	}

	logger.Info("published to sheet", "spreadsheet", p.spreadsheetID, "rows", len(grid)-1)
	return nil
}

func (p *SheetsPublisher) firstSheet(ctx context.Context) (sheetProps, error) {
	var meta struct {
		Sheets []struct {
			Properties sheetProps `json:"properties"`
		} `json:"sheets"`
	}
	if err := p.call(ctx, http.MethodGet, p.spreadsheetURL("?fields=sheets.properties"), nil, &meta); err != nil {
		return sheetProps{}, fmt.Errorf("read spreadsheet: %w", err)
	}
	if len(meta.Sheets) == 0 {
		return sheetProps{}, fmt.Errorf("spreadsheet %s has no worksheets", p.spreadsheetID)
	}
	return meta.Sheets[0].Properties, nil
}

func formatRequests(sheetID int64, rows, cols int) map[string]any {
	return map[string]any{
		"requests": []any{
			map[string]any{
				"setBasicFilter": map[string]any{
					"filter": map[string]any{"range": gridRange(sheetID, rows, cols)},
				},
			},
			map[string]any{
				"repeatCell": map[string]any{
					"range": gridRange(sheetID, 1, cols),
					"cell": map[string]any{
						"userEnteredFormat": map[string]any{
							"backgroundColor": map[string]float64{"red": 0, "green": 0, "blue": 0.5},
							"textFormat": map[string]any{
								"bold":            true,
								"fontSize":        12,
								"foregroundColor": map[string]float64{"red": 1, "green": 1, "blue": 1},
							},
							"horizontalAlignment": "CENTER",
							"verticalAlignment":   "MIDDLE",
						},
					},
					"fields": "userEnteredFormat(backgroundColor,textFormat,horizontalAlignment,verticalAlignment)",
				},
			},
		},
	}
}

func gridRange(sheetID int64, rows, cols int) map[string]any {
	return map[string]any{
		"sheetId":          sheetID,
		"startRowIndex":    0,
		"endRowIndex":      rows,
		"startColumnIndex": 0,
		"endColumnIndex":   cols,
	}
}

func (p *SheetsPublisher) spreadsheetURL(suffix string) string {
	return fmt.Sprintf("%s/v4/spreadsheets/%s%s", p.baseURL, p.spreadsheetID, suffix)
}

func (p *SheetsPublisher) valuesURL(rng, suffix string) string {
	return p.spreadsheetURL("/values/" + url.PathEscape(rng) + suffix)
}

func (p *SheetsPublisher) call(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	var raw []byte
	if in != nil {
		var err error
		if raw, err = json.Marshal(in); err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(raw)), nil }
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sheets API %s: %d %s", method, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode sheets response: %w", err)
		}
	}
	return nil
}
