package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV loads a CSV with a header row. Input that is not valid UTF-8 is
// decoded as Windows-1255, which is what the console exports on Hebrew
// Windows machines. Columns whose non-empty cells all parse as numbers are
// typed Number, every other non-empty cell is Text.
func ReadCSV(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		decoded, err := charmap.Windows1255.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("decode windows-1255: %w", err)
		}
		data = decoded
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}
	header = uniqueHeaders(header)

	var raw [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(raw)+2, err)
		}
		raw = append(raw, rec)
	}

	numeric := make([]bool, len(header))
	for c := range header {
		numeric[c] = numericColumn(raw, c)
	}

	t := New(header...)
	t.Rows = make([][]Value, 0, len(raw))
	for _, rec := range raw {
		row := make([]Value, len(header))
		for c := range header {
			if c >= len(rec) || rec[c] == "" {
				continue
			}
			if numeric[c] {
				f, _ := strconv.ParseFloat(strings.TrimSpace(rec[c]), 64)
				row[c] = Number(f)
			} else {
				row[c] = Text(rec[c])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// ReadCSVFile opens and loads a CSV file.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// uniqueHeaders renames repeated labels to label.1, label.2 and so on, so
// no column shadows another.
func uniqueHeaders(header []string) []string {
	out := make([]string, len(header))
	taken := make(map[string]bool, len(header))
	for _, h := range header {
		taken[h] = true
	}
	seen := make(map[string]int, len(header))
	for i, h := range header {
		n := seen[h]
		seen[h] = n + 1
		if n == 0 {
			out[i] = h
			continue
		}
		name := fmt.Sprintf("%s.%d", h, n)
		for taken[name] {
			n++
			name = fmt.Sprintf("%s.%d", h, n)
		}
		seen[h] = n + 1
		taken[name] = true
		out[i] = name
	}
	return out
}

func numericColumn(raw [][]string, c int) bool {
	seen := false
	for _, rec := range raw {
		if c >= len(rec) || rec[c] == "" {
			continue
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(rec[c]), 64); err != nil {
			return false
		}
		seen = true
	}
	return seen
}

// WriteCSV writes the table with a header row. Dates are written as
// day/month/year, NaN and infinities as empty cells.
func WriteCSV(w io.Writer, t *Table, bom bool) error {
	if bom {
		if _, err := w.Write(utf8BOM); err != nil {
			return err
		}
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	rec := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, v := range row {
			if v.IsNaN() {
				rec[i] = ""
				continue
			}
			rec[i] = v.String()
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
