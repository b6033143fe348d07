package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotCSV rejects uploads that are not CSV exports.
var ErrNotCSV = errors.New("only .csv files are accepted")

// Upload is one user-selected export.
type Upload struct {
	Name string
	Body io.Reader
}

// ReplaceInputs empties dir and writes the uploads into it. Names are
// validated before anything is removed.
func ReplaceInputs(dir string, uploads []Upload) (int, error) {
	if len(uploads) == 0 {
		return 0, errors.New("no files selected")
	}
	for _, u := range uploads {
		if !strings.EqualFold(filepath.Ext(u.Name), ".csv") {
			return 0, fmt.Errorf("%s: %w", u.Name, ErrNotCSV)
		}
	}

	if err := ClearDir(dir); err != nil {
		return 0, err
	}
	for i, u := range uploads {
		dst := filepath.Join(dir, filepath.Base(u.Name))
		if err := writeUpload(dst, u.Body); err != nil {
			return i, err
		}
	}
	return len(uploads), nil
}

// ClearDir removes everything inside dir, creating it when missing.
func ClearDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("clear %s: %w", e.Name(), err)
		}
	}
	return nil
}

func writeUpload(dst string, body io.Reader) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(dst), err)
	}
	return f.Close()
}
