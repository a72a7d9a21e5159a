// Package table reads and writes the tab-delimited tables the annotator works on.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
)

// ErrCommaSeparated rejects .csv inputs.
var ErrCommaSeparated = errors.New(
	"comma-separated tables not allowed. Please provide a tab-delimited table with the suffix .txt or .tsv")

// ErrEmpty is returned for a file without a header row.
var ErrEmpty = errors.New("table has no header row")

// ErrColumnNotFound aliases the annotation sentinel so callers of this package
// can match it without importing annotation.
var ErrColumnNotFound = annotation.ErrColumnNotFound

// DelimiterFor returns the field delimiter implied by path's extension.
func DelimiterFor(path string) (rune, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return 0, ErrCommaSeparated
	}
	return '\t', nil
}

// Read loads the table at path.
func Read(path string) (*annotation.Table, error) {
	delim, err := DelimiterFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	t, err := Decode(f, delim)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Decode parses a delimited table from r. Rows may have fewer cells than the
// header.
func Decode(r io.Reader, delim rune) (*annotation.Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	t := &annotation.Table{Header: header, Delimiter: delim}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(t.Records)+1, err)
		}
		t.Records = append(t.Records, annotation.Record{Cells: row})
	}
	return t, nil
}

// Write stores t at path, replacing any existing file.
func Write(path string, t *annotation.Table) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close table: %w", cerr)
		}
	}()
	return Encode(f, t)
}

// Encode writes t to w using its delimiter, defaulting to tab.
func Encode(w io.Writer, t *annotation.Table) error {
	cw := csv.NewWriter(w)
	cw.Comma = t.Delimiter
	if cw.Comma == 0 {
		cw.Comma = '\t'
	}
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, rec := range t.Records {
		if err := cw.Write(rec.Cells); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush table: %w", err)
	}
	return nil
}

// OutputPath inserts suffix between the stem and extension of path, so
// "data/ids.tsv" becomes "data/ids_annotated.tsv".
func OutputPath(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}
