package annotation

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrColumnNotFound is returned when the identifier column is missing from the header.
var ErrColumnNotFound = errors.New("column not found")

// ErrNoAnnotation marks a page that was fetched but holds no annotation. Extractors
// wrap it so callers can tell an absent annotation from a failed lookup.
var ErrNoAnnotation = errors.New("no annotation available")

// Status classifies the result of a single identifier lookup.
type Status string

// Lookup status values.
const (
	StatusPending Status = ""
	StatusFound   Status = "found"
	StatusAbsent  Status = "absent"
	StatusFailed  Status = "failed"
)

// Outcome is the result of fetching and extracting one identifier.
type Outcome struct {
	Status Status `json:"status"`
	Text   string `json:"text,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Found builds a successful Outcome.
func Found(text string) Outcome {
	return Outcome{Status: StatusFound, Text: text}
}

// Absent builds an Outcome for a page without annotation.
func Absent(reason string) Outcome {
	return Outcome{Status: StatusAbsent, Reason: reason}
}

// Failed builds an Outcome for a lookup that errored.
func Failed(err error) Outcome {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return Outcome{Status: StatusFailed, Reason: reason}
}

// Summary returns the cell value written to the output table.
func (o Outcome) Summary() string {
	if o.Status != StatusFound {
		return ""
	}
	return o.Text
}

// Record is one row of the table.
type Record struct {
	Cells   []string
	Outcome Outcome
}

// Identifier returns the value of the identifier column, or "" when the row is short.
func (r Record) Identifier(column int) string {
	if column < 0 || column >= len(r.Cells) {
		return ""
	}
	return r.Cells[column]
}

// Table is an ordered set of records sharing one delimiter-separated schema.
type Table struct {
	Header    []string
	Records   []Record
	Delimiter rune
}

// ColumnIndex resolves a case-sensitive column name to its position.
func (t *Table) ColumnIndex(name string) (int, error) {
	for i, h := range t.Header {
		if h == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
}

// SetColumn writes values into the named column, appending it when it does not
// exist yet. values must have one entry per record.
func (t *Table) SetColumn(name string, values []string) error {
	if len(values) != len(t.Records) {
		return fmt.Errorf("column %q: got %d values for %d records", name, len(values), len(t.Records))
	}
	idx, err := t.ColumnIndex(name)
	if err != nil {
		t.Header = append(t.Header, name)
		idx = len(t.Header) - 1
	}
	for i := range t.Records {
		cells := t.Records[i].Cells
		for len(cells) <= idx {
			cells = append(cells, "")
		}
		cells[idx] = values[i]
		t.Records[i].Cells = cells
	}
	return nil
}

// Run identifies one pass over a table. Column is the resolved identifier column
// and is passed to workers explicitly.
type Run struct {
	ID     uuid.UUID
	Column int
}

// Chunk is a contiguous slice of table rows assigned to one worker. Offset is the
// row position of the first record in the original table.
type Chunk struct {
	Index   int
	Offset  int
	Records []Record
}

// FetchRequest captures everything needed to fetch an identifier's entry page.
type FetchRequest struct {
	Identifier string
	Headers    http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// LookupRecord is persisted for each identifier lookup when a result store is configured.
type LookupRecord struct {
	RunID       string
	Identifier  string
	Status      Status
	Reason      string
	Annotation  string
	URL         string
	ContentHash string
	BlobURI     string
	FetchedAt   time.Time
	DurationMs  int64
}

// EntryURL joins the base path and identifier without encoding or validation.
func EntryURL(base, identifier string) string {
	return base + identifier
}
