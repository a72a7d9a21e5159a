package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net error" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

var _ net.Error = timeoutErr{}

func TestClassifyFetchError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, ""},
		{"deadline", fmt.Errorf("colly fetch canceled: %w", context.DeadlineExceeded), FailureTimeout},
		{"canceled", context.Canceled, FailureCanceled},
		{"net timeout", timeoutErr{timeout: true}, FailureTimeout},
		{"net error", fmt.Errorf("dial: %w", timeoutErr{}), FailureNetwork},
		{"other", errors.New("Not Found"), FailureOther},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyFetchError(tc.err); got != tc.expected {
				t.Errorf("ClassifyFetchError(%v) = %q; want %q", tc.err, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if fetchFailuresTotal == nil || activeWorkers == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	before := testutil.ToFloat64(fetchFailuresTotal.WithLabelValues(FailureOther))
	ObserveFetchFailure(errors.New("boom"))
	ObserveFetchFailure(nil)
	if val := testutil.ToFloat64(fetchFailuresTotal.WithLabelValues(FailureOther)); val != before+1 {
		t.Errorf("Expected fetch failures to grow by 1, got %f -> %f", before, val)
	}

	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(activeWorkers); val != 0 {
		t.Errorf("Expected active workers to return to 0, got %f", val)
	}
}

func TestWriteTextfile(t *testing.T) {
	Init()
	ObserveArchiveWrite(nil)

	path := filepath.Join(t.TempDir(), "annotator.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), "annotator_archive_writes_total") {
		t.Errorf("expected archive counter in textfile, got:\n%s", data)
	}
}

// Fuzz test for ClassifyFetchError.
func FuzzClassifyFetchError(f *testing.F) {
	for _, tc := range []string{"timeout", "Not Found", ""} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, msg string) {
		if ClassifyFetchError(errors.New(msg)) != FailureOther {
			t.Errorf("ClassifyFetchError(%q) should be %q", msg, FailureOther)
		}
	})
}
