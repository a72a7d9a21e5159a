package annotator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
	"github.com/JakeFAU/uniprot-annotator/internal/extract"
	"github.com/JakeFAU/uniprot-annotator/internal/id/uuid"
	"github.com/JakeFAU/uniprot-annotator/internal/progress"
	"github.com/JakeFAU/uniprot-annotator/internal/worker"
)

func entryPage(prose string) string {
	return "<!DOCTYPE html>\n<html>\n<body>\n" +
		`<section>` + extract.FunctionMarker + `</span><h2>Function<sup>i</sup></h2>` + prose + `</section>` +
		"\n</body>\n</html>\n"
}

var pages = map[string]string{
	"P69905": entryPage("<p>Involved in oxygen transport from the lung to the various peripheral tissues.</p>" +
		"<p>Hemopressin acts as an antagonist peptide.</p>"),
	"P68871": entryPage("<p>Involved in oxygen transport.</p>"),
	"P01308": entryPage("<p>Insulin decreases blood glucose concentration.</p>"),
	"Q9Y6K9": "<html>\n<body><p>Nothing to see.</p></body>\n</html>\n",
}

func newAnnotator(t *testing.T, emitter progress.Emitter) (*Annotator, *pageFetcher) {
	t.Helper()
	fetcher := &pageFetcher{pages: pages}
	w := worker.New(fetcher, extract.New(extract.Config{}), nil, nil, nil, nil, emitter, worker.Config{}, zap.NewNop())
	return New(w, uuid.New(), nil, emitter, zap.NewNop()), fetcher
}

func buildTable(ids ...string) *annotation.Table {
	t := &annotation.Table{Header: []string{"gene", "Entry"}, Delimiter: '\t'}
	for i, id := range ids {
		t.Records = append(t.Records, annotation.Record{Cells: []string{fmt.Sprintf("g%d", i), id}})
	}
	return t
}

func summaryColumn(t *testing.T, tbl *annotation.Table) []string {
	t.Helper()
	idx, err := tbl.ColumnIndex(DefaultSummaryColumn)
	require.NoError(t, err)
	out := make([]string, len(tbl.Records))
	for i, rec := range tbl.Records {
		out[i] = rec.Cells[idx]
	}
	return out
}

func TestAnnotateFoundAndAbsent(t *testing.T) {
	t.Parallel()

	a, _ := newAnnotator(t, nil)
	tbl := buildTable("P69905", "Q9Y6K9")

	summary, err := a.Annotate(context.Background(), tbl, Options{Column: "Entry"})
	require.NoError(t, err)

	assert.Equal(t, []string{"gene", "Entry", "summary"}, tbl.Header)
	got := summaryColumn(t, tbl)
	assert.Equal(t,
		"Involved in oxygen transport from the lung to the various peripheral tissues.  "+
			"Hemopressin acts as an antagonist peptide.",
		got[0])
	assert.NotContains(t, got[0], "\n")
	assert.Equal(t, "", got[1])

	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, 1, summary.Found)
	assert.Equal(t, 1, summary.Absent)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.Chunks)
}

func TestAnnotateUnknownColumn(t *testing.T) {
	t.Parallel()

	a, fetcher := newAnnotator(t, nil)
	_, err := a.Annotate(context.Background(), buildTable("P69905"), Options{Column: "entry"})
	require.ErrorIs(t, err, annotation.ErrColumnNotFound)
	assert.Zero(t, fetcher.calls())
}

func TestAnnotateNormalizesIdentifiers(t *testing.T) {
	t.Parallel()

	a, fetcher := newAnnotator(t, nil)
	tbl := buildTable("sp|P69905|HBA_HUMAN", "sp|P01308|INS_HUMAN")

	summary, err := a.Annotate(context.Background(), tbl, Options{Column: "Entry", StripPrefix: "sp|", Truncate: 6})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Found)
	assert.Equal(t, "P69905", tbl.Records[0].Cells[1])
	assert.Equal(t, "P01308", tbl.Records[1].Cells[1])
	assert.ElementsMatch(t, []string{"P69905", "P01308"}, fetcher.seen())
}

func TestAnnotateSequentialIsIdempotent(t *testing.T) {
	t.Parallel()

	a, _ := newAnnotator(t, nil)
	tbl := buildTable("P69905", "Q9Y6K9", "P01308")

	_, err := a.Annotate(context.Background(), tbl, Options{Column: "Entry"})
	require.NoError(t, err)
	first := summaryColumn(t, tbl)
	header := append([]string(nil), tbl.Header...)

	_, err = a.Annotate(context.Background(), tbl, Options{Column: "Entry"})
	require.NoError(t, err)
	assert.Equal(t, header, tbl.Header, "summary column must be overwritten, not appended twice")
	assert.Equal(t, first, summaryColumn(t, tbl))
}

func TestAnnotateParallelMatchesSequential(t *testing.T) {
	t.Parallel()

	ids := []string{"P69905", "Q9Y6K9", "P68871", "", "P01308", "XXXXXX", "P69905"}
	a, _ := newAnnotator(t, nil)

	seq := buildTable(ids...)
	_, err := a.Annotate(context.Background(), seq, Options{Column: "Entry"})
	require.NoError(t, err)
	want := summaryColumn(t, seq)

	for workers := 1; workers <= len(ids)+2; workers++ {
		par := buildTable(ids...)
		summary, err := a.Annotate(context.Background(), par, Options{Column: "Entry", Parallel: true, Workers: workers})
		require.NoError(t, err, "workers=%d", workers)
		assert.Equal(t, want, summaryColumn(t, par), "workers=%d", workers)
		assert.Equal(t, seq.Records[0].Cells[:2], par.Records[0].Cells[:2])
		assert.LessOrEqual(t, summary.Chunks, workers)
		assert.Equal(t, 1, summary.Failed, "workers=%d", workers)
	}
}

func TestAnnotateSingleRowManyWorkers(t *testing.T) {
	t.Parallel()

	a, _ := newAnnotator(t, nil)
	tbl := buildTable("P69905")
	summary, err := a.Annotate(context.Background(), tbl, Options{Column: "Entry", Parallel: true, Workers: 8})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Chunks)
	assert.Equal(t, 1, summary.Found)
}

func TestAnnotateEmitsRunEvents(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	a, _ := newAnnotator(t, emitter)
	_, err := a.Annotate(context.Background(), buildTable("P69905", "Q9Y6K9"), Options{Column: "Entry"})
	require.NoError(t, err)

	events := emitter.snapshot()
	require.Len(t, events, 4)
	assert.Equal(t, progress.StageRunStart, events[0].Stage)
	assert.Equal(t, 2, events[0].Total)
	assert.Equal(t, progress.StageLookupDone, events[1].Stage)
	assert.Equal(t, progress.StageLookupDone, events[2].Stage)
	assert.Equal(t, progress.StageRunDone, events[3].Stage)
	for _, evt := range events {
		require.NoError(t, evt.Validate())
		assert.Equal(t, events[0].RunID, evt.RunID)
	}
}

func TestAnnotateCanceled(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	a, _ := newAnnotator(t, emitter)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Annotate(ctx, buildTable("P69905", "Q9Y6K9"), Options{Column: "Entry", Parallel: true, Workers: 2})
	require.ErrorIs(t, err, context.Canceled)
	events := emitter.snapshot()
	assert.Equal(t, progress.StageRunError, events[len(events)-1].Stage)
}

func TestAnnotateCanceledMidChunk(t *testing.T) {
	t.Parallel()

	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%t", parallel), func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			fetcher := &cancelingFetcher{cancel: cancel}
			emitter := &recordingEmitter{}
			w := worker.New(fetcher, extract.New(extract.Config{}), nil, nil, nil, nil, emitter, worker.Config{}, zap.NewNop())
			a := New(w, uuid.New(), nil, emitter, zap.NewNop())
			tbl := buildTable("P69905", "Q9Y6K9")

			_, err := a.Annotate(ctx, tbl, Options{Column: "Entry", Parallel: parallel, Workers: 1})
			require.ErrorIs(t, err, context.Canceled)
			assert.Equal(t, []string{"gene", "Entry"}, tbl.Header, "summary column must not be written")
			events := emitter.snapshot()
			assert.Equal(t, progress.StageRunError, events[len(events)-1].Stage)
		})
	}
}

// cancelingFetcher cancels the run on its first call, then fails like a
// transport whose request context ended.
type cancelingFetcher struct {
	cancel context.CancelFunc
}

func (f *cancelingFetcher) Fetch(ctx context.Context, _ annotation.FetchRequest) (annotation.FetchResponse, error) {
	f.cancel()
	<-ctx.Done()
	return annotation.FetchResponse{}, ctx.Err()
}

func TestNormalizeIdentifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw, prefix string
		width       int
		want        string
	}{
		{"sp|P69905|HBA_HUMAN", "sp|", 6, "P69905"},
		{"P69905", "sp|", 6, "P69905"},
		{"P69905-2", "", 6, "P69905"},
		{"tr|A0A024R161", "tr|", 0, "A0A024R161"},
		{"Q9Y", "", 6, "Q9Y"},
		{"xsp|P69905", "sp|", 0, "xsp|P69905"},
		{"αβγδεζηθ", "", 3, "αβγ"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeIdentifier(tt.raw, tt.prefix, tt.width), "%q", tt.raw)
	}
}

type pageFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	ids   []string
}

func (f *pageFetcher) Fetch(ctx context.Context, req annotation.FetchRequest) (annotation.FetchResponse, error) {
	f.mu.Lock()
	f.ids = append(f.ids, req.Identifier)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return annotation.FetchResponse{}, err
	}
	page, ok := f.pages[req.Identifier]
	if !ok {
		return annotation.FetchResponse{}, errors.New("status 404: Not Found")
	}
	return annotation.FetchResponse{StatusCode: http.StatusOK, Body: []byte(page)}, nil
}

func (f *pageFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

func (f *pageFetcher) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) snapshot() []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]progress.Event(nil), e.events...)
}

