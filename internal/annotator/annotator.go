// Package annotator runs a full pass over a table: normalize identifiers, look
// each one up sequentially or on a worker pool, and write the summary column.
package annotator

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
	"github.com/JakeFAU/uniprot-annotator/internal/chunk"
	"github.com/JakeFAU/uniprot-annotator/internal/dispatcher"
	"github.com/JakeFAU/uniprot-annotator/internal/progress"
)

// DefaultSummaryColumn is the name of the appended column.
const DefaultSummaryColumn = "summary"

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Options configures one run.
type Options struct {
	// Column is the case-sensitive name of the identifier column.
	Column string
	// StripPrefix is removed from the start of each identifier when present.
	StripPrefix string
	// Truncate keeps the first n characters of each identifier; 0 disables it.
	Truncate int
	Parallel bool
	// Workers is the chunk count and pool size in parallel mode; 0 means one
	// per CPU.
	Workers       int
	SummaryColumn string
}

// Summary reports what a run did.
type Summary struct {
	RunID    uuid.UUID
	Rows     int
	Chunks   int
	Found    int
	Absent   int
	Failed   int
	Duration time.Duration
}

// Annotator orchestrates runs.
type Annotator struct {
	processor dispatcher.ChunkProcessor
	ids       annotation.IDGenerator
	clock     annotation.Clock
	emitter   progress.Emitter
	logger    *zap.Logger
}

// New builds an Annotator. clock, emitter and logger may be nil.
func New(
	processor dispatcher.ChunkProcessor,
	ids annotation.IDGenerator,
	clock annotation.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Annotator {
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Annotator{
		processor: processor,
		ids:       ids,
		clock:     clock,
		emitter:   emitter,
		logger:    logger,
	}
}

// Annotate fills the summary column of t in place.
func (a *Annotator) Annotate(ctx context.Context, t *annotation.Table, opts Options) (Summary, error) {
	col, err := t.ColumnIndex(opts.Column)
	if err != nil {
		return Summary{}, err
	}
	if opts.SummaryColumn == "" {
		opts.SummaryColumn = DefaultSummaryColumn
	}

	runID, err := a.ids.NewRawID()
	if err != nil {
		return Summary{}, fmt.Errorf("start run: %w", err)
	}
	run := annotation.Run{ID: runID, Column: col}
	start := a.now()
	summary := Summary{RunID: runID, Rows: len(t.Records)}

	normalizeColumn(t, col, opts.StripPrefix, opts.Truncate)

	a.emit(progress.Event{RunID: progress.UUIDToBytes(runID), Stage: progress.StageRunStart, Total: len(t.Records)})
	a.logger.Info("run started",
		zap.String("run_id", runID.String()),
		zap.Int("rows", len(t.Records)),
		zap.String("column", opts.Column),
		zap.Bool("parallel", opts.Parallel),
	)

	records, chunks, err := a.process(ctx, run, t.Records, opts)
	if err != nil {
		a.emit(progress.Event{
			RunID: progress.UUIDToBytes(runID),
			Stage: progress.StageRunError,
			Dur:   a.now().Sub(start),
			Note:  err.Error(),
		})
		return Summary{}, err
	}
	t.Records = records
	summary.Chunks = chunks

	values := make([]string, len(records))
	for i, rec := range records {
		values[i] = newlines.Replace(rec.Outcome.Summary())
		switch rec.Outcome.Status {
		case annotation.StatusFound:
			summary.Found++
		case annotation.StatusAbsent:
			summary.Absent++
		default:
			summary.Failed++
		}
	}
	if err := t.SetColumn(opts.SummaryColumn, values); err != nil {
		return Summary{}, fmt.Errorf("write summary column: %w", err)
	}

	summary.Duration = a.now().Sub(start)
	a.emit(progress.Event{RunID: progress.UUIDToBytes(runID), Stage: progress.StageRunDone, Dur: summary.Duration})
	a.logger.Info("run finished",
		zap.String("run_id", runID.String()),
		zap.Int("rows", summary.Rows),
		zap.Int("chunks", summary.Chunks),
		zap.Int("found", summary.Found),
		zap.Int("absent", summary.Absent),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (a *Annotator) process(
	ctx context.Context,
	run annotation.Run,
	records []annotation.Record,
	opts Options,
) ([]annotation.Record, int, error) {
	if !opts.Parallel {
		done := a.processor.ProcessChunk(ctx, run, annotation.Chunk{Records: records})
		if err := ctx.Err(); err != nil {
			return nil, 0, fmt.Errorf("run canceled: %w", err)
		}
		return done.Records, 1, nil
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	chunks := chunk.Split(records, workers)
	// One goroutine per chunk; a small table yields fewer chunks than workers.
	d := dispatcher.New(a.processor, len(chunks), a.logger)
	done, err := d.Run(ctx, run, chunks)
	if err != nil {
		return nil, 0, err
	}
	// Chunks already running finish with failed outcomes when ctx ends.
	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("run canceled: %w", err)
	}
	return chunk.Join(done), len(chunks), nil
}

func (a *Annotator) emit(evt progress.Event) {
	evt.TS = a.now()
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	a.emitter.Emit(evt)
}

func (a *Annotator) now() time.Time {
	if a.clock == nil {
		return time.Now().UTC()
	}
	return a.clock.Now()
}
