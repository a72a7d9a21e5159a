// Package worker runs the per-identifier lookup pipeline: fetch, archive,
// extract, record.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
	"github.com/JakeFAU/uniprot-annotator/internal/hash/sha256"
	"github.com/JakeFAU/uniprot-annotator/internal/metrics"
	"github.com/JakeFAU/uniprot-annotator/internal/progress"
)

const defaultFetchTimeout = 20 * time.Second

// Config controls Worker behavior.
type Config struct {
	// FetchTimeout bounds a single fetch including the response body.
	FetchTimeout time.Duration
	// ArchivePrefix is prepended to archived page object names.
	ArchivePrefix string
	ContentType   string
}

// Worker turns identifiers into annotation outcomes. It is safe for concurrent
// use as long as its collaborators are.
type Worker struct {
	fetcher   annotation.Fetcher
	extractor annotation.Extractor
	blobStore annotation.BlobStore
	results   annotation.ResultStore
	hasher    annotation.Hasher
	clock     annotation.Clock
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. blobStore, results and emitter may be nil.
func New(
	fetcher annotation.Fetcher,
	extractor annotation.Extractor,
	blobStore annotation.BlobStore,
	results annotation.ResultStore,
	hasher annotation.Hasher,
	clock annotation.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if hasher == nil {
		hasher = sha256.New()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		fetcher:   fetcher,
		extractor: extractor,
		blobStore: blobStore,
		results:   results,
		hasher:    hasher,
		clock:     clock,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessChunk looks up every record of chunk in order, writing each Outcome
// into the record. A failed lookup never stops the chunk.
func (w *Worker) ProcessChunk(ctx context.Context, run annotation.Run, chunk annotation.Chunk) annotation.Chunk {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	w.logger.Debug("processing chunk",
		zap.String("run_id", run.ID.String()),
		zap.Int("chunk", chunk.Index),
		zap.Int("offset", chunk.Offset),
		zap.Int("rows", len(chunk.Records)),
	)
	for i := range chunk.Records {
		id := chunk.Records[i].Identifier(run.Column)
		chunk.Records[i].Outcome = w.lookup(ctx, run.ID, chunk.Index, id)
	}
	return chunk
}

// Lookup runs the pipeline for a single identifier outside of any run.
func (w *Worker) Lookup(ctx context.Context, identifier string) annotation.Outcome {
	return w.lookup(ctx, uuid.Nil, -1, identifier)
}

func (w *Worker) lookup(ctx context.Context, runID uuid.UUID, chunk int, identifier string) annotation.Outcome {
	start := w.now()
	record := annotation.LookupRecord{
		Identifier: identifier,
		FetchedAt:  start,
	}
	if runID != uuid.Nil {
		record.RunID = runID.String()
	}

	var (
		outcome annotation.Outcome
		size    int64
	)
	if identifier == "" {
		outcome = annotation.Absent("empty identifier")
	} else {
		resp, err := w.fetch(ctx, identifier)
		if err != nil {
			metrics.ObserveFetchFailure(err)
			outcome = annotation.Failed(err)
		} else {
			size = int64(len(resp.Body))
			record.URL = resp.URL
			w.archive(ctx, resp, &record)
			outcome = w.extract(resp.Body)
		}
	}

	dur := w.now().Sub(start)
	record.Status = outcome.Status
	record.Reason = outcome.Reason
	record.Annotation = outcome.Text
	record.DurationMs = dur.Milliseconds()
	w.record(ctx, record)

	if outcome.Status != annotation.StatusFound {
		w.logger.Info("Could not find annotations",
			zap.String("identifier", identifier),
			zap.String("status", string(outcome.Status)),
			zap.String("reason", outcome.Reason),
		)
	}
	if runID != uuid.Nil {
		w.emitter.Emit(progress.Event{
			RunID:      progress.UUIDToBytes(runID),
			TS:         w.now(),
			Stage:      progress.StageLookupDone,
			Identifier: identifier,
			Chunk:      chunk,
			Status:     outcome.Status,
			Bytes:      size,
			Dur:        max(dur, 0),
			Note:       outcome.Reason,
		})
	}
	return outcome
}

func (w *Worker) fetch(ctx context.Context, identifier string) (annotation.FetchResponse, error) {
	if w.fetcher == nil {
		return annotation.FetchResponse{}, errors.New("no fetcher configured")
	}
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()
	resp, err := w.fetcher.Fetch(fetchCtx, annotation.FetchRequest{Identifier: identifier})
	if err != nil {
		return annotation.FetchResponse{}, fmt.Errorf("fetch %s: %w", identifier, err)
	}
	return resp, nil
}

func (w *Worker) extract(body []byte) annotation.Outcome {
	text, err := w.extractor.Extract(body)
	switch {
	case errors.Is(err, annotation.ErrNoAnnotation):
		return annotation.Absent(err.Error())
	case err != nil:
		return annotation.Failed(err)
	default:
		return annotation.Found(text)
	}
}

// archive stores the raw page under its content digest. Failures are logged and
// do not affect the outcome.
func (w *Worker) archive(ctx context.Context, resp annotation.FetchResponse, record *annotation.LookupRecord) {
	if w.blobStore == nil {
		return
	}
	digest, err := w.hasher.Hash(resp.Body)
	if err != nil {
		w.logger.Warn("hash page failed", zap.String("identifier", record.Identifier), zap.Error(err))
		return
	}
	record.ContentHash = digest
	uri, err := w.blobStore.PutObject(ctx,
		sha256.ObjectPath(w.cfg.ArchivePrefix, digest, ".html"),
		w.cfg.ContentType,
		bytes.NewReader(resp.Body),
	)
	metrics.ObserveArchiveWrite(err)
	if err != nil {
		w.logger.Warn("archive page failed", zap.String("identifier", record.Identifier), zap.Error(err))
		return
	}
	record.BlobURI = uri
}

func (w *Worker) record(ctx context.Context, record annotation.LookupRecord) {
	if w.results == nil {
		return
	}
	if err := w.results.RecordLookup(ctx, record); err != nil {
		w.logger.Warn("record lookup failed", zap.String("identifier", record.Identifier), zap.Error(err))
	}
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}
