package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
	"github.com/JakeFAU/uniprot-annotator/internal/progress"
	"github.com/JakeFAU/uniprot-annotator/internal/store"
)

// StoreSink persists run progress via a store.RunRepository. Lookup outcomes
// are collapsed per run so each batch costs one update per run.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type countsDelta struct {
	counts store.Counts
	at     time.Time
}

// Consume forwards the batch to the repository. Pending counts for a run are
// written before the run is completed.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := make(map[uuid.UUID]*countsDelta)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.UpsertRunStart(ctx, runID, evt.TS, evt.Total); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageLookupDone:
			addCounts(pending, runID, evt)
		case progress.StageRunDone, progress.StageRunError:
			if err := s.flush(ctx, pending, runID); err != nil {
				return err
			}
			if err := s.completeRun(ctx, runID, evt); err != nil {
				return err
			}
		}
	}

	for runID := range pending {
		if err := s.flush(ctx, pending, runID); err != nil {
			return err
		}
	}
	return nil
}

func addCounts(pending map[uuid.UUID]*countsDelta, runID uuid.UUID, evt progress.Event) {
	delta := pending[runID]
	if delta == nil {
		delta = &countsDelta{}
		pending[runID] = delta
	}
	switch evt.Status {
	case annotation.StatusFound:
		delta.counts.Found++
	case annotation.StatusAbsent:
		delta.counts.Absent++
	default:
		delta.counts.Failed++
	}
	if evt.TS.After(delta.at) {
		delta.at = evt.TS
	}
}

func (s *StoreSink) flush(ctx context.Context, pending map[uuid.UUID]*countsDelta, runID uuid.UUID) error {
	delta, ok := pending[runID]
	if !ok {
		return nil
	}
	delete(pending, runID)
	if err := s.repo.AddRunCounts(ctx, runID, delta.counts, delta.at); err != nil {
		return fmt.Errorf("add run counts: %w", err)
	}
	return nil
}

func (s *StoreSink) completeRun(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	status := store.RunSuccess
	var note *string
	if evt.Stage == progress.StageRunError {
		status = store.RunError
		if evt.Note != "" {
			note = &evt.Note
		}
	}
	if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	s.logger.Debug("run persisted", zap.Stringer("run_id", runID), zap.String("status", string(status)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
