package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/uniprot-annotator/internal/progress"
)

// LogSink emits structured logs for each progress event. It replaces the
// terminal bar when output is not interactive.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			fields = append(fields, zap.Int("total", evt.Total))
		case progress.StageLookupDone:
			fields = append(fields,
				zap.String("identifier", evt.Identifier),
				zap.Int("chunk", evt.Chunk),
				zap.String("status", string(evt.Status)),
				zap.Int64("bytes", evt.Bytes),
			)
		}
		fields = append(fields, zap.Duration("dur", evt.Dur))
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
