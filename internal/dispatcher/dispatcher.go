// Package dispatcher fans chunks out to a fixed pool of workers and joins them.
package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
)

// ChunkProcessor handles one chunk; *worker.Worker satisfies it.
type ChunkProcessor interface {
	ProcessChunk(ctx context.Context, run annotation.Run, chunk annotation.Chunk) annotation.Chunk
}

// Dispatcher runs chunks on at most Size concurrent goroutines.
type Dispatcher struct {
	processor ChunkProcessor
	size      int
	logger    *zap.Logger
}

// New creates a Dispatcher. A size below one is treated as one.
func New(processor ChunkProcessor, size int, logger *zap.Logger) *Dispatcher {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		processor: processor,
		size:      size,
		logger:    logger,
	}
}

// Size reports the pool size.
func (d *Dispatcher) Size() int {
	return d.size
}

// Run processes every chunk and blocks until all of them are done. The result
// slice is ordered like chunks, regardless of completion order. Chunks not yet
// started when ctx is canceled are skipped and Run returns the context error.
func (d *Dispatcher) Run(ctx context.Context, run annotation.Run, chunks []annotation.Chunk) ([]annotation.Chunk, error) {
	results := make([]annotation.Chunk, len(chunks))

	var g errgroup.Group
	g.SetLimit(d.size)
	for i, c := range chunks {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = d.processor.ProcessChunk(ctx, run, c)
			d.logger.Debug("chunk done",
				zap.String("run_id", run.ID.String()),
				zap.Int("chunk", c.Index),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("dispatch canceled: %w", err)
	}
	return results, nil
}
