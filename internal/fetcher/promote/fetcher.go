// Package promote chains a cheap probe fetcher with a headless renderer,
// re-fetching only the pages the probe could not see.
package promote

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
	"github.com/JakeFAU/uniprot-annotator/internal/metrics"
)

// Detector decides whether a probe response needs a headless render.
type Detector interface {
	ShouldPromote(resp annotation.FetchResponse) bool
}

// Fetcher implements annotation.Fetcher.
type Fetcher struct {
	probe    annotation.Fetcher
	headless annotation.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New builds a promoting fetcher. A nil headless fetcher disables promotion.
func New(probe, headless annotation.Fetcher, detector Detector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{probe: probe, headless: headless, detector: detector, logger: logger}
}

// Fetch returns the probe response unless the detector asks for a render.
func (f *Fetcher) Fetch(ctx context.Context, request annotation.FetchRequest) (annotation.FetchResponse, error) {
	resp, err := f.probe.Fetch(ctx, request)
	if err != nil {
		return resp, err
	}
	if f.headless == nil || f.detector == nil || !f.detector.ShouldPromote(resp) {
		return resp, nil
	}
	f.logger.Debug("promoting fetch to headless",
		zap.String("identifier", request.Identifier),
		zap.Int("probe_bytes", len(resp.Body)),
	)
	rendered, err := f.headless.Fetch(ctx, request)
	metrics.ObserveHeadlessPromotion(err)
	if err != nil {
		return annotation.FetchResponse{}, fmt.Errorf("headless render: %w", err)
	}
	rendered.UsedHeadless = true
	rendered.Duration += resp.Duration
	return rendered, nil
}
