package sinks

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/JakeFAU/uniprot-annotator/internal/progress"
)

const barWidth = 60

// TerminalSink redraws a single-line progress bar as lookups complete.
type TerminalSink struct {
	mu     sync.Mutex
	out    io.Writer
	status string
	total  map[[16]byte]int
	done   map[[16]byte]int
}

// NewTerminalSink renders the bar to out with the given trailing status label.
func NewTerminalSink(out io.Writer, status string) *TerminalSink {
	if status == "" {
		status = "Progress"
	}
	return &TerminalSink{
		out:    out,
		status: status,
		total:  make(map[[16]byte]int),
		done:   make(map[[16]byte]int),
	}
}

// Consume advances the bar for every completed lookup in the batch.
func (s *TerminalSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.total[evt.RunID] = evt.Total
			s.done[evt.RunID] = 0
		case progress.StageLookupDone:
			s.done[evt.RunID]++
		case progress.StageRunDone, progress.StageRunError:
			if err := s.render(evt.RunID); err != nil {
				return err
			}
			delete(s.total, evt.RunID)
			delete(s.done, evt.RunID)
			if _, err := fmt.Fprintln(s.out); err != nil {
				return fmt.Errorf("write progress newline: %w", err)
			}
			continue
		}
	}
	for id := range s.total {
		if err := s.render(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *TerminalSink) render(id [16]byte) error {
	total := s.total[id]
	if total <= 0 {
		return nil
	}
	if _, err := fmt.Fprint(s.out, Bar(s.done[id], total, s.status)); err != nil {
		return fmt.Errorf("write progress bar: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *TerminalSink) Close(context.Context) error {
	return nil
}

// Bar formats a carriage-return terminated progress line.
func Bar(done, total int, status string) string {
	if total <= 0 {
		return ""
	}
	if done > total {
		done = total
	}
	ratio := float64(done) / float64(total)
	filled := int(math.Round(barWidth * ratio))
	percent := math.Round(1000*ratio) / 10
	bar := strings.Repeat("=", filled) + strings.Repeat("-", barWidth-filled)
	return fmt.Sprintf("[%s] %.1f%% ...%s\r", bar, percent, status)
}
