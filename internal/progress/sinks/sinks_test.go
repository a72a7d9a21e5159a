package sinks

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
	"github.com/JakeFAU/uniprot-annotator/internal/progress"
)

func runBatch(runID [16]byte) []progress.Event {
	now := time.Now()
	return []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Total: 2},
		{
			RunID:      runID,
			TS:         now,
			Stage:      progress.StageLookupDone,
			Identifier: "P69905",
			Status:     annotation.StatusFound,
			Bytes:      1024,
			Dur:        200 * time.Millisecond,
		},
		{
			RunID:      runID,
			TS:         now,
			Stage:      progress.StageLookupDone,
			Identifier: "Q9Y6K9",
			Status:     annotation.StatusAbsent,
			Dur:        100 * time.Millisecond,
		},
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Dur: 3 * time.Second},
	}
}

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), runBatch(progress.UUIDToBytes(uuid.New()))))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.lookups.WithLabelValues("found")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.lookups.WithLabelValues("absent")))
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.lookupBytes), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(sink.lookupDuration, "annotator_lookup_duration_seconds"))
}

// TestPrometheusSinkDuplicateRegistration surfaces registry conflicts.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestTerminalSinkRendersBar(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewTerminalSink(&buf, "")
	require.NoError(t, sink.Consume(context.Background(), runBatch(progress.UUIDToBytes(uuid.New()))))

	out := buf.String()
	require.Contains(t, out, "100.0% ...Progress\r")
	require.True(t, strings.HasSuffix(out, "\n"))
	require.NoError(t, sink.Close(context.Background()))
}

func TestBar(t *testing.T) {
	t.Parallel()

	require.Empty(t, Bar(1, 0, "x"))
	half := Bar(1, 2, "Progress")
	require.Equal(t, "["+strings.Repeat("=", 30)+strings.Repeat("-", 30)+"] 50.0% ...Progress\r", half)
	require.Contains(t, Bar(5, 2, "p"), "100.0%")
}

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), runBatch(progress.UUIDToBytes(uuid.New()))))

	entries := logs.FilterMessage("progress event").All()
	require.Len(t, entries, 4)
	lookup := entries[1].ContextMap()
	require.Equal(t, "P69905", lookup["identifier"])
	require.Equal(t, "found", lookup["status"])
	require.NoError(t, sink.Close(context.Background()))
}
