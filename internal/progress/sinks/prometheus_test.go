package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/forkcrawl/internal/progress"
)

// TestPrometheusSinkRecordsRun ensures counters and histograms follow a run's events.
func TestPrometheusSinkRecordsRun(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Outstanding: 1},
		{RunID: runID, TS: now, Stage: progress.StageFork, TaskID: 1, Items: 10, Outstanding: 2},
		{RunID: runID, TS: now, Stage: progress.StageRoundDone, TaskID: 1, Items: 10, Dur: 50 * time.Millisecond},
		{RunID: runID, TS: now, Stage: progress.StageMerge, TaskID: 1},
		{RunID: runID, TS: now, Stage: progress.StageRoundDone, TaskID: 2, Items: 10, Dur: 40 * time.Millisecond},
		{RunID: runID, TS: now, Stage: progress.StageMerge, TaskID: 2},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.outstanding))

	done := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Visited: 20, Dur: time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), done))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues(resultComplete)))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues(resultAborted)))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.rounds))
	require.InDelta(t, 20.0, testutil.ToFloat64(sink.urlsVisited), 1e-9)
	require.Equal(t, 1.0, testutil.ToFloat64(sink.forks))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.merges))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.outstanding))
	require.Equal(t, 1, testutil.CollectAndCount(sink.roundDuration, "forkcrawl_round_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "forkcrawl_run_duration_seconds"))
}

// TestPrometheusSinkAbortedRun verifies an ABORT event changes the finish label.
func TestPrometheusSinkAbortedRun(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	batch := []progress.Event{
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart},
		{RunID: runID, TS: time.Now(), Stage: progress.StageAbort},
		{RunID: runID, TS: time.Now(), Stage: progress.StageRunDone, Dur: time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.aborts))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues(resultAborted)))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
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
