package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/forkcrawl/internal/progress"
)

func TestLogSinkWritesStructuredFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core), zapcore.DebugLevel)

	id := uuid.New()
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(id), TS: time.Now(), Stage: progress.StageFork, TaskID: 3, Items: 7},
	})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, id.String(), fields["run_id"])
	require.Equal(t, "FORK", fields["stage"])
	require.Equal(t, int64(3), fields["task_id"])
	require.Equal(t, int64(7), fields["items"])
}

func TestLogSinkRespectsLevel(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core), zapcore.DebugLevel)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageRunStart},
	}))
	require.Zero(t, logs.Len())
}
