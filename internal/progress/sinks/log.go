package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/forkcrawl/internal/progress"
)

// LogSink writes every progress event as a structured log line.
type LogSink struct {
	logger *zap.Logger
	level  zapcore.Level
}

// NewLogSink wires a zap logger to the sink interface. Events are logged at
// level, typically zapcore.DebugLevel since a run emits one event per round.
func NewLogSink(logger *zap.Logger, level zapcore.Level) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger, level: level}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if ce := s.logger.Check(s.level, "progress event"); ce != nil {
			ce.Write(
				zap.Stringer("run_id", evt.RunUUID()),
				zap.String("stage", string(evt.Stage)),
				zap.Int64("task_id", evt.TaskID),
				zap.Int64("items", evt.Items),
				zap.Int64("visited", evt.Visited),
				zap.Int64("outstanding", evt.Outstanding),
				zap.Duration("dur", evt.Dur),
				zap.String("note", evt.Note),
			)
		}
	}
	return nil
}

// Close implements progress.Sink; it syncs the logger.
func (s *LogSink) Close(context.Context) error {
	_ = s.logger.Sync()
	return nil
}
