package application

import (
	"context"
	"log/slog"

	"github.com/ahrav/go-veritas/internal/domain"
	"github.com/ahrav/go-veritas/internal/ports"
)

var _ ports.ProgressSink = (*LogProgressSink)(nil)

// LogProgressSink reports progress through a structured logger. Pair
// events are logged at info, failures at error.
type LogProgressSink struct {
	logger *slog.Logger
}

// NewLogProgressSink creates a sink. A nil logger uses slog.Default().
func NewLogProgressSink(logger *slog.Logger) *LogProgressSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressSink{logger: logger}
}

// Report logs event.
func (s *LogProgressSink) Report(ctx context.Context, event domain.ProgressEvent) {
	level := slog.LevelInfo
	msg := "evaluation progress"
	switch event.Status {
	case domain.RunStatusFailed:
		level, msg = slog.LevelError, "evaluation stopped"
	case domain.RunStatusCompleted:
		msg = "evaluation finished"
	}

	s.logger.LogAttrs(ctx, level, msg,
		slog.String("run_id", event.RunID),
		slog.String("status", string(event.Status)),
		slog.Int("question", event.CurrentQuestion),
		slog.Int("total_questions", event.TotalQuestions),
		slog.String("question_id", event.CurrentQuestionID),
		slog.String("variant", event.CurrentVariant.String()),
		slog.Int("completed_pairs", event.CompletedPairs),
		slog.Float64("running_average", event.RunningAverageScore),
		slog.Float64("eta_seconds", event.EstimatedSecondsRemaining),
	)
}
