package cmd

import (
	"context"
	stderrors "errors"
	"iter"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/pkgsentry/pkgsentry/internal/core/engine"
	errwrap "github.com/pkgsentry/pkgsentry/internal/errors"
	"github.com/pkgsentry/pkgsentry/internal/metrics"
	"github.com/pkgsentry/pkgsentry/internal/observability"
	"github.com/pkgsentry/pkgsentry/internal/output"
)

// batchStats summarizes a drained pipeline stream.
type batchStats struct {
	Total    int
	Done     int
	Failed   int
	Duration time.Duration
}

// drain consumes a pipeline stream: it drives the progress bar, records
// metrics, logs failed items at WARN and hands every item result to handle.
// describe names an item in log lines.
func drain[T, R any](
	ctx context.Context,
	batch string,
	message string,
	seq iter.Seq[engine.Result[T, R]],
	describe func(T) string,
	handle func(engine.Result[T, R]),
) (batchStats, error) {
	startedAt := time.Now()
	progress := output.NewProgress(os.Stderr, message, showProgress())

	var stats batchStats
	for result := range seq {
		output.Observe(progress, result)
		if result.IsAnnouncement() {
			stats.Total = result.Count
			observability.CLILogger.Debug("Batch started", zap.String("batch", batch), zap.Int("items", result.Count))
			continue
		}

		metrics.RecordItem(batch, !result.Failed(), result.Attempts)
		if result.Failed() {
			if stderrors.Is(result.Err, engine.ErrPanicked) {
				metrics.RecordPanic()
			}
			code := errwrap.Classify(ctx, result.Err, batch+" failed").Code
			metrics.RecordErrorByStage(batch, code)
			observability.CLILogger.Warn("Item failed",
				zap.String("batch", batch),
				zap.String("item", describe(result.Item.Payload)),
				zap.Int("attempts", result.Attempts),
				zap.Error(result.Err))
		}
		if handle != nil {
			handle(result)
		}
	}
	progress.Stop()
	stats.Done, stats.Failed = progress.Done()

	stats.Duration = time.Since(startedAt)
	metrics.RecordBatch(batch, stats.Total, stats.Duration)

	rate := 0.0
	if seconds := stats.Duration.Seconds(); seconds > 0 {
		rate = float64(stats.Done) / seconds
	}
	observability.CLILogger.Info("Batch finished",
		zap.String("batch", batch),
		zap.Int("items", stats.Total),
		zap.Int("failed", stats.Failed),
		zap.Duration("elapsed", stats.Duration),
		zap.Float64("items_per_second", rate))

	if err := ctx.Err(); err != nil {
		return stats, errwrap.Classify(ctx, err, batch+" interrupted")
	}
	return stats, nil
}
