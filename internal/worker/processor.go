package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// processInvocation runs one invocation with a timeout, publishes the
// response, and records the outcome. The runner guarantees a structured
// response on every path, so this never returns an error.
func (w *Worker) processInvocation(ctx context.Context, msg *invocationMessage) {
	inv := msg.Invocation

	w.logger.Info("Processing invocation",
		slog.String("job_id", inv.JobID),
		slog.String("worker_id", w.workerID),
	)

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	resp := w.runner.Run(jobCtx, inv)
	elapsed := time.Since(start)

	w.logger.Info("Invocation finished",
		slog.String("job_id", inv.JobID),
		slog.String("status", resp.Status),
		slog.String("error_type", resp.ErrorType),
		slog.Duration("elapsed", elapsed),
	)

	if w.history != nil {
		// best-effort, same policy as event emission
		if err := w.history.RecordRun(ctx, inv, resp, elapsed); err != nil {
			w.logger.Warn("Failed to record run",
				slog.String("job_id", inv.JobID),
				slog.Any("error", err),
			)
		}
	}

	if w.responseRoutingKey == "" {
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		w.logger.Error("Failed to encode response",
			slog.String("job_id", inv.JobID),
			slog.Any("error", err),
		)
		return
	}

	if err := w.rabbitClient.PublishWithRetry(ctx, w.responseRoutingKey, body); err != nil {
		w.logger.Error("Failed to publish response",
			slog.String("job_id", inv.JobID),
			slog.Any("error", err),
		)
	}
}
