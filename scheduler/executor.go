package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
	"github.com/qualidade-ams/books-sonda-sub000/backoff"
	"github.com/qualidade-ams/books-sonda-sub000/ext"
	"github.com/qualidade-ams/books-sonda-sub000/id"
	"github.com/qualidade-ams/books-sonda-sub000/job"
	"github.com/qualidade-ams/books-sonda-sub000/middleware"
	"github.com/qualidade-ams/books-sonda-sub000/notify"
)

// Executor runs a single claimed job through middleware and the
// registered handler, then applies the outcome: completion, retry with
// backoff, or terminal failure with a critical notification.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	notifier   notify.Notifier
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	notifier notify.Notifier,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		notifier:   notifier,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a claimed job.
// On success: marks completed with the handler's result.
// On failure with attempts remaining: returns the job to pending with a
// backoff delay.
// On permanent failure or exhausted attempts: marks failed and raises a
// critical notification.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Type)
	if !ok {
		err := fmt.Errorf("%w: %s", disparo.ErrUnknownJobType, j.Type)
		return e.handleTerminalFailure(ctx, j, err, time.Now().UTC())
	}

	j.Attempts++

	start := time.Now()
	terminal := func(ctx context.Context) error {
		result, handlerErr := handler(ctx, j.Payload)
		if handlerErr != nil {
			return handlerErr
		}
		j.Result = result
		return nil
	}

	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	j.UpdatedAt = now

	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}
	return e.handleSuccess(ctx, j, now, elapsed)
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) error {
	j.Status = job.StatusCompleted
	j.CompletedAt = &now
	j.LastError = ""

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", string(j.Type)),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure decides between retry and terminal failure. A
// PermanentError short-circuits the attempt budget.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.LastError = handlerErr.Error()

	if job.IsPermanent(handlerErr) || j.Attempts >= j.MaxAttempts {
		return e.handleTerminalFailure(ctx, j, handlerErr, now)
	}
	return e.scheduleRetry(ctx, j, now)
}

// scheduleRetry returns the job to pending with a future scheduled
// time, releasing the lease so any instance can claim the retry.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, now time.Time) error {
	delay := e.backoff.Delay(j.Attempts)
	nextRunAt := now.Add(delay)

	j.Status = job.StatusPending
	j.ScheduledAt = nextRunAt
	j.LeasedBy = id.WorkerID{}
	j.StartedAt = nil
	j.HeartbeatAt = nil

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobRetrying(ctx, j, j.Attempts, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %s", j.Type, j.Attempts, j.MaxAttempts, j.LastError)
}

// handleTerminalFailure marks the job failed and raises exactly one
// critical notification.
func (e *Executor) handleTerminalFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.Status = job.StatusFailed
	j.CompletedAt = &now
	j.LastError = handlerErr.Error()

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)

	if notifyErr := e.notifier.Notify(ctx, notify.SeverityCritical,
		"job permanentemente falhou",
		handlerErr.Error(),
		map[string]any{
			"job_id":       j.ID.String(),
			"job_type":     string(j.Type),
			"attempts":     j.Attempts,
			"max_attempts": j.MaxAttempts,
		},
	); notifyErr != nil {
		e.logger.Warn("failed to send terminal failure notification",
			slog.String("job_id", j.ID.String()),
			slog.String("error", notifyErr.Error()),
		)
	}

	e.logger.Warn("job failed terminally",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempts", j.Attempts),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}
