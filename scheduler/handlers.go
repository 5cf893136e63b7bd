package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qualidade-ams/books-sonda-sub000/dispatch"
	"github.com/qualidade-ams/books-sonda-sub000/job"
	"github.com/qualidade-ams/books-sonda-sub000/notify"
)

// DispatchRunner is the orchestration surface the job handlers drive.
// *dispatch.Orchestrator satisfies it.
type DispatchRunner interface {
	RunFull(ctx context.Context, period dispatch.Period) (*dispatch.Summary, error)
	RunSelective(ctx context.Context, period dispatch.Period, empresaIDs []string, force bool) (*dispatch.Summary, error)
	RunFailed(ctx context.Context, period dispatch.Period) (*dispatch.Summary, error)
}

// Handlers owns the built-in job handler implementations and their
// collaborators. Register wires them into a job registry.
type Handlers struct {
	scheduler *Scheduler
	runner    DispatchRunner
	notifier  notify.Notifier
	logger    *slog.Logger

	// retryDelay is how long after a partially failed monthly dispatch
	// the automatic retry job runs.
	retryDelay time.Duration
}

// NewHandlers creates the built-in handler set.
func NewHandlers(s *Scheduler, runner DispatchRunner, notifier notify.Notifier, logger *slog.Logger) *Handlers {
	return &Handlers{
		scheduler:  s,
		runner:     runner,
		notifier:   notifier,
		logger:     logger,
		retryDelay: time.Hour,
	}
}

// Register installs the three built-in job types on the registry.
func (h *Handlers) Register(reg *job.Registry) {
	job.RegisterDefinition(reg, job.NewDefinition(job.TypeMonthlyDispatch, h.monthlyDispatch))
	job.RegisterDefinition(reg, job.NewDefinition(job.TypeRetryFailedDispatch, h.retryFailedDispatch))
	job.RegisterDefinition(reg, job.NewDefinition(job.TypeCleanupOldData, h.cleanupOldData))
}

// monthlyDispatch runs the full (or selective) dispatch for the
// period. Companies that fail get an automatic retry job one hour
// later plus a warning notification; the job itself still completes.
func (h *Handlers) monthlyDispatch(ctx context.Context, p job.MonthlyDispatchPayload) (any, error) {
	period := dispatch.Period{Mes: p.Mes, Ano: p.Ano}
	if p.Mes == 0 && p.Ano == 0 {
		period = dispatch.PeriodOf(time.Now())
	}

	var (
		summary *dispatch.Summary
		err     error
	)
	if len(p.EmpresaIDs) > 0 {
		summary, err = h.runner.RunSelective(ctx, period, p.EmpresaIDs, p.Force)
	} else {
		summary, err = h.runner.RunFull(ctx, period)
	}
	if err != nil {
		return nil, err
	}

	h.scheduler.extensions.EmitDispatchCompleted(ctx, period, summary)

	if summary.Failed > 0 {
		if _, retryErr := h.scheduler.ScheduleRetryFailedDispatch(ctx, period, h.retryDelay); retryErr != nil {
			h.logger.Error("could not schedule failure retry",
				slog.String("period", period.String()),
				slog.String("error", retryErr.Error()),
			)
		}

		if notifyErr := h.notifier.Notify(ctx, notify.SeverityWarning,
			"disparo mensal com falhas",
			fmt.Sprintf("%d de %d empresas falharam no período %s", summary.Failed, summary.Total, period),
			map[string]any{
				"periodo": period.String(),
				"sucesso": summary.Succeeded,
				"falhas":  summary.Failed,
				"total":   summary.Total,
			},
		); notifyErr != nil {
			h.logger.Warn("failed to send dispatch warning", slog.String("error", notifyErr.Error()))
		}
	}

	return summary, nil
}

// retryFailedDispatch re-processes the period's failed controls. A
// period with nothing failed is a quiet no-op; residual failures after
// the retry raise an error notification.
func (h *Handlers) retryFailedDispatch(ctx context.Context, p job.RetryFailedPayload) (any, error) {
	period := dispatch.Period{Mes: p.Mes, Ano: p.Ano}
	if p.Mes == 0 && p.Ano == 0 {
		period = dispatch.PeriodOf(time.Now())
	}

	summary, err := h.runner.RunFailed(ctx, period)
	if err != nil {
		return nil, err
	}

	if summary.Total == 0 {
		h.logger.Info("no failed dispatches to retry", slog.String("period", period.String()))
		return summary, nil
	}

	h.scheduler.extensions.EmitDispatchCompleted(ctx, period, summary)

	if summary.Failed > 0 {
		if notifyErr := h.notifier.Notify(ctx, notify.SeverityError,
			"falhas persistentes no disparo",
			fmt.Sprintf("%d empresas continuam falhando no período %s após nova tentativa", summary.Failed, period),
			map[string]any{
				"periodo": period.String(),
				"falhas":  summary.Failed,
				"total":   summary.Total,
			},
		); notifyErr != nil {
			h.logger.Warn("failed to send retry notification", slog.String("error", notifyErr.Error()))
		}
	}

	return summary, nil
}

// cleanupResult is the persisted result of a cleanup run.
type cleanupResult struct {
	Deleted int64  `json:"deleted"`
	Cutoff  string `json:"cutoff"`
}

// cleanupOldData deletes terminal jobs older than the retention
// window. A payload without RetentionDays uses the configured default;
// nonsense values are rejected permanently rather than retried.
func (h *Handlers) cleanupOldData(ctx context.Context, p job.CleanupPayload) (any, error) {
	days := p.RetentionDays
	if days == 0 {
		days = h.scheduler.cfg.RetentionDays
	}
	if days < 0 {
		return nil, job.Permanent(fmt.Errorf("cleanup: negative retention %d", days))
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	deleted, err := h.scheduler.store.DeleteJobsOlderThan(ctx, cutoff, []job.Status{
		job.StatusCompleted,
		job.StatusFailed,
		job.StatusCancelled,
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("cleanup finished",
		slog.Int64("deleted", deleted),
		slog.Time("cutoff", cutoff),
	)

	return cleanupResult{Deleted: deleted, Cutoff: cutoff.Format(time.RFC3339)}, nil
}
