package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
	"github.com/qualidade-ams/books-sonda-sub000/id"
)

// Orchestrator executes the periodic report dispatch for a set of
// companies with idempotency against prior success and isolated partial
// failure. Construct one with NewOrchestrator; it is safe for concurrent
// use.
type Orchestrator struct {
	controls  ControlStore
	history   HistoryStore
	directory CompanyDirectory
	templates TemplateEngine
	mailer    Mailer
	logger    *slog.Logger

	// sendConcurrency bounds the per-recipient worker pool inside one
	// company. Concurrency never spans companies within a run.
	sendConcurrency int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithSendConcurrency sets how many recipient sends may run at once
// within one company. Values below 1 are treated as 1 (sequential).
func WithSendConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n < 1 {
			n = 1
		}
		o.sendConcurrency = n
	}
}

// NewOrchestrator creates an Orchestrator with the given collaborators.
func NewOrchestrator(
	controls ControlStore,
	history HistoryStore,
	directory CompanyDirectory,
	templates TemplateEngine,
	mailer Mailer,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		controls:        controls,
		history:         history,
		directory:       directory,
		templates:       templates,
		mailer:          mailer,
		logger:          slog.Default(),
		sendConcurrency: 4,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunFull dispatches the period's report to every active company.
func (o *Orchestrator) RunFull(ctx context.Context, period Period) (*Summary, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}

	companies, err := o.directory.ListActiveCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list active companies: %w", err)
	}

	o.logger.Info("full dispatch starting",
		slog.String("period", period.String()),
		slog.Int("companies", len(companies)),
	)

	return o.run(ctx, period, companies, false), nil
}

// RunSelective dispatches the period's report to the listed companies
// only. With force true the already-sent skip check is bypassed and
// companies are re-sent regardless of control state.
func (o *Orchestrator) RunSelective(ctx context.Context, period Period, empresaIDs []string, force bool) (*Summary, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}

	summary := &Summary{Details: []RecipientOutcome{}}
	companies := make([]*Company, 0, len(empresaIDs))
	for _, empresaID := range empresaIDs {
		company, err := o.directory.GetCompany(ctx, empresaID)
		if err != nil {
			// A bad id fails that one entry, not the batch.
			o.logger.Warn("selective dispatch: company lookup failed",
				slog.String("empresa_id", empresaID),
				slog.String("error", err.Error()),
			)
			summary.Total++
			summary.Failed++
			summary.Details = append(summary.Details, RecipientOutcome{
				EmpresaID: empresaID,
				Status:    HistoryFailed,
				Error:     err.Error(),
			})
			continue
		}
		companies = append(companies, company)
	}

	o.logger.Info("selective dispatch starting",
		slog.String("period", period.String()),
		slog.Int("companies", len(companies)),
		slog.Bool("force_resend", force),
	)

	batch := o.run(ctx, period, companies, force)
	summary.Succeeded += batch.Succeeded
	summary.Failed += batch.Failed
	summary.Total += batch.Total
	summary.Details = append(summary.Details, batch.Details...)
	return summary, nil
}

// RunFailed re-dispatches only the companies whose control for the
// period is marked "falhou". A period with no failed controls is a
// successful no-op.
func (o *Orchestrator) RunFailed(ctx context.Context, period Period) (*Summary, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}

	failed, err := o.controls.ListControlsByStatus(ctx, period, ControlFailed)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list failed controls: %w", err)
	}
	if len(failed) == 0 {
		return &Summary{Details: []RecipientOutcome{}}, nil
	}

	summary := &Summary{Details: []RecipientOutcome{}}
	companies := make([]*Company, 0, len(failed))
	for _, ctrl := range failed {
		company, lookupErr := o.directory.GetCompany(ctx, ctrl.EmpresaID)
		if lookupErr != nil {
			o.logger.Warn("failure retry: company lookup failed",
				slog.String("empresa_id", ctrl.EmpresaID),
				slog.String("error", lookupErr.Error()),
			)
			summary.Total++
			summary.Failed++
			summary.Details = append(summary.Details, RecipientOutcome{
				EmpresaID: ctrl.EmpresaID,
				Status:    HistoryFailed,
				Error:     lookupErr.Error(),
			})
			continue
		}
		companies = append(companies, company)
	}

	o.logger.Info("failure retry dispatch starting",
		slog.String("period", period.String()),
		slog.Int("companies", len(companies)),
	)

	batch := o.run(ctx, period, companies, false)
	summary.Succeeded += batch.Succeeded
	summary.Failed += batch.Failed
	summary.Total += batch.Total
	summary.Details = append(summary.Details, batch.Details...)
	return summary, nil
}

// ScheduleDeferred records a deferred send for the listed companies:
// control status becomes "agendado" and one "agendado" history row is
// appended per active recipient with the target date. No mail is sent;
// promotion happens only through an explicit later run.
func (o *Orchestrator) ScheduleDeferred(ctx context.Context, period Period, empresaIDs []string, sendAt time.Time) (*Summary, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}

	summary := &Summary{Details: []RecipientOutcome{}}
	for _, empresaID := range empresaIDs {
		summary.Total++

		company, err := o.directory.GetCompany(ctx, empresaID)
		if err != nil {
			summary.Failed++
			summary.Details = append(summary.Details, RecipientOutcome{
				EmpresaID: empresaID,
				Status:    HistoryFailed,
				Error:     err.Error(),
			})
			continue
		}

		recipients, err := o.directory.ListActiveRecipients(ctx, company.ID)
		if err != nil {
			summary.Failed++
			summary.Details = append(summary.Details, RecipientOutcome{
				EmpresaID: company.ID,
				Status:    HistoryFailed,
				Error:     err.Error(),
			})
			continue
		}

		now := time.Now().UTC()
		ctrl := &Control{
			Entity:      disparo.NewEntity(),
			Mes:         period.Mes,
			Ano:         period.Ano,
			EmpresaID:   company.ID,
			Status:      ControlScheduled,
			ProcessedAt: &now,
			Notes:       fmt.Sprintf("envio agendado para %s", sendAt.Format("2006-01-02")),
		}
		if err := o.controls.UpsertControl(ctx, ctrl); err != nil {
			summary.Failed++
			summary.Details = append(summary.Details, RecipientOutcome{
				EmpresaID: company.ID,
				Status:    HistoryFailed,
				Error:     err.Error(),
			})
			continue
		}

		target := sendAt
		for _, r := range recipients {
			entry := &HistoryEntry{
				Entity:       disparo.NewEntity(),
				ID:           id.NewHistoryID(),
				EmpresaID:    company.ID,
				RecipientID:  r.ID,
				Status:       HistoryScheduled,
				SentAt:       now,
				ScheduledFor: &target,
			}
			if err := o.history.AppendHistory(ctx, entry); err != nil {
				o.logger.Error("failed to append scheduled history row",
					slog.String("empresa_id", company.ID),
					slog.String("destinatario_id", r.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			summary.Details = append(summary.Details, RecipientOutcome{
				EmpresaID:   company.ID,
				RecipientID: r.ID,
				Email:       r.Email,
				Status:      HistoryScheduled,
			})
		}
		summary.Succeeded++
	}

	return summary, nil
}

// run applies the per-company algorithm across the batch. One company's
// failure never stops processing of the remaining companies.
func (o *Orchestrator) run(ctx context.Context, period Period, companies []*Company, force bool) *Summary {
	summary := &Summary{Details: []RecipientOutcome{}}

	for _, company := range companies {
		summary.Total++

		skipped, succeeded, outcomes := o.processCompany(ctx, period, company, force)
		summary.Details = append(summary.Details, outcomes...)

		switch {
		case skipped:
			// Counted in Total only; already sent this period.
		case succeeded:
			summary.Succeeded++
		default:
			summary.Failed++
		}
	}

	o.logger.Info("dispatch finished",
		slog.String("period", period.String()),
		slog.Int("sucesso", summary.Succeeded),
		slog.Int("falhas", summary.Failed),
		slog.Int("total", summary.Total),
	)

	return summary
}

// processCompany runs the per-company algorithm. It never returns an
// error: every failure is folded into the control record and the
// returned outcomes.
func (o *Orchestrator) processCompany(ctx context.Context, period Period, company *Company, force bool) (skipped, succeeded bool, outcomes []RecipientOutcome) {
	// Capture the prior control status for the conditional transition
	// at the end; empty means no row exists yet.
	var prior ControlStatus
	ctrl, err := o.controls.GetControl(ctx, period, company.ID)
	switch {
	case err == nil:
		prior = ctrl.Status
		if !force && ctrl.Status == ControlSent {
			o.logger.Debug("company already sent, skipping",
				slog.String("empresa_id", company.ID),
				slog.String("period", period.String()),
			)
			return true, false, nil
		}
	case errors.Is(err, disparo.ErrControlNotFound):
		// First processing attempt for this period/company.
	default:
		o.logger.Error("control lookup failed",
			slog.String("empresa_id", company.ID),
			slog.String("error", err.Error()),
		)
		return false, false, []RecipientOutcome{{
			EmpresaID: company.ID,
			Status:    HistoryFailed,
			Error:     err.Error(),
		}}
	}

	recipients, err := o.directory.ListActiveRecipients(ctx, company.ID)
	if err != nil {
		o.writeControl(ctx, period, company.ID, prior, ControlFailed, fmt.Sprintf("falha ao resolver destinatários: %s", err.Error()))
		return false, false, []RecipientOutcome{{
			EmpresaID: company.ID,
			Status:    HistoryFailed,
			Error:     err.Error(),
		}}
	}
	if len(recipients) == 0 {
		// No history row: there was no send attempt to record.
		o.writeControl(ctx, period, company.ID, prior, ControlFailed, "nenhum destinatário ativo")
		return false, false, []RecipientOutcome{{
			EmpresaID: company.ID,
			Status:    HistoryFailed,
			Error:     "nenhum destinatário ativo",
		}}
	}

	cc := o.resolveCC(ctx, company)

	sent, lastErr, outcomes := o.sendToRecipients(ctx, period, company, recipients, cc)

	if sent > 0 {
		o.writeControl(ctx, period, company.ID, prior, ControlSent,
			fmt.Sprintf("%d de %d e-mails enviados", sent, len(recipients)))
		return false, true, outcomes
	}

	notes := lastErr
	if notes == "" {
		notes = "nenhum e-mail enviado"
	}
	o.writeControl(ctx, period, company.ID, prior, ControlFailed, notes)
	return false, false, outcomes
}

// resolveCC builds the CC set: configured responsible-group addresses
// plus the company manager, deduplicated. A directory failure degrades
// to the manager address alone.
func (o *Orchestrator) resolveCC(ctx context.Context, company *Company) []string {
	seen := make(map[string]struct{})
	var cc []string

	responsible, err := o.directory.ResponsibleAddresses(ctx)
	if err != nil {
		o.logger.Warn("responsible address lookup failed",
			slog.String("empresa_id", company.ID),
			slog.String("error", err.Error()),
		)
	}
	for _, addr := range responsible {
		if _, ok := seen[addr]; ok || addr == "" {
			continue
		}
		seen[addr] = struct{}{}
		cc = append(cc, addr)
	}

	if company.ManagerEmail != "" {
		if _, ok := seen[company.ManagerEmail]; !ok {
			cc = append(cc, company.ManagerEmail)
		}
	}

	return cc
}

// sendToRecipients sends to each recipient through a bounded worker
// pool. Outcomes are aggregated continue-on-error: a recipient failure
// never stops the others.
func (o *Orchestrator) sendToRecipients(ctx context.Context, period Period, company *Company, recipients []*Recipient, cc []string) (sent int, lastErr string, outcomes []RecipientOutcome) {
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.sendConcurrency)

	for _, r := range recipients {
		g.Go(func() error {
			outcome := o.sendToRecipient(gctx, period, company, r, cc)

			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, outcome)
			if outcome.Status == HistorySent {
				sent++
			} else if outcome.Error != "" {
				lastErr = outcome.Error
			}
			return nil
		})
	}

	// Workers never return errors; Wait only joins them.
	_ = g.Wait()

	return sent, lastErr, outcomes
}

// sendToRecipient resolves the template, renders, sends, and appends
// exactly one history row with the outcome.
func (o *Orchestrator) sendToRecipient(ctx context.Context, period Period, company *Company, r *Recipient, cc []string) RecipientOutcome {
	outcome := RecipientOutcome{
		EmpresaID:   company.ID,
		RecipientID: r.ID,
		Email:       r.Email,
	}

	tpl, err := o.resolveTemplate(ctx, company)
	if err != nil {
		outcome.Status = HistoryFailed
		outcome.Error = err.Error()
		o.appendHistory(ctx, company, r, cc, "", HistoryFailed, err.Error())
		return outcome
	}

	data := o.templateData(period, company, r)

	if v := o.templates.Validate(tpl, data); !v.Valid {
		// Missing variables are tolerated; the engine renders what it has.
		o.logger.Warn("template variables missing",
			slog.String("empresa_id", company.ID),
			slog.String("destinatario_id", r.ID),
			slog.Any("missing", v.Missing),
		)
	}

	rendered, err := o.templates.Render(tpl, data)
	if err != nil {
		outcome.Status = HistoryFailed
		outcome.Error = err.Error()
		o.appendHistory(ctx, company, r, cc, "", HistoryFailed, err.Error())
		return outcome
	}

	if err := o.mailer.Send(ctx, []string{r.Email}, cc, rendered.Subject, rendered.Body); err != nil {
		outcome.Status = HistoryFailed
		outcome.Error = err.Error()
		o.appendHistory(ctx, company, r, cc, rendered.Subject, HistoryFailed, err.Error())
		return outcome
	}

	outcome.Status = HistorySent
	o.appendHistory(ctx, company, r, cc, rendered.Subject, HistorySent, "")
	return outcome
}

// resolveTemplate finds the template for the company's language,
// falling back to the default language before giving up.
func (o *Orchestrator) resolveTemplate(ctx context.Context, company *Company) (*Template, error) {
	language := company.Language
	if language == "" {
		language = DefaultLanguage
	}

	tpl, err := o.templates.FindTemplate(ctx, TemplateKindBook, language)
	if err != nil {
		return nil, fmt.Errorf("dispatch: find template: %w", err)
	}
	if tpl == nil && language != DefaultLanguage {
		tpl, err = o.templates.FindTemplate(ctx, TemplateKindBook, DefaultLanguage)
		if err != nil {
			return nil, fmt.Errorf("dispatch: find template: %w", err)
		}
	}
	if tpl == nil {
		return nil, fmt.Errorf("dispatch: no template for kind %q language %q", TemplateKindBook, language)
	}
	return tpl, nil
}

// templateData assembles the variable set the template engine receives.
func (o *Orchestrator) templateData(period Period, company *Company, r *Recipient) map[string]any {
	return map[string]any{
		"nome":    r.Name,
		"email":   r.Email,
		"empresa": company.Name,
		"mes":     period.Mes,
		"ano":     period.Ano,
		"periodo": period.String(),
	}
}

// appendHistory records one attempt row. Append failures are logged and
// swallowed: the send outcome already happened and must not be undone
// by an audit write error.
func (o *Orchestrator) appendHistory(ctx context.Context, company *Company, r *Recipient, cc []string, subject string, status HistoryStatus, errDetail string) {
	entry := &HistoryEntry{
		Entity:      disparo.NewEntity(),
		ID:          id.NewHistoryID(),
		EmpresaID:   company.ID,
		RecipientID: r.ID,
		Status:      status,
		SentAt:      time.Now().UTC(),
		Subject:     subject,
		CC:          cc,
		ErrorDetail: errDetail,
	}
	if err := o.history.AppendHistory(ctx, entry); err != nil {
		o.logger.Error("failed to append history row",
			slog.String("empresa_id", company.ID),
			slog.String("destinatario_id", r.ID),
			slog.String("error", err.Error()),
		)
	}
}

// writeControl performs the conditional control transition. When the
// stored status no longer matches what this run read, a concurrent run
// already transitioned the record and this write is dropped: first
// successful transition wins.
func (o *Orchestrator) writeControl(ctx context.Context, period Period, empresaID string, prior, status ControlStatus, notes string) {
	now := time.Now().UTC()
	ctrl := &Control{
		Entity:      disparo.NewEntity(),
		Mes:         period.Mes,
		Ano:         period.Ano,
		EmpresaID:   empresaID,
		Status:      status,
		ProcessedAt: &now,
		Notes:       notes,
	}

	swapped, err := o.controls.TransitionControl(ctx, ctrl, prior)
	if err != nil {
		o.logger.Error("control write failed",
			slog.String("empresa_id", empresaID),
			slog.String("period", period.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !swapped {
		o.logger.Info("control already transitioned by a concurrent run",
			slog.String("empresa_id", empresaID),
			slog.String("period", period.String()),
			slog.String("status", string(status)),
		)
	}
}
