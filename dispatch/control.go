package dispatch

import (
	"context"
	"time"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
)

// ControlStatus is the per-(period, company) dispatch state. The values
// are the persisted strings the surrounding application reads; they stay
// as-is.
type ControlStatus string

const (
	// ControlPending means the company has not been processed this period.
	ControlPending ControlStatus = "pendente"
	// ControlScheduled means a deferred send was scheduled but not executed.
	ControlScheduled ControlStatus = "agendado"
	// ControlSent means at least one recipient send succeeded this period.
	// Non-forced runs skip the company from then on.
	ControlSent ControlStatus = "enviado"
	// ControlFailed means the last processing attempt sent nothing.
	ControlFailed ControlStatus = "falhou"
)

// Control tracks dispatch state for one company in one billing period.
// There is exactly one record per (Mes, Ano, EmpresaID); every
// processing attempt overwrites it, never appends.
type Control struct {
	disparo.Entity

	Mes       int    `json:"mes"`
	Ano       int    `json:"ano"`
	EmpresaID string `json:"empresa_id"`

	Status      ControlStatus `json:"status"`
	ProcessedAt *time.Time    `json:"data_processamento,omitempty"`
	Notes       string        `json:"observacoes,omitempty"`
}

// Period returns the billing period the control belongs to.
func (c *Control) Period() Period {
	return Period{Mes: c.Mes, Ano: c.Ano}
}

// ControlStore defines the persistence contract for dispatch controls.
// All writes are keyed by the composite (Mes, Ano, EmpresaID).
type ControlStore interface {
	// GetControl retrieves the control for a period/company pair.
	// Returns disparo.ErrControlNotFound when none exists.
	GetControl(ctx context.Context, period Period, empresaID string) (*Control, error)

	// UpsertControl writes the control unconditionally (last writer
	// wins) on its composite key.
	UpsertControl(ctx context.Context, c *Control) error

	// TransitionControl writes the control only if the currently stored
	// status equals expected; an empty expected status means the row
	// must not exist yet. Returns false without writing when the
	// precondition fails, so concurrent runs resolve to "first
	// successful transition wins".
	TransitionControl(ctx context.Context, c *Control, expected ControlStatus) (bool, error)

	// ListControlsByStatus returns the controls for a period with the
	// given status, ordered by EmpresaID.
	ListControlsByStatus(ctx context.Context, period Period, status ControlStatus) ([]*Control, error)
}
