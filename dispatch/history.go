package dispatch

import (
	"context"
	"time"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
	"github.com/qualidade-ams/books-sonda-sub000/id"
)

// HistoryStatus is the outcome recorded for one send attempt.
type HistoryStatus string

const (
	HistorySent      HistoryStatus = "enviado"
	HistoryFailed    HistoryStatus = "falhou"
	HistoryScheduled HistoryStatus = "agendado"
	HistoryCancelled HistoryStatus = "cancelado"
)

// HistoryEntry is one row of the dispatch audit trail: a single send
// attempt for a single recipient. Entries are append-only; retries and
// resends add new rows and never mutate or delete prior ones.
type HistoryEntry struct {
	disparo.Entity

	ID          id.HistoryID  `json:"id"`
	EmpresaID   string        `json:"empresa_id"`
	RecipientID string        `json:"destinatario_id"`
	Status      HistoryStatus `json:"status"`
	SentAt      time.Time     `json:"data_envio"`
	Subject     string        `json:"assunto,omitempty"`
	CC          []string      `json:"cc,omitempty"`
	ErrorDetail string        `json:"erro,omitempty"`

	// ScheduledFor is the target date of a deferred send; set only on
	// rows with status "agendado".
	ScheduledFor *time.Time `json:"data_agendada,omitempty"`
}

// HistoryStore defines the persistence contract for the dispatch audit
// trail.
type HistoryStore interface {
	// AppendHistory persists a new history row. Existing rows are never
	// touched.
	AppendHistory(ctx context.Context, e *HistoryEntry) error

	// ListHistory returns a company's history rows ordered by SentAt
	// descending. A zero limit means no limit.
	ListHistory(ctx context.Context, empresaID string, limit int) ([]*HistoryEntry, error)
}
