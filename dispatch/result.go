package dispatch

// RecipientOutcome is the per-recipient detail of one orchestrator run.
type RecipientOutcome struct {
	EmpresaID   string        `json:"empresa_id"`
	RecipientID string        `json:"destinatario_id,omitempty"`
	Email       string        `json:"email,omitempty"`
	Status      HistoryStatus `json:"status"`
	Error       string        `json:"erro,omitempty"`
}

// Summary aggregates one orchestrator run. Succeeded and Failed count
// companies, not recipients. Total counts every company the run looked
// at, including those skipped as already sent — which appear in neither
// Succeeded nor Failed. The skew is intentional and preserved.
type Summary struct {
	Succeeded int                `json:"sucesso"`
	Failed    int                `json:"falhas"`
	Total     int                `json:"total"`
	Details   []RecipientOutcome `json:"detalhes"`
}
