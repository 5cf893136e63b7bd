package job

// MonthlyDispatchPayload is the payload for TypeMonthlyDispatch jobs.
// When EmpresaIDs is empty the dispatch targets all active companies;
// otherwise only the listed companies are processed. Force bypasses the
// already-sent skip check for selective dispatches.
type MonthlyDispatchPayload struct {
	Mes        int      `json:"mes"`
	Ano        int      `json:"ano"`
	EmpresaIDs []string `json:"empresa_ids,omitempty"`
	Force      bool     `json:"force_resend,omitempty"`
}

// RetryFailedPayload is the payload for TypeRetryFailedDispatch jobs.
type RetryFailedPayload struct {
	Mes int `json:"mes"`
	Ano int `json:"ano"`
}

// CleanupPayload is the payload for TypeCleanupOldData jobs. A zero
// RetentionDays means the scheduler's configured retention applies.
type CleanupPayload struct {
	RetentionDays int `json:"retention_days,omitempty"`
}
