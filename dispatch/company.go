package dispatch

import "context"

// Company is a dispatch target. The admin application owns the full
// company record; only the fields the orchestrator reads appear here.
type Company struct {
	ID           string `json:"id"`
	Name         string `json:"nome"`
	Active       bool   `json:"ativa"`
	Language     string `json:"idioma,omitempty"`
	ManagerEmail string `json:"email_gestor,omitempty"`
}

// Recipient is one person who receives the report for a company.
type Recipient struct {
	ID        string `json:"id"`
	EmpresaID string `json:"empresa_id"`
	Name      string `json:"nome"`
	Email     string `json:"email"`
	Active    bool   `json:"ativo"`
}

// CompanyDirectory resolves dispatch targets. It is a read-only view
// over the admin application's company and recipient registration.
type CompanyDirectory interface {
	// ListActiveCompanies returns all active companies ordered by ID.
	ListActiveCompanies(ctx context.Context) ([]*Company, error)

	// GetCompany retrieves one company by ID, active or not.
	// Returns disparo.ErrCompanyNotFound when it does not exist.
	GetCompany(ctx context.Context, empresaID string) (*Company, error)

	// ListActiveRecipients returns a company's active recipients.
	ListActiveRecipients(ctx context.Context, empresaID string) ([]*Recipient, error)

	// ResponsibleAddresses returns the configured responsible-group
	// e-mail addresses copied on every dispatch.
	ResponsibleAddresses(ctx context.Context) ([]string, error)
}
