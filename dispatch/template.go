package dispatch

import "context"

// TemplateKindBook is the template kind for the monthly report e-mail.
const TemplateKindBook = "book"

// DefaultLanguage is the fallback language when no template exists for
// a company's configured language.
const DefaultLanguage = "pt-BR"

// Template is an e-mail template resolved by kind and language.
// Rendering and variable substitution belong to the template engine;
// the orchestrator only carries the handle around.
type Template struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Language string `json:"language"`
}

// Validation is the result of checking recipient data against a
// template's required variables. Missing variables are tolerated — they
// are logged, never fatal.
type Validation struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missing,omitempty"`
}

// Rendered is a template instantiated for one recipient.
type Rendered struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine is the variable-substitution collaborator. The
// orchestrator consumes it; implementations live with the host
// application.
type TemplateEngine interface {
	// FindTemplate resolves the template for a kind/language pair.
	// Returns (nil, nil) when no template exists for the combination.
	FindTemplate(ctx context.Context, kind, language string) (*Template, error)

	// Validate checks the recipient data against the template's
	// required variables.
	Validate(tpl *Template, data map[string]any) Validation

	// Render instantiates the template with the recipient data.
	Render(tpl *Template, data map[string]any) (*Rendered, error)
}
