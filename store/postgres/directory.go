package postgres

import (
	"context"
	"fmt"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
	"github.com/qualidade-ams/books-sonda-sub000/dispatch"
)

// ListActiveCompanies returns all active companies ordered by id.
func (s *Store) ListActiveCompanies(ctx context.Context) ([]*dispatch.Company, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, nome, ativo, idioma, email_gestor
		FROM empresas
		WHERE ativo
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("disparo/postgres: list active companies: %w", err)
	}
	defer rows.Close()

	var companies []*dispatch.Company
	for rows.Next() {
		var c dispatch.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.Active, &c.Language, &c.ManagerEmail); err != nil {
			return nil, fmt.Errorf("disparo/postgres: scan company row: %w", err)
		}
		companies = append(companies, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("disparo/postgres: iterate company rows: %w", err)
	}
	return companies, nil
}

// GetCompany retrieves one company by id, active or not.
func (s *Store) GetCompany(ctx context.Context, empresaID string) (*dispatch.Company, error) {
	var c dispatch.Company
	err := s.pool.QueryRow(ctx, `
		SELECT id, nome, ativo, idioma, email_gestor
		FROM empresas
		WHERE id = $1`,
		empresaID,
	).Scan(&c.ID, &c.Name, &c.Active, &c.Language, &c.ManagerEmail)
	if err != nil {
		if isNoRows(err) {
			return nil, disparo.ErrCompanyNotFound
		}
		return nil, fmt.Errorf("disparo/postgres: get company: %w", err)
	}
	return &c, nil
}

// ListActiveRecipients returns a company's active recipients.
func (s *Store) ListActiveRecipients(ctx context.Context, empresaID string) ([]*dispatch.Recipient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, empresa_id, nome, email, ativo
		FROM destinatarios
		WHERE empresa_id = $1 AND ativo
		ORDER BY id ASC`,
		empresaID,
	)
	if err != nil {
		return nil, fmt.Errorf("disparo/postgres: list active recipients: %w", err)
	}
	defer rows.Close()

	var recipients []*dispatch.Recipient
	for rows.Next() {
		var r dispatch.Recipient
		if err := rows.Scan(&r.ID, &r.EmpresaID, &r.Name, &r.Email, &r.Active); err != nil {
			return nil, fmt.Errorf("disparo/postgres: scan recipient row: %w", err)
		}
		recipients = append(recipients, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("disparo/postgres: iterate recipient rows: %w", err)
	}
	return recipients, nil
}

// ResponsibleAddresses returns the configured responsible-group e-mail
// addresses copied on every dispatch.
func (s *Store) ResponsibleAddresses(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT email FROM emails_responsaveis
		WHERE ativo
		ORDER BY email ASC`)
	if err != nil {
		return nil, fmt.Errorf("disparo/postgres: responsible addresses: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("disparo/postgres: scan address row: %w", err)
		}
		addrs = append(addrs, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("disparo/postgres: iterate address rows: %w", err)
	}
	return addrs, nil
}
