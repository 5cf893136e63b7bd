package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	disparo "github.com/qualidade-ams/books-sonda-sub000"
	"github.com/qualidade-ams/books-sonda-sub000/dispatch"
	"github.com/qualidade-ams/books-sonda-sub000/id"
)

const controlColumns = `
	mes, ano, empresa_id, status, data_processamento, observacoes,
	created_at, updated_at`

// GetControl retrieves the control for a period/company pair.
func (s *Store) GetControl(ctx context.Context, period dispatch.Period, empresaID string) (*dispatch.Control, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+controlColumns+` FROM disparo_controle
		WHERE mes = $1 AND ano = $2 AND empresa_id = $3`,
		period.Mes, period.Ano, empresaID,
	)

	c, err := scanControl(row)
	if err != nil {
		if isNoRows(err) {
			return nil, disparo.ErrControlNotFound
		}
		return nil, fmt.Errorf("disparo/postgres: get control: %w", err)
	}
	return c, nil
}

// UpsertControl writes the control unconditionally on its composite
// key, last writer wins.
func (s *Store) UpsertControl(ctx context.Context, c *dispatch.Control) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO disparo_controle (
			mes, ano, empresa_id, status, data_processamento, observacoes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (mes, ano, empresa_id) DO UPDATE SET
			status = EXCLUDED.status,
			data_processamento = EXCLUDED.data_processamento,
			observacoes = EXCLUDED.observacoes,
			updated_at = NOW()`,
		c.Mes, c.Ano, c.EmpresaID, string(c.Status), c.ProcessedAt, c.Notes,
	)
	if err != nil {
		return fmt.Errorf("disparo/postgres: upsert control: %w", err)
	}
	return nil
}

// TransitionControl writes the control only when the stored status
// still equals expected. An empty expected status means the row must
// not exist, which the partial insert expresses with ON CONFLICT DO
// NOTHING. Returns false without writing when the precondition fails.
func (s *Store) TransitionControl(ctx context.Context, c *dispatch.Control, expected dispatch.ControlStatus) (bool, error) {
	if expected == "" {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO disparo_controle (
				mes, ano, empresa_id, status, data_processamento, observacoes,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			ON CONFLICT (mes, ano, empresa_id) DO NOTHING`,
			c.Mes, c.Ano, c.EmpresaID, string(c.Status), c.ProcessedAt, c.Notes,
		)
		if err != nil {
			return false, fmt.Errorf("disparo/postgres: transition control insert: %w", err)
		}
		return tag.RowsAffected() == 1, nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE disparo_controle SET
			status = $4, data_processamento = $5, observacoes = $6, updated_at = NOW()
		WHERE mes = $1 AND ano = $2 AND empresa_id = $3 AND status = $7`,
		c.Mes, c.Ano, c.EmpresaID,
		string(c.Status), c.ProcessedAt, c.Notes,
		string(expected),
	)
	if err != nil {
		return false, fmt.Errorf("disparo/postgres: transition control update: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListControlsByStatus returns the period's controls with the given
// status, ordered by company id.
func (s *Store) ListControlsByStatus(ctx context.Context, period dispatch.Period, status dispatch.ControlStatus) ([]*dispatch.Control, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+controlColumns+` FROM disparo_controle
		WHERE mes = $1 AND ano = $2 AND status = $3
		ORDER BY empresa_id ASC`,
		period.Mes, period.Ano, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("disparo/postgres: list controls: %w", err)
	}
	defer rows.Close()

	var controls []*dispatch.Control
	for rows.Next() {
		c, err := scanControl(rows)
		if err != nil {
			return nil, fmt.Errorf("disparo/postgres: scan control row: %w", err)
		}
		controls = append(controls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("disparo/postgres: iterate control rows: %w", err)
	}
	return controls, nil
}

func scanControl(row pgx.Row) (*dispatch.Control, error) {
	var (
		c         dispatch.Control
		statusStr string
	)
	err := row.Scan(
		&c.Mes, &c.Ano, &c.EmpresaID, &statusStr, &c.ProcessedAt, &c.Notes,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = dispatch.ControlStatus(statusStr)
	return &c, nil
}

// AppendHistory persists a new history row. Rows are never updated.
func (s *Store) AppendHistory(ctx context.Context, e *dispatch.HistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO disparo_historico (
			id, empresa_id, destinatario_id, status, data_disparo,
			assunto, emails_cc, erro_detalhes, agendado_para,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`,
		e.ID.String(), e.EmpresaID, e.RecipientID, string(e.Status), e.SentAt,
		e.Subject, e.CC, e.ErrorDetail, e.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("disparo/postgres: append history: %w", err)
	}
	return nil
}

// ListHistory returns a company's history rows, newest first.
func (s *Store) ListHistory(ctx context.Context, empresaID string, limit int) ([]*dispatch.HistoryEntry, error) {
	query := `
		SELECT id, empresa_id, destinatario_id, status, data_disparo,
		       assunto, emails_cc, erro_detalhes, agendado_para,
		       created_at, updated_at
		FROM disparo_historico
		WHERE empresa_id = $1
		ORDER BY data_disparo DESC`
	args := []any{empresaID}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("disparo/postgres: list history: %w", err)
	}
	defer rows.Close()

	var entries []*dispatch.HistoryEntry
	for rows.Next() {
		var (
			e         dispatch.HistoryEntry
			idStr     string
			statusStr string
		)
		err := rows.Scan(
			&idStr, &e.EmpresaID, &e.RecipientID, &statusStr, &e.SentAt,
			&e.Subject, &e.CC, &e.ErrorDetail, &e.ScheduledFor,
			&e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("disparo/postgres: scan history row: %w", err)
		}

		parsedID, parseErr := id.ParseHistoryID(idStr)
		if parseErr != nil {
			return nil, fmt.Errorf("disparo/postgres: parse history id %q: %w", idStr, parseErr)
		}
		e.ID = parsedID
		e.Status = dispatch.HistoryStatus(statusStr)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("disparo/postgres: iterate history rows: %w", err)
	}
	return entries, nil
}
