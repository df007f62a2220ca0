package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/raysh454/kansa/internal/model"
)

const tenantColumns = `id, name, directory_id, client_id, client_secret, endpoint, created_at`

func (s *SQL) CreateTenant(ctx context.Context, t *model.Tenant) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), t.ID, t.Name, t.DirectoryID, t.ClientID, t.ClientSecret, t.Endpoint, toMillis(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert tenant: %w", err)
	}
	return nil
}

func (s *SQL) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+tenantColumns+` FROM tenants WHERE id = ?`), id)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

func (s *SQL) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	out := []model.Tenant{}
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteTenant removes the tenant together with all of its runs.
func (s *SQL) DeleteTenant(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		sub := `(SELECT id FROM runs WHERE tenant_id = ?)`
		for _, table := range []string{"items", "findings", "units"} {
			if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE run_id IN `+sub), id); err != nil {
				return fmt.Errorf("failed to delete %s: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM runs WHERE tenant_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete runs: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM tenants WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete tenant: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrTenantNotFound
		}
		return nil
	})
}

func scanTenant(r rowScanner) (*model.Tenant, error) {
	var (
		t       model.Tenant
		created int64
	)
	if err := r.Scan(&t.ID, &t.Name, &t.DirectoryID, &t.ClientID, &t.ClientSecret, &t.Endpoint, &created); err != nil {
		return nil, err
	}
	t.CreatedAt = fromMillis(created)
	return &t, nil
}
