package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/raysh454/kansa/internal/model"
)

const findingColumns = `id, run_id, unit_id, domain, severity, title, description,
	is_compliant, remediation, check_id, affected_resources, created_at`

const itemColumns = `id, run_id, unit_id, domain, external_id, display_name,
	payload_ref, payload, created_at`

// CompleteUnit commits the unit row, its findings and items, and bumps the
// parent run's updated_at so stale-run detection sees progress.
func (s *SQL) CompleteUnit(ctx context.Context, u *model.DomainUnit, findings []model.Finding, items []model.InventoryItem) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.updateUnit(ctx, tx, u); err != nil {
			return err
		}
		for i := range findings {
			if err := s.insertFinding(ctx, tx, &findings[i]); err != nil {
				return err
			}
		}
		for i := range items {
			if err := s.insertItem(ctx, tx, &items[i]); err != nil {
				return err
			}
		}
		at := u.CompletedAt
		if at == nil {
			return nil
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE runs SET updated_at = ? WHERE id = ?`), toMillis(*at), u.RunID); err != nil {
			return fmt.Errorf("failed to touch run: %w", err)
		}
		return nil
	})
}

func (s *SQL) insertFinding(ctx context.Context, q queryer, f *model.Finding) error {
	affected, err := encodeList(f.AffectedResources)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, s.rebind(`
		INSERT INTO findings (`+findingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), f.ID, f.RunID, f.UnitID, string(f.Domain), int(f.Severity), f.Title, f.Description,
		f.IsCompliant, f.Remediation, f.CheckID, affected, toMillis(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert finding %s: %w", f.CheckID, err)
	}
	return nil
}

func (s *SQL) insertItem(ctx context.Context, q queryer, it *model.InventoryItem) error {
	var payload sql.NullString
	if len(it.Payload) > 0 {
		payload = sql.NullString{String: string(it.Payload), Valid: true}
	}
	_, err := q.ExecContext(ctx, s.rebind(`
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), it.ID, it.RunID, it.UnitID, string(it.Domain), it.ExternalID, it.DisplayName,
		it.PayloadRef, payload, toMillis(it.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert item %s: %w", it.ExternalID, err)
	}
	return nil
}

// ListFindings returns the run's findings, most severe first.
func (s *SQL) ListFindings(ctx context.Context, runID string, f FindingFilter) ([]model.Finding, error) {
	q := `SELECT ` + findingColumns + ` FROM findings WHERE run_id = ?`
	args := []any{runID}
	if f.Domain != "" {
		q += ` AND domain = ?`
		args = append(args, string(f.Domain))
	}
	if f.Severity != 0 {
		q += ` AND severity = ?`
		args = append(args, int(f.Severity))
	}
	if f.NonCompliant {
		q += ` AND is_compliant = ?`
		args = append(args, false)
	}
	q += ` ORDER BY severity, check_id, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	out := []model.Finding{}
	for rows.Next() {
		var (
			fd               model.Finding
			domain, affected string
			severity         int
			created          int64
		)
		if err := rows.Scan(&fd.ID, &fd.RunID, &fd.UnitID, &domain, &severity, &fd.Title, &fd.Description,
			&fd.IsCompliant, &fd.Remediation, &fd.CheckID, &affected, &created); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		fd.Domain = model.Domain(domain)
		fd.Severity = model.Severity(severity)
		fd.CreatedAt = fromMillis(created)
		if fd.AffectedResources, err = decodeList(affected); err != nil {
			return nil, fmt.Errorf("decode affected resources: %w", err)
		}
		out = append(out, fd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListItems returns the run's inventory items; an empty domain returns all.
func (s *SQL) ListItems(ctx context.Context, runID string, domain model.Domain) ([]model.InventoryItem, error) {
	q := `SELECT ` + itemColumns + ` FROM items WHERE run_id = ?`
	args := []any{runID}
	if domain != "" {
		q += ` AND domain = ?`
		args = append(args, string(domain))
	}
	q += ` ORDER BY domain, external_id, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	out := []model.InventoryItem{}
	for rows.Next() {
		var (
			it      model.InventoryItem
			d       string
			payload sql.NullString
			created int64
		)
		if err := rows.Scan(&it.ID, &it.RunID, &it.UnitID, &d, &it.ExternalID, &it.DisplayName,
			&it.PayloadRef, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		it.Domain = model.Domain(d)
		it.CreatedAt = fromMillis(created)
		if payload.Valid {
			it.Payload = json.RawMessage(payload.String)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQL) CountItems(ctx context.Context, runID string) (map[model.Domain]int, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT domain, COUNT(*) FROM items WHERE run_id = ? GROUP BY domain`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	defer rows.Close()

	out := map[model.Domain]int{}
	for rows.Next() {
		var (
			d string
			n int
		)
		if err := rows.Scan(&d, &n); err != nil {
			return nil, err
		}
		out[model.Domain(d)] = n
	}
	return out, rows.Err()
}
