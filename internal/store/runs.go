package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raysh454/kansa/internal/model"
)

const runColumns = `id, tenant_id, kind, status, started_at, completed_at, updated_at,
	initiated_by, overall_score, total_items, error_message`

const unitColumns = `id, run_id, domain, seq, status, item_count, duration_ms,
	error_message, warnings, started_at, completed_at`

func (s *SQL) CreateRun(ctx context.Context, run *model.Run, units []model.DomainUnit) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO runs (`+runColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), run.ID, run.TenantID, string(run.Kind), string(run.Status),
			toMillis(run.StartedAt), nullMillis(run.CompletedAt), toMillis(run.UpdatedAt),
			run.InitiatedBy, nullInt(run.OverallScore), run.TotalItems, run.ErrorMessage)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		for i := range units {
			if err := s.insertUnit(ctx, tx, &units[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQL) insertUnit(ctx context.Context, q queryer, u *model.DomainUnit) error {
	warnings, err := encodeList(u.Warnings)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, s.rebind(`
		INSERT INTO units (`+unitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), u.ID, u.RunID, string(u.Domain), u.Seq, string(u.Status), u.ItemCount,
		u.Duration.Milliseconds(), u.ErrorMessage, warnings,
		nullMillis(u.StartedAt), nullMillis(u.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to insert unit %s: %w", u.Domain, err)
	}
	return nil
}

func (s *SQL) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (s *SQL) ListRuns(ctx context.Context, f RunFilter) ([]model.Run, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}

	q := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY started_at DESC, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.queryRuns(ctx, q, args...)
}

func (s *SQL) ListStaleRuns(ctx context.Context, before time.Time) ([]model.Run, error) {
	return s.queryRuns(ctx, `SELECT `+runColumns+` FROM runs
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at, id`, string(model.StatusRunning), toMillis(before))
}

func (s *SQL) queryRuns(ctx context.Context, q string, args ...any) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	out := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQL) ListUnits(ctx context.Context, runID string) ([]model.DomainUnit, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+unitColumns+` FROM units WHERE run_id = ? ORDER BY seq, domain`), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	out := []model.DomainUnit{}
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQL) ClaimRun(ctx context.Context, runID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE runs SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`), string(model.StatusRunning), toMillis(at), runID, string(model.StatusPending))
	if err != nil {
		return false, fmt.Errorf("failed to claim run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetRun(ctx, runID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQL) UpdateRun(ctx context.Context, run *model.Run) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE runs
		SET status = ?, completed_at = ?, updated_at = ?, overall_score = ?,
			total_items = ?, error_message = ?
		WHERE id = ? AND status IN (?, ?)
	`), string(run.Status), nullMillis(run.CompletedAt), toMillis(run.UpdatedAt),
		nullInt(run.OverallScore), run.TotalItems, run.ErrorMessage,
		run.ID, string(model.StatusPending), string(model.StatusRunning))
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetRun(ctx, run.ID); err != nil {
		return err
	}
	return ErrRunTerminal
}

func (s *SQL) UpdateUnit(ctx context.Context, u *model.DomainUnit) error {
	return s.updateUnit(ctx, s.db, u)
}

func (s *SQL) updateUnit(ctx context.Context, q queryer, u *model.DomainUnit) error {
	warnings, err := encodeList(u.Warnings)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, s.rebind(`
		UPDATE units
		SET status = ?, item_count = ?, duration_ms = ?, error_message = ?,
			warnings = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`), string(u.Status), u.ItemCount, u.Duration.Milliseconds(), u.ErrorMessage,
		warnings, nullMillis(u.StartedAt), nullMillis(u.CompletedAt), u.ID)
	if err != nil {
		return fmt.Errorf("failed to update unit %s: %w", u.Domain, err)
	}
	return nil
}

func (s *SQL) CancelOpenUnits(ctx context.Context, runID string, at time.Time) (int, error) {
	return s.closeOpenUnits(ctx, runID, model.StatusCancelled, "", at)
}

func (s *SQL) FailOpenUnits(ctx context.Context, runID, msg string, at time.Time) (int, error) {
	return s.closeOpenUnits(ctx, runID, model.StatusFailed, msg, at)
}

func (s *SQL) closeOpenUnits(ctx context.Context, runID string, status model.RunStatus, msg string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE units SET status = ?, error_message = ?, completed_at = ?
		WHERE run_id = ? AND status IN (?, ?)
	`), string(status), msg, toMillis(at), runID, string(model.StatusPending), string(model.StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to close open units: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// DeleteRun removes the run and every row it owns.
func (s *SQL) DeleteRun(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"items", "findings", "units"} {
			if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE run_id = ?`), id); err != nil {
				return fmt.Errorf("failed to delete %s: %w", table, err)
			}
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM runs WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrRunNotFound
		}
		return nil
	})
}

func scanRun(r rowScanner) (*model.Run, error) {
	var (
		run              model.Run
		kind, status     string
		started, updated int64
		completed, score sql.NullInt64
	)
	err := r.Scan(&run.ID, &run.TenantID, &kind, &status, &started, &completed, &updated,
		&run.InitiatedBy, &score, &run.TotalItems, &run.ErrorMessage)
	if err != nil {
		return nil, err
	}
	run.Kind = model.RunKind(kind)
	run.Status = model.RunStatus(status)
	run.StartedAt = fromMillis(started)
	run.UpdatedAt = fromMillis(updated)
	run.CompletedAt = timePtr(completed)
	run.OverallScore = intPtr(score)
	return &run, nil
}

func scanUnit(r rowScanner) (*model.DomainUnit, error) {
	var (
		u                  model.DomainUnit
		domain, status     string
		durationMS         int64
		warnings           string
		started, completed sql.NullInt64
	)
	err := r.Scan(&u.ID, &u.RunID, &domain, &u.Seq, &status, &u.ItemCount, &durationMS,
		&u.ErrorMessage, &warnings, &started, &completed)
	if err != nil {
		return nil, err
	}
	u.Domain = model.Domain(domain)
	u.Status = model.RunStatus(status)
	u.Duration = time.Duration(durationMS) * time.Millisecond
	u.StartedAt = timePtr(started)
	u.CompletedAt = timePtr(completed)
	if u.Warnings, err = decodeList(warnings); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	return &u, nil
}
