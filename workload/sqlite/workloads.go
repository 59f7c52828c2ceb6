package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gammadia/workloads/workload"
)

const workloadColumns = "id, tenant, name, priority, last_checkin, deleted, created_at"

func (s *Store) CreateWorkload(ctx context.Context, w workload.Workload) (workload.Workload, error) {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.Deleted = false

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO workloads (tenant, name, priority, created_at)
		VALUES (?, ?, ?, ?)
	`, w.Tenant, w.Name, w.Priority, w.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return workload.Workload{}, fmt.Errorf("%w: '%s'", workload.ErrDuplicateName, w.Name)
		}
		return workload.Workload{}, fmt.Errorf("create workload: %w", err)
	}

	if w.ID, err = result.LastInsertId(); err != nil {
		return workload.Workload{}, fmt.Errorf("create workload: %w", err)
	}
	return w, nil
}

func (s *Store) GetWorkload(ctx context.Context, tenant string, id int64) (workload.Workload, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+workloadColumns+`
		FROM workloads
		WHERE id = ? AND tenant = ? AND deleted = 0
	`, id, tenant)

	w, err := scanWorkload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return workload.Workload{}, fmt.Errorf("workload %d: %w", id, workload.ErrNotFound)
	} else if err != nil {
		return workload.Workload{}, fmt.Errorf("get workload: %w", err)
	}
	return w, nil
}

func (s *Store) ListWorkloads(ctx context.Context, filter workload.WorkloadFilter) ([]workload.Workload, error) {
	conditions := []string{"deleted = 0"}
	var args []any

	if filter.Tenant != "" {
		conditions = append(conditions, "tenant = ?")
		args = append(args, filter.Tenant)
	}
	if filter.PriorityBelow != nil {
		conditions = append(conditions, "priority < ?")
		args = append(args, *filter.PriorityBelow)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workloadColumns+`
		FROM workloads
		WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY priority ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query workloads: %w", err)
	}
	defer rows.Close()

	workloads := []workload.Workload{}
	for rows.Next() {
		w, err := scanWorkload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workload: %w", err)
		}
		workloads = append(workloads, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workloads: %w", err)
	}
	return workloads, nil
}

func (s *Store) UpdateWorkload(ctx context.Context, w workload.Workload) (workload.Workload, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE workloads SET name = ?, priority = ?
		WHERE id = ? AND tenant = ? AND deleted = 0
	`, w.Name, w.Priority, w.ID, w.Tenant)
	if err != nil {
		if isUniqueViolation(err) {
			return workload.Workload{}, fmt.Errorf("%w: '%s'", workload.ErrDuplicateName, w.Name)
		}
		return workload.Workload{}, fmt.Errorf("update workload: %w", err)
	}

	if err := expectOneRow(result, fmt.Sprintf("workload %d", w.ID)); err != nil {
		return workload.Workload{}, err
	}
	return s.GetWorkload(ctx, w.Tenant, w.ID)
}

func (s *Store) TouchWorkload(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE workloads SET last_checkin = ?
		WHERE id = ? AND deleted = 0
	`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch workload: %w", err)
	}
	return expectOneRow(result, fmt.Sprintf("workload %d", id))
}

func (s *Store) DeleteWorkload(ctx context.Context, tenant string, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE workloads SET deleted = 1, deleted_at = ?
		WHERE id = ? AND tenant = ? AND deleted = 0
	`, time.Now().UTC(), id, tenant)
	if err != nil {
		return fmt.Errorf("delete workload: %w", err)
	}
	return expectOneRow(result, fmt.Sprintf("workload %d", id))
}

func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT tenant FROM workloads
		WHERE deleted = 0
		ORDER BY tenant ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	tenants := []string{}
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return tenants, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkload(row scanner) (workload.Workload, error) {
	var w workload.Workload
	var lastCheckin sql.NullTime

	if err := row.Scan(&w.ID, &w.Tenant, &w.Name, &w.Priority, &lastCheckin, &w.Deleted, &w.CreatedAt); err != nil {
		return workload.Workload{}, err
	}
	if lastCheckin.Valid {
		w.LastCheckin = lastCheckin.Time
	}
	return w, nil
}

func expectOneRow(result sql.Result, what string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", what, workload.ErrNotFound)
	}
	return nil
}
