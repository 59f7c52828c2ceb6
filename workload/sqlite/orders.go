package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gammadia/workloads/workload"
	"github.com/samber/lo"
)

const orderColumns = "o.id, o.workload_id, o.instances, o.memory_mb, o.status, o.created_at, o.updated_at"

func (s *Store) CreateOrder(ctx context.Context, o workload.Order, unless *workload.OrderFilter) (workload.Order, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workload.Order{}, fmt.Errorf("create order: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var live bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM workloads WHERE id = ? AND deleted = 0)
	`, o.WorkloadID).Scan(&live); err != nil {
		return workload.Order{}, fmt.Errorf("create order: check workload: %w", err)
	}
	if !live {
		return workload.Order{}, fmt.Errorf("workload %d: %w", o.WorkloadID, workload.ErrNotFound)
	}

	if unless != nil {
		scoped := *unless
		scoped.WorkloadID = o.WorkloadID
		scoped.Limit = 1
		conflicts, err := listOrders(ctx, tx, scoped)
		if err != nil {
			return workload.Order{}, fmt.Errorf("create order: check conflicts: %w", err)
		}
		if len(conflicts) > 0 {
			return workload.Order{}, workload.ErrConflict
		}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO workload_orders (workload_id, instances, memory_mb, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, o.WorkloadID, o.Instances, o.MemoryMB, string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return workload.Order{}, fmt.Errorf("create order: insert: %w", err)
	}

	if o.ID, err = result.LastInsertId(); err != nil {
		return workload.Order{}, fmt.Errorf("create order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return workload.Order{}, fmt.Errorf("create order: commit: %w", err)
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, workloadID, id int64) (workload.Order, error) {
	return getOrder(ctx, s.db, workloadID, id)
}

func (s *Store) ListOrders(ctx context.Context, filter workload.OrderFilter) ([]workload.Order, error) {
	return listOrders(ctx, s.db, filter)
}

func (s *Store) UpdateOrder(ctx context.Context, o workload.Order, expect workload.OrderStatus, unless *workload.OrderFilter) (workload.Order, error) {
	updatedAt := lo.Ternary(o.UpdatedAt.IsZero(), time.Now(), o.UpdatedAt).UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workload.Order{}, fmt.Errorf("update order: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if unless != nil {
		scoped := *unless
		scoped.WorkloadID = o.WorkloadID
		scoped.ExceptID = o.ID
		scoped.Limit = 1
		conflicts, err := listOrders(ctx, tx, scoped)
		if err != nil {
			return workload.Order{}, fmt.Errorf("update order: check conflicts: %w", err)
		}
		if len(conflicts) > 0 {
			return workload.Order{}, fmt.Errorf("order %d: %w", o.ID, workload.ErrConflict)
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE workload_orders
		SET instances = ?, memory_mb = ?, status = ?, updated_at = ?
		WHERE id = ? AND workload_id = ? AND status = ?
	`, o.Instances, o.MemoryMB, string(o.Status), updatedAt, o.ID, o.WorkloadID, string(expect))
	if err != nil {
		return workload.Order{}, fmt.Errorf("update order: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return workload.Order{}, fmt.Errorf("update order: %w", err)
	}

	current, err := getOrder(ctx, tx, o.WorkloadID, o.ID)
	if err != nil {
		return workload.Order{}, err
	}
	if affected == 0 {
		return workload.Order{}, fmt.Errorf("order %d is %s, expected %s: %w", o.ID, current.Status, expect, workload.ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return workload.Order{}, fmt.Errorf("update order: commit: %w", err)
	}
	return current, nil
}

func getOrder(ctx context.Context, q queryer, workloadID, id int64) (workload.Order, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM workload_orders o
		WHERE o.id = ? AND o.workload_id = ?
	`, id, workloadID)

	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return workload.Order{}, fmt.Errorf("order %d: %w", id, workload.ErrNotFound)
	} else if err != nil {
		return workload.Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func listOrders(ctx context.Context, q queryer, filter workload.OrderFilter) ([]workload.Order, error) {
	conditions := []string{"w.deleted = 0"}
	var args []any

	if filter.Tenant != "" {
		conditions = append(conditions, "w.tenant = ?")
		args = append(args, filter.Tenant)
	}
	if filter.WorkloadID != 0 {
		conditions = append(conditions, "o.workload_id = ?")
		args = append(args, filter.WorkloadID)
	}
	if filter.ExceptID != 0 {
		conditions = append(conditions, "o.id != ?")
		args = append(args, filter.ExceptID)
	}
	if len(filter.Statuses) > 0 {
		conditions = append(conditions, "o.status IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(filter.Statuses)), ", ")+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if filter.PriorityBelow != nil {
		conditions = append(conditions, "w.priority < ?")
		args = append(args, *filter.PriorityBelow)
	}
	if filter.MinInstances != nil {
		conditions = append(conditions, "o.instances >= ?")
		args = append(args, *filter.MinInstances)
	}
	if filter.MaxInstances != nil {
		conditions = append(conditions, "o.instances <= ?")
		args = append(args, *filter.MaxInstances)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM workload_orders o
		JOIN workloads w ON w.id = o.workload_id
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY w.priority ASC, o.id ASC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []workload.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func scanOrder(row scanner) (workload.Order, error) {
	var o workload.Order
	var status string

	if err := row.Scan(&o.ID, &o.WorkloadID, &o.Instances, &o.MemoryMB, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return workload.Order{}, err
	}
	o.Status = workload.OrderStatus(status)
	return o, nil
}
