package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/placement"
)

// Ensure AllocationRepository implements placement.Ledger
var _ placement.Ledger = (*AllocationRepository)(nil)

const roundRobinCursor = "round_robin"

// AllocationRepository implements placement.Ledger on SQLite.
type AllocationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAllocationRepository creates a new SQLite allocation ledger.
func NewAllocationRepository(db *DB, logger *zap.Logger) *AllocationRepository {
	return &AllocationRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "allocation")),
	}
}

const allocationColumns = `id, vm_id, host_id, policy, created_at`

// Record appends an allocation. The unique vm_id rejects reuse.
func (r *AllocationRepository) Record(ctx context.Context, vmID, hostID, policy string) (*domain.Allocation, error) {
	a := &domain.Allocation{
		ID:     uuid.New().String(),
		VMID:   vmID,
		HostID: hostID,
		Policy: policy,
	}
	created := toUnix(time.Now())

	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO allocations (id, vm_id, host_id, policy, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.VMID, a.HostID, a.Policy, created,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		r.logger.Error("Failed to record allocation", zap.String("vm_id", vmID), zap.Error(err))
		return nil, fmt.Errorf("insert allocation: %w", err)
	}

	a.CreatedAt = fromUnix(created)
	return a, nil
}

// Get retrieves the allocation for vmID.
func (r *AllocationRepository) Get(ctx context.Context, vmID string) (*domain.Allocation, error) {
	row := r.db.conn.QueryRowContext(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE vm_id = ?`, vmID)

	a, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get allocation: %w", err)
	}
	return a, nil
}

// List returns allocations in commit order.
func (r *AllocationRepository) List(ctx context.Context, filter domain.AllocationFilter) ([]*domain.Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM allocations`
	var args []interface{}
	if filter.HostID != "" {
		query += ` WHERE host_id = ?`
		args = append(args, filter.HostID)
	}
	query += ` ORDER BY seq`

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	defer rows.Close()

	var result []*domain.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allocation: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// CountByHost returns the number of allocations recorded for hostID.
func (r *AllocationRepository) CountByHost(ctx context.Context, hostID string) (int, error) {
	var count int
	if err := r.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM allocations WHERE host_id = ?`, hostID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count allocations: %w", err)
	}
	return count, nil
}

// NextRoundRobinIndex advances the stored cursor in one upsert and maps its
// previous value onto activeCount.
func (r *AllocationRepository) NextRoundRobinIndex(ctx context.Context, activeCount int) (int, error) {
	if activeCount <= 0 {
		return 0, domain.ErrNoHostsAvailable
	}

	var previous int64
	err := r.db.conn.QueryRowContext(ctx,
		`INSERT INTO placement_cursors (name, value) VALUES (?, 1)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1
		 RETURNING value - 1`,
		roundRobinCursor,
	).Scan(&previous)
	if err != nil {
		return 0, fmt.Errorf("advance round-robin cursor: %w", err)
	}
	return placement.CursorIndex(previous, activeCount), nil
}

func scanAllocation(row scanner) (*domain.Allocation, error) {
	a := &domain.Allocation{}
	var created int64
	if err := row.Scan(&a.ID, &a.VMID, &a.HostID, &a.Policy, &created); err != nil {
		return nil, err
	}
	a.CreatedAt = fromUnix(created)
	return a, nil
}
