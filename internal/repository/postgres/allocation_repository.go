package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/placement"
)

// Ensure AllocationRepository implements placement.Ledger
var _ placement.Ledger = (*AllocationRepository)(nil)

const roundRobinCursor = "round_robin"

// AllocationRepository implements placement.Ledger using PostgreSQL.
type AllocationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAllocationRepository creates a new PostgreSQL allocation ledger.
func NewAllocationRepository(db *DB, logger *zap.Logger) *AllocationRepository {
	return &AllocationRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "allocation")),
	}
}

const allocationColumns = `id, vm_id, host_id, policy, created_at`

// Record appends an allocation. The vm_id primary key rejects reuse.
func (r *AllocationRepository) Record(ctx context.Context, vmID, hostID, policy string) (*domain.Allocation, error) {
	query := `
		INSERT INTO allocations (id, vm_id, host_id, policy)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + allocationColumns

	a, err := scanAllocation(r.db.pool.QueryRow(ctx, query, uuid.New().String(), vmID, hostID, policy))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		r.logger.Error("Failed to record allocation", zap.String("vm_id", vmID), zap.Error(err))
		return nil, fmt.Errorf("failed to insert allocation: %w", err)
	}
	return a, nil
}

// Get retrieves the allocation for vmID.
func (r *AllocationRepository) Get(ctx context.Context, vmID string) (*domain.Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM allocations WHERE vm_id = $1`

	a, err := scanAllocation(r.db.pool.QueryRow(ctx, query, vmID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get allocation: %w", err)
	}
	return a, nil
}

// List returns allocations in commit order.
func (r *AllocationRepository) List(ctx context.Context, filter domain.AllocationFilter) ([]*domain.Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM allocations`
	var args []interface{}
	if filter.HostID != "" {
		query += ` WHERE host_id = $1`
		args = append(args, filter.HostID)
	}
	query += ` ORDER BY seq`

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	var result []*domain.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// CountByHost returns the number of allocations recorded for hostID.
func (r *AllocationRepository) CountByHost(ctx context.Context, hostID string) (int, error) {
	var count int
	err := r.db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM allocations WHERE host_id = $1`, hostID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count allocations: %w", err)
	}
	return count, nil
}

// NextRoundRobinIndex advances the stored cursor in one upsert and maps its
// previous value onto activeCount.
func (r *AllocationRepository) NextRoundRobinIndex(ctx context.Context, activeCount int) (int, error) {
	if activeCount <= 0 {
		return 0, domain.ErrNoHostsAvailable
	}

	query := `
		INSERT INTO placement_cursors (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = placement_cursors.value + 1
		RETURNING value - 1`

	var previous int64
	if err := r.db.pool.QueryRow(ctx, query, roundRobinCursor).Scan(&previous); err != nil {
		return 0, fmt.Errorf("failed to advance round-robin cursor: %w", err)
	}
	return placement.CursorIndex(previous, activeCount), nil
}

func scanAllocation(row pgx.Row) (*domain.Allocation, error) {
	a := &domain.Allocation{}
	if err := row.Scan(&a.ID, &a.VMID, &a.HostID, &a.Policy, &a.CreatedAt); err != nil {
		return nil, err
	}
	return a, nil
}
