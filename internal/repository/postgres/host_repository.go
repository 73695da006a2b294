package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/placement"
)

// Ensure HostRepository implements placement.HostRegistry
var _ placement.HostRegistry = (*HostRepository)(nil)

// HostRepository implements placement.HostRegistry using PostgreSQL.
// The seq column preserves registration order.
type HostRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewHostRepository creates a new PostgreSQL host repository.
func NewHostRepository(db *DB, logger *zap.Logger) *HostRepository {
	return &HostRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "host")),
	}
}

const hostColumns = `id, cpu_usage, ram_usage, status, created_at, updated_at`

// Register stores a new host.
func (r *HostRepository) Register(ctx context.Context, h *domain.Host) (*domain.Host, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO hosts (id, cpu_usage, ram_usage, status)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + hostColumns

	stored, err := scanHost(r.db.pool.QueryRow(ctx, query, h.ID, h.CPUUsage, h.RAMUsage, string(h.Status)))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		r.logger.Error("Failed to register host", zap.String("host_id", h.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to insert host: %w", err)
	}

	r.logger.Info("Registered host", zap.String("host_id", h.ID))
	return stored, nil
}

// Deregister removes a host. Its allocations stay in the ledger.
func (r *HostRepository) Deregister(ctx context.Context, id string) error {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM hosts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete host: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Info("Deregistered host", zap.String("host_id", id))
	return nil
}

// UpdateStatus replaces the usage and status of a host in a single statement.
func (r *HostRepository) UpdateStatus(ctx context.Context, id string, cpu, ram float64, status domain.HostStatus) (*domain.Host, error) {
	if err := domain.ValidateUsage(cpu, ram, status); err != nil {
		return nil, err
	}

	query := `
		UPDATE hosts
		SET cpu_usage = $2, ram_usage = $3, status = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + hostColumns

	h, err := scanHost(r.db.pool.QueryRow(ctx, query, id, cpu, ram, string(status)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update host: %w", err)
	}
	return h, nil
}

// ActiveHosts returns active hosts in registration order.
func (r *HostRepository) ActiveHosts(ctx context.Context) ([]*domain.Host, error) {
	query := `SELECT ` + hostColumns + ` FROM hosts WHERE status = 'active' ORDER BY seq`
	return r.query(ctx, query)
}

// Get retrieves a host by ID.
func (r *HostRepository) Get(ctx context.Context, id string) (*domain.Host, error) {
	query := `SELECT ` + hostColumns + ` FROM hosts WHERE id = $1`

	h, err := scanHost(r.db.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get host: %w", err)
	}
	return h, nil
}

// List returns all hosts in registration order.
func (r *HostRepository) List(ctx context.Context) ([]*domain.Host, error) {
	return r.query(ctx, `SELECT `+hostColumns+` FROM hosts ORDER BY seq`)
}

func (r *HostRepository) query(ctx context.Context, query string, args ...interface{}) ([]*domain.Host, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []*domain.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

func scanHost(row pgx.Row) (*domain.Host, error) {
	h := &domain.Host{}
	var status string
	if err := row.Scan(&h.ID, &h.CPUUsage, &h.RAMUsage, &status, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	h.Status = domain.HostStatus(status)
	return h, nil
}
