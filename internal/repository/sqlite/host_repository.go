package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/placement"
)

// Ensure HostRepository implements placement.HostRegistry
var _ placement.HostRegistry = (*HostRepository)(nil)

// HostRepository implements placement.HostRegistry on SQLite.
type HostRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewHostRepository creates a new SQLite host repository.
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

	now := toUnix(time.Now())
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO hosts (id, cpu_usage, ram_usage, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, h.CPUUsage, h.RAMUsage, string(h.Status), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert host: %w", err)
	}

	r.logger.Info("Registered host", zap.String("host_id", h.ID))

	stored := h.Clone()
	stored.CreatedAt = fromUnix(now)
	stored.UpdatedAt = stored.CreatedAt
	return stored, nil
}

// Deregister removes a host. Its allocations stay in the ledger.
func (r *HostRepository) Deregister(ctx context.Context, id string) error {
	res, err := r.db.conn.ExecContext(ctx, `DELETE FROM hosts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete host: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
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

	row := r.db.conn.QueryRowContext(ctx,
		`UPDATE hosts SET cpu_usage = ?, ram_usage = ?, status = ?, updated_at = ?
		 WHERE id = ? RETURNING `+hostColumns,
		cpu, ram, string(status), toUnix(time.Now()), id,
	)

	h, err := scanHost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update host: %w", err)
	}
	return h, nil
}

// ActiveHosts returns active hosts in registration order.
func (r *HostRepository) ActiveHosts(ctx context.Context) ([]*domain.Host, error) {
	return r.query(ctx, `SELECT `+hostColumns+` FROM hosts WHERE status = ? ORDER BY seq`, string(domain.HostStatusActive))
}

// Get retrieves a host by ID.
func (r *HostRepository) Get(ctx context.Context, id string) (*domain.Host, error) {
	h, err := scanHost(r.db.conn.QueryRowContext(ctx, `SELECT `+hostColumns+` FROM hosts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get host: %w", err)
	}
	return h, nil
}

// List returns all hosts in registration order.
func (r *HostRepository) List(ctx context.Context) ([]*domain.Host, error) {
	return r.query(ctx, `SELECT `+hostColumns+` FROM hosts ORDER BY seq`)
}

func (r *HostRepository) query(ctx context.Context, query string, args ...interface{}) ([]*domain.Host, error) {
	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []*domain.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanHost(row scanner) (*domain.Host, error) {
	h := &domain.Host{}
	var status string
	var created, updated int64
	if err := row.Scan(&h.ID, &h.CPUUsage, &h.RAMUsage, &status, &created, &updated); err != nil {
		return nil, err
	}
	h.Status = domain.HostStatus(status)
	h.CreatedAt = fromUnix(created)
	h.UpdatedAt = fromUnix(updated)
	return h, nil
}
