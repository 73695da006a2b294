// Package etcd coordinates placement replicas through etcd: a shared
// round-robin cursor and a mutex for one-time startup work.
package etcd

import (
	"context"
	"fmt"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/config"
	"github.com/limiquantix/placement/internal/domain"
)

const (
	lockPrefix = "/placement/locks"
	sessionTTL = 30 // seconds
)

// Client holds an etcd connection and the lease-backed session its
// mutexes are bound to. Locks die with the session if the replica crashes.
type Client struct {
	client  *clientv3.Client
	session *concurrency.Session
	logger  *zap.Logger
}

// NewClient connects to the configured endpoints.
func NewClient(cfg config.EtcdConfig, logger *zap.Logger) (*Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	session, err := concurrency.NewSession(client, concurrency.WithTTL(sessionTTL))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	logger = logger.With(zap.String("component", "etcd"))
	logger.Info("Connected to etcd",
		zap.Strings("endpoints", cfg.Endpoints),
		zap.Int64("lease", int64(session.Lease())),
	)

	return &Client{client: client, session: session, logger: logger}, nil
}

// Close revokes the session lease and closes the connection.
func (c *Client) Close() error {
	if err := c.session.Close(); err != nil {
		c.logger.Warn("Failed to revoke etcd session", zap.Error(err))
	}
	return c.client.Close()
}

// Health reports whether the first endpoint answers a status request.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.client.Status(ctx, c.client.Endpoints()[0]); err != nil {
		return fmt.Errorf("%w: etcd: %v", domain.ErrUnavailable, err)
	}
	return nil
}

// WithLock runs fn while holding the replica-wide mutex called name. It
// waits at most timeout to acquire the mutex.
func (c *Client) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	key := path.Join(lockPrefix, name)
	mutex := concurrency.NewMutex(c.session, key)

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	err := mutex.Lock(lockCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	c.logger.Debug("Acquired lock", zap.String("key", key))

	defer func() {
		// The caller's ctx may already be done.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mutex.Unlock(unlockCtx); err != nil {
			c.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}()

	return fn(ctx)
}
