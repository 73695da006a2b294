package etcd

import (
	"context"
	"fmt"
	"strconv"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/placement"
)

// Ensure Cursor implements placement.Cursor
var _ placement.Cursor = (*Cursor)(nil)

// Cursor is a round-robin counter stored under a single etcd key and shared
// by every replica that points at the same key.
type Cursor struct {
	kv     clientv3.KV
	key    string
	logger *zap.Logger
}

// NewCursor returns a cursor stored at key.
func (c *Client) NewCursor(key string) *Cursor {
	return NewCursorWithKV(c.client, key, c.logger)
}

// NewCursorWithKV returns a cursor over an arbitrary KV, such as a
// namespaced one.
func NewCursorWithKV(kv clientv3.KV, key string, logger *zap.Logger) *Cursor {
	return &Cursor{
		kv:     kv,
		key:    key,
		logger: logger.With(zap.String("component", "etcd-cursor"), zap.String("key", key)),
	}
}

// Advance increments the counter with a compare-and-swap on the key's
// ModRevision and returns the value it replaced. A missing key counts as 0.
func (c *Cursor) Advance(ctx context.Context) (int64, error) {
	for attempt := 1; ; attempt++ {
		resp, err := c.kv.Get(ctx, c.key)
		if err != nil {
			return 0, fmt.Errorf("failed to read cursor: %w", err)
		}

		var current, revision int64
		if len(resp.Kvs) > 0 {
			kv := resp.Kvs[0]
			current, err = strconv.ParseInt(string(kv.Value), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("corrupt cursor value %q: %w", kv.Value, err)
			}
			revision = kv.ModRevision
		}

		txn, err := c.kv.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(c.key), "=", revision)).
			Then(clientv3.OpPut(c.key, strconv.FormatInt(current+1, 10))).
			Commit()
		if err != nil {
			return 0, fmt.Errorf("failed to advance cursor: %w", err)
		}
		if txn.Succeeded {
			return current, nil
		}

		c.logger.Debug("Cursor contended, retrying", zap.Int("attempt", attempt))
	}
}
