package placement

import (
	"context"

	"github.com/limiquantix/placement/internal/domain"
)

// Cursor is a monotonically increasing counter shared by several ledgers,
// for example across control plane replicas.
type Cursor interface {
	// Advance increments the counter and returns its previous value.
	Advance(ctx context.Context) (int64, error)
}

// WithCursor returns a Ledger that keeps history in ledger but takes its
// round-robin positions from cursor.
func WithCursor(ledger Ledger, cursor Cursor) Ledger {
	return &cursorLedger{Ledger: ledger, cursor: cursor}
}

type cursorLedger struct {
	Ledger
	cursor Cursor
}

func (l *cursorLedger) NextRoundRobinIndex(ctx context.Context, activeCount int) (int, error) {
	if activeCount <= 0 {
		return 0, domain.ErrNoHostsAvailable
	}
	value, err := l.cursor.Advance(ctx)
	if err != nil {
		return 0, err
	}
	return CursorIndex(value, activeCount), nil
}

// CursorIndex maps a raw cursor value onto [0, activeCount).
func CursorIndex(value int64, activeCount int) int {
	index := value % int64(activeCount)
	if index < 0 {
		index += int64(activeCount)
	}
	return int(index)
}
