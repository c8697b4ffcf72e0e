// Package ledger implements the in-process sequence ledger: one monotonically
// increasing counter per work kind plus the highest sequence a device has
// acknowledged for it.
package ledger

import (
	"context"
	"sync"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/errors"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

type counter struct {
	current  int64
	lastSeen int64
}

// Memory is a mutex-guarded SequenceLedger. The zero value is not usable; use New.
type Memory struct {
	mu       sync.Mutex
	counters map[models.WorkKind]*counter
}

// New returns an empty ledger with both counters at zero.
func New() *Memory {
	return &Memory{
		counters: map[models.WorkKind]*counter{
			models.KindCapture: {},
			models.KindRelay:   {},
		},
	}
}

func (l *Memory) lookup(kind models.WorkKind) (*counter, error) {
	c, ok := l.counters[kind]
	if !ok {
		return nil, errors.NewValidationError("unknown work kind: "+string(kind), nil)
	}
	return c, nil
}

func (l *Memory) Allocate(ctx context.Context, kind models.WorkKind) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.lookup(kind)
	if err != nil {
		return 0, err
	}
	c.current++
	return c.current, nil
}

func (l *Memory) Poll(ctx context.Context, kind models.WorkKind, since int64) (bool, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.lookup(kind)
	if err != nil {
		return false, since, err
	}
	if c.current > since {
		return true, c.current, nil
	}
	return false, since, nil
}

func (l *Memory) Acknowledge(ctx context.Context, kind models.WorkKind, seq int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.lookup(kind)
	if err != nil {
		return err
	}
	if seq > c.current {
		nuts.L.Warnf("[Ledger] %s ack for seq %d beyond counter %d, clamping", kind, seq, c.current)
		seq = c.current
	}
	if seq > c.lastSeen {
		c.lastSeen = seq
	}
	return nil
}

func (l *Memory) Watermark(ctx context.Context, kind models.WorkKind) (int64, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.lookup(kind)
	if err != nil {
		return 0, 0, err
	}
	return c.current, c.lastSeen, nil
}

func (l *Memory) Seed(ctx context.Context, kind models.WorkKind, seq int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.lookup(kind)
	if err != nil {
		return err
	}
	if seq > c.current {
		c.current = seq
	}
	return nil
}
