// Package relay tracks requests to energize the device's relay for a random
// duration. Unlike captures there is no ack stage: the device reports
// completion once the relay has been released.
package relay

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository"
	nuts "github.com/vaudience/go-nuts"
)

type Config struct {
	MinDuration     time.Duration
	MaxDuration     time.Duration
	CompletionGrace time.Duration
}

type Hook func(models.RelayRequest)

type Option func(*Book)

func WithClock(now func() time.Time) Option {
	return func(b *Book) { b.now = now }
}

// WithDurationSource replaces the random activation duration.
func WithDurationSource(next func() time.Duration) Option {
	return func(b *Book) { b.duration = next }
}

func WithHook(h Hook) Option {
	return func(b *Book) { b.hooks = append(b.hooks, h) }
}

type entry struct {
	req          models.RelayRequest
	lastObserved time.Time
}

// Book owns every relay request keyed by seq.
type Book struct {
	mu       sync.Mutex
	entries  map[int64]*entry
	ledger   repository.SequenceLedger
	cfg      Config
	now      func() time.Time
	duration func() time.Duration
	hooks    []Hook
}

func NewBook(ledger repository.SequenceLedger, cfg Config, opts ...Option) *Book {
	b := &Book{
		entries: make(map[int64]*entry),
		ledger:  ledger,
		cfg:     cfg,
		now:     time.Now,
	}
	b.duration = b.randomDuration
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Book) randomDuration() time.Duration {
	span := int64(b.cfg.MaxDuration - b.cfg.MinDuration)
	d := b.cfg.MinDuration
	if span > 0 {
		d += time.Duration(rand.Int64N(span + 1))
	}
	return d.Round(time.Millisecond)
}

// Activate allocates the next relay seq with a fresh random duration.
func (b *Book) Activate(ctx context.Context) (models.RelayRequest, error) {
	b.mu.Lock()
	seq, err := b.ledger.Allocate(ctx, models.KindRelay)
	if err != nil {
		b.mu.Unlock()
		return models.RelayRequest{}, fmt.Errorf("allocate relay seq: %w", err)
	}
	now := b.now()
	d := b.duration()
	req := models.RelayRequest{
		ID:        nuts.NID("rly", 12),
		Seq:       seq,
		State:     models.RelayRequested,
		Duration:  d,
		CreatedAt: now,
		Deadline:  now.Add(d + b.cfg.CompletionGrace),
	}
	b.entries[seq] = &entry{req: req, lastObserved: now}
	b.mu.Unlock()

	nuts.L.Infof("[Relay] Activation requested seq=%d duration=%v", seq, d)
	b.notify(req)
	return req, nil
}

// Lookup returns the request for seq after applying its deadline.
func (b *Book) Lookup(seq int64) (models.RelayRequest, bool) {
	b.mu.Lock()
	e, ok := b.entries[seq]
	if !ok {
		b.mu.Unlock()
		return models.RelayRequest{}, false
	}
	now := b.now()
	expired := b.expireLocked(e, now)
	e.lastObserved = now
	snap := e.req
	b.mu.Unlock()

	if expired {
		b.notify(snap)
	}
	return snap, true
}

// Peek returns the request for seq without touching its observation time.
func (b *Book) Peek(seq int64) (models.RelayRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[seq]
	if !ok {
		return models.RelayRequest{}, false
	}
	return e.req, true
}

// Complete records that the device ran the relay for seq. The ledger is
// acknowledged even when the request is unknown or already terminal so the
// watermark follows what the device actually did.
func (b *Book) Complete(ctx context.Context, seq int64) bool {
	if err := b.ledger.Acknowledge(ctx, models.KindRelay, seq); err != nil {
		nuts.L.Errorf("[Relay] Failed to acknowledge seq=%d: %v", seq, err)
	}

	b.mu.Lock()
	e, ok := b.entries[seq]
	if !ok {
		b.mu.Unlock()
		nuts.L.Warnf("[Relay] Completion for unknown seq=%d", seq)
		return false
	}
	now := b.now()
	var fired []models.RelayRequest
	if b.expireLocked(e, now) {
		fired = append(fired, e.req)
	}
	if e.req.State != models.RelayRequested {
		state := e.req.State
		b.mu.Unlock()
		nuts.L.Warnf("[Relay] Completion ignored seq=%d state=%s", seq, state)
		b.notify(fired...)
		return false
	}
	e.req.State = models.RelayDone
	e.req.CompletedAt = now
	snap := e.req
	b.mu.Unlock()

	nuts.L.Infof("[Relay] Completed seq=%d", seq)
	b.notify(snap)
	return true
}

func (b *Book) Sweep() []models.RelayRequest {
	b.mu.Lock()
	now := b.now()
	var fired []models.RelayRequest
	for _, e := range b.entries {
		if b.expireLocked(e, now) {
			fired = append(fired, e.req)
		}
	}
	b.mu.Unlock()

	for _, req := range fired {
		nuts.L.Infof("[Relay] Timed out seq=%d", req.Seq)
	}
	b.notify(fired...)
	return fired
}

func (b *Book) Collect(idle time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	removed := 0
	for seq, e := range b.entries {
		if !e.req.State.IsTerminal() || now.Sub(e.lastObserved) < idle {
			continue
		}
		delete(b.entries, seq)
		removed++
	}
	return removed
}

func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *Book) expireLocked(e *entry, now time.Time) bool {
	if e.req.State.IsTerminal() || now.Before(e.req.Deadline) {
		return false
	}
	e.req.State = models.RelayTimedOut
	e.req.TimedOutAt = now
	return true
}

func (b *Book) notify(reqs ...models.RelayRequest) {
	for _, req := range reqs {
		for _, h := range b.hooks {
			h(req)
		}
	}
}
