// Package capture tracks operator capture requests through
// REQUESTED -> ACKED -> PUBLISHED, or TIMED_OUT when a stage deadline passes.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository"
	nuts "github.com/vaudience/go-nuts"
)

// Config holds the per-stage deadlines. AckDeadline runs from creation,
// PublishDeadline from the moment the device acknowledged.
type Config struct {
	AckDeadline     time.Duration
	PublishDeadline time.Duration
}

// TransitionHook is called with a snapshot after every state change,
// including creation. Hooks run outside the machine lock.
type TransitionHook func(models.CaptureRequest)

type Option func(*Machine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithTokenSource replaces the random token generator.
func WithTokenSource(next func() string) Option {
	return func(m *Machine) { m.newToken = next }
}

// WithHook registers a transition hook.
func WithHook(h TransitionHook) Option {
	return func(m *Machine) { m.hooks = append(m.hooks, h) }
}

type record struct {
	req          models.CaptureRequest
	lastObserved time.Time
}

// Machine owns every capture record. All methods are safe for concurrent use.
type Machine struct {
	mu       sync.Mutex
	records  map[string]*record
	bySeq    map[int64]string
	ledger   repository.SequenceLedger
	gate     repository.ArtifactGate
	cfg      Config
	now      func() time.Time
	newToken func() string
	hooks    []TransitionHook
}

func NewMachine(ledger repository.SequenceLedger, gate repository.ArtifactGate, cfg Config, opts ...Option) *Machine {
	m := &Machine{
		records:  make(map[string]*record),
		bySeq:    make(map[int64]string),
		ledger:   ledger,
		gate:     gate,
		cfg:      cfg,
		now:      time.Now,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create allocates the next capture seq and registers a REQUESTED record.
// Allocation and registration happen under one lock so a device that sees the
// new seq can always resolve its token.
func (m *Machine) Create(ctx context.Context) (models.CaptureRequest, error) {
	m.mu.Lock()
	seq, err := m.ledger.Allocate(ctx, models.KindCapture)
	if err != nil {
		m.mu.Unlock()
		return models.CaptureRequest{}, fmt.Errorf("allocate capture seq: %w", err)
	}
	now := m.now()
	req := models.CaptureRequest{
		Token:     m.newToken(),
		Seq:       seq,
		State:     models.CaptureRequested,
		CreatedAt: now,
		Deadline:  now.Add(m.cfg.AckDeadline),
	}
	m.records[req.Token] = &record{req: req, lastObserved: now}
	m.bySeq[seq] = req.Token
	m.mu.Unlock()

	nuts.L.Infof("[Capture] Requested seq=%d token=%s", seq, req.Token)
	m.notify(req)
	return req, nil
}

// Ack moves a REQUESTED capture to ACKED. Anything else is a no-op that
// returns false: duplicate acks from retried polls, unknown tokens and acks
// arriving after the deadline.
func (m *Machine) Ack(ctx context.Context, token string) bool {
	m.mu.Lock()
	rec, ok := m.records[token]
	if !ok {
		m.mu.Unlock()
		nuts.L.Warnf("[Capture] Ack for unknown token=%s", token)
		return false
	}
	now := m.now()
	var fired []models.CaptureRequest
	if m.expireLocked(rec, now) {
		fired = append(fired, rec.req)
	}
	if rec.req.State != models.CaptureRequested {
		state := rec.req.State
		m.mu.Unlock()
		nuts.L.Warnf("[Capture] Ack ignored token=%s state=%s", token, state)
		m.notify(fired...)
		return false
	}
	rec.req.State = models.CaptureAcked
	rec.req.AckedAt = now
	rec.req.Deadline = now.Add(m.cfg.PublishDeadline)
	snap := rec.req
	m.mu.Unlock()

	if err := m.ledger.Acknowledge(ctx, models.KindCapture, snap.Seq); err != nil {
		nuts.L.Errorf("[Capture] Failed to acknowledge seq=%d: %v", snap.Seq, err)
	}
	nuts.L.Infof("[Capture] Acked seq=%d token=%s", snap.Seq, token)
	m.notify(snap)
	return true
}

// Publish hands an uploaded artifact to an ACKED capture. The gate decides
// freshness; a superseded artifact leaves the record untouched. The returned
// error is reserved for gate backend failures.
func (m *Machine) Publish(ctx context.Context, token string, imageTS int64, imageRef string) (models.PublishOutcome, error) {
	m.mu.Lock()
	rec, ok := m.records[token]
	if !ok {
		m.mu.Unlock()
		nuts.L.Warnf("[Capture] Publish for unknown token=%s", token)
		return models.PublishInvalidState, nil
	}
	now := m.now()
	var fired []models.CaptureRequest
	if m.expireLocked(rec, now) {
		fired = append(fired, rec.req)
	}
	if rec.req.State != models.CaptureAcked {
		state := rec.req.State
		m.mu.Unlock()
		nuts.L.Warnf("[Capture] Publish ignored token=%s state=%s", token, state)
		m.notify(fired...)
		return models.PublishInvalidState, nil
	}

	// The lock stays held across the gate so the record cannot change state
	// between the gate accepting its artifact and the PUBLISHED transition.
	accepted, err := m.gate.TryPublish(ctx, models.Artifact{TS: imageTS, Ref: imageRef})
	if err != nil {
		m.mu.Unlock()
		return models.PublishInvalidState, fmt.Errorf("publish artifact: %w", err)
	}
	if !accepted {
		m.mu.Unlock()
		nuts.L.Infof("[Capture] Artifact ts=%d for token=%s superseded, discarding", imageTS, token)
		return models.PublishSuperseded, nil
	}
	rec.req.State = models.CapturePublished
	rec.req.PublishedAt = now
	rec.req.ImageTS = imageTS
	rec.req.ImageRef = imageRef
	snap := rec.req
	m.mu.Unlock()

	nuts.L.Infof("[Capture] Published seq=%d token=%s ts=%d", snap.Seq, token, imageTS)
	m.notify(snap)
	return models.PublishAccepted, nil
}

// Query returns a snapshot of the record, applying its deadline first.
func (m *Machine) Query(token string) (models.CaptureRequest, bool) {
	m.mu.Lock()
	rec, ok := m.records[token]
	if !ok {
		m.mu.Unlock()
		return models.CaptureRequest{}, false
	}
	now := m.now()
	expired := m.expireLocked(rec, now)
	rec.lastObserved = now
	snap := rec.req
	m.mu.Unlock()

	if expired {
		m.notify(snap)
	}
	return snap, true
}

// TokenForSeq resolves the token of the capture that was allocated seq.
func (m *Machine) TokenForSeq(seq int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.bySeq[seq]
	return token, ok
}

// Sweep times out every record whose stage deadline has elapsed and returns
// the records it changed.
func (m *Machine) Sweep() []models.CaptureRequest {
	m.mu.Lock()
	now := m.now()
	var fired []models.CaptureRequest
	for _, rec := range m.records {
		if m.expireLocked(rec, now) {
			fired = append(fired, rec.req)
		}
	}
	m.mu.Unlock()

	for _, req := range fired {
		nuts.L.Infof("[Capture] Timed out seq=%d token=%s", req.Seq, req.Token)
	}
	m.notify(fired...)
	return fired
}

// Collect drops terminal records nobody has queried for at least idle.
func (m *Machine) Collect(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for token, rec := range m.records {
		if !rec.req.State.IsTerminal() || now.Sub(rec.lastObserved) < idle {
			continue
		}
		delete(m.records, token)
		delete(m.bySeq, rec.req.Seq)
		removed++
	}
	return removed
}

// Len returns the number of tracked records.
func (m *Machine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *Machine) expireLocked(rec *record, now time.Time) bool {
	if rec.req.State.IsTerminal() || now.Before(rec.req.Deadline) {
		return false
	}
	rec.req.State = models.CaptureTimedOut
	rec.req.TimedOutAt = now
	return true
}

func (m *Machine) notify(reqs ...models.CaptureRequest) {
	for _, req := range reqs {
		for _, h := range m.hooks {
			h(req)
		}
	}
}
