package relay_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/ledger"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/relay"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var cfg = relay.Config{MinDuration: 2 * time.Second, MaxDuration: 6 * time.Second, CompletionGrace: 15 * time.Second}

func TestActivate_DurationWithinBounds(t *testing.T) {
	b := relay.NewBook(ledger.New(), cfg)
	for i := 0; i < 100; i++ {
		req, err := b.Activate(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if req.Duration < cfg.MinDuration || req.Duration > cfg.MaxDuration {
			t.Fatalf("duration %v outside [%v, %v]", req.Duration, cfg.MinDuration, cfg.MaxDuration)
		}
		if req.Seq != int64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, req.Seq)
		}
	}
}

func TestComplete_DoneAndAcknowledged(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()
	b := relay.NewBook(l, cfg)

	req, err := b.Activate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Complete(ctx, req.Seq) {
		t.Fatal("expected completion to succeed")
	}
	if b.Complete(ctx, req.Seq) {
		t.Fatal("expected repeated completion to be a no-op")
	}
	got, ok := b.Lookup(req.Seq)
	if !ok || got.State != models.RelayDone {
		t.Fatalf("expected DONE, got %v", got.State)
	}
	_, lastSeen, _ := l.Watermark(ctx, models.KindRelay)
	if lastSeen != req.Seq {
		t.Fatalf("expected last_seen %d, got %d", req.Seq, lastSeen)
	}
}

func TestSweep_TimesOutAfterDurationPlusGrace(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := relay.NewBook(ledger.New(), cfg,
		relay.WithClock(clock.Now),
		relay.WithDurationSource(func() time.Duration { return 3 * time.Second }),
	)

	req, err := b.Activate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	clock.Advance(17 * time.Second)
	if n := len(b.Sweep()); n != 0 {
		t.Fatalf("expected no timeout before 18s, got %d", n)
	}
	clock.Advance(time.Second)
	if n := len(b.Sweep()); n != 1 {
		t.Fatalf("expected one timeout, got %d", n)
	}
	if b.Complete(ctx, req.Seq) {
		t.Fatal("expected late completion to be rejected")
	}
	got, _ := b.Lookup(req.Seq)
	if got.State != models.RelayTimedOut {
		t.Fatalf("expected TIMED_OUT, got %s", got.State)
	}
}

func TestCollect(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	b := relay.NewBook(ledger.New(), cfg, relay.WithClock(clock.Now))

	done, _ := b.Activate(ctx)
	b.Complete(ctx, done.Seq)
	open, _ := b.Activate(ctx)

	clock.Advance(5 * time.Second)
	if n := b.Collect(time.Second); n != 1 {
		t.Fatalf("expected 1 collected, got %d", n)
	}
	if _, ok := b.Peek(open.Seq); !ok {
		t.Fatal("expected open request to be kept")
	}
}

func TestHooksFireOnEveryTransition(t *testing.T) {
	ctx := context.Background()
	var states []models.RelayState
	b := relay.NewBook(ledger.New(), cfg, relay.WithHook(func(r models.RelayRequest) {
		states = append(states, r.State)
	}))

	req, _ := b.Activate(ctx)
	b.Complete(ctx, req.Seq)

	if len(states) != 2 || states[0] != models.RelayRequested || states[1] != models.RelayDone {
		t.Fatalf("expected [REQUESTED DONE], got %v", states)
	}
}
