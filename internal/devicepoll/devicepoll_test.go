package devicepoll_test

import (
	"context"
	"testing"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/capture"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/devicepoll"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/gate"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/ledger"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/relay"
)

type fixture struct {
	ledger   *ledger.Memory
	captures *capture.Machine
	relays   *relay.Book
	handler  *devicepoll.Handler
}

func newFixture() *fixture {
	l := ledger.New()
	f := &fixture{
		ledger:   l,
		captures: capture.NewMachine(l, gate.New(), capture.Config{AckDeadline: time.Minute, PublishDeadline: time.Minute}),
		relays:   relay.NewBook(l, relay.Config{MinDuration: time.Second, MaxDuration: time.Second, CompletionGrace: time.Minute}),
	}
	f.handler = devicepoll.NewHandler(l, f.captures, f.relays)
	return f
}

func TestNext_PendingThenCaughtUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	if err := f.ledger.Seed(ctx, models.KindCapture, 4); err != nil {
		t.Fatal(err)
	}

	req, err := f.captures.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if req.Seq != 5 {
		t.Fatalf("expected seq 5, got %d", req.Seq)
	}

	notice, err := f.handler.Next(ctx, models.KindCapture, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !notice.Pending || notice.Seq != 5 {
		t.Fatalf("expected {capture:true, seq:5}, got %+v", notice)
	}
	if notice.Token != req.Token {
		t.Fatalf("expected token %s, got %q", req.Token, notice.Token)
	}

	notice, err = f.handler.Next(ctx, models.KindCapture, 5)
	if err != nil {
		t.Fatal(err)
	}
	if notice.Pending || notice.Seq != 5 {
		t.Fatalf("expected {capture:false, seq:5}, got %+v", notice)
	}
}

func TestNext_IsSideEffectFree(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	req, _ := f.captures.Create(ctx)

	for i := 0; i < 3; i++ {
		if _, err := f.handler.Next(ctx, models.KindCapture, 0); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := f.captures.Query(req.Token)
	if got.State != models.CaptureRequested {
		t.Fatalf("expected polls to leave the request REQUESTED, got %s", got.State)
	}
	_, lastSeen, _ := f.ledger.Watermark(ctx, models.KindCapture)
	if lastSeen != 0 {
		t.Fatalf("expected no acknowledgement from polling, got last_seen %d", lastSeen)
	}
}

func TestNext_RelayCarriesDuration(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	if _, err := f.relays.Activate(ctx); err != nil {
		t.Fatal(err)
	}

	notice, err := f.handler.Next(ctx, models.KindRelay, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !notice.Pending || notice.Seq != 1 || notice.DurationMs != 1000 {
		t.Fatalf("expected pending relay seq 1 for 1000ms, got %+v", notice)
	}
}

func TestNext_UnknownKind(t *testing.T) {
	if _, err := newFixture().handler.Next(context.Background(), "valve", 0); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestAck_ReplayIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	req, _ := f.captures.Create(ctx)

	changed, err := f.handler.Ack(ctx, models.KindCapture, req.Seq, req.Token)
	if err != nil || !changed {
		t.Fatalf("expected first ack to change state, got %v, %v", changed, err)
	}
	changed, err = f.handler.Ack(ctx, models.KindCapture, req.Seq, req.Token)
	if err != nil || changed {
		t.Fatalf("expected replayed ack to be a no-op, got %v, %v", changed, err)
	}
}

func TestAck_BySeqResolvesToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	req, _ := f.captures.Create(ctx)

	changed, err := f.handler.Ack(ctx, models.KindCapture, req.Seq, "")
	if err != nil || !changed {
		t.Fatalf("expected seq-only ack to ack the capture, got %v, %v", changed, err)
	}
	got, _ := f.captures.Query(req.Token)
	if got.State != models.CaptureAcked {
		t.Fatalf("expected ACKED, got %s", got.State)
	}
}

func TestAck_RelayCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	req, _ := f.relays.Activate(ctx)

	changed, err := f.handler.Ack(ctx, models.KindRelay, req.Seq, "")
	if err != nil || !changed {
		t.Fatalf("expected relay completion, got %v, %v", changed, err)
	}
	notice, _ := f.handler.Next(ctx, models.KindRelay, req.Seq)
	if notice.Pending {
		t.Fatal("expected no pending relay work after completion")
	}
}

func TestAck_MissingIdentifiers(t *testing.T) {
	f := newFixture()
	if _, err := f.handler.Ack(context.Background(), models.KindCapture, 0, ""); err == nil {
		t.Fatal("expected validation error without token or seq")
	}
	if _, err := f.handler.Ack(context.Background(), models.KindRelay, 0, ""); err == nil {
		t.Fatal("expected validation error without seq")
	}
}

func TestAck_LateTokenAckStillRaisesWatermark(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	l := ledger.New()
	captures := capture.NewMachine(l, gate.New(),
		capture.Config{AckDeadline: time.Second, PublishDeadline: time.Minute},
		capture.WithClock(func() time.Time { return now }))
	h := devicepoll.NewHandler(l, captures, relay.NewBook(l, relay.Config{MinDuration: time.Second, MaxDuration: time.Second}))

	req, err := captures.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Second)

	changed, err := h.Ack(ctx, models.KindCapture, req.Seq, req.Token)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatal("expected late ack to leave the capture untouched")
	}
	current, lastSeen, _ := l.Watermark(ctx, models.KindCapture)
	if current != 1 || lastSeen != 1 {
		t.Fatalf("expected current=1 last_seen=1, got current=%d last_seen=%d", current, lastSeen)
	}
	got, _ := captures.Query(req.Token)
	if got.State != models.CaptureTimedOut {
		t.Fatalf("expected TIMED_OUT, got %s", got.State)
	}
}

func TestAck_UnknownTokenWithSeqRaisesWatermark(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	req, _ := f.captures.Create(ctx)

	changed, err := f.handler.Ack(ctx, models.KindCapture, req.Seq, "not-a-token")
	if err != nil || changed {
		t.Fatalf("expected unknown token to change nothing, got %v, %v", changed, err)
	}
	_, lastSeen, _ := f.ledger.Watermark(ctx, models.KindCapture)
	if lastSeen != req.Seq {
		t.Fatalf("expected last_seen %d, got %d", req.Seq, lastSeen)
	}
}
