package ledger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/errors"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/ledger"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
)

func TestAllocate_StrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()

	var prev int64
	for i := 0; i < 50; i++ {
		seq, err := l.Allocate(ctx, models.KindCapture)
		if err != nil {
			t.Fatal(err)
		}
		if seq <= prev {
			t.Fatalf("expected seq > %d, got %d", prev, seq)
		}
		prev = seq
	}
}

func TestAllocate_KindsAreIndependent(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()

	for i := 0; i < 3; i++ {
		if _, err := l.Allocate(ctx, models.KindCapture); err != nil {
			t.Fatal(err)
		}
	}
	seq, err := l.Allocate(ctx, models.KindRelay)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 1 {
		t.Fatalf("expected first relay seq 1, got %d", seq)
	}
}

func TestPoll_PendingIffSinceBelowCurrent(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()

	for i := 0; i < 5; i++ {
		if _, err := l.Allocate(ctx, models.KindCapture); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		since   int64
		pending bool
		seq     int64
	}{
		{since: 0, pending: true, seq: 5},
		{since: 4, pending: true, seq: 5},
		{since: 5, pending: false, seq: 5},
		{since: 9, pending: false, seq: 9},
	}
	for _, tc := range cases {
		pending, seq, err := l.Poll(ctx, models.KindCapture, tc.since)
		if err != nil {
			t.Fatal(err)
		}
		if pending != tc.pending || seq != tc.seq {
			t.Fatalf("since=%d: expected (%v, %d), got (%v, %d)", tc.since, tc.pending, tc.seq, pending, seq)
		}
	}
}

func TestPoll_DoesNotAcknowledge(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()
	if _, err := l.Allocate(ctx, models.KindCapture); err != nil {
		t.Fatal(err)
	}

	if _, _, err := l.Poll(ctx, models.KindCapture, 0); err != nil {
		t.Fatal(err)
	}
	_, lastSeen, err := l.Watermark(ctx, models.KindCapture)
	if err != nil {
		t.Fatal(err)
	}
	if lastSeen != 0 {
		t.Fatalf("expected poll to leave last_seen at 0, got %d", lastSeen)
	}
}

func TestAcknowledge_Idempotent(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()
	for i := 0; i < 3; i++ {
		if _, err := l.Allocate(ctx, models.KindCapture); err != nil {
			t.Fatal(err)
		}
	}

	if err := l.Acknowledge(ctx, models.KindCapture, 2); err != nil {
		t.Fatal(err)
	}
	if err := l.Acknowledge(ctx, models.KindCapture, 2); err != nil {
		t.Fatal(err)
	}
	if err := l.Acknowledge(ctx, models.KindCapture, 1); err != nil {
		t.Fatal(err)
	}

	current, lastSeen, err := l.Watermark(ctx, models.KindCapture)
	if err != nil {
		t.Fatal(err)
	}
	if lastSeen != 2 {
		t.Fatalf("expected last_seen 2, got %d", lastSeen)
	}
	if current != 3 {
		t.Fatalf("expected current 3, got %d", current)
	}
}

func TestAcknowledge_ClampsToCounter(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()
	if _, err := l.Allocate(ctx, models.KindRelay); err != nil {
		t.Fatal(err)
	}

	if err := l.Acknowledge(ctx, models.KindRelay, 40); err != nil {
		t.Fatal(err)
	}
	current, lastSeen, err := l.Watermark(ctx, models.KindRelay)
	if err != nil {
		t.Fatal(err)
	}
	if lastSeen > current {
		t.Fatalf("expected last_seen <= current, got %d > %d", lastSeen, current)
	}
}

func TestSeed_OnlyRaises(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()

	if err := l.Seed(ctx, models.KindCapture, 41); err != nil {
		t.Fatal(err)
	}
	if err := l.Seed(ctx, models.KindCapture, 7); err != nil {
		t.Fatal(err)
	}
	seq, err := l.Allocate(ctx, models.KindCapture)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 42 {
		t.Fatalf("expected 42 after seeding 41, got %d", seq)
	}
}

func TestUnknownKind(t *testing.T) {
	_, err := ledger.New().Allocate(context.Background(), models.WorkKind("valve"))
	if !errors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAllocate_Concurrent(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()

	const workers, perWorker = 8, 100
	seen := make(chan int64, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				seq, err := l.Allocate(ctx, models.KindCapture)
				if err != nil {
					t.Error(err)
					return
				}
				seen <- seq
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for seq := range seen {
		if unique[seq] {
			t.Fatalf("seq %d allocated twice", seq)
		}
		unique[seq] = true
	}
	if len(unique) != workers*perWorker {
		t.Fatalf("expected %d unique seqs, got %d", workers*perWorker, len(unique))
	}
}
