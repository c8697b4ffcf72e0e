package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/capture"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/gate"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/ledger"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/relay"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository/files"
)

type fixture struct {
	svc      *CleanupService
	captures *capture.Machine
	relays   *relay.Book
	gate     *gate.Memory
	dir      string
	clock    *time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	l := ledger.New()
	g := gate.New()
	m := capture.NewMachine(l, g, capture.Config{AckDeadline: 15 * time.Second, PublishDeadline: 25 * time.Second}, capture.WithClock(clock))
	b := relay.NewBook(l, relay.Config{MinDuration: time.Second, MaxDuration: time.Second, CompletionGrace: 5 * time.Second}, relay.WithClock(clock))

	dir := t.TempDir()
	store, err := files.NewFileRepository(files.FileConfig{BasePath: dir, MaxFileSize: 1024})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		svc:      New(m, b, g, store, nil, cfg),
		captures: m,
		relays:   b,
		gate:     g,
		dir:      dir,
		clock:    &now,
	}
}

func TestSweepOnce_TimesOutAndCollects(t *testing.T) {
	f := newFixture(t, Config{RetainFor: time.Minute})
	ctx := context.Background()

	req, err := f.captures.Create(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.relays.Activate(ctx); err != nil {
		t.Fatal(err)
	}

	report := f.svc.SweepOnce(ctx)
	if report.CapturesTimedOut != 0 || report.RelaysTimedOut != 0 {
		t.Fatalf("expected nothing expired yet, got %+v", report)
	}

	*f.clock = f.clock.Add(20 * time.Second)
	report = f.svc.SweepOnce(ctx)
	if report.CapturesTimedOut != 1 || report.RelaysTimedOut != 1 {
		t.Fatalf("expected one capture and one relay timeout, got %+v", report)
	}
	got, _ := f.captures.Query(req.Token)
	if got.State != models.CaptureTimedOut {
		t.Fatalf("expected TIMED_OUT, got %s", got.State)
	}

	// a second sweep must not re-report the same requests
	report = f.svc.SweepOnce(ctx)
	if report.CapturesTimedOut != 0 || report.RecordsDropped != 0 {
		t.Fatalf("expected idle pass, got %+v", report)
	}

	*f.clock = f.clock.Add(2 * time.Minute)
	report = f.svc.SweepOnce(ctx)
	if report.RecordsDropped != 2 {
		t.Fatalf("expected both terminal records dropped, got %+v", report)
	}
	if f.captures.Len() != 0 || f.relays.Len() != 0 {
		t.Fatal("expected empty machines after collection")
	}
}

func TestSweepOnce_PrunesOldArtifactsButKeepsLatest(t *testing.T) {
	f := newFixture(t, Config{RetainFor: time.Minute, FileRetention: time.Hour, PruneEvery: time.Minute})
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	for _, ref := range []string{"1.jpg", "2.jpg"} {
		path := filepath.Join(f.dir, ref)
		if err := os.WriteFile(path, []byte(ref), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, old, old); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.gate.TryPublish(ctx, models.Artifact{TS: 2, Ref: "2.jpg"}); err != nil {
		t.Fatal(err)
	}

	report := f.svc.SweepOnce(ctx)
	if report.FilesPruned != 1 {
		t.Fatalf("expected one file pruned, got %+v", report)
	}
	entries, _ := os.ReadDir(f.dir)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if strings.Join(names, ",") != "2.jpg" {
		t.Fatalf("expected only the latest artifact to survive, got %v", names)
	}

	// throttled: an immediate second pass does not prune again
	if err := os.WriteFile(filepath.Join(f.dir, "3.jpg"), []byte("3"), 0644); err != nil {
		t.Fatal(err)
	}
	_ = os.Chtimes(filepath.Join(f.dir, "3.jpg"), old, old)
	if report := f.svc.SweepOnce(ctx); report.FilesPruned != 0 {
		t.Fatalf("expected prune to be throttled, got %+v", report)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
