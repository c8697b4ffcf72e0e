package gate_test

import (
	"context"
	"sync"
	"testing"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/gate"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
)

func publish(t *testing.T, g *gate.Memory, ts int64, ref string) bool {
	t.Helper()
	ok, err := g.TryPublish(context.Background(), models.Artifact{TS: ts, Ref: ref})
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

func latestTS(t *testing.T, g *gate.Memory) int64 {
	t.Helper()
	a, err := g.Latest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return a.TS
}

func TestTryPublish_NewerThenOlder(t *testing.T) {
	g := gate.New()
	if !publish(t, g, 200, "t2.jpg") {
		t.Fatal("expected t2 to be accepted")
	}
	if publish(t, g, 100, "t1.jpg") {
		t.Fatal("expected t1 to be rejected after t2")
	}
	if ts := latestTS(t, g); ts != 200 {
		t.Fatalf("expected latest 200, got %d", ts)
	}
}

func TestTryPublish_OlderThenNewer(t *testing.T) {
	g := gate.New()
	if !publish(t, g, 100, "t1.jpg") {
		t.Fatal("expected t1 to be accepted")
	}
	if !publish(t, g, 200, "t2.jpg") {
		t.Fatal("expected t2 to be accepted")
	}
	a, err := g.Latest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if a.TS != 200 || a.Ref != "t2.jpg" {
		t.Fatalf("expected t2.jpg@200, got %s@%d", a.Ref, a.TS)
	}
}

func TestTryPublish_EqualTimestampRejected(t *testing.T) {
	g := gate.New()
	publish(t, g, 150, "a.jpg")
	if publish(t, g, 150, "b.jpg") {
		t.Fatal("expected equal timestamp to be rejected")
	}
	a, _ := g.Latest(context.Background())
	if a.Ref != "a.jpg" {
		t.Fatalf("expected a.jpg to remain latest, got %s", a.Ref)
	}
}

func TestTryPublish_ConcurrentRace(t *testing.T) {
	g := gate.New()
	publish(t, g, 150, "base.jpg")

	var wg sync.WaitGroup
	results := make(map[int64]bool)
	var mu sync.Mutex
	for _, ts := range []int64{200, 180} {
		wg.Add(1)
		go func(ts int64) {
			defer wg.Done()
			ok, err := g.TryPublish(context.Background(), models.Artifact{TS: ts, Ref: "x.jpg"})
			if err != nil {
				t.Error(err)
			}
			mu.Lock()
			results[ts] = ok
			mu.Unlock()
		}(ts)
	}
	wg.Wait()

	if !results[200] {
		t.Fatal("expected ts=200 to be accepted")
	}
	if ts := latestTS(t, g); ts != 200 {
		t.Fatalf("expected final latest 200, got %d", ts)
	}
}

func TestTryPublish_ManyConcurrentKeepsMaximum(t *testing.T) {
	g := gate.New()
	var wg sync.WaitGroup
	for ts := int64(1); ts <= 200; ts++ {
		wg.Add(1)
		go func(ts int64) {
			defer wg.Done()
			if _, err := g.TryPublish(context.Background(), models.Artifact{TS: ts, Ref: "x.jpg"}); err != nil {
				t.Error(err)
			}
		}(ts)
	}
	wg.Wait()
	if ts := latestTS(t, g); ts != 200 {
		t.Fatalf("expected 200, got %d", ts)
	}
}

func TestAnnotate_OnlyCurrentArtifact(t *testing.T) {
	g := gate.New()
	ctx := context.Background()
	publish(t, g, 100, "a.jpg")
	publish(t, g, 200, "b.jpg")

	ok, err := g.Annotate(ctx, 100, "00012.345", 0.9)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected annotation of a superseded artifact to be refused")
	}

	ok, err = g.Annotate(ctx, 200, "00012.346", 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected annotation of latest artifact to succeed")
	}
	a, _ := g.Latest(ctx)
	if a.Reading != "00012.346" {
		t.Fatalf("expected reading to be attached, got %q", a.Reading)
	}

	publish(t, g, 300, "c.jpg")
	a, _ = g.Latest(ctx)
	if a.Reading != "" {
		t.Fatalf("expected new artifact to start without a reading, got %q", a.Reading)
	}
}
