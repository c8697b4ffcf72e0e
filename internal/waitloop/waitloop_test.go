package waitloop_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/waitloop"
)

// fakeHub serves the endpoints the controller talks to. state decides the
// capture/relay state answer for the n-th poll.
type fakeHub struct {
	latestTS int64
	state    func(poll int) models.StateResponse
	polls    atomic.Int32
	mu       sync.Mutex
	queries  []string
}

func (f *fakeHub) server(t *testing.T) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	api := r.PathPrefix(models.APIPrefix).Subrouter()
	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	api.HandleFunc("/latest", func(w http.ResponseWriter, r *http.Request) {
		write(w, models.LatestResponse{HasImage: f.latestTS > 0, Result: models.LatestResult{TS: f.latestTS}})
	}).Methods(http.MethodGet)
	api.HandleFunc("/capture", func(w http.ResponseWriter, r *http.Request) {
		write(w, models.TriggerResponse{OK: true, Token: "tok-1", Seq: 7})
	}).Methods(http.MethodPost)
	api.HandleFunc("/relay/activate", func(w http.ResponseWriter, r *http.Request) {
		write(w, models.TriggerResponse{OK: true, Seq: 3, DurationMs: 2000})
	}).Methods(http.MethodPost)
	stateHandler := func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.queries = append(f.queries, r.URL.RawQuery)
		f.mu.Unlock()
		n := int(f.polls.Add(1))
		write(w, f.state(n))
	}
	api.HandleFunc("/capture/state", stateHandler).Methods(http.MethodGet)
	api.HandleFunc("/relay/state", stateHandler).Methods(http.MethodGet)
	api.HandleFunc("/artifacts/{ref}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("img:" + mux.Vars(r)["ref"]))
	}).Methods(http.MethodGet)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestCapture_WaitsForPublished(t *testing.T) {
	hub := &fakeHub{latestTS: 100}
	hub.state = func(n int) models.StateResponse {
		switch {
		case n < 2:
			return models.StateResponse{OK: true, Token: "tok-1", State: "REQUESTED"}
		case n < 3:
			return models.StateResponse{OK: true, Token: "tok-1", State: "ACKED"}
		default:
			return models.StateResponse{OK: true, Token: "tok-1", State: "PUBLISHED", ImageTS: 150, ImageURL: models.APIPrefix + "/artifacts/150_tok-1.jpg"}
		}
	}
	srv := hub.server(t)

	c := waitloop.New(waitloop.Config{BaseURL: srv.URL, Interval: 10 * time.Millisecond, Timeout: 2 * time.Second})
	res, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.State.ImageTS != 150 || res.Trigger.Token != "tok-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.HasSuffix(res.ArtifactURL, "/artifacts/150_tok-1.jpg?nocache=150") {
		t.Fatalf("expected cache-busted artifact url, got %s", res.ArtifactURL)
	}
	if !strings.Contains(hub.queries[0], "token=tok-1") {
		t.Fatalf("expected state polls by token, got %q", hub.queries[0])
	}

	body, err := c.FetchArtifact(context.Background(), res.ArtifactURL)
	if err != nil {
		t.Fatalf("FetchArtifact: %v", err)
	}
	if string(body) != "img:150_tok-1.jpg" {
		t.Fatalf("unexpected artifact body %q", body)
	}
	if c.Busy() {
		t.Fatal("controller should be idle after a run")
	}
}

func TestCapture_IgnoresArtifactNotNewerThanPrevious(t *testing.T) {
	hub := &fakeHub{latestTS: 500}
	hub.state = func(int) models.StateResponse {
		return models.StateResponse{OK: true, State: "PUBLISHED", ImageTS: 400, ImageURL: "/x.jpg"}
	}
	srv := hub.server(t)

	c := waitloop.New(waitloop.Config{BaseURL: srv.URL, Interval: 10 * time.Millisecond, Timeout: 200 * time.Millisecond})
	if _, err := c.Capture(context.Background()); !errors.Is(err, waitloop.ErrTimeout) {
		t.Fatalf("expected timeout for a stale artifact, got %v", err)
	}
}

func TestCapture_TimeoutBounds(t *testing.T) {
	hub := &fakeHub{}
	hub.state = func(int) models.StateResponse {
		return models.StateResponse{OK: true, State: "REQUESTED"}
	}
	srv := hub.server(t)

	c := waitloop.New(waitloop.Config{BaseURL: srv.URL, Interval: 100 * time.Millisecond, Timeout: 1000 * time.Millisecond})
	start := time.Now()
	_, err := c.Capture(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(err, waitloop.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed < 1000*time.Millisecond || elapsed > 1200*time.Millisecond {
		t.Fatalf("expected timeout after ~1000ms, got %v", elapsed)
	}
}

func TestCapture_FailsFastWhenHubTimesOut(t *testing.T) {
	hub := &fakeHub{}
	hub.state = func(int) models.StateResponse {
		return models.StateResponse{OK: true, State: "TIMED_OUT", Reason: "timed-out"}
	}
	srv := hub.server(t)

	c := waitloop.New(waitloop.Config{BaseURL: srv.URL, Interval: 10 * time.Millisecond, Timeout: 5 * time.Second})
	start := time.Now()
	_, err := c.Capture(context.Background())
	if !errors.Is(err, waitloop.ErrAbandoned) {
		t.Fatalf("expected ErrAbandoned, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("expected the run to end as soon as the hub reported TIMED_OUT")
	}
}

func TestRun_RejectsOverlap(t *testing.T) {
	hub := &fakeHub{}
	hub.state = func(int) models.StateResponse {
		return models.StateResponse{OK: true, State: "REQUESTED"}
	}
	srv := hub.server(t)
	c := waitloop.New(waitloop.Config{BaseURL: srv.URL, Interval: 10 * time.Millisecond, Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Capture(ctx)
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for !c.Busy() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if _, err := c.Relay(context.Background()); !errors.Is(err, waitloop.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("first run did not stop after cancel")
	}
	if c.Busy() {
		t.Fatal("guard must be released after the run ends")
	}
}

func TestRelay_WaitsForDone(t *testing.T) {
	hub := &fakeHub{}
	hub.state = func(n int) models.StateResponse {
		if n < 3 {
			return models.StateResponse{OK: true, Seq: 3, State: "REQUESTED"}
		}
		return models.StateResponse{OK: true, Seq: 3, State: "DONE", DurationMs: 2000}
	}
	srv := hub.server(t)

	c := waitloop.New(waitloop.Config{BaseURL: srv.URL, Interval: 10 * time.Millisecond, Timeout: 2 * time.Second})
	res, err := c.Relay(context.Background())
	if err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if res.State.State != "DONE" || res.ArtifactURL != "" {
		t.Fatalf("unexpected relay result %+v", res)
	}
	if !strings.Contains(hub.queries[0], "seq=3") {
		t.Fatalf("expected state polls by seq, got %q", hub.queries[0])
	}
}
