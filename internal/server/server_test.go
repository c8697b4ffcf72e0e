package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/config"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Capture: config.CaptureConfig{
			AckDeadline:     15 * time.Second,
			PublishDeadline: 25 * time.Second,
			RetainFor:       time.Minute,
			SweepInterval:   time.Second,
		},
		Relay: config.RelayConfig{
			MinDuration:     2 * time.Second,
			MaxDuration:     6 * time.Second,
			CompletionGrace: 15 * time.Second,
		},
		State:   config.StateConfig{Backend: "memory"},
		History: config.HistoryConfig{Driver: "none"},
		FileStore: config.FileStoreConfig{
			BasePath:         filepath.Join(dir, "uploads"),
			MaxFileSize:      1 << 20,
			AllowedMimeTypes: []string{"image/jpeg"},
			Retention:        time.Hour,
		},
	}
}

func TestInitializeHubService_Memory(t *testing.T) {
	svc, closers, err := initializeHubService(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("initializeHubService: %v", err)
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	if _, ok := svc.History.(repository.NopHistory); !ok {
		t.Fatalf("expected no history store, got %T", svc.History)
	}
	if svc.Analyzer.Enabled() {
		t.Fatal("analyzer must be disabled without an api key")
	}
}

func TestInitializeHubService_SQLiteRestoresSequences(t *testing.T) {
	cfg := testConfig(t)
	cfg.History = config.HistoryConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "history.db")}
	ctx := context.Background()

	svc, closers, err := initializeHubService(ctx, cfg)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := svc.RequestCapture(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.ActivateRelay(ctx); err != nil {
		t.Fatal(err)
	}
	for _, c := range closers {
		c.Close()
	}

	svc, closers, err = initializeHubService(ctx, cfg)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	current, _, err := svc.Ledger.Watermark(ctx, models.KindCapture)
	if err != nil || current != 3 {
		t.Fatalf("expected capture counter restored to 3, got %d %v", current, err)
	}
	trig, err := svc.RequestCapture(ctx)
	if err != nil || trig.Seq != 4 {
		t.Fatalf("expected the next capture to be seq 4, got %+v %v", trig, err)
	}
	current, _, _ = svc.Ledger.Watermark(ctx, models.KindRelay)
	if current != 1 {
		t.Fatalf("expected relay counter restored to 1, got %d", current)
	}
}

func TestInitHistory_UnknownDriverIsNop(t *testing.T) {
	h, err := initHistory(config.HistoryConfig{Driver: "none"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := h.(repository.NopHistory); !ok {
		t.Fatalf("expected NopHistory, got %T", h)
	}
}
