package hubservice

import (
	"context"
	"sync"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/analyzer"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/capture"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/cleanup"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/config"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/devicepoll"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/errors"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/monitoring"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/relay"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository"
	nuts "github.com/vaudience/go-nuts"
)

// APIPrefix is where the HTTP API is mounted. Artifact URLs handed to
// clients are built from it.
const APIPrefix = models.APIPrefix

// ArtifactStore is the file store plus the upload policy it enforces.
type ArtifactStore interface {
	repository.ArtifactStore
	IsAllowedMimeType(mimeType string) bool
	MaxFileSize() int64
}

// Deps are the backends the service is assembled from.
type Deps struct {
	Ledger     repository.SequenceLedger
	Gate       repository.ArtifactGate
	Store      ArtifactStore
	History    repository.HistoryRepository
	Analyzer   *analyzer.Client
	Monitoring *monitoring.Service
}

type Option func(*options)

type options struct {
	captureOpts []capture.Option
	relayOpts   []relay.Option
	cleanupOpts []cleanup.Option
	now         func() time.Time
}

// WithClock replaces time.Now for the service and its state machines.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
		o.captureOpts = append(o.captureOpts, capture.WithClock(now))
		o.relayOpts = append(o.relayOpts, relay.WithClock(now))
		o.cleanupOpts = append(o.cleanupOpts, cleanup.WithClock(now))
	}
}

// WithRelayDuration fixes the relay activation duration.
func WithRelayDuration(d time.Duration) Option {
	return func(o *options) {
		o.relayOpts = append(o.relayOpts, relay.WithDurationSource(func() time.Duration { return d }))
	}
}

// HubService contains all repositories and service-wide dependencies
type HubService struct {
	Ledger     repository.SequenceLedger
	Gate       repository.ArtifactGate
	Store      ArtifactStore
	History    repository.HistoryRepository
	Analyzer   *analyzer.Client
	Monitoring *monitoring.Service
	Captures   *capture.Machine
	Relays     *relay.Book
	Poll       *devicepoll.Handler
	Cleanup    *cleanup.CleanupService

	autoAnalyze bool
	now         func() time.Time
	background  sync.WaitGroup
}

// New creates a new HubService instance
func New(cfg *config.Config, deps Deps, opts ...Option) (*HubService, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if deps.History == nil {
		deps.History = repository.NopHistory{}
	}
	if deps.Monitoring == nil {
		deps.Monitoring = monitoring.NewService(monitoring.Config{})
	}

	svc := &HubService{
		Ledger:      deps.Ledger,
		Gate:        deps.Gate,
		Store:       deps.Store,
		History:     deps.History,
		Analyzer:    deps.Analyzer,
		Monitoring:  deps.Monitoring,
		autoAnalyze: cfg.Analyzer.AutoAnalyze,
		now:         o.now,
	}
	if err := svc.Validate(); err != nil {
		return nil, err
	}

	svc.Captures = capture.NewMachine(svc.Ledger, svc.Gate, capture.Config{
		AckDeadline:     cfg.Capture.AckDeadline,
		PublishDeadline: cfg.Capture.PublishDeadline,
	}, append(o.captureOpts, capture.WithHook(svc.onCaptureTransition))...)

	svc.Relays = relay.NewBook(svc.Ledger, relay.Config{
		MinDuration:     cfg.Relay.MinDuration,
		MaxDuration:     cfg.Relay.MaxDuration,
		CompletionGrace: cfg.Relay.CompletionGrace,
	}, append(o.relayOpts, relay.WithHook(svc.onRelayTransition))...)

	svc.Poll = devicepoll.NewHandler(svc.Ledger, svc.Captures, svc.Relays)

	svc.Cleanup = cleanup.New(svc.Captures, svc.Relays, svc.Gate, svc.Store, svc.History, cleanup.Config{
		Interval:      cfg.Capture.SweepInterval,
		RetainFor:     cfg.Capture.RetainFor,
		FileRetention: cfg.FileStore.Retention,
	}, o.cleanupOpts...)
	svc.setupCleanupHandlers()

	return svc, nil
}

// Validate checks if all required repositories are initialized
func (s *HubService) Validate() error {
	if s.Ledger == nil {
		return ErrMissingRepository("ledger")
	}
	if s.Gate == nil {
		return ErrMissingRepository("gate")
	}
	if s.Store == nil {
		return ErrMissingRepository("store")
	}
	return nil
}

func ErrMissingRepository(name string) error {
	return errors.NewInternalError("missing repository: "+name, nil)
}

// RestoreSequences raises the ledger counters to the highest sequence found
// in history, so a restarted hub never reissues a seq a device has seen.
func (s *HubService) RestoreSequences(ctx context.Context) error {
	for _, kind := range []models.WorkKind{models.KindCapture, models.KindRelay} {
		seq, err := s.History.MaxSeq(ctx, kind)
		if err != nil {
			return err
		}
		if seq == 0 {
			continue
		}
		if err := s.Ledger.Seed(ctx, kind, seq); err != nil {
			return err
		}
		nuts.L.Infof("[HubService] Restored %s sequence to %d", kind, seq)
	}
	return nil
}

// Wait blocks until background work such as auto-analysis has finished.
func (s *HubService) Wait() {
	s.background.Wait()
}

func (s *HubService) setupCleanupHandlers() {
	s.Cleanup.OnCleanup(cleanup.EventCaptureTimedOut, func(token string) {
		s.Monitoring.RecordEvent("capture_swept", map[string]string{"token": token})
	})
	s.Cleanup.OnCleanup(cleanup.EventRelayTimedOut, func(seq string) {
		s.Monitoring.RecordEvent("relay_swept", map[string]string{"seq": seq})
	})
	s.Cleanup.OnCleanup(cleanup.EventFilesPruned, func(n string) {
		nuts.L.Infof("[Cleanup] Pruned %s artifact files", n)
		s.Monitoring.RecordEvent("artifact_pruned", map[string]string{"count": n})
	})
	s.Cleanup.OnCleanup(cleanup.EventHistoryPruned, func(n string) {
		nuts.L.Infof("[Cleanup] Pruned %s history rows", n)
		s.Monitoring.RecordEvent("history_pruned", map[string]string{"count": n})
	})
	s.Cleanup.OnCleanup(cleanup.EventRecordsDropped, func(n string) {
		s.Monitoring.RecordEvent("records_dropped", map[string]string{"count": n})
	})
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func optMilli(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func historyContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
