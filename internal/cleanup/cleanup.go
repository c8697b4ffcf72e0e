package cleanup

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/capture"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/relay"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository"
	nuts "github.com/vaudience/go-nuts"
)

// Events emitted by the sweeper. The first argument is always a string id.
const (
	EventCaptureTimedOut = "capture.timed_out"
	EventRelayTimedOut   = "relay.timed_out"
	EventRecordsDropped  = "records.dropped"
	EventFilesPruned     = "files.pruned"
	EventHistoryPruned   = "history.pruned"
)

// Config controls how often the sweeper runs and what it keeps.
type Config struct {
	// Interval between deadline sweeps.
	Interval time.Duration
	// RetainFor is how long a terminal request stays queryable after it
	// was last observed.
	RetainFor time.Duration
	// FileRetention is the age after which artifacts and history rows are
	// pruned. Zero disables pruning.
	FileRetention time.Duration
	// PruneEvery throttles the file and history pruning relative to Interval.
	PruneEvery time.Duration
}

// Report summarizes one pass.
type Report struct {
	CapturesTimedOut int
	RelaysTimedOut   int
	RecordsDropped   int
	FilesPruned      int
	HistoryPruned    int64
}

type Option func(*CleanupService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *CleanupService) { s.now = now }
}

// CleanupService applies stage deadlines that nobody queried for, drops
// stale terminal records and prunes old artifacts.
type CleanupService struct {
	captures *capture.Machine
	relays   *relay.Book
	gate     repository.ArtifactGate
	store    repository.ArtifactStore
	history  repository.HistoryRepository
	cfg      Config
	events   *nuts.EventEmitter
	now      func() time.Time

	mu        sync.Mutex
	lastPrune time.Time
}

// New creates a new CleanupService
func New(
	captures *capture.Machine,
	relays *relay.Book,
	gate repository.ArtifactGate,
	store repository.ArtifactStore,
	history repository.HistoryRepository,
	cfg Config,
	opts ...Option,
) *CleanupService {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.PruneEvery <= 0 {
		cfg.PruneEvery = time.Minute
	}
	if history == nil {
		history = repository.NopHistory{}
	}
	s := &CleanupService{
		captures: captures,
		relays:   relays,
		gate:     gate,
		store:    store,
		history:  history,
		cfg:      cfg,
		events:   nuts.NewEventEmitter(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps every Interval until ctx is cancelled.
func (s *CleanupService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	nuts.L.Infof("[Cleanup] Sweeper started, interval=%v retain=%v", s.cfg.Interval, s.cfg.RetainFor)
	for {
		select {
		case <-ctx.Done():
			nuts.L.Infof("[Cleanup] Sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass. Pruning only happens when PruneEvery has
// elapsed since the previous prune.
func (s *CleanupService) SweepOnce(ctx context.Context) Report {
	var report Report

	for _, req := range s.captures.Sweep() {
		report.CapturesTimedOut++
		s.events.Emit(EventCaptureTimedOut, req.Token)
	}
	for _, req := range s.relays.Sweep() {
		report.RelaysTimedOut++
		s.events.Emit(EventRelayTimedOut, strconv.FormatInt(req.Seq, 10))
	}

	report.RecordsDropped = s.captures.Collect(s.cfg.RetainFor) + s.relays.Collect(s.cfg.RetainFor)
	if report.RecordsDropped > 0 {
		s.events.Emit(EventRecordsDropped, strconv.Itoa(report.RecordsDropped))
	}

	if s.dueForPrune() {
		report.FilesPruned, report.HistoryPruned = s.prune(ctx)
	}
	return report
}

func (s *CleanupService) dueForPrune() bool {
	if s.cfg.FileRetention <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.lastPrune) < s.cfg.PruneEvery {
		return false
	}
	s.lastPrune = now
	return true
}

func (s *CleanupService) prune(ctx context.Context) (int, int64) {
	cutoff := s.now().Add(-s.cfg.FileRetention)

	latest, err := s.gate.Latest(ctx)
	if err != nil {
		// without the latest ref nothing can be pruned safely
		nuts.L.Errorf("[Cleanup] Failed to read latest artifact: %v", err)
		return 0, 0
	}

	files := 0
	if s.store != nil {
		files, err = s.store.DeleteOldFiles(ctx, cutoff, func(ref string) bool { return ref == latest.Ref })
		if err != nil {
			nuts.L.Errorf("[Cleanup] Failed to prune artifacts: %v", err)
		} else if files > 0 {
			s.events.Emit(EventFilesPruned, strconv.Itoa(files))
		}
	}

	rows, err := s.history.DeleteBefore(ctx, cutoff)
	if err != nil {
		nuts.L.Errorf("[Cleanup] Failed to prune history: %v", err)
	} else if rows > 0 {
		s.events.Emit(EventHistoryPruned, strconv.FormatInt(rows, 10))
	}
	return files, rows
}

// OnCleanup registers a callback for cleanup events
func (s *CleanupService) OnCleanup(event string, handler func(id string)) {
	s.events.On(event, "cleanup_handler_"+event, func(args ...interface{}) {
		if len(args) > 0 {
			if id, ok := args[0].(string); ok {
				handler(id)
			}
		}
	})
}
