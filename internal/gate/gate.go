// Package gate holds the process-wide latest artifact and enforces that only a
// strictly newer artifact may replace it.
package gate

import (
	"context"
	"sync"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

// Memory is the in-process ArtifactGate.
type Memory struct {
	mu     sync.RWMutex
	latest models.Artifact
}

func New() *Memory {
	return &Memory{}
}

// TryPublish replaces the latest artifact iff artifact.TS is strictly greater.
// A rejected artifact is not an error; the caller discards it.
func (g *Memory) TryPublish(ctx context.Context, artifact models.Artifact) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if artifact.TS <= g.latest.TS {
		nuts.L.Debugf("[Gate] Rejected artifact ts=%d ref=%s, latest is ts=%d", artifact.TS, artifact.Ref, g.latest.TS)
		return false, nil
	}
	g.latest = models.Artifact{TS: artifact.TS, Ref: artifact.Ref}
	return true, nil
}

func (g *Memory) Latest(ctx context.Context) (models.Artifact, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.latest, nil
}

func (g *Memory) Annotate(ctx context.Context, ts int64, reading string, confidence float64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ts != g.latest.TS || g.latest.Empty() {
		return false, nil
	}
	g.latest.Reading = reading
	g.latest.Confidence = confidence
	return true, nil
}
