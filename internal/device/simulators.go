package device

import (
	"context"
	"fmt"
	"os"
	"time"

	nuts "github.com/vaudience/go-nuts"
)

// Camera produces one image per call.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Relay energizes the output for d and returns once it is released.
type Relay interface {
	Activate(ctx context.Context, d time.Duration) error
}

// FileCamera serves the same image file for every capture.
type FileCamera struct {
	Path string
}

func (c FileCamera) Capture(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", c.Path, err)
	}
	return data, nil
}

// SleepRelay only logs and waits for the activation to elapse.
type SleepRelay struct{}

func (SleepRelay) Activate(ctx context.Context, d time.Duration) error {
	nuts.L.Infof("[Device] Relay on for %v", d)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	nuts.L.Infof("[Device] Relay off")
	return nil
}
