// Package device is the device-side agent. It cannot be reached by the hub,
// so it polls for work, acts on it and reports back, one step at a time.
package device

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

type Config struct {
	// BaseURL is the hub root, e.g. http://localhost:5000.
	BaseURL      string
	PollInterval time.Duration
	HTTPTimeout  time.Duration
	// DefaultRelayDuration is used when the hub does not send a duration.
	DefaultRelayDuration time.Duration
}

// StepResult tells what a single step did.
type StepResult struct {
	Captured  bool
	Uploaded  bool
	Accepted  bool
	RelayRun  bool
	CaptureAt int64
	RelayAt   int64
}

// Agent is single-threaded: Step runs one capture poll and one relay poll in
// order, and an action blocks the next poll until it completes.
type Agent struct {
	http   *resty.Client
	camera Camera
	relay  Relay
	cfg    Config
	now    func() time.Time

	mu           sync.Mutex
	captureSince int64
	relaySince   int64
}

func NewAgent(cfg Config, camera Camera, relay Relay) *Agent {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.DefaultRelayDuration <= 0 {
		cfg.DefaultRelayDuration = 2 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/") + models.APIPrefix).
		SetTimeout(cfg.HTTPTimeout)
	return &Agent{http: client, camera: camera, relay: relay, cfg: cfg, now: time.Now}
}

// Since returns the capture and relay watermarks the agent polls with.
func (a *Agent) Since() (capture, relay int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.captureSince, a.relaySince
}

// Resume sets the watermarks, e.g. from persisted device state.
func (a *Agent) Resume(capture, relay int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.captureSince, a.relaySince = capture, relay
}

// Run steps every PollInterval until ctx is cancelled. Step failures are
// logged and retried on the next tick.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	nuts.L.Infof("[Device] Polling %s every %v", a.cfg.BaseURL, a.cfg.PollInterval)
	for {
		if _, err := a.Step(ctx); err != nil && ctx.Err() == nil {
			nuts.L.Warnf("[Device] Step failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Step polls for capture work, then relay work, acting on whatever is pending.
func (a *Agent) Step(ctx context.Context) (StepResult, error) {
	var res StepResult
	captureErr := a.stepCapture(ctx, &res)
	relayErr := a.stepRelay(ctx, &res)
	res.CaptureAt, res.RelayAt = a.Since()
	if captureErr != nil {
		return res, captureErr
	}
	return res, relayErr
}

func (a *Agent) stepCapture(ctx context.Context, res *StepResult) error {
	since, _ := a.Since()
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("since", strconv.FormatInt(since, 10)).
		Get("/capture/next")
	if err != nil {
		return fmt.Errorf("capture poll: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("capture poll returned %d", resp.StatusCode())
	}
	work, ok := DecodeCaptureNext(resp.Body())
	if !ok || work.Seq <= since {
		return nil
	}
	nuts.L.Infof("[Device] Capture requested seq=%d", work.Seq)

	ack, err := a.http.R().
		SetContext(ctx).
		SetQueryParams(ackParams(work)).
		Post("/capture/ack")
	if err != nil {
		return fmt.Errorf("capture ack: %w", err)
	}
	if ack.StatusCode() == http.StatusConflict {
		// already acked by an earlier attempt whose upload failed, or expired;
		// the upload decides which
		nuts.L.Warnf("[Device] Ack for seq=%d rejected, uploading anyway", work.Seq)
	} else if ack.IsError() {
		return fmt.Errorf("capture ack returned %d", ack.StatusCode())
	}

	image, err := a.camera.Capture(ctx)
	if err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	res.Captured = true
	ts := a.now().UnixMilli()

	var out models.UploadResponse
	up, err := a.http.R().
		SetContext(ctx).
		SetQueryParams(uploadParams(work, ts)).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(image).
		SetResult(&out).
		Post("/upload")
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	switch {
	case up.IsSuccess():
		res.Uploaded = true
		res.Accepted = out.Accepted
		nuts.L.Infof("[Device] Uploaded seq=%d ts=%d accepted=%v", work.Seq, ts, out.Accepted)
	case up.StatusCode() == http.StatusConflict || up.StatusCode() == http.StatusNotFound:
		nuts.L.Warnf("[Device] Upload for seq=%d refused (%d), skipping", work.Seq, up.StatusCode())
	default:
		return fmt.Errorf("upload returned %d", up.StatusCode())
	}

	a.mu.Lock()
	if work.Seq > a.captureSince {
		a.captureSince = work.Seq
	}
	a.mu.Unlock()
	return nil
}

func (a *Agent) stepRelay(ctx context.Context, res *StepResult) error {
	_, since := a.Since()
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("since", strconv.FormatInt(since, 10)).
		Get("/relay/next")
	if err != nil {
		return fmt.Errorf("relay poll: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("relay poll returned %d", resp.StatusCode())
	}
	work, ok := DecodeRelayNext(resp.Body())
	if !ok || work.Seq <= since {
		return nil
	}

	d := a.cfg.DefaultRelayDuration
	if work.DurationMs > 0 {
		d = time.Duration(work.DurationMs) * time.Millisecond
	}
	nuts.L.Infof("[Device] Relay requested seq=%d duration=%v", work.Seq, d)
	if err := a.relay.Activate(ctx, d); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	res.RelayRun = true

	// the relay has run; never run it again for this seq even if the ack is lost
	a.mu.Lock()
	if work.Seq > a.relaySince {
		a.relaySince = work.Seq
	}
	a.mu.Unlock()

	ack, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("seq", strconv.FormatInt(work.Seq, 10)).
		Post("/relay/ack")
	if err != nil {
		return fmt.Errorf("relay ack: %w", err)
	}
	if ack.IsError() && ack.StatusCode() != http.StatusConflict {
		return fmt.Errorf("relay ack returned %d", ack.StatusCode())
	}
	return nil
}

func ackParams(w Work) map[string]string {
	p := map[string]string{"seq": strconv.FormatInt(w.Seq, 10)}
	if w.Token != "" {
		p["token"] = w.Token
	}
	return p
}

func uploadParams(w Work, ts int64) map[string]string {
	p := map[string]string{"ts": strconv.FormatInt(ts, 10)}
	if w.Token != "" {
		p["token"] = w.Token
	}
	return p
}
