// Package waitloop is the operator-side controller: it triggers a capture or
// relay request on the hub and polls its state until the request finishes,
// the hub gives up on it, or the controller's own timeout expires.
package waitloop

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

var (
	// ErrBusy is returned when a run is already in progress on the controller.
	ErrBusy = stderrors.New("a request is already in progress")
	// ErrTimeout is returned when the request did not finish in time.
	ErrTimeout = stderrors.New("timed out waiting for the device")
	// ErrAbandoned is returned when the hub reports the request as TIMED_OUT.
	ErrAbandoned = stderrors.New("the hub abandoned the request")
)

const (
	DefaultInterval = 300 * time.Millisecond
	DefaultTimeout  = 20 * time.Second
)

type Config struct {
	// BaseURL is the hub root, e.g. http://localhost:5000.
	BaseURL  string
	Interval time.Duration
	Timeout  time.Duration
}

// Flow describes one kind of request as data: where to trigger it, where to
// follow it and what counts as finished.
type Flow struct {
	Name        string
	TriggerPath string
	StatePath   string
	// StateQuery returns the query parameters identifying the request.
	StateQuery func(models.TriggerResponse) map[string]string
	// Done reports success for a state snapshot given the latest artifact
	// timestamp seen before triggering.
	Done func(state models.StateResponse, prevTS int64) bool
	// WantsArtifact is true when success produces a new image.
	WantsArtifact bool
}

// CaptureFlow requests a photo and waits for it to be published.
var CaptureFlow = Flow{
	Name:        "capture",
	TriggerPath: "/capture",
	StatePath:   "/capture/state",
	StateQuery: func(t models.TriggerResponse) map[string]string {
		return map[string]string{"token": t.Token}
	},
	Done: func(s models.StateResponse, prevTS int64) bool {
		return s.State == string(models.CapturePublished) && s.ImageTS > prevTS
	},
	WantsArtifact: true,
}

// RelayFlow requests a relay activation and waits for the device to report it.
var RelayFlow = Flow{
	Name:        "relay",
	TriggerPath: "/relay/activate",
	StatePath:   "/relay/state",
	StateQuery: func(t models.TriggerResponse) map[string]string {
		return map[string]string{"seq": strconv.FormatInt(t.Seq, 10)}
	},
	Done: func(s models.StateResponse, _ int64) bool {
		return s.State == string(models.RelayDone)
	},
}

// Result describes a finished run.
type Result struct {
	Flow    string
	Trigger models.TriggerResponse
	State   models.StateResponse
	// ArtifactURL is an absolute, cache-defeating URL of the new image.
	ArtifactURL string
	Elapsed     time.Duration
}

// Controller runs one flow at a time.
type Controller struct {
	http *resty.Client
	root string
	cfg  Config
	busy atomic.Bool
}

func New(cfg Config) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	root := strings.TrimRight(cfg.BaseURL, "/")
	client := resty.New().
		SetBaseURL(root+models.APIPrefix).
		SetHeader("Cache-Control", "no-store").
		SetTimeout(cfg.Timeout)
	return &Controller{http: client, root: root, cfg: cfg}
}

// Busy reports whether a run is in progress.
func (c *Controller) Busy() bool {
	return c.busy.Load()
}

func (c *Controller) Capture(ctx context.Context) (Result, error) {
	return c.Run(ctx, CaptureFlow)
}

func (c *Controller) Relay(ctx context.Context) (Result, error) {
	return c.Run(ctx, RelayFlow)
}

// Run triggers flow and polls until it finishes. Poll failures are retried
// on the next tick; only the overall timeout or a terminal hub state ends
// the run early.
func (c *Controller) Run(ctx context.Context, flow Flow) (Result, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer c.busy.Store(false)

	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var prevTS int64
	if flow.WantsArtifact {
		latest, err := c.Latest(ctx)
		if err != nil {
			nuts.L.Warnf("[WaitLoop] Could not read latest artifact, assuming none: %v", err)
		} else {
			prevTS = latest.Result.TS
		}
	}

	trigger, err := c.trigger(ctx, flow)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, c.timeout(flow, started)
		}
		return Result{}, err
	}
	nuts.L.Infof("[WaitLoop] %s triggered seq=%d", flow.Name, trigger.Seq)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Result{Flow: flow.Name, Trigger: trigger}, c.timeout(flow, started)
		case <-ticker.C:
		}

		state, err := c.state(ctx, flow, trigger)
		if err != nil {
			var fatal *statusError
			if stderrors.As(err, &fatal) {
				return Result{Flow: flow.Name, Trigger: trigger}, err
			}
			if ctx.Err() == nil {
				nuts.L.Warnf("[WaitLoop] %s poll failed, retrying: %v", flow.Name, err)
			}
			continue
		}

		if flow.Done(state, prevTS) {
			res := Result{Flow: flow.Name, Trigger: trigger, State: state, Elapsed: time.Since(started)}
			if flow.WantsArtifact && state.ImageURL != "" {
				res.ArtifactURL = c.nocacheURL(state.ImageURL, state.ImageTS)
			}
			nuts.L.Infof("[WaitLoop] %s seq=%d finished in %v", flow.Name, trigger.Seq, res.Elapsed)
			return res, nil
		}
		if state.State == string(models.CaptureTimedOut) || state.State == string(models.RelayTimedOut) {
			return Result{Flow: flow.Name, Trigger: trigger, State: state}, fmt.Errorf("%s seq=%d: %w", flow.Name, trigger.Seq, ErrAbandoned)
		}
	}
}

func (c *Controller) timeout(flow Flow, started time.Time) error {
	return fmt.Errorf("%s after %v: %w", flow.Name, time.Since(started).Round(time.Millisecond), ErrTimeout)
}

// statusError is a 4xx answer; retrying the same poll cannot succeed.
type statusError struct {
	path   string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.path, e.status, e.body)
}

func check(resp *resty.Response, err error, path string) error {
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
		return &statusError{path: path, status: resp.StatusCode(), body: strings.TrimSpace(resp.String())}
	}
	if resp.IsError() {
		return fmt.Errorf("%s returned %d", path, resp.StatusCode())
	}
	return nil
}

func (c *Controller) trigger(ctx context.Context, flow Flow) (models.TriggerResponse, error) {
	var out models.TriggerResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Post(flow.TriggerPath)
	if err := check(resp, err, flow.TriggerPath); err != nil {
		return models.TriggerResponse{}, fmt.Errorf("trigger %s: %w", flow.Name, err)
	}
	if !out.OK {
		return models.TriggerResponse{}, fmt.Errorf("trigger %s: hub refused the request", flow.Name)
	}
	return out, nil
}

func (c *Controller) state(ctx context.Context, flow Flow, trigger models.TriggerResponse) (models.StateResponse, error) {
	var out models.StateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(flow.StateQuery(trigger)).
		SetQueryParam("nocache", strconv.FormatInt(time.Now().UnixMilli(), 10)).
		SetResult(&out).
		Get(flow.StatePath)
	if err := check(resp, err, flow.StatePath); err != nil {
		return models.StateResponse{}, err
	}
	return out, nil
}

// Latest reads the hub's latest artifact metadata, bypassing caches.
func (c *Controller) Latest(ctx context.Context) (models.LatestResponse, error) {
	var out models.LatestResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("nocache", strconv.FormatInt(time.Now().UnixMilli(), 10)).
		SetResult(&out).
		Get("/latest")
	if err := check(resp, err, "/latest"); err != nil {
		return models.LatestResponse{}, err
	}
	return out, nil
}

// FetchArtifact downloads an artifact URL as returned in Result.
func (c *Controller) FetchArtifact(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err := check(resp, err, url); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (c *Controller) nocacheURL(path string, ts int64) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return c.root + path + sep + "nocache=" + strconv.FormatInt(ts, 10)
}
