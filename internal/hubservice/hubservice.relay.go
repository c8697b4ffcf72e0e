package hubservice

import (
	"context"
	"strconv"
	"strings"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/errors"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

// ActivateRelay asks the device to energize its relay for a random duration.
func (s *HubService) ActivateRelay(ctx context.Context) (models.TriggerResponse, error) {
	req, err := s.Relays.Activate(ctx)
	if err != nil {
		return models.TriggerResponse{}, errors.NewUnavailableError("failed to create relay request", err)
	}
	return models.TriggerResponse{OK: true, Seq: req.Seq, DurationMs: req.Duration.Milliseconds()}, nil
}

func (s *HubService) NextRelay(ctx context.Context, since int64) (models.RelayNextResponse, error) {
	notice, err := s.Poll.Next(ctx, models.KindRelay, since)
	if err != nil {
		return models.RelayNextResponse{}, err
	}
	return models.RelayNextResponse{Activate: notice.Pending, Seq: notice.Seq, DurationMs: notice.DurationMs}, nil
}

// AckRelay records that the device finished running the relay for seq.
func (s *HubService) AckRelay(ctx context.Context, seq int64) (models.AckResponse, error) {
	ok, err := s.Poll.Ack(ctx, models.KindRelay, seq, "")
	if err != nil {
		return models.AckResponse{}, err
	}
	if !ok {
		return models.AckResponse{OK: false, Reason: ReasonBadTokenOrState}, nil
	}
	return models.AckResponse{OK: true}, nil
}

func (s *HubService) RelayState(ctx context.Context, seq int64) (models.StateResponse, error) {
	if seq <= 0 {
		return models.StateResponse{}, errors.NewValidationError("seq is required", nil)
	}
	req, ok := s.Relays.Lookup(seq)
	if !ok {
		return models.StateResponse{}, errors.NewNotFoundError("unknown-seq", nil)
	}
	latest, err := s.Gate.Latest(ctx)
	if err != nil {
		return models.StateResponse{}, err
	}
	resp := models.StateResponse{
		OK:          true,
		Seq:         req.Seq,
		State:       string(req.State),
		TSRequested: unixMilli(req.CreatedAt),
		TSCompleted: unixMilli(req.CompletedAt),
		DurationMs:  req.Duration.Milliseconds(),
		LatestTS:    latest.TS,
	}
	if req.State == models.RelayTimedOut {
		resp.Reason = "timed-out"
	}
	return resp, nil
}

func (s *HubService) onRelayTransition(req models.RelayRequest) {
	s.Monitoring.RecordEvent("relay_"+strings.ToLower(string(req.State)), map[string]string{"seq": strconv.FormatInt(req.Seq, 10)})

	duration := req.Duration.Milliseconds()
	rec := &models.HistoryRecord{
		Kind:       models.KindRelay,
		ID:         req.ID,
		Seq:        req.Seq,
		State:      string(req.State),
		CreatedAt:  unixMilli(req.CreatedAt),
		DurationMs: &duration,
		UpdatedAt:  unixMilli(s.now()),
	}
	switch req.State {
	case models.RelayDone:
		rec.FinishedAt = optMilli(req.CompletedAt)
	case models.RelayTimedOut:
		rec.FinishedAt = optMilli(req.TimedOutAt)
	}

	ctx, cancel := historyContext()
	defer cancel()
	if err := s.History.Upsert(ctx, rec); err != nil {
		nuts.L.Errorf("[HubService] Failed to record relay seq=%d: %v", req.Seq, err)
	}
}
