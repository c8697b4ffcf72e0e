package hubservice

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/analyzer"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/errors"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository/files"
	nuts "github.com/vaudience/go-nuts"
)

const (
	ReasonSuperseded = "superseded"
	sniffLen         = 512
)

// UploadInput is an image upload from the device. Token is empty for the
// legacy flow that publishes straight to the gate. TS is the capture time in
// unix milliseconds; zero means "now".
type UploadInput struct {
	Token string
	TS    int64
	Body  io.Reader
}

// ArtifactURL is the stable URL of a stored artifact.
func ArtifactURL(ref string) string {
	return APIPrefix + "/artifacts/" + url.PathEscape(ref)
}

// LatestURL is the URL of the newest artifact, cache-busted by its timestamp.
func LatestURL(ts int64) string {
	return APIPrefix + "/latest.jpg?nocache=" + strconv.FormatInt(ts, 10)
}

// Upload stores the image and offers it to the gate. A token upload is only
// accepted while its capture is ACKED. An artifact older than the latest is
// discarded and reported with Accepted=false.
func (s *HubService) Upload(ctx context.Context, in UploadInput) (models.UploadResponse, error) {
	if in.Body == nil {
		return models.UploadResponse{}, errors.NewValidationError("no image", nil)
	}
	if in.Token != "" {
		req, ok := s.Captures.Query(in.Token)
		if !ok {
			return models.UploadResponse{}, errors.NewNotFoundError("unknown-token", nil)
		}
		if req.State != models.CaptureAcked {
			nuts.L.Warnf("[HubService] Upload rejected token=%s state=%s", in.Token, req.State)
			return models.UploadResponse{}, errors.NewConflictError(ReasonBadTokenOrState, nil).
				WithDetails(map[string]string{"state": string(req.State)})
		}
	}

	body := bufio.NewReaderSize(in.Body, sniffLen)
	head, err := body.Peek(sniffLen)
	if err != nil && !stderrors.Is(err, io.EOF) {
		return models.UploadResponse{}, errors.NewValidationError("failed to read image", err)
	}
	if len(head) == 0 {
		return models.UploadResponse{}, errors.NewValidationError("no image", nil)
	}
	mimeType := http.DetectContentType(head)
	if !s.Store.IsAllowedMimeType(mimeType) {
		return models.UploadResponse{}, errors.NewValidationError("unsupported image type "+mimeType, nil)
	}

	ts := in.TS
	if ts <= 0 {
		ts = s.now().UnixMilli()
	}
	label := in.Token
	if label == "" {
		label = nuts.NID("legacy", 8)
	}
	ref := fmt.Sprintf("%d_%s%s", ts, label, files.ExtensionForMime(mimeType))

	if _, err := s.Store.Save(ctx, ref, body); err != nil {
		return models.UploadResponse{}, err
	}

	accepted, err := s.publish(ctx, in.Token, ts, ref)
	if err != nil {
		s.discard(ctx, ref)
		return models.UploadResponse{}, err
	}
	if !accepted {
		s.discard(ctx, ref)
		s.Monitoring.RecordEvent("artifact_superseded", map[string]string{"ref": ref})
		return models.UploadResponse{OK: true, Accepted: false, TS: ts, Reason: ReasonSuperseded}, nil
	}

	s.Monitoring.RecordEvent("artifact_published", map[string]string{"ref": ref})
	nuts.L.Infof("[HubService] Artifact %s published (ts=%d)", ref, ts)
	if s.autoAnalyze && s.Analyzer != nil && s.Analyzer.Enabled() {
		s.analyzeInBackground(ts, ref, mimeType)
	}
	return models.UploadResponse{OK: true, Accepted: true, TS: ts, ImageURL: ArtifactURL(ref)}, nil
}

func (s *HubService) publish(ctx context.Context, token string, ts int64, ref string) (bool, error) {
	if token == "" {
		accepted, err := s.Gate.TryPublish(ctx, models.Artifact{TS: ts, Ref: ref})
		if err != nil {
			return false, errors.NewUnavailableError("failed to publish artifact", err)
		}
		return accepted, nil
	}

	outcome, err := s.Captures.Publish(ctx, token, ts, ref)
	if err != nil {
		return false, errors.NewUnavailableError("failed to publish artifact", err)
	}
	switch outcome {
	case models.PublishAccepted:
		return true, nil
	case models.PublishSuperseded:
		return false, nil
	default:
		// the capture timed out between the state check and the publish
		return false, errors.NewConflictError(ReasonBadTokenOrState, nil)
	}
}

func (s *HubService) discard(ctx context.Context, ref string) {
	if err := s.Store.Delete(ctx, ref); err != nil {
		nuts.L.Errorf("[HubService] Failed to discard artifact %s: %v", ref, err)
	}
}

// Latest describes the newest published artifact.
func (s *HubService) Latest(ctx context.Context) (models.LatestResponse, error) {
	latest, err := s.Gate.Latest(ctx)
	if err != nil {
		return models.LatestResponse{}, err
	}
	if latest.Empty() {
		return models.LatestResponse{HasImage: false}, nil
	}
	if latest.Reading == "" {
		latest = s.withStoredReading(ctx, latest)
	}
	imageURL := LatestURL(latest.TS)
	return models.LatestResponse{
		HasImage: true,
		ImageURL: &imageURL,
		Result: models.LatestResult{
			TS:         latest.TS,
			Reading:    latest.Reading,
			Confidence: latest.Confidence,
		},
	}, nil
}

// withStoredReading fills in a reading persisted for the same artifact, e.g.
// after the gate's backend was restarted and lost its annotation.
func (s *HubService) withStoredReading(ctx context.Context, latest models.Artifact) models.Artifact {
	reading, err := s.History.LatestReading(ctx)
	if err != nil {
		if !stderrors.Is(err, repository.ErrNotFound) {
			nuts.L.Warnf("[HubService] Failed to load stored reading: %v", err)
		}
		return latest
	}
	if reading.TS == latest.TS {
		latest.Reading = reading.Reading
		latest.Confidence = reading.Confidence
	}
	return latest
}

// OpenLatest opens the newest artifact's bytes.
func (s *HubService) OpenLatest(ctx context.Context) (io.ReadCloser, int64, models.Artifact, error) {
	latest, err := s.Gate.Latest(ctx)
	if err != nil {
		return nil, 0, models.Artifact{}, err
	}
	if latest.Empty() {
		return nil, 0, latest, errors.NewNotFoundError("no image", nil)
	}
	rc, size, err := s.Store.Open(ctx, latest.Ref)
	if err != nil {
		return nil, 0, latest, err
	}
	return rc, size, latest, nil
}

// OpenArtifact opens a stored artifact by ref.
func (s *HubService) OpenArtifact(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	return s.Store.Open(ctx, ref)
}

// Analyze runs OCR on an image supplied by the caller.
func (s *HubService) Analyze(ctx context.Context, image []byte) (models.AnalysisResult, error) {
	if len(image) == 0 {
		return models.AnalysisResult{}, errors.NewValidationError("empty file", nil)
	}
	if s.Analyzer == nil || !s.Analyzer.Enabled() {
		return models.AnalysisResult{}, errors.NewUnavailableError("analyzer not configured", analyzer.ErrNotConfigured)
	}
	result, err := s.Analyzer.Analyze(ctx, image, http.DetectContentType(image))
	if err != nil {
		return models.AnalysisResult{}, errors.NewInternalError("meter analysis failed", err)
	}
	s.Monitoring.RecordEvent("analysis_completed", nil)
	return result, nil
}

// analyzeInBackground reads a freshly published artifact and attaches the
// reading to the gate if the artifact is still the latest when OCR returns.
func (s *HubService) analyzeInBackground(ts int64, ref, mimeType string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx := context.Background()

		rc, _, err := s.Store.Open(ctx, ref)
		if err != nil {
			nuts.L.Errorf("[HubService] Auto-analysis could not open %s: %v", ref, err)
			return
		}
		image, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			nuts.L.Errorf("[HubService] Auto-analysis could not read %s: %v", ref, err)
			return
		}

		result, err := s.Analyzer.Analyze(ctx, image, mimeType)
		if err != nil {
			nuts.L.Errorf("[HubService] Auto-analysis of %s failed: %v", ref, err)
			return
		}
		if !result.HasReading() {
			return
		}

		applied, err := s.Gate.Annotate(ctx, ts, result.Reading, result.Confidence)
		if err != nil {
			nuts.L.Errorf("[HubService] Failed to annotate %s: %v", ref, err)
		}
		if !applied {
			nuts.L.Infof("[HubService] Reading for %s arrived after a newer artifact, not attached", ref)
		}

		hctx, cancel := historyContext()
		defer cancel()
		if err := s.History.SaveReading(hctx, &models.ArtifactReading{
			TS:         ts,
			Ref:        ref,
			Reading:    result.Reading,
			Confidence: result.Confidence,
			Notes:      result.Notes,
		}); err != nil {
			nuts.L.Errorf("[HubService] Failed to store reading for %s: %v", ref, err)
		}
	}()
}

// Metrics is the payload of the metrics endpoint.
type Metrics struct {
	Events   map[string]int64           `json:"events"`
	Ledger   map[string]LedgerWatermark `json:"ledger"`
	Captures int                        `json:"captures_tracked"`
	Relays   int                        `json:"relays_tracked"`
	UptimeS  int64                      `json:"uptime_s"`
}

type LedgerWatermark struct {
	Current  int64 `json:"current"`
	LastSeen int64 `json:"last_seen"`
}

func (s *HubService) Metrics(ctx context.Context) (Metrics, error) {
	m := Metrics{
		Events:   s.Monitoring.Totals(),
		Ledger:   make(map[string]LedgerWatermark, 2),
		Captures: s.Captures.Len(),
		Relays:   s.Relays.Len(),
		UptimeS:  int64(s.Monitoring.Uptime().Seconds()),
	}
	for _, kind := range []models.WorkKind{models.KindCapture, models.KindRelay} {
		current, lastSeen, err := s.Ledger.Watermark(ctx, kind)
		if err != nil {
			return Metrics{}, err
		}
		m.Ledger[string(kind)] = LedgerWatermark{Current: current, LastSeen: lastSeen}
	}
	return m, nil
}
