// FilePath: server/meterhub/api/resources/api.resource.capture.go
package resources

import (
	"net/http"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/hubservice"
)

// CaptureHandlers encapsulates the capture-request HTTP handlers
type CaptureHandlers struct {
	hubservice *hubservice.HubService
}

type sinceQuery struct {
	Since int64 `schema:"since"`
}

type captureAckQuery struct {
	Token string `schema:"token"`
	Seq   int64  `schema:"seq"`
}

type tokenQuery struct {
	Token string `schema:"token"`
}

// @Summary Request a capture
// @Description Register a capture request for the device to pick up on its next poll
// @Tags capture
// @Produce json
// @Success 200 {object} models.TriggerResponse
// @Failure 503 {object} errors.APIError
// @Router /capture [post]
func (h *CaptureHandlers) RequestCapture(w http.ResponseWriter, r *http.Request) {
	resp, err := h.hubservice.RequestCapture(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// @Summary Poll for capture work
// @Description Device poll: is there a capture request newer than since?
// @Tags device
// @Produce json
// @Param since query int false "Highest capture seq the device has handled"
// @Success 200 {object} models.CaptureNextResponse
// @Failure 400 {object} errors.APIError
// @Router /capture/next [get]
func (h *CaptureHandlers) NextCapture(w http.ResponseWriter, r *http.Request) {
	var q sinceQuery
	if err := decodeQuery(r, &q); err != nil {
		respondWithError(w, r, err)
		return
	}
	resp, err := h.hubservice.NextCapture(r.Context(), q.Since)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// @Summary Acknowledge a capture request
// @Description Device acknowledgement; 409 when the token is unknown or no longer REQUESTED
// @Tags device
// @Produce json
// @Param token query string false "Capture token"
// @Param seq query int false "Capture seq"
// @Success 200 {object} models.AckResponse
// @Failure 409 {object} models.AckResponse
// @Router /capture/ack [post]
func (h *CaptureHandlers) AckCapture(w http.ResponseWriter, r *http.Request) {
	var q captureAckQuery
	if err := decodeQuery(r, &q); err != nil {
		respondWithError(w, r, err)
		return
	}
	resp, err := h.hubservice.AckCapture(r.Context(), q.Token, q.Seq)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondAck(w, resp)
}

// @Summary Capture request state
// @Description Where a capture request is in REQUESTED, ACKED, PUBLISHED or TIMED_OUT
// @Tags capture
// @Produce json
// @Param token query string true "Capture token"
// @Success 200 {object} models.StateResponse
// @Failure 404 {object} errors.APIError
// @Router /capture/state [get]
func (h *CaptureHandlers) CaptureState(w http.ResponseWriter, r *http.Request) {
	var q tokenQuery
	if err := decodeQuery(r, &q); err != nil {
		respondWithError(w, r, err)
		return
	}
	resp, err := h.hubservice.CaptureState(r.Context(), q.Token)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}
