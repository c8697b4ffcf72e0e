// FilePath: server/meterhub/api/resources/api.resource.relay.go
package resources

import (
	"net/http"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/hubservice"
)

// RelayHandlers encapsulates the relay-request HTTP handlers
type RelayHandlers struct {
	hubservice *hubservice.HubService
}

type seqQuery struct {
	Seq int64 `schema:"seq"`
}

// @Summary Activate the relay
// @Description Ask the device to energize its relay for a random duration
// @Tags relay
// @Produce json
// @Success 200 {object} models.TriggerResponse
// @Failure 503 {object} errors.APIError
// @Router /relay/activate [post]
func (h *RelayHandlers) ActivateRelay(w http.ResponseWriter, r *http.Request) {
	resp, err := h.hubservice.ActivateRelay(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// @Summary Poll for relay work
// @Tags device
// @Produce json
// @Param since query int false "Highest relay seq the device has handled"
// @Success 200 {object} models.RelayNextResponse
// @Router /relay/next [get]
func (h *RelayHandlers) NextRelay(w http.ResponseWriter, r *http.Request) {
	var q sinceQuery
	if err := decodeQuery(r, &q); err != nil {
		respondWithError(w, r, err)
		return
	}
	resp, err := h.hubservice.NextRelay(r.Context(), q.Since)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// @Summary Report a finished relay activation
// @Tags device
// @Produce json
// @Param seq query int true "Relay seq"
// @Success 200 {object} models.AckResponse
// @Failure 409 {object} models.AckResponse
// @Router /relay/ack [post]
func (h *RelayHandlers) AckRelay(w http.ResponseWriter, r *http.Request) {
	var q seqQuery
	if err := decodeQuery(r, &q); err != nil {
		respondWithError(w, r, err)
		return
	}
	resp, err := h.hubservice.AckRelay(r.Context(), q.Seq)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondAck(w, resp)
}

// @Summary Relay request state
// @Tags relay
// @Produce json
// @Param seq query int true "Relay seq"
// @Success 200 {object} models.StateResponse
// @Failure 404 {object} errors.APIError
// @Router /relay/state [get]
func (h *RelayHandlers) RelayState(w http.ResponseWriter, r *http.Request) {
	var q seqQuery
	if err := decodeQuery(r, &q); err != nil {
		respondWithError(w, r, err)
		return
	}
	resp, err := h.hubservice.RelayState(r.Context(), q.Seq)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}
