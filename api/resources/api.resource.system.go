// FilePath: server/meterhub/api/resources/api.resource.system.go
package resources

import (
	"net/http"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/errors"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/hubservice"
	"github.com/swaggo/swag"
	nuts "github.com/vaudience/go-nuts"
)

// SystemHandlers serves health, metrics and the API document
type SystemHandlers struct {
	hubservice *hubservice.HubService
}

type HealthResponse struct {
	OK       bool   `json:"ok"`
	Status   string `json:"status"`
	Version  string `json:"version"`
	Time     int64  `json:"time"`
	LatestTS int64  `json:"latest_ts"`
}

// @Summary Health check
// @Description Reports ok when the state backend answers
// @Tags system
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} errors.APIError
// @Router /health [get]
func (h *SystemHandlers) Health(w http.ResponseWriter, r *http.Request) {
	latest, err := h.hubservice.Gate.Latest(r.Context())
	if err != nil {
		respondWithError(w, r, errors.NewUnavailableError("state backend unavailable", err))
		return
	}
	respondWithJSON(w, http.StatusOK, HealthResponse{
		OK:       true,
		Status:   "ok",
		Version:  nuts.GetVersion(),
		Time:     time.Now().UnixMilli(),
		LatestTS: latest.TS,
	})
}

// @Summary Protocol metrics
// @Description Event counters, ledger watermarks and tracked request counts
// @Tags system
// @Produce json
// @Success 200 {object} hubservice.Metrics
// @Router /metrics [get]
func (h *SystemHandlers) Metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.hubservice.Metrics(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, m)
}

// Swagger serves the registered OpenAPI document.
func (h *SystemHandlers) Swagger(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		respondWithError(w, r, errors.NewInternalError("api document not registered", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
