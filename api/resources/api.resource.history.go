// FilePath: server/meterhub/api/resources/api.resource.history.go
package resources

import (
	"net/http"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/hubservice"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
)

// HistoryHandlers serves persisted capture and relay requests
type HistoryHandlers struct {
	hubservice *hubservice.HubService
}

type historyQuery struct {
	Kind   string `schema:"kind"`
	Offset int    `schema:"offset"`
	Limit  int    `schema:"limit"`
}

// @Summary List request history
// @Description Persisted capture or relay requests, newest first. Empty when no history store is configured.
// @Tags history
// @Produce json
// @Param kind query string false "capture (default) or relay"
// @Param offset query int false "Offset for pagination"
// @Param limit query int false "Limit for pagination (max 200)"
// @Success 200 {object} models.HistoryPage
// @Failure 400 {object} errors.APIError
// @Router /history [get]
func (h *HistoryHandlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	var q historyQuery
	if err := decodeQuery(r, &q); err != nil {
		respondWithError(w, r, err)
		return
	}
	page, err := h.hubservice.ListHistory(r.Context(), models.HistoryFilter{
		Kind:   models.WorkKind(q.Kind),
		Offset: q.Offset,
		Limit:  q.Limit,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, page)
}
