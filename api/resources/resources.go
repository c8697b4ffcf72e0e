// FilePath: server/meterhub/api/resources/resources.go
package resources

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/schema"
	"github.com/itsatony/w4b_v3/server/meterhub/api/middleware"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/errors"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/hubservice"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

// Resources holds all HTTP resource handlers
type Resources struct {
	Capture   *CaptureHandlers
	Relay     *RelayHandlers
	Artifacts *ArtifactHandlers
	History   *HistoryHandlers
	System    *SystemHandlers
}

// NewResources creates a new Resources instance
func NewResources(svc *hubservice.HubService) *Resources {
	return &Resources{
		Capture:   &CaptureHandlers{hubservice: svc},
		Relay:     &RelayHandlers{hubservice: svc},
		Artifacts: &ArtifactHandlers{hubservice: svc},
		History:   &HistoryHandlers{hubservice: svc},
		System:    &SystemHandlers{hubservice: svc},
	}
}

var queryDecoder = newQueryDecoder()

func newQueryDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// decodeQuery fills dst from the URL query using `schema` tags.
func decodeQuery(r *http.Request, dst any) *errors.APIError {
	if err := queryDecoder.Decode(dst, r.URL.Query()); err != nil {
		return errors.NewValidationError("invalid query parameters", err)
	}
	return nil
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := errors.AsAPIError(err).WithRequestID(middleware.GetRequestID(r))
	if apiErr.Code >= http.StatusInternalServerError {
		nuts.L.Errorf("[API] %s %s: %s", r.Method, r.URL.Path, apiErr.Error())
	} else {
		nuts.L.Warnf("[API] %s %s: %s", r.Method, r.URL.Path, apiErr.Error())
	}
	respondWithJSON(w, apiErr.Code, apiErr)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		nuts.L.Errorf("[API] Failed to encode response: %v", err)
	}
}

// NotFound answers unmatched routes with a JSON error.
func NotFound(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, errors.NewNotFoundError("route not found", nil).WithDetails(map[string]string{"path": r.URL.Path}))
}

// MethodNotAllowed answers matched routes called with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusMethodNotAllowed, &errors.APIError{
		Type:      errors.ErrorTypeValidation,
		Message:   "method not allowed",
		Code:      http.StatusMethodNotAllowed,
		RequestID: middleware.GetRequestID(r),
	})
}

// respondAck answers 409 with the ack body when the ack changed nothing.
func respondAck(w http.ResponseWriter, resp models.AckResponse) {
	if !resp.OK {
		respondWithJSON(w, http.StatusConflict, resp)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}
