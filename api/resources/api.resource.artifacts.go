// FilePath: server/meterhub/api/resources/api.resource.artifacts.go
package resources

import (
	stderrors "errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/errors"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/hubservice"
	nuts "github.com/vaudience/go-nuts"
)

const (
	// multipartOverhead is the headroom allowed for form boundaries and fields.
	multipartOverhead = 1 << 20
	multipartMemory   = 8 << 20
)

// ArtifactHandlers encapsulates the image upload and download handlers
type ArtifactHandlers struct {
	hubservice *hubservice.HubService
}

type uploadQuery struct {
	Token string `schema:"token"`
	TS    int64  `schema:"ts"`
}

// @Summary Upload a meter image
// @Description Raw image body, or multipart form with an "image" field. With a token the capture must be ACKED; without one the image is offered straight to the gate.
// @Tags device
// @Accept image/jpeg
// @Accept multipart/form-data
// @Produce json
// @Param token query string false "Capture token"
// @Param ts query int false "Capture time, unix milliseconds"
// @Success 200 {object} models.UploadResponse
// @Failure 400 {object} errors.APIError
// @Failure 404 {object} errors.APIError
// @Failure 409 {object} errors.APIError
// @Failure 413 {object} errors.APIError
// @Router /upload [post]
func (h *ArtifactHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	var q uploadQuery
	if err := decodeQuery(r, &q); err != nil {
		respondWithError(w, r, err)
		return
	}
	body, err := h.imageBody(w, r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	defer body.Close()

	resp, err := h.hubservice.Upload(r.Context(), hubservice.UploadInput{Token: q.Token, TS: q.TS, Body: body})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// @Summary Latest artifact
// @Tags artifacts
// @Produce json
// @Success 200 {object} models.LatestResponse
// @Router /latest [get]
func (h *ArtifactHandlers) Latest(w http.ResponseWriter, r *http.Request) {
	resp, err := h.hubservice.Latest(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// @Summary Latest image bytes
// @Tags artifacts
// @Produce image/jpeg
// @Success 200 {file} file
// @Failure 404 {object} errors.APIError
// @Router /latest.jpg [get]
func (h *ArtifactHandlers) LatestImage(w http.ResponseWriter, r *http.Request) {
	rc, size, latest, err := h.hubservice.OpenLatest(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("X-Artifact-TS", strconv.FormatInt(latest.TS, 10))
	streamImage(w, latest.Ref, size, rc)
}

// @Summary Image of a specific artifact
// @Tags artifacts
// @Produce image/jpeg
// @Param ref path string true "Artifact ref"
// @Success 200 {file} file
// @Failure 404 {object} errors.APIError
// @Router /artifacts/{ref} [get]
func (h *ArtifactHandlers) GetArtifact(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	rc, size, err := h.hubservice.OpenArtifact(r.Context(), ref)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	defer rc.Close()
	streamImage(w, ref, size, rc)
}

// @Summary Read a meter image
// @Description Run OCR on the uploaded image. Answers {raw, warning} when the model did not return strict JSON.
// @Tags artifacts
// @Accept multipart/form-data
// @Produce json
// @Param image formData file true "Meter image"
// @Success 200 {object} models.AnalysisResult
// @Failure 400 {object} errors.APIError
// @Failure 503 {object} errors.APIError
// @Router /analyze [post]
func (h *ArtifactHandlers) Analyze(w http.ResponseWriter, r *http.Request) {
	body, err := h.imageBody(w, r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	defer body.Close()

	limit := h.hubservice.Store.MaxFileSize()
	image, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		respondWithError(w, r, errors.NewValidationError("failed to read image", err))
		return
	}
	if int64(len(image)) > limit {
		respondWithError(w, r, errors.NewPayloadTooLargeError("image too large", nil))
		return
	}

	result, err := h.hubservice.Analyze(r.Context(), image)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// imageBody returns the "image" part of a multipart form or the raw body.
func (h *ArtifactHandlers) imageBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.hubservice.Store.MaxFileSize()+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, errors.NewPayloadTooLargeError("image too large", err)
		}
		return nil, errors.NewValidationError("invalid multipart form", err)
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, errors.NewValidationError("no image", err)
	}
	return file, nil
}

func streamImage(w http.ResponseWriter, ref string, size int64, rc io.Reader) {
	contentType := mime.TypeByExtension(filepath.Ext(ref))
	if contentType == "" {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		nuts.L.Errorf("[API] Failed to stream artifact %s: %v", ref, err)
	}
}
