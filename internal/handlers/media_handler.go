package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/photosync/mediaindex/internal/models"
	"github.com/photosync/mediaindex/internal/services"
)

// MediaCollection is the part of the collection the HTTP layer drives
type MediaCollection interface {
	Ingest(ctx context.Context, data []byte, hint models.MediaKind, story string) (*models.Media, error)
	Thumbnail(ctx context.Context, id string) (*models.Thumbnail, error)
	RegenerateThumbnail(ctx context.Context, id string, rotation int) (*models.Media, error)
}

// MediaHandler handles media ingestion endpoints
type MediaHandler struct {
	collection  MediaCollection
	hashService *services.HashService
	maxBytes    int64
}

// NewMediaHandler creates a new MediaHandler accepting bodies up to maxFileSizeMB
func NewMediaHandler(collection MediaCollection, maxFileSizeMB int64) *MediaHandler {
	return &MediaHandler{
		collection:  collection,
		hashService: services.NewHashService(),
		maxBytes:    maxFileSizeMB * 1024 * 1024,
	}
}

// Ingest stores the raw request body as a new media item
// @Summary Ingest a media file
// @Description Stores the raw body in the collection. Identical content is refused with 409.
// @Tags media
// @Accept application/octet-stream
// @Produce json
// @Param story path string false "Story label"
// @Param kind query string false "image, video or auto"
// @Success 201 {object} models.IngestResponse
// @Failure 409 {object} models.ErrorResponse "Already indexed or path conflict"
// @Failure 415 {object} models.ErrorResponse "Unsupported format"
// @Failure 422 {object} models.ErrorResponse "Undecodable media"
// @Failure 503 {object} models.ErrorResponse "Metadata store busy, retry"
// @Router /api/stories/{story}/media [post]
func (h *MediaHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseMediaKind(r.URL.Query().Get("kind"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	body := r.Body
	if h.maxBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondIngestError(w, r, models.ErrFileTooLarge)
			return
		}
		respondError(w, http.StatusBadRequest, "Failed to read request body.")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "Request body is empty.")
		return
	}

	media, err := h.collection.Ingest(r.Context(), data, kind, chi.URLParam(r, "story"))
	if err != nil {
		respondIngestError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, models.MediaToResponse(media))
}

// GetThumbnail returns the stored preview of a media item
// @Summary Get thumbnail
// @Tags media
// @Produce image/jpeg
// @Param id path string true "Content id (sha256)"
// @Success 200 {file} binary
// @Failure 400 {object} models.ErrorResponse "Invalid id"
// @Failure 404 {object} models.ErrorResponse "Not found"
// @Router /api/media/{id}/thumbnail [get]
func (h *MediaHandler) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	id := h.hashService.NormalizeHash(chi.URLParam(r, "id"))
	if !h.hashService.IsValidHash(id) {
		respondError(w, http.StatusBadRequest, "Invalid media id.")
		return
	}

	thumb, err := h.collection.Thumbnail(r.Context(), id)
	if err != nil {
		respondIngestError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", thumb.Mimetype)
	w.Header().Set("Content-Length", strconv.Itoa(len(thumb.Content)))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(thumb.Content)
}

// RotateRequest is the body of a rotation change
type RotateRequest struct {
	Rotation int `json:"rotation"`
}

// Rotate changes the rotation of a media item and regenerates its thumbnail
// @Summary Rotate media
// @Tags media
// @Accept json
// @Produce json
// @Param id path string true "Content id (sha256)"
// @Param request body RotateRequest true "Clockwise degrees: 0, 90, 180 or 270"
// @Success 200 {object} models.IngestResponse
// @Failure 404 {object} models.ErrorResponse "Not found"
// @Failure 422 {object} models.ErrorResponse "Invalid rotation"
// @Router /api/media/{id}/rotation [put]
func (h *MediaHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	id := h.hashService.NormalizeHash(chi.URLParam(r, "id"))
	if !h.hashService.IsValidHash(id) {
		respondError(w, http.StatusBadRequest, "Invalid media id.")
		return
	}

	var req RotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	media, err := h.collection.RegenerateThumbnail(r.Context(), id, req.Rotation)
	if err != nil {
		respondIngestError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, models.MediaToResponse(media))
}
