package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/photosync/mediaindex/internal/models"
	"github.com/photosync/mediaindex/internal/observability"
)

// retryAfterSeconds is advertised when the metadata store is saturated
const retryAfterSeconds = "1"

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.ErrorResponse{Error: message})
}

// statusFor maps an ingestion failure onto an HTTP status. Rejected input is
// a 4xx the caller should not retry; an unavailable store is a 503.
func statusFor(err error) int {
	if errors.Is(err, models.ErrMediaNotFound) {
		return http.StatusNotFound
	}
	switch models.KindOf(err) {
	case models.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case models.KindCorruptMedia, models.KindUnknownOrientation:
		return http.StatusUnprocessableEntity
	case models.KindAlreadyIndexed, models.KindPathConflict:
		return http.StatusConflict
	case models.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case models.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondIngestError writes a structured error telling the caller whether the
// input was refused or the service is briefly unavailable
func respondIngestError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	observability.AnnotateErrorKind(r, string(models.KindOf(err)), models.IsRetryable(err))

	if status == http.StatusInternalServerError {
		observability.WithContext(r.Context()).Errorf("request failed: %v", err)
		message = "Internal server error."
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	respondJSON(w, status, models.ErrorResponse{
		Error:     message,
		Kind:      models.KindOf(err),
		Retryable: models.IsRetryable(err),
	})
}
