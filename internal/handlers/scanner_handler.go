package handlers

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/photosync/mediaindex/internal/models"
	"github.com/photosync/mediaindex/internal/services"
)

// ScannerHandler handles storage crawl and repair endpoints
type ScannerHandler struct {
	scannerService *services.FileScannerService
}

// NewScannerHandler creates a new ScannerHandler
func NewScannerHandler(scannerService *services.FileScannerService) *ScannerHandler {
	return &ScannerHandler{
		scannerService: scannerService,
	}
}

// GetStatus returns the current scanner status
// @Summary Get scanner status
// @Tags scanner
// @Produce json
// @Success 200 {object} services.ScanStatus
// @Router /api/scanner/status [get]
func (h *ScannerHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.scannerService.GetStatus())
}

// RunNow triggers an immediate crawl of the storage root
// @Summary Run scan now
// @Description Crawl and index the storage root (runs in background)
// @Tags scanner
// @Produce json
// @Param dir query string false "Subdirectory to crawl; repeatable"
// @Success 202 {object} services.ScanStatus
// @Failure 409 {object} models.ErrorResponse "Scan already running"
// @Router /api/scanner/run [post]
func (h *ScannerHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	if h.scannerService.IsRunning() {
		respondError(w, http.StatusConflict, "A scan is already in progress.")
		return
	}

	h.scannerService.RunNow(r.URL.Query()["dir"]...)
	respondJSON(w, http.StatusAccepted, h.scannerService.GetStatus())
}

// ScanFileRequest names one file below the storage root
type ScanFileRequest struct {
	FilePath string `json:"filePath"`
}

// ScanFileResponse reports how one file was reconciled
type ScanFileResponse struct {
	Modification string                `json:"modification"`
	Media        models.IngestResponse `json:"media"`
}

// ScanFile indexes a single file by path
// @Summary Scan a single file
// @Tags scanner
// @Accept json
// @Produce json
// @Param request body ScanFileRequest true "File path to scan"
// @Success 200 {object} ScanFileResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/scanner/scan-file [post]
func (h *ScannerHandler) ScanFile(w http.ResponseWriter, r *http.Request) {
	var req ScanFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	if req.FilePath == "" {
		respondError(w, http.StatusBadRequest, "File path is required.")
		return
	}

	res, err := h.scannerService.ScanFile(r.Context(), req.FilePath)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, models.ErrPathTraversal) {
		respondError(w, http.StatusNotFound, "File not found.")
		return
	}
	if err != nil {
		respondIngestError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, ScanFileResponse{
		Modification: res.Modification.String(),
		Media:        models.MediaToResponse(res.Media),
	})
}

// Orphans reports storage files the index does not account for
// @Summary List orphan files
// @Tags scanner
// @Produce json
// @Param dir query string false "Subdirectory to sweep"
// @Success 200 {object} models.OrphanReport
// @Router /api/scanner/orphans [get]
func (h *ScannerHandler) Orphans(w http.ResponseWriter, r *http.Request) {
	report, err := h.scannerService.OrphanSweep(r.Context(), r.URL.Query().Get("dir"))
	if err != nil && report == nil {
		respondIngestError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
