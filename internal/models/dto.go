package models

import "time"

// IngestResponse is returned after ingesting a media file
type IngestResponse struct {
	ID       string     `json:"id"`
	Path     string     `json:"path"`
	Story    string     `json:"story"`
	Mimetype string     `json:"mimetype"`
	Width    int        `json:"width"`
	Height   int        `json:"height"`
	Rotation int        `json:"rotation"`
	Date     *time.Time `json:"date,omitempty"`
}

// MediaToResponse converts a Media to IngestResponse
func MediaToResponse(m *Media) IngestResponse {
	return IngestResponse{
		ID:       m.ID,
		Path:     m.Path,
		Story:    m.Story,
		Mimetype: m.Mimetype,
		Width:    m.Width,
		Height:   m.Height,
		Rotation: m.Rotation,
		Date:     m.CaptureDate,
	}
}

// HealthResponse is returned by health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error     string    `json:"error"`
	Kind      ErrorKind `json:"kind,omitempty"`
	Retryable bool      `json:"retryable"`
}

// CrawlSummary reports what one crawl pass did
type CrawlSummary struct {
	Visited   int `json:"visited"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// OrphanReport lists storage files the index does not account for
type OrphanReport struct {
	Unindexed []string `json:"unindexed"`
	Partial   []string `json:"partial"`
}
