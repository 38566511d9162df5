package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// MediaKind is the closed set of media the collection knows how to decode
type MediaKind string

const (
	// KindAuto lets content sniffing decide the kind
	KindAuto MediaKind = "auto"
	// KindImage is a still image
	KindImage MediaKind = "image"
	// KindVideo is a video container
	KindVideo MediaKind = "video"
)

// ParseMediaKind converts a caller-supplied hint into a MediaKind
func ParseMediaKind(s string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return KindAuto, nil
	case "image":
		return KindImage, nil
	case "video":
		return KindVideo, nil
	default:
		return "", fmt.Errorf("unknown media kind %q", s)
	}
}

// DefaultStory is the grouping used when a caller gives no story label
const DefaultStory = "default"

// Media is one indexed photo or video. ID is the sha256 of the stored bytes.
type Media struct {
	ID          string     `db:"id" json:"id"`
	Path        string     `db:"path" json:"path"`
	CaptureDate *time.Time `db:"date" json:"date,omitempty"`
	Rotation    int        `db:"rotation" json:"rotation"`
	IsPublic    bool       `db:"is_public" json:"isPublic"`
	Width       int        `db:"width" json:"width"`
	Height      int        `db:"height" json:"height"`
	Story       string     `db:"story" json:"story"`
	Lat         *float64   `db:"lat" json:"lat,omitempty"`
	Lon         *float64   `db:"lon" json:"lon,omitempty"`
	Make        *string    `db:"make" json:"make,omitempty"`
	Model       *string    `db:"model" json:"model,omitempty"`
	Caption     *string    `db:"caption" json:"caption,omitempty"`
	Mimetype    string     `db:"mimetype" json:"mimetype"`
}

// StoragePath derives the storage-relative path for a piece of content.
// Dated media land in YYYY/MM/DD folders; undated media sit at the root.
func StoragePath(captureDate *time.Time, id, ext string) string {
	name := id
	if ext != "" {
		name = id + "." + ext
	}
	if captureDate == nil {
		return name
	}
	return captureDate.Format("2006/01/02") + "/" + name
}

// MediaChanges lists the fields a re-index may touch. Nil means untouched.
type MediaChanges struct {
	Width       *int
	Height      *int
	CaptureDate *time.Time
}

// IsEmpty reports whether nothing needs to be written
func (c MediaChanges) IsEmpty() bool {
	return c.Width == nil && c.Height == nil && c.CaptureDate == nil
}

// Thumbnail holds the encoded preview for one Media, keyed by the same id
type Thumbnail struct {
	ID       string `db:"id"`
	Content  []byte `db:"content"`
	Mimetype string `db:"mimetype"`
}

// Story groups related media
type Story struct {
	Name        string    `db:"name" json:"name"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	CreatedOn   time.Time `db:"created_on" json:"createdOn"`
	LastUpdated time.Time `db:"last_updated" json:"lastUpdated"`
	LatestMedia *string   `db:"latest_media" json:"latestMedia,omitempty"`
	MediaCount  int       `db:"media_count" json:"mediaCount"`
}

// Position is the legacy fixed-point location record, in micro-degrees
type Position struct {
	MediaID   string `db:"media_id"`
	Latitude  int    `db:"latitude"`
	Longitude int    `db:"longitude"`
}

// NewPosition converts decimal degrees into a Position
func NewPosition(mediaID string, lat, lon float64) *Position {
	return &Position{
		MediaID:   mediaID,
		Latitude:  int(math.Round(lat * 1e6)),
		Longitude: int(math.Round(lon * 1e6)),
	}
}

// Modification is the outcome of reconciling a record against the index
type Modification int

const (
	Created Modification = iota + 1
	Updated
	Unchanged
)

func (m Modification) String() string {
	switch m {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}
