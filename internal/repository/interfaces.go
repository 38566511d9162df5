package repository

import (
	"context"
	"time"

	"github.com/photosync/mediaindex/internal/models"
)

// MediaStore defines the metadata index operations used outside a transaction.
// Lookups return nil, nil when nothing matches.
type MediaStore interface {
	GetByID(ctx context.Context, id string) (*models.Media, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
	ListPaths(ctx context.Context) ([]string, error)
	GetThumbnail(ctx context.Context, id string) (*models.Thumbnail, error)
	GetStory(ctx context.Context, name string) (*models.Story, error)
	GetPosition(ctx context.Context, mediaID string) (*models.Position, error)
	AddPosition(ctx context.Context, p *models.Position) error
	Ping(ctx context.Context) error

	// WithinTx runs fn in a single transaction, committing only if fn succeeds
	WithinTx(ctx context.Context, fn func(tx MediaTx) error) error
}

// MediaTx defines the writes a reconciliation performs atomically
type MediaTx interface {
	GetByPath(ctx context.Context, path string) (*models.Media, error)
	Insert(ctx context.Context, m *models.Media) error
	InsertThumbnail(ctx context.Context, t *models.Thumbnail) error
	// UpdateFields writes only the non-nil fields of c
	UpdateFields(ctx context.Context, id string, c models.MediaChanges) error
	SetRotation(ctx context.Context, id string, rotation int) error
	ReplaceThumbnail(ctx context.Context, t *models.Thumbnail) error

	// EnsureStory creates the story row if it is missing, titled after its name
	EnsureStory(ctx context.Context, name string, now time.Time) error
	// TouchStory records mediaID as the newest member of the story
	TouchStory(ctx context.Context, name, mediaID string, now time.Time) error
}

var (
	_ MediaStore = (*Store)(nil)
	_ MediaTx    = (*mediaTx)(nil)
)
