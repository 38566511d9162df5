package services

import (
	"context"
	"time"

	"github.com/photosync/mediaindex/internal/models"
	"github.com/photosync/mediaindex/internal/observability"
	"github.com/photosync/mediaindex/internal/repository"
)

// ReconcileService decides Created, Updated or Unchanged for a decoded record
// and performs the smallest write that gets the index there
type ReconcileService struct {
	now func() time.Time
}

// NewReconcileService creates a new ReconcileService
func NewReconcileService() *ReconcileService {
	return &ReconcileService{now: time.Now}
}

// Reconcile looks candidate up by path inside tx. An existing record only
// has its dimensions and capture date brought up to date; otherwise the
// record, its thumbnail and the story bookkeeping are written together.
func (s *ReconcileService) Reconcile(ctx context.Context, tx repository.MediaTx, candidate *models.Media, thumb *models.Thumbnail) (models.Modification, *models.Media, error) {
	logger := observability.WithContext(ctx).WithField("path", candidate.Path)

	existing, err := tx.GetByPath(ctx, candidate.Path)
	if err != nil {
		return 0, nil, err
	}

	if existing != nil {
		if existing.ID != candidate.ID {
			logger.WithField("stored_id", existing.ID).Warnf("content at path changed, keeping id %s", existing.ID)
		}

		changes := Diff(existing, candidate)
		if changes.IsEmpty() {
			return models.Unchanged, existing, nil
		}
		if err := tx.UpdateFields(ctx, existing.ID, changes); err != nil {
			return 0, nil, err
		}
		applyChanges(existing, changes)
		return models.Updated, existing, nil
	}

	if candidate.Story == "" {
		candidate.Story = models.DefaultStory
	}
	now := s.now().UTC()

	if err := tx.EnsureStory(ctx, candidate.Story, now); err != nil {
		return 0, nil, err
	}
	if err := tx.Insert(ctx, candidate); err != nil {
		return 0, nil, err
	}
	if thumb != nil {
		if err := tx.InsertThumbnail(ctx, thumb); err != nil {
			return 0, nil, err
		}
	}
	if err := tx.TouchStory(ctx, candidate.Story, candidate.ID, now); err != nil {
		return 0, nil, err
	}
	return models.Created, candidate, nil
}

// Diff lists the whitelisted fields in which candidate differs from stored.
// A candidate without a capture date never clears a stored one.
func Diff(stored, candidate *models.Media) models.MediaChanges {
	var c models.MediaChanges
	if stored.Width != candidate.Width {
		w := candidate.Width
		c.Width = &w
	}
	if stored.Height != candidate.Height {
		h := candidate.Height
		c.Height = &h
	}
	if candidate.CaptureDate != nil && (stored.CaptureDate == nil || !stored.CaptureDate.Equal(*candidate.CaptureDate)) {
		d := *candidate.CaptureDate
		c.CaptureDate = &d
	}
	return c
}

func applyChanges(m *models.Media, c models.MediaChanges) {
	if c.Width != nil {
		m.Width = *c.Width
	}
	if c.Height != nil {
		m.Height = *c.Height
	}
	if c.CaptureDate != nil {
		m.CaptureDate = c.CaptureDate
	}
}
