package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/photosync/mediaindex/internal/models"
	"github.com/photosync/mediaindex/internal/observability"
	"github.com/photosync/mediaindex/internal/repository"
	"github.com/photosync/mediaindex/internal/workers"
)

// IndexResult is the outcome of indexing one file
type IndexResult struct {
	Modification models.Modification
	// Media is the record as it now stands in the index
	Media *models.Media
	// Metadata is what was freshly read from the bytes; nil for video
	Metadata *EXIFData
}

// CollectionService owns the storage root and sequences ingestion:
// identify, decode, write bytes, write metadata
type CollectionService struct {
	store     repository.MediaStore
	storage   *MediaStorageService
	identity  *HashService
	metadata  MetadataReader
	images    *ThumbnailService
	videos    *VideoService
	reconcile *ReconcileService
	pool      *workers.Pool
	metrics   *observability.IngestMetrics

	defaultStory string
	locks        *workers.KeyedMutex
}

// NewCollectionService creates a new CollectionService
func NewCollectionService(
	store repository.MediaStore,
	storage *MediaStorageService,
	metadata MetadataReader,
	images *ThumbnailService,
	videos *VideoService,
	pool *workers.Pool,
	defaultStory string,
) *CollectionService {
	if defaultStory == "" {
		defaultStory = models.DefaultStory
	}
	return &CollectionService{
		store:        store,
		storage:      storage,
		identity:     NewHashService(),
		metadata:     metadata,
		images:       images,
		videos:       videos,
		reconcile:    NewReconcileService(),
		pool:         pool,
		defaultStory: defaultStory,
		locks:        workers.NewKeyedMutex(),
	}
}

// SetMetrics enables ingestion metrics
func (s *CollectionService) SetMetrics(m *observability.IngestMetrics) {
	s.metrics = m
}

// Storage returns the storage root this collection writes to
func (s *CollectionService) Storage() *MediaStorageService {
	return s.storage
}

// Store returns the metadata index
func (s *CollectionService) Store() repository.MediaStore {
	return s.store
}

// Ingest stores new content under its derived path and indexes it. Content
// that is already indexed is refused with ErrAlreadyIndexed. Every failure
// is an *models.IngestError; failures after the bytes were written carry
// their path.
func (s *CollectionService) Ingest(ctx context.Context, data []byte, hint models.MediaKind, story string) (*models.Media, error) {
	start := time.Now()
	ctx, span := observability.StartServiceSpan(ctx, "collection", "ingest")
	defer span.End()

	media, kind, err := s.ingest(ctx, data, hint, story)

	outcome := models.Created.String()
	if err != nil {
		outcome = string(models.KindOf(err))
		observability.RecordError(span, err)
	} else {
		span.SetAttributes(
			observability.MediaID(media.ID),
			observability.MediaPath(media.Path),
			observability.StoryName(media.Story),
		)
		observability.SetSuccess(span)
	}
	span.SetAttributes(observability.MediaKind(string(kind)), observability.Duration(time.Since(start)))
	s.metrics.RecordIngest(ctx, string(kind), outcome, time.Since(start))

	return media, err
}

func (s *CollectionService) ingest(ctx context.Context, data []byte, hint models.MediaKind, story string) (*models.Media, models.MediaKind, error) {
	if err := s.storage.CheckSize(len(data)); err != nil {
		return nil, hint, models.NewIngestError(err, "", "")
	}

	ident, err := s.identity.Identify(data, hint)
	if err != nil {
		return nil, hint, models.NewIngestError(err, "", "")
	}

	logger := observability.WithContext(ctx).WithFields(map[string]interface{}{
		"id":   ident.ID,
		"kind": ident.Kind,
	})

	// Same content never runs through here twice at once
	unlock := s.locks.Lock(ident.ID)
	defer unlock()

	exists, err := s.store.ExistsByID(ctx, ident.ID)
	if err != nil {
		return nil, ident.Kind, models.NewIngestError(err, ident.ID, "")
	}
	if exists {
		logger.Debug("content already indexed")
		return nil, ident.Kind, models.NewIngestError(models.ErrAlreadyIndexed, ident.ID, "")
	}

	if story = strings.TrimSpace(story); story == "" {
		story = s.defaultStory
	}

	candidate, thumb, _, err := s.decode(ctx, data, ident, story)
	if err != nil {
		return nil, ident.Kind, models.NewIngestError(err, ident.ID, "")
	}
	candidate.Path = models.StoragePath(candidate.CaptureDate, ident.ID, ident.Ext)

	if err := s.storage.Write(ctx, candidate.Path, data); err != nil {
		return nil, ident.Kind, models.NewIngestError(err, ident.ID, candidate.Path)
	}
	s.metrics.RecordBytesWritten(ctx, len(data))
	observability.AddEvent(trace.SpanFromContext(ctx), "bytes published", observability.MediaPath(candidate.Path))

	// The bytes are published; finish the index write even if the caller left
	mod, media, err := s.persist(context.WithoutCancel(ctx), candidate, thumb)
	if err != nil {
		logger.WithField("path", candidate.Path).Errorf("index write failed, file left for repair: %v", err)
		return nil, ident.Kind, models.NewIngestError(err, ident.ID, candidate.Path)
	}

	logger.WithField("path", media.Path).Infof("ingested into story %s (%s)", media.Story, mod)
	return media, ident.Kind, nil
}

func (s *CollectionService) persist(ctx context.Context, candidate *models.Media, thumb *models.Thumbnail) (models.Modification, *models.Media, error) {
	var mod models.Modification
	var media *models.Media
	err := s.store.WithinTx(ctx, func(tx repository.MediaTx) error {
		var err error
		mod, media, err = s.reconcile.Reconcile(ctx, tx, candidate, thumb)
		return err
	})
	return mod, media, err
}

// IndexFile indexes a file already sitting in the storage root, keyed by its
// path. An existing record at that path only has dimensions and capture date
// refreshed.
func (s *CollectionService) IndexFile(ctx context.Context, storedPath string) (*IndexResult, error) {
	start := time.Now()
	ctx, span := observability.StartServiceSpan(ctx, "collection", "index_file")
	defer span.End()
	span.SetAttributes(observability.MediaPath(storedPath))

	data, err := s.storage.Read(storedPath)
	if err != nil {
		observability.RecordError(span, err)
		return nil, models.NewIngestError(err, "", storedPath)
	}

	ident, err := s.identity.Identify(data, models.KindAuto)
	if err != nil {
		observability.RecordError(span, err)
		return nil, models.NewIngestError(err, "", storedPath)
	}

	unlock := s.locks.Lock(ident.ID)
	defer unlock()

	candidate, thumb, meta, err := s.decode(ctx, data, ident, s.defaultStory)
	if err != nil {
		observability.RecordError(span, err)
		return nil, models.NewIngestError(err, ident.ID, storedPath)
	}
	candidate.Path = storedPath

	mod, media, err := s.persist(ctx, candidate, thumb)
	if err != nil {
		observability.RecordError(span, err)
		return nil, models.NewIngestError(err, ident.ID, storedPath)
	}

	observability.SetSuccess(span)
	s.metrics.RecordIngest(ctx, string(ident.Kind), mod.String(), time.Since(start))
	return &IndexResult{Modification: mod, Media: media, Metadata: meta}, nil
}

// decode runs the CPU-bound half of ingestion on the worker pool and builds
// the candidate record. Path is left for the caller.
func (s *CollectionService) decode(ctx context.Context, data []byte, ident Identity, story string) (*models.Media, *models.Thumbnail, *EXIFData, error) {
	type decoded struct {
		media    *DecodedMedia
		meta     *EXIFData
		rotation int
	}

	out, err := workers.Submit(ctx, s.pool, func() (decoded, error) {
		switch ident.Kind {
		case models.KindImage:
			meta := s.metadata.Extract(data)
			rotation, err := meta.Rotation()
			if err != nil {
				return decoded{}, err
			}
			dm, err := s.images.Process(data, ident.Mimetype, rotation)
			if err != nil {
				return decoded{}, err
			}
			return decoded{media: dm, meta: meta, rotation: rotation}, nil
		case models.KindVideo:
			dm, err := s.videos.Process(ctx, data)
			if err != nil {
				return decoded{}, err
			}
			return decoded{media: dm}, nil
		default:
			return decoded{}, fmt.Errorf("%w: kind %q", models.ErrUnsupportedFormat, ident.Kind)
		}
	})
	if err != nil {
		return nil, nil, nil, err
	}

	m := &models.Media{
		ID:       ident.ID,
		Rotation: out.rotation,
		Width:    out.media.Width,
		Height:   out.media.Height,
		Story:    story,
		Mimetype: ident.Mimetype,
	}
	if meta := out.meta; meta != nil {
		m.CaptureDate = meta.DateTaken
		m.Lat = meta.Latitude
		m.Lon = meta.Longitude
		m.Make = meta.CameraMake
		m.Model = meta.CameraModel
		m.Caption = meta.Caption
	}

	thumb := &models.Thumbnail{
		ID:       ident.ID,
		Content:  out.media.Thumbnail,
		Mimetype: ThumbnailMimetype,
	}
	return m, thumb, out.meta, nil
}

// RegenerateThumbnail re-renders the preview of id from its stored bytes with
// a new rotation, updating the record and the preview together
func (s *CollectionService) RegenerateThumbnail(ctx context.Context, id string, rotation int) (*models.Media, error) {
	switch rotation {
	case 0, 90, 180, 270:
	default:
		return nil, models.NewIngestError(fmt.Errorf("%w: rotation %d", models.ErrUnknownOrientation, rotation), id, "")
	}

	media, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, models.NewIngestError(err, id, "")
	}
	if media == nil {
		return nil, models.NewIngestError(models.ErrMediaNotFound, id, "")
	}

	data, err := s.storage.Read(media.Path)
	if err != nil {
		return nil, models.NewIngestError(err, id, media.Path)
	}

	content, err := workers.Submit(ctx, s.pool, func() ([]byte, error) {
		if strings.HasPrefix(media.Mimetype, "video/") {
			dm, err := s.videos.Process(ctx, data)
			if err != nil {
				return nil, err
			}
			return s.images.Rotate(dm.Thumbnail, rotation)
		}
		img, err := s.images.Decode(data, media.Mimetype)
		if err != nil {
			return nil, err
		}
		return s.images.Render(img, rotation)
	})
	if err != nil {
		return nil, models.NewIngestError(err, id, media.Path)
	}

	err = s.store.WithinTx(ctx, func(tx repository.MediaTx) error {
		if err := tx.SetRotation(ctx, id, rotation); err != nil {
			return err
		}
		return tx.ReplaceThumbnail(ctx, &models.Thumbnail{ID: id, Content: content, Mimetype: ThumbnailMimetype})
	})
	if err != nil {
		return nil, models.NewIngestError(err, id, media.Path)
	}

	observability.WithContext(ctx).WithField("id", id).Infof("thumbnail regenerated at %d degrees", rotation)
	media.Rotation = rotation
	return media, nil
}

// Thumbnail returns the stored preview for id
func (s *CollectionService) Thumbnail(ctx context.Context, id string) (*models.Thumbnail, error) {
	thumb, err := s.store.GetThumbnail(ctx, id)
	if err != nil {
		return nil, err
	}
	if thumb == nil {
		return nil, models.ErrMediaNotFound
	}
	return thumb, nil
}

// RawPath returns the absolute path of the bytes behind media
func (s *CollectionService) RawPath(media *models.Media) (string, error) {
	return s.storage.FullPath(media.Path)
}
