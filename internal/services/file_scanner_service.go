package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rjeczalik/notify"

	"github.com/photosync/mediaindex/internal/models"
	"github.com/photosync/mediaindex/internal/observability"
)

// ScanStatus represents the current status of the file scanner
type ScanStatus struct {
	RunID           string              `json:"runId,omitempty"`
	Running         bool                `json:"running"`
	LastRun         time.Time           `json:"lastRun,omitempty"`
	LastRunDuration string              `json:"lastRunDuration,omitempty"`
	Summary         models.CrawlSummary `json:"summary"`
	Errors          []string            `json:"errors,omitempty"`
}

// FileScannerService crawls the storage root and indexes what it finds
type FileScannerService struct {
	collection *CollectionService

	// settle is how long a watched path must stay quiet before it is indexed
	settle time.Duration
	// resync forces a full crawl while watching; 0 disables it
	resync time.Duration

	mu      sync.RWMutex
	running bool
	status  ScanStatus
}

// NewFileScannerService creates a new FileScannerService
func NewFileScannerService(collection *CollectionService) *FileScannerService {
	return &FileScannerService{
		collection: collection,
		settle:     2 * time.Second,
		resync:     time.Hour,
		status: ScanStatus{
			Errors: []string{},
		},
	}
}

// SetWatchTimings overrides the settle delay and forced resync interval
func (s *FileScannerService) SetWatchTimings(settle, resync time.Duration) {
	if settle < 2*time.Millisecond {
		settle = 2 * time.Millisecond
	}
	s.settle = settle
	s.resync = resync
}

// GetStatus returns the current scan status
func (s *FileScannerService) GetStatus() ScanStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsRunning returns whether a scan is currently in progress
func (s *FileScannerService) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Scan crawls each of dirs (the whole root when none are given) and indexes
// every file by path. A file that fails is logged and counted; an unreadable
// directory fails the scan after the rest of the tree was visited.
func (s *FileScannerService) Scan(ctx context.Context, dirs ...string) (models.CrawlSummary, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return models.CrawlSummary{}, fmt.Errorf("scan already in progress")
	}
	runID := uuid.New().String()
	s.running = true
	s.status.Running = true
	s.status.RunID = runID
	s.mu.Unlock()

	startTime := time.Now()
	ctx, span := observability.StartServiceSpan(ctx, "scanner", "scan")
	defer span.End()
	span.SetAttributes(observability.Operation("scan:" + runID))

	if len(dirs) == 0 {
		dirs = []string{""}
	}

	var summary models.CrawlSummary
	var errs []error
	for _, dir := range dirs {
		err := s.collection.Storage().Crawl(ctx, dir, func(path string) error {
			s.indexOne(ctx, path, &summary)
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to crawl %q: %w", dir, err))
		}
	}
	err := errors.Join(errs...)

	s.mu.Lock()
	s.running = false
	s.status = ScanStatus{
		RunID:           runID,
		LastRun:         startTime,
		LastRunDuration: time.Since(startTime).String(),
		Summary:         summary,
		Errors:          []string{},
	}
	for _, e := range errs {
		s.status.Errors = append(s.status.Errors, e.Error())
	}
	s.mu.Unlock()

	observability.WithContext(ctx).WithFields(map[string]interface{}{
		"run":       runID,
		"visited":   summary.Visited,
		"created":   summary.Created,
		"updated":   summary.Updated,
		"unchanged": summary.Unchanged,
		"failed":    summary.Failed,
	}).Infof("scan completed in %v", time.Since(startTime))

	span.SetAttributes(observability.Duration(time.Since(startTime)))
	if err != nil {
		observability.RecordError(span, err)
	} else {
		observability.SetSuccess(span)
	}
	return summary, err
}

// RunNow starts a scan in the background. The scan outlives the request that
// triggered it.
func (s *FileScannerService) RunNow(dirs ...string) {
	go func() {
		if _, err := s.Scan(context.Background(), dirs...); err != nil {
			observability.Warnf("background scan: %v", err)
		}
	}()
}

// ScanFile indexes a single file by its storage path and records its position
func (s *FileScannerService) ScanFile(ctx context.Context, path string) (*IndexResult, error) {
	res, err := s.collection.IndexFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := s.recordPosition(ctx, res); err != nil {
		observability.WithContext(ctx).WithField("path", path).Warnf("failed to record position: %v", err)
	}
	return res, nil
}

func (s *FileScannerService) indexOne(ctx context.Context, path string, summary *models.CrawlSummary) {
	summary.Visited++
	logger := observability.WithContext(ctx).WithField("path", path)

	res, err := s.collection.IndexFile(ctx, path)
	if err != nil {
		summary.Failed++
		logger.Warnf("failed to index: %v", err)
		return
	}

	switch res.Modification {
	case models.Created:
		summary.Created++
		logger.WithField("id", res.Media.ID).Info("created")
	case models.Updated:
		summary.Updated++
		logger.WithField("id", res.Media.ID).Info("modified")
	default:
		summary.Unchanged++
		logger.Debug("no change")
	}

	if err := s.recordPosition(ctx, res); err != nil {
		logger.Warnf("failed to record position: %v", err)
	}
}

// recordPosition stores the freshly read GPS fix when the media has none.
// A stored fix that disagrees is reported, never overwritten.
func (s *FileScannerService) recordPosition(ctx context.Context, res *IndexResult) error {
	meta := res.Metadata
	if meta == nil || meta.Latitude == nil || meta.Longitude == nil {
		return nil
	}
	fresh := models.NewPosition(res.Media.ID, *meta.Latitude, *meta.Longitude)

	store := s.collection.Store()
	saved, err := store.GetPosition(ctx, res.Media.ID)
	if err != nil {
		return err
	}
	if saved == nil {
		return store.AddPosition(ctx, fresh)
	}

	if saved.Latitude != fresh.Latitude || saved.Longitude != fresh.Longitude {
		observability.WithContext(ctx).WithFields(map[string]interface{}{
			"id":   res.Media.ID,
			"path": res.Media.Path,
		}).Warnf("exif position %d, %d differs from saved %d, %d",
			fresh.Latitude, fresh.Longitude, saved.Latitude, saved.Longitude)
	}
	return nil
}

// OrphanSweep reports files below dir that no index record points at, and
// .partial files left by interrupted writes. Nothing is deleted.
func (s *FileScannerService) OrphanSweep(ctx context.Context, dir string) (*models.OrphanReport, error) {
	paths, err := s.collection.Store().ListPaths(ctx)
	if err != nil {
		return nil, err
	}
	indexed := make(map[string]bool, len(paths))
	for _, p := range paths {
		indexed[p] = true
	}

	report := &models.OrphanReport{Unindexed: []string{}, Partial: []string{}}
	storage := s.collection.Storage()

	var errs []error
	for path, err := range storage.Files(dir) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !indexed[path] {
			report.Unindexed = append(report.Unindexed, path)
		}
	}
	for path, err := range storage.PartialFiles(dir) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		report.Partial = append(report.Partial, path)
	}

	if len(report.Unindexed) > 0 || len(report.Partial) > 0 {
		observability.WithContext(ctx).Warnf("orphan sweep: %d unindexed, %d partial",
			len(report.Unindexed), len(report.Partial))
	}
	return report, errors.Join(errs...)
}

// Watch indexes files as they appear below dir until ctx ends. A path is
// indexed once it has been quiet for the settle delay, and the whole tree is
// crawled again every resync interval to catch missed events.
func (s *FileScannerService) Watch(ctx context.Context, dir string) error {
	storage := s.collection.Storage()
	root, err := storage.resolve(dir)
	if err != nil {
		return err
	}

	fsNotifyChannel := make(chan notify.EventInfo, 64)
	if err := notify.Watch(filepath.Join(root, "..."), fsNotifyChannel, notify.Create, notify.Write, notify.Rename); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}
	defer notify.Stop(fsNotifyChannel)

	logger := observability.WithContext(ctx).WithField("root", root)
	logger.Info("watching for new media")

	if _, err := s.Scan(ctx, dir); err != nil {
		logger.Warnf("initial scan: %v", err)
	}

	var resync <-chan time.Time
	if s.resync > 0 {
		ticker := time.NewTicker(s.resync)
		defer ticker.Stop()
		resync = ticker.C
	}
	settleTicker := time.NewTicker(s.settle / 2)
	defer settleTicker.Stop()

	pending := make(map[string]time.Time)
	for {
		select {
		case ev := <-fsNotifyChannel:
			if strings.HasSuffix(ev.Path(), PartialSuffix) {
				continue
			}
			pending[storage.relative(ev.Path())] = time.Now()

		case now := <-settleTicker.C:
			var summary models.CrawlSummary
			for path, seen := range pending {
				if now.Sub(seen) < s.settle {
					continue
				}
				delete(pending, path)

				full, err := storage.FullPath(path)
				if err != nil {
					continue
				}
				if info, err := os.Stat(full); err != nil || !info.Mode().IsRegular() {
					continue
				}
				s.indexOne(ctx, path, &summary)
			}

		case <-resync:
			if _, err := s.Scan(ctx, dir); err != nil {
				logger.Warnf("resync: %v", err)
			}

		case <-ctx.Done():
			return nil
		}
	}
}
