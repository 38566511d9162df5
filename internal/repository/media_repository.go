package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/photosync/mediaindex/internal/models"
)

const mediaColumns = `id, path, date, rotation, is_public, width, height, story, lat, lon, make, model, caption, mimetype`

// GetByID retrieves a media record by its content id
func (s *Store) GetByID(ctx context.Context, id string) (*models.Media, error) {
	var media *models.Media
	err := s.withConn(ctx, func(c *sqlx.Conn) error {
		m, err := getMedia(ctx, c, "id", id)
		media = m
		return err
	})
	return media, err
}

// ExistsByID reports whether content with this id is already indexed
func (s *Store) ExistsByID(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.withConn(ctx, func(c *sqlx.Conn) error {
		var n int
		if err := sqlx.GetContext(ctx, c, &n, c.Rebind(`SELECT COUNT(1) FROM media WHERE id = ?`), id); err != nil {
			return err
		}
		exists = n > 0
		return nil
	})
	return exists, err
}

// ListPaths returns the storage path of every indexed media
func (s *Store) ListPaths(ctx context.Context) ([]string, error) {
	var paths []string
	err := s.withConn(ctx, func(c *sqlx.Conn) error {
		return sqlx.SelectContext(ctx, c, &paths, `SELECT path FROM media ORDER BY path`)
	})
	return paths, err
}

// GetThumbnail retrieves the preview for a media id
func (s *Store) GetThumbnail(ctx context.Context, id string) (*models.Thumbnail, error) {
	var thumb *models.Thumbnail
	err := s.withConn(ctx, func(c *sqlx.Conn) error {
		var t models.Thumbnail
		err := sqlx.GetContext(ctx, c, &t, c.Rebind(`SELECT id, content, mimetype FROM thumbnail WHERE id = ?`), id)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}
		thumb = &t
		return nil
	})
	return thumb, err
}

func getMedia(ctx context.Context, q queryer, column, value string) (*models.Media, error) {
	query := fmt.Sprintf(`SELECT %s FROM media WHERE %s = ?`, mediaColumns, column)

	var m models.Media
	err := sqlx.GetContext(ctx, q, &m, q.Rebind(query), value)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// mediaTx implements MediaTx on top of one open transaction. The story row
// must exist before Insert, so callers run EnsureStory first.
type mediaTx struct {
	q queryer
}

func (t *mediaTx) GetByPath(ctx context.Context, path string) (*models.Media, error) {
	return getMedia(ctx, t.q, "path", path)
}

func (t *mediaTx) Insert(ctx context.Context, m *models.Media) error {
	query := t.q.Rebind(`
		INSERT INTO media (` + mediaColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := t.q.ExecContext(ctx, query,
		m.ID, m.Path, m.CaptureDate, m.Rotation, m.IsPublic, m.Width, m.Height, m.Story,
		m.Lat, m.Lon, m.Make, m.Model, m.Caption, m.Mimetype,
	)
	return mapError(err)
}

func (t *mediaTx) InsertThumbnail(ctx context.Context, th *models.Thumbnail) error {
	_, err := t.q.ExecContext(ctx,
		t.q.Rebind(`INSERT INTO thumbnail (id, content, mimetype) VALUES (?, ?, ?)`),
		th.ID, th.Content, th.Mimetype,
	)
	return mapError(err)
}

func (t *mediaTx) UpdateFields(ctx context.Context, id string, c models.MediaChanges) error {
	if c.IsEmpty() {
		return nil
	}

	var sets []string
	var args []interface{}
	if c.Width != nil {
		sets = append(sets, "width = ?")
		args = append(args, *c.Width)
	}
	if c.Height != nil {
		sets = append(sets, "height = ?")
		args = append(args, *c.Height)
	}
	if c.CaptureDate != nil {
		sets = append(sets, "date = ?")
		args = append(args, *c.CaptureDate)
	}
	args = append(args, id)

	query := t.q.Rebind(`UPDATE media SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	return expectOneRow(t.q.ExecContext(ctx, query, args...))
}

func (t *mediaTx) SetRotation(ctx context.Context, id string, rotation int) error {
	return expectOneRow(t.q.ExecContext(ctx, t.q.Rebind(`UPDATE media SET rotation = ? WHERE id = ?`), rotation, id))
}

func (t *mediaTx) ReplaceThumbnail(ctx context.Context, th *models.Thumbnail) error {
	return expectOneRow(t.q.ExecContext(ctx,
		t.q.Rebind(`UPDATE thumbnail SET content = ?, mimetype = ? WHERE id = ?`),
		th.Content, th.Mimetype, th.ID,
	))
}

func expectOneRow(res interface{ RowsAffected() (int64, error) }, err error) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrMediaNotFound
	}
	return nil
}

func (t *mediaTx) EnsureStory(ctx context.Context, name string, now time.Time) error {
	_, err := t.q.ExecContext(ctx, t.q.Rebind(`
		INSERT INTO story (name, title, description, created_on, last_updated, media_count)
		VALUES (?, ?, '', ?, ?, 0)
		ON CONFLICT (name) DO NOTHING
	`), name, name, now, now)
	return mapError(err)
}

func (t *mediaTx) TouchStory(ctx context.Context, name, mediaID string, now time.Time) error {
	return expectOneRow(t.q.ExecContext(ctx, t.q.Rebind(`
		UPDATE story
		SET media_count = media_count + 1, latest_media = ?, last_updated = ?
		WHERE name = ?
	`), mediaID, now, name))
}
