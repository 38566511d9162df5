package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/photosync/mediaindex/internal/models"
)

// GetStory retrieves a story by name
func (s *Store) GetStory(ctx context.Context, name string) (*models.Story, error) {
	var story *models.Story
	err := s.withConn(ctx, func(c *sqlx.Conn) error {
		var st models.Story
		err := sqlx.GetContext(ctx, c, &st, c.Rebind(`
			SELECT name, title, description, created_on, last_updated, latest_media, media_count
			FROM story WHERE name = ?
		`), name)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}
		story = &st
		return nil
	})
	return story, err
}

// GetPosition retrieves the legacy fixed-point position for a media id
func (s *Store) GetPosition(ctx context.Context, mediaID string) (*models.Position, error) {
	var pos *models.Position
	err := s.withConn(ctx, func(c *sqlx.Conn) error {
		var p models.Position
		err := sqlx.GetContext(ctx, c, &p, c.Rebind(`
			SELECT media_id, latitude, longitude FROM position WHERE media_id = ?
		`), mediaID)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}
		pos = &p
		return nil
	})
	return pos, err
}

// AddPosition inserts a position. An existing row for the media is an error;
// positions are never overwritten.
func (s *Store) AddPosition(ctx context.Context, p *models.Position) error {
	return s.withConn(ctx, func(c *sqlx.Conn) error {
		_, err := c.ExecContext(ctx, c.Rebind(`
			INSERT INTO position (media_id, latitude, longitude) VALUES (?, ?, ?)
		`), p.MediaID, p.Latitude, p.Longitude)
		return err
	})
}
