package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/photosync/mediaindex/internal/models"
)

// Constraint names used by the postgres migration
const (
	pgMediaPrimaryKey = "media_pkey"
	pgMediaPathKey    = "media_path_key"
)

// mapError classifies driver errors into the ingestion taxonomy. Unique
// violations on media become AlreadyIndexed (id) or PathConflict (path);
// lock contention and lost connections become StoreUnavailable.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var me models.MediaError
	if errors.As(err, &me) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", models.ErrAlreadyIndexed, err)
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(sqliteErr.Error(), "media.path"):
			return fmt.Errorf("%w: %v", models.ErrPathConflict, err)
		case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505" && pqErr.Constraint == pgMediaPrimaryKey:
			return fmt.Errorf("%w: %v", models.ErrAlreadyIndexed, err)
		case pqErr.Code == "23505" && pqErr.Constraint == pgMediaPathKey:
			return fmt.Errorf("%w: %v", models.ErrPathConflict, err)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "53", pqErr.Code == "57P03":
			return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
	}
	return err
}
