package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoragePath(t *testing.T) {
	id := "abc123"

	t.Run("dated media goes under year/month/day", func(t *testing.T) {
		d := time.Date(2021, 7, 4, 13, 5, 0, 0, time.UTC)
		assert.Equal(t, "2021/07/04/abc123.jpg", StoragePath(&d, id, "jpg"))
	})

	t.Run("undated media uses the id alone", func(t *testing.T) {
		assert.Equal(t, "abc123.mp4", StoragePath(nil, id, "mp4"))
	})

	t.Run("missing extension", func(t *testing.T) {
		assert.Equal(t, "abc123", StoragePath(nil, id, ""))
	})
}

func TestParseMediaKind(t *testing.T) {
	tests := []struct {
		in      string
		want    MediaKind
		wantErr bool
	}{
		{"", KindAuto, false},
		{"auto", KindAuto, false},
		{"IMAGE", KindImage, false},
		{" video ", KindVideo, false},
		{"audio", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMediaKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewPosition(t *testing.T) {
	p := NewPosition("id", 40.5, -79.25)
	assert.Equal(t, 40500000, p.Latitude)
	assert.Equal(t, -79250000, p.Longitude)
}

func TestMediaChanges_IsEmpty(t *testing.T) {
	assert.True(t, MediaChanges{}.IsEmpty())
	w := 10
	assert.False(t, MediaChanges{Width: &w}.IsEmpty())
}

func TestIngestError(t *testing.T) {
	t.Run("takes kind from wrapped sentinel", func(t *testing.T) {
		err := NewIngestError(fmt.Errorf("%w: video/x-flv", ErrUnsupportedFormat), "", "")
		assert.Equal(t, KindUnsupportedFormat, err.Kind)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
		assert.True(t, IsRejected(err))
		assert.False(t, IsRetryable(err))
	})

	t.Run("store unavailable is retryable", func(t *testing.T) {
		err := NewIngestError(fmt.Errorf("acquire: %w", ErrStoreUnavailable), "id", "a/b.jpg")
		assert.True(t, IsRetryable(err))
		assert.False(t, IsRejected(err))
		assert.Contains(t, err.Error(), "a/b.jpg")
		assert.Contains(t, err.Error(), "id")
	})

	t.Run("unclassified errors are internal", func(t *testing.T) {
		err := NewIngestError(errors.New("boom"), "", "")
		assert.Equal(t, KindInternal, err.Kind)
		assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	})
}

func TestModification_String(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "updated", Updated.String())
	assert.Equal(t, "unchanged", Unchanged.String())
	assert.Equal(t, "unknown", Modification(0).String())
}
