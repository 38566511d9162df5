package services

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photosync/mediaindex/internal/models"
)

func TestHashService_ComputeHash(t *testing.T) {
	svc := NewHashService()

	t.Run("reader and byte forms agree", func(t *testing.T) {
		content := []byte("Hello, World!")

		fromReader, err := svc.ComputeHash(bytes.NewReader(content))
		require.NoError(t, err)

		assert.Equal(t, svc.ComputeHashBytes(content), fromReader)
		assert.Len(t, fromReader, 64)
		assert.Equal(t, strings.ToLower(fromReader), fromReader)
	})

	t.Run("different content gives a different id", func(t *testing.T) {
		assert.NotEqual(t, svc.ComputeHashBytes([]byte("Content A")), svc.ComputeHashBytes([]byte("Content B")))
	})
}

func TestHashService_IsValidHash(t *testing.T) {
	svc := NewHashService()
	valid := strings.Repeat("ab12", 16)

	tests := []struct {
		name     string
		hash     string
		expected bool
	}{
		{"lowercase", valid, true},
		{"uppercase", strings.ToUpper(valid), true},
		{"prefixed", "sha256:" + valid, true},
		{"empty", "", false},
		{"too short", "abc123", false},
		{"path traversal", "../" + valid[3:], false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, svc.IsValidHash(tt.hash))
		})
	}
}

func TestHashService_Identify(t *testing.T) {
	svc := NewHashService()
	jpg := testJPEG(t, 8, 6)

	t.Run("jpeg is an image", func(t *testing.T) {
		id, err := svc.Identify(jpg, models.KindAuto)
		require.NoError(t, err)
		assert.Equal(t, models.KindImage, id.Kind)
		assert.Equal(t, "jpg", id.Ext)
		assert.Equal(t, "image/jpeg", id.Mimetype)
		assert.Equal(t, svc.ComputeHashBytes(jpg), id.ID)
	})

	t.Run("png is an image", func(t *testing.T) {
		id, err := svc.Identify(testPNG(t, 4, 4), models.KindImage)
		require.NoError(t, err)
		assert.Equal(t, "png", id.Ext)
	})

	t.Run("mp4 is a video", func(t *testing.T) {
		id, err := svc.Identify(testMP4Header(), models.KindAuto)
		require.NoError(t, err)
		assert.Equal(t, models.KindVideo, id.Kind)
		assert.Equal(t, "mp4", id.Ext)
	})

	t.Run("concatenated jpeg frames are motion jpeg", func(t *testing.T) {
		stream := bytes.Join([][]byte{jpg, jpg, jpg}, nil)
		id, err := svc.Identify(stream, models.KindAuto)
		require.NoError(t, err)
		assert.Equal(t, models.KindVideo, id.Kind)
		assert.Equal(t, "video/x-motion-jpeg", id.Mimetype)
		assert.Equal(t, "mjpg", id.Ext)
	})

	t.Run("two frames stay an image", func(t *testing.T) {
		id, err := svc.Identify(append(append([]byte(nil), jpg...), jpg...), models.KindAuto)
		require.NoError(t, err)
		assert.Equal(t, models.KindImage, id.Kind)
		assert.Equal(t, "jpg", id.Ext)
	})

	t.Run("hint must agree with content", func(t *testing.T) {
		_, err := svc.Identify(jpg, models.KindVideo)
		assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
	})

	t.Run("unknown bytes are unsupported", func(t *testing.T) {
		_, err := svc.Identify([]byte("just some text"), models.KindAuto)
		assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
		assert.Contains(t, err.Error(), "text/plain")
	})

	t.Run("detected video outside the allow-list names its type", func(t *testing.T) {
		flv := append([]byte("FLV\x01\x05\x00\x00\x00\x09"), make([]byte, 32)...)
		_, err := svc.Identify(flv, models.KindAuto)
		assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
		assert.Contains(t, err.Error(), "video/x-flv")
	})

	t.Run("identity is deterministic", func(t *testing.T) {
		a, err := svc.Identify(jpg, models.KindAuto)
		require.NoError(t, err)
		b, err := svc.Identify(append([]byte(nil), jpg...), models.KindAuto)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}
