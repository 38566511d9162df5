package services

import (
	"bytes"
	"image"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photosync/mediaindex/internal/models"
)

func decodeBounds(t *testing.T, data []byte) image.Rectangle {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img.Bounds()
}

func TestThumbnailService_Process(t *testing.T) {
	svc := NewThumbnailService(256, 80)

	t.Run("large image fits the box", func(t *testing.T) {
		res, err := svc.Process(testJPEG(t, 1024, 512), "image/jpeg", 0)
		require.NoError(t, err)
		assert.Equal(t, 1024, res.Width)
		assert.Equal(t, 512, res.Height)

		b := decodeBounds(t, res.Thumbnail)
		assert.Equal(t, 256, b.Dx())
		assert.Equal(t, 128, b.Dy())
	})

	t.Run("small image is not upscaled", func(t *testing.T) {
		res, err := svc.Process(testPNG(t, 40, 20), "image/png", 0)
		require.NoError(t, err)
		b := decodeBounds(t, res.Thumbnail)
		assert.Equal(t, 40, b.Dx())
		assert.Equal(t, 20, b.Dy())
	})

	t.Run("thumbnail is always jpeg", func(t *testing.T) {
		res, err := svc.Process(testPNG(t, 10, 10), "image/png", 0)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xFF, 0xD8}, res.Thumbnail[:2])
	})

	t.Run("corrupt data", func(t *testing.T) {
		jpg := testJPEG(t, 64, 64)
		_, err := svc.Process(jpg[:len(jpg)/3], "image/jpeg", 0)
		assert.ErrorIs(t, err, models.ErrCorruptMedia)
	})
}

func TestThumbnailService_OrientationSwapsAxes(t *testing.T) {
	svc := NewThumbnailService(256, 80)
	data := testJPEGWithEXIF(t, 64, 32, exifFixture{
		ifd0: []exifEntry{shortEntry(0x0112, 6)},
	})

	rotation, err := NewEXIFService().Extract(data).Rotation()
	require.NoError(t, err)
	require.Equal(t, 90, rotation)

	res, err := svc.Process(data, "image/jpeg", rotation)
	require.NoError(t, err)

	// stored dimensions stay pre-rotation
	assert.Equal(t, 64, res.Width)
	assert.Equal(t, 32, res.Height)

	b := decodeBounds(t, res.Thumbnail)
	assert.Equal(t, 32, b.Dx())
	assert.Equal(t, 64, b.Dy())
}

func TestApplyRotation(t *testing.T) {
	img := gradient(4, 2)
	for _, tt := range []struct {
		rotation int
		w, h     int
	}{
		{0, 4, 2},
		{90, 2, 4},
		{180, 4, 2},
		{270, 2, 4},
	} {
		b := applyRotation(img, tt.rotation).Bounds()
		assert.Equal(t, tt.w, b.Dx(), "rotation %d", tt.rotation)
		assert.Equal(t, tt.h, b.Dy(), "rotation %d", tt.rotation)
	}

	// 90 clockwise moves the top-left pixel to the top-right
	rotated := imaging.Clone(applyRotation(img, 90))
	assert.Equal(t, img.NRGBAAt(0, 0), rotated.NRGBAAt(1, 0))
}
