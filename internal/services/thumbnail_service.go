package services

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/photosync/mediaindex/internal/models"
)

// ThumbnailMimetype is the encoding of every stored preview
const ThumbnailMimetype = "image/jpeg"

// DecodedMedia is what a decoder learned from one file
type DecodedMedia struct {
	// Width and Height are the stored pixel dimensions, before rotation
	Width     int
	Height    int
	Thumbnail []byte
}

// ThumbnailService decodes still images and renders upright previews
type ThumbnailService struct {
	size    int
	quality int
}

// NewThumbnailService creates a service rendering previews that fit a
// size x size box, JPEG-encoded at quality
func NewThumbnailService(size, quality int) *ThumbnailService {
	if size <= 0 {
		size = 256
	}
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &ThumbnailService{size: size, quality: quality}
}

// Decode decodes image bytes. Any failure is ErrCorruptMedia.
func (s *ThumbnailService) Decode(data []byte, mimetype string) (image.Image, error) {
	var img image.Image
	var err error
	if mimetype == "image/heic" || mimetype == "image/heif" {
		img, err = goheif.Decode(bytes.NewReader(data))
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCorruptMedia, err)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image", models.ErrCorruptMedia)
	}
	return img, nil
}

// Process decodes data and renders its thumbnail rotated clockwise by
// rotation degrees
func (s *ThumbnailService) Process(data []byte, mimetype string, rotation int) (*DecodedMedia, error) {
	img, err := s.Decode(data, mimetype)
	if err != nil {
		return nil, err
	}

	thumb, err := s.Render(img, rotation)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	return &DecodedMedia{Width: b.Dx(), Height: b.Dy(), Thumbnail: thumb}, nil
}

// Render scales img to fit the thumbnail box, turns it upright and encodes it
func (s *ThumbnailService) Render(img image.Image, rotation int) ([]byte, error) {
	thumb := applyRotation(imaging.Fit(img, s.size, s.size, imaging.Lanczos), rotation)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(s.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// applyRotation turns img clockwise by rotation degrees. imaging rotates
// counter-clockwise, hence the swapped names.
func applyRotation(img image.Image, rotation int) image.Image {
	switch rotation {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// Rotate turns an already encoded preview clockwise by rotation degrees
// without rescaling it
func (s *ThumbnailService) Rotate(thumb []byte, rotation int) ([]byte, error) {
	if rotation == 0 {
		return thumb, nil
	}
	img, err := imaging.Decode(bytes.NewReader(thumb))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCorruptMedia, err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, applyRotation(img, rotation), imaging.JPEG, imaging.JPEGQuality(s.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
