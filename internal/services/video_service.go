package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/disintegration/imaging"

	"github.com/photosync/mediaindex/internal/models"
)

// StreamInfo describes one stream of a container, from container metadata
type StreamInfo struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`

	Disposition struct {
		// AttachedPic marks cover art stored as a one-frame video stream
		AttachedPic int `json:"attached_pic"`
	} `json:"disposition"`
}

// IsVideo reports whether the stream carries moving pictures
func (s StreamInfo) IsVideo() bool {
	return s.CodecType == "video" && s.Disposition.AttachedPic == 0
}

// Packet is one demuxed unit of a stream. Data holds the compressed bytes.
// Backends that decode straight from the container leave Data empty and set
// Source to the file the decoder should read instead.
type Packet struct {
	StreamIndex int
	Data        []byte
	Source      string
}

// Frame is a decoded picture as packed 8-bit RGB rows. Stride is the byte
// length of one row and may exceed Width*3.
type Frame struct {
	Width  int
	Height int
	Stride int
	Pix    []byte
}

// Demuxer reads packets out of a container
type Demuxer interface {
	Streams() []StreamInfo
	// ReadPacket returns io.EOF once the container is exhausted
	ReadPacket() (*Packet, error)
	Close() error
}

// FrameDecoder turns packets of one stream into frames
type FrameDecoder interface {
	Push(p *Packet) error
	// Take returns the next decoded frame, or nil when none is ready
	Take() (*Frame, error)
	// Flush drains frames the decoder is still holding
	Flush() error
}

// VideoBackend opens containers and builds decoders
type VideoBackend interface {
	Open(ctx context.Context, data []byte) (Demuxer, error)
	NewDecoder(ctx context.Context, stream StreamInfo) (FrameDecoder, error)
}

// VideoService extracts dimensions and a preview frame from video bytes
type VideoService struct {
	backend  VideoBackend
	height   int
	maxWidth int
	quality  int
}

// NewVideoService creates a service rendering previews height pixels tall
// and at most maxWidth wide
func NewVideoService(backend VideoBackend, height, maxWidth, quality int) *VideoService {
	if height <= 0 {
		height = 256
	}
	if maxWidth <= 0 {
		maxWidth = 2048
	}
	if quality <= 0 || quality > 100 {
		quality = 70
	}
	return &VideoService{backend: backend, height: height, maxWidth: maxWidth, quality: quality}
}

// ThumbnailSize returns the preview dimensions for a w x h stream
func (s *VideoService) ThumbnailSize(w, h int) (int, int) {
	width := int(math.Round(float64(s.height) * float64(w) / float64(h)))
	if width > s.maxWidth {
		width = s.maxWidth
	}
	if width < 1 {
		width = 1
	}
	return width, s.height
}

// Process demuxes data, decodes the first frame of the first video stream and
// renders it as a preview. Dimensions come from the stream, not the frame.
func (s *VideoService) Process(ctx context.Context, data []byte) (*DecodedMedia, error) {
	demux, err := s.backend.Open(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: open container: %v", models.ErrCorruptMedia, err)
	}
	defer demux.Close()

	stream, ok := firstVideoStream(demux.Streams())
	if !ok {
		return nil, fmt.Errorf("%w: no video stream", models.ErrCorruptMedia)
	}
	if stream.Width <= 0 || stream.Height <= 0 {
		return nil, fmt.Errorf("%w: video stream has no dimensions", models.ErrCorruptMedia)
	}

	dec, err := s.backend.NewDecoder(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("%w: %s decoder: %v", models.ErrCorruptMedia, stream.CodecName, err)
	}

	frame, err := firstFrame(demux, dec, stream.Index)
	if err != nil {
		return nil, err
	}

	img, err := frameImage(frame)
	if err != nil {
		return nil, err
	}

	tw, th := s.ThumbnailSize(stream.Width, stream.Height)
	thumb := imaging.Resize(img, tw, th, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(s.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return &DecodedMedia{Width: stream.Width, Height: stream.Height, Thumbnail: buf.Bytes()}, nil
}

func firstVideoStream(streams []StreamInfo) (StreamInfo, bool) {
	for _, st := range streams {
		if st.IsVideo() {
			return st, true
		}
	}
	return StreamInfo{}, false
}

// firstFrame feeds packets of one stream until a frame comes out. When the
// container runs dry the decoder is flushed once for any buffered frame.
func firstFrame(demux Demuxer, dec FrameDecoder, index int) (*Frame, error) {
	for {
		frame, err := dec.Take()
		if err != nil {
			return nil, fmt.Errorf("%w: decode: %v", models.ErrCorruptMedia, err)
		}
		if frame != nil {
			return frame, nil
		}

		pkt, err := demux.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: demux: %v", models.ErrCorruptMedia, err)
		}
		if pkt.StreamIndex != index {
			continue
		}
		if err := dec.Push(pkt); err != nil {
			return nil, fmt.Errorf("%w: decode: %v", models.ErrCorruptMedia, err)
		}
	}

	if err := dec.Flush(); err != nil {
		return nil, fmt.Errorf("%w: flush: %v", models.ErrCorruptMedia, err)
	}
	frame, err := dec.Take()
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", models.ErrCorruptMedia, err)
	}
	if frame == nil {
		return nil, fmt.Errorf("%w: no decodable frame", models.ErrCorruptMedia)
	}
	return frame, nil
}

// frameImage copies an RGB frame into an opaque NRGBA image. The plane is
// checked to hold every row before any pixel is read.
func frameImage(f *Frame) (*image.NRGBA, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("%w: empty frame", models.ErrCorruptMedia)
	}
	if f.Stride < f.Width*3 {
		return nil, fmt.Errorf("%w: stride %d too small for width %d", models.ErrCorruptMedia, f.Stride, f.Width)
	}
	if len(f.Pix) < f.Stride*f.Height {
		return nil, fmt.Errorf("%w: plane holds %d bytes, need %d", models.ErrCorruptMedia, len(f.Pix), f.Stride*f.Height)
	}

	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*f.Stride : y*f.Stride+f.Width*3]
		dst := img.Pix[y*img.Stride : y*img.Stride+f.Width*4]
		for x := 0; x < f.Width; x++ {
			dst[x*4] = src[x*3]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 0xFF
		}
	}
	return img, nil
}
