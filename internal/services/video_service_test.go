package services

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photosync/mediaindex/internal/models"
)

// fakeBackend serves a scripted container
type fakeBackend struct {
	streams []StreamInfo
	packets []*Packet
	// frameAfter is how many pushes the decoder needs before a frame is
	// ready; -1 means only Flush produces it, -2 means never
	frameAfter int
	frame      func(st StreamInfo) *Frame
	openErr    error

	pushed []int
}

func (b *fakeBackend) Open(_ context.Context, _ []byte) (Demuxer, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	return &fakeDemuxer{b: b}, nil
}

func (b *fakeBackend) NewDecoder(_ context.Context, st StreamInfo) (FrameDecoder, error) {
	return &fakeDecoder{b: b, stream: st}, nil
}

type fakeDemuxer struct {
	b    *fakeBackend
	next int
}

func (d *fakeDemuxer) Streams() []StreamInfo { return d.b.streams }

func (d *fakeDemuxer) ReadPacket() (*Packet, error) {
	if d.next >= len(d.b.packets) {
		return nil, io.EOF
	}
	p := d.b.packets[d.next]
	d.next++
	return p, nil
}

func (d *fakeDemuxer) Close() error { return nil }

type fakeDecoder struct {
	b       *fakeBackend
	stream  StreamInfo
	pushes  int
	flushed bool
	taken   bool
}

func (d *fakeDecoder) Push(p *Packet) error {
	d.b.pushed = append(d.b.pushed, p.StreamIndex)
	d.pushes++
	return nil
}

func (d *fakeDecoder) Take() (*Frame, error) {
	if d.taken {
		return nil, nil
	}
	ready := false
	switch {
	case d.b.frameAfter == -2:
	case d.b.frameAfter == -1:
		ready = d.flushed
	default:
		ready = d.pushes >= d.b.frameAfter
	}
	if !ready {
		return nil, nil
	}
	d.taken = true
	return d.b.frame(d.stream), nil
}

func (d *fakeDecoder) Flush() error {
	d.flushed = true
	return nil
}

func solidFrame(st StreamInfo) *Frame {
	stride := st.Width*3 + 5
	pix := make([]byte, stride*st.Height)
	for i := range pix {
		pix[i] = 0x80
	}
	return &Frame{Width: st.Width, Height: st.Height, Stride: stride, Pix: pix}
}

func scriptedVideo(w, h int) *fakeBackend {
	return &fakeBackend{
		streams: []StreamInfo{
			{Index: 0, CodecType: "audio", CodecName: "aac"},
			{Index: 1, CodecType: "video", CodecName: "h264", Width: w, Height: h},
		},
		packets: []*Packet{
			{StreamIndex: 0}, {StreamIndex: 1}, {StreamIndex: 0}, {StreamIndex: 1},
		},
		frameAfter: 1,
		frame:      solidFrame,
	}
}

func TestVideoService_ThumbnailBounds(t *testing.T) {
	tests := []struct {
		name  string
		w, h  int
		wantW int
	}{
		{"landscape", 1920, 1080, 455},
		{"portrait", 1080, 1920, 144},
		{"square", 300, 300, 256},
		{"pathological aspect is capped", 12000, 100, 2048},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewVideoService(scriptedVideo(tt.w, tt.h), 256, 2048, 70)

			res, err := svc.Process(context.Background(), []byte("video"))
			require.NoError(t, err)
			assert.Equal(t, tt.w, res.Width)
			assert.Equal(t, tt.h, res.Height)

			b := decodeBounds(t, res.Thumbnail)
			assert.Equal(t, 256, b.Dy())
			assert.Equal(t, tt.wantW, b.Dx())
		})
	}
}

func TestVideoService_OnlyPushesChosenStream(t *testing.T) {
	backend := scriptedVideo(64, 48)
	backend.frameAfter = 2

	_, err := NewVideoService(backend, 256, 2048, 70).Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, backend.pushed)
}

func TestVideoService_FlushYieldsBufferedFrame(t *testing.T) {
	backend := scriptedVideo(64, 48)
	backend.frameAfter = -1

	res, err := NewVideoService(backend, 256, 2048, 70).Process(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Thumbnail)
}

func TestVideoService_Failures(t *testing.T) {
	t.Run("no frame at all", func(t *testing.T) {
		backend := scriptedVideo(64, 48)
		backend.frameAfter = -2
		_, err := NewVideoService(backend, 256, 2048, 70).Process(context.Background(), nil)
		assert.ErrorIs(t, err, models.ErrCorruptMedia)
	})

	t.Run("no video stream", func(t *testing.T) {
		backend := scriptedVideo(64, 48)
		backend.streams = backend.streams[:1]
		_, err := NewVideoService(backend, 256, 2048, 70).Process(context.Background(), nil)
		assert.ErrorIs(t, err, models.ErrCorruptMedia)
	})

	t.Run("zero height stream", func(t *testing.T) {
		_, err := NewVideoService(scriptedVideo(64, 0), 256, 2048, 70).Process(context.Background(), nil)
		assert.ErrorIs(t, err, models.ErrCorruptMedia)
	})

	t.Run("container does not open", func(t *testing.T) {
		backend := scriptedVideo(64, 48)
		backend.openErr = errors.New("moov atom not found")
		_, err := NewVideoService(backend, 256, 2048, 70).Process(context.Background(), nil)
		assert.ErrorIs(t, err, models.ErrCorruptMedia)
		assert.Contains(t, err.Error(), "moov atom")
	})

	t.Run("stride narrower than a row", func(t *testing.T) {
		backend := scriptedVideo(64, 48)
		backend.frame = func(st StreamInfo) *Frame {
			return &Frame{Width: st.Width, Height: st.Height, Stride: st.Width*3 - 1, Pix: make([]byte, st.Width*3*st.Height)}
		}
		_, err := NewVideoService(backend, 256, 2048, 70).Process(context.Background(), nil)
		assert.ErrorIs(t, err, models.ErrCorruptMedia)
		assert.Contains(t, err.Error(), "stride")
	})

	t.Run("plane shorter than its rows", func(t *testing.T) {
		backend := scriptedVideo(64, 48)
		backend.frame = func(st StreamInfo) *Frame {
			return &Frame{Width: st.Width, Height: st.Height, Stride: st.Width * 3, Pix: make([]byte, st.Width*3*(st.Height-1))}
		}
		_, err := NewVideoService(backend, 256, 2048, 70).Process(context.Background(), nil)
		assert.ErrorIs(t, err, models.ErrCorruptMedia)
	})
}

func TestFrameImage_OpaqueAndStrideAware(t *testing.T) {
	f := &Frame{Width: 2, Height: 2, Stride: 8, Pix: []byte{
		1, 2, 3, 4, 5, 6, 0xEE, 0xEE,
		7, 8, 9, 10, 11, 12, 0xEE, 0xEE,
	}}
	img, err := frameImage(f)
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 2, 3, 255}, img.Pix[0:4])
	assert.Equal(t, []uint8{10, 11, 12, 255}, img.Pix[img.Stride+4:img.Stride+8])
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{"streams":[
		{"index":0,"codec_name":"aac","codec_type":"audio"},
		{"index":1,"codec_name":"hevc","codec_type":"video","width":3840,"height":2160}
	]}`)
	streams, err := parseProbe(out)
	require.NoError(t, err)
	require.Len(t, streams, 2)

	st, ok := firstVideoStream(streams)
	require.True(t, ok)
	assert.Equal(t, StreamInfo{Index: 1, CodecType: "video", CodecName: "hevc", Width: 3840, Height: 2160}, st)

	_, err = parseProbe([]byte("not json"))
	assert.Error(t, err)
}

func TestParseProbe_SkipsCoverArt(t *testing.T) {
	out := []byte(`{"streams":[
		{"index":0,"codec_name":"mjpeg","codec_type":"video","width":600,"height":600,"disposition":{"default":0,"attached_pic":1}},
		{"index":1,"codec_name":"h264","codec_type":"video","width":1280,"height":720,"disposition":{"default":1,"attached_pic":0}}
	]}`)
	streams, err := parseProbe(out)
	require.NoError(t, err)
	require.Len(t, streams, 2)
	assert.False(t, streams[0].IsVideo())

	st, ok := firstVideoStream(streams)
	require.True(t, ok)
	assert.Equal(t, 1, st.Index)
	assert.Equal(t, "h264", st.CodecName)

	_, ok = firstVideoStream(streams[:1])
	assert.False(t, ok)
}

func TestFFmpegDemuxer_PacketsNameSourceFile(t *testing.T) {
	d := &ffmpegDemuxer{path: "/tmp/spooled", streams: []StreamInfo{
		{Index: 0, CodecType: "audio"},
		{Index: 1, CodecType: "video"},
	}}
	p, err := d.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, 1, p.StreamIndex)
	assert.Equal(t, "/tmp/spooled", p.Source)
	assert.Empty(t, p.Data)

	_, err = d.ReadPacket()
	assert.ErrorIs(t, err, io.EOF)

	dec := &ffmpegDecoder{ctx: context.Background(), ffmpegPath: "ffmpeg"}
	assert.Error(t, dec.Push(&Packet{StreamIndex: 1, Data: []byte{0x00}}))
}

func TestFFmpegBackend_RealVideo(t *testing.T) {
	backend := NewFFmpegBackend("", "")
	if err := backend.Available(); err != nil {
		t.Skipf("ffmpeg not installed: %v", err)
	}

	out := filepath.Join(t.TempDir(), "clip.mp4")
	gen := exec.Command("ffmpeg", "-v", "error", "-f", "lavfi", "-i", "testsrc=size=320x240:rate=5",
		"-frames:v", "5", "-c:v", "mpeg4", "-pix_fmt", "yuv420p", out)
	if err := gen.Run(); err != nil {
		t.Skipf("could not synthesize a clip: %v", err)
	}
	data, err := os.ReadFile(out)
	require.NoError(t, err)

	res, err := NewVideoService(backend, 256, 2048, 70).Process(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, 320, res.Width)
	assert.Equal(t, 240, res.Height)

	b := decodeBounds(t, res.Thumbnail)
	assert.Equal(t, 341, b.Dx())
	assert.Equal(t, 256, b.Dy())
}
