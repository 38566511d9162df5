package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/photosync/mediaindex/internal/observability"
)

// FFmpegBackend demuxes with ffprobe and decodes with ffmpeg. The container
// is spooled to a temp file since both tools need a seekable input.
type FFmpegBackend struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegBackend creates a backend using the given executables
func NewFFmpegBackend(ffmpegPath, ffprobePath string) *FFmpegBackend {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegBackend{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Available reports whether both executables can be found
func (b *FFmpegBackend) Available() error {
	for _, p := range []string{b.ffmpegPath, b.ffprobePath} {
		if _, err := exec.LookPath(p); err != nil {
			return fmt.Errorf("%s not found: %w", p, err)
		}
	}
	return nil
}

type probeOutput struct {
	Streams []StreamInfo `json:"streams"`
}

func parseProbe(data []byte) ([]StreamInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("ffprobe output: %w", err)
	}
	return out.Streams, nil
}

// Open writes data to a temp file and lists its streams
func (b *FFmpegBackend) Open(ctx context.Context, data []byte) (Demuxer, error) {
	f, err := os.CreateTemp("", "mediaindex-video-*")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}

	cmd := exec.CommandContext(ctx, b.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("ffprobe error: %w - %s", err, stderr.String())
	}

	streams, err := parseProbe(stdout.Bytes())
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	return &ffmpegDemuxer{path: path, streams: streams}, nil
}

// NewDecoder returns a decoder that runs ffmpeg once per pushed packet
func (b *FFmpegBackend) NewDecoder(ctx context.Context, stream StreamInfo) (FrameDecoder, error) {
	return &ffmpegDecoder{ctx: ctx, ffmpegPath: b.ffmpegPath, stream: stream}, nil
}

// ffmpegDemuxer hands out one packet per video stream. The packet carries no
// bytes, only the spooled file as Source; ffmpeg does the real demuxing when
// it decodes.
type ffmpegDemuxer struct {
	path    string
	streams []StreamInfo
	next    int
}

func (d *ffmpegDemuxer) Streams() []StreamInfo {
	return d.streams
}

func (d *ffmpegDemuxer) ReadPacket() (*Packet, error) {
	for d.next < len(d.streams) {
		st := d.streams[d.next]
		d.next++
		if st.IsVideo() {
			return &Packet{StreamIndex: st.Index, Source: d.path}, nil
		}
	}
	return nil, io.EOF
}

func (d *ffmpegDemuxer) Close() error {
	return os.Remove(d.path)
}

type ffmpegDecoder struct {
	ctx        context.Context
	ffmpegPath string
	stream     StreamInfo
	pending    *Frame
}

// Push decodes the first frame of the stream as native-size rgb24. Display
// rotation is not applied, so the frame matches the stream's coded size.
func (d *ffmpegDecoder) Push(p *Packet) error {
	if d.pending != nil {
		return nil
	}
	if p.Source == "" {
		return errors.New("ffmpeg decoder needs a packet from the ffmpeg demuxer")
	}

	cmd := exec.CommandContext(d.ctx, d.ffmpegPath,
		"-v", "error",
		"-noautorotate",
		"-i", p.Source,
		"-map", "0:"+strconv.Itoa(p.StreamIndex),
		"-frames:v", "1",
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w - %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		// Nothing decoded yet; Take reports no frame
		observability.WithField("stream", p.StreamIndex).Debug("ffmpeg produced no frame")
		return nil
	}

	d.pending = &Frame{
		Width:  d.stream.Width,
		Height: d.stream.Height,
		Stride: d.stream.Width * 3,
		Pix:    stdout.Bytes(),
	}
	return nil
}

func (d *ffmpegDecoder) Take() (*Frame, error) {
	f := d.pending
	d.pending = nil
	return f, nil
}

func (d *ffmpegDecoder) Flush() error {
	return nil
}
