package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/photosync/mediaindex/internal/models"
)

// Identity is what the content of a buffer says about itself
type Identity struct {
	ID       string
	Kind     models.MediaKind
	Mimetype string
	Ext      string
}

type container struct {
	mime string
	ext  string
	kind models.MediaKind
}

// supportedContainers is the allow-list of formats the decoders accept
var supportedContainers = []container{
	{"image/jpeg", "jpg", models.KindImage},
	{"image/png", "png", models.KindImage},
	{"image/gif", "gif", models.KindImage},
	{"image/webp", "webp", models.KindImage},
	{"image/bmp", "bmp", models.KindImage},
	{"image/tiff", "tiff", models.KindImage},
	{"image/heic", "heic", models.KindImage},
	{"image/heif", "heic", models.KindImage},
	{"video/mp4", "mp4", models.KindVideo},
	{"video/quicktime", "mov", models.KindVideo},
	{"video/x-matroska", "mkv", models.KindVideo},
	{"video/x-msvideo", "avi", models.KindVideo},
}

// motionJPEG is a raw stream of concatenated JPEG frames. It has no magic of
// its own, so mimetype reports it as image/jpeg.
var motionJPEG = container{"video/x-motion-jpeg", "mjpg", models.KindVideo}

// frameBoundary is an end-of-image marker directly followed by a new
// start-of-image. Inside entropy-coded data 0xFF is always byte-stuffed, so
// the sequence only occurs between frames.
var frameBoundary = []byte{0xFF, 0xD9, 0xFF, 0xD8}

// isMotionJPEG wants at least three frames; two back to back is how MPO
// stereo photos are stored.
func isMotionJPEG(data []byte) bool {
	return bytes.Count(data, frameBoundary) >= 2
}

// HashService computes content ids and sniffs container formats
type HashService struct {
	sha256Regex *regexp.Regexp
}

// NewHashService creates a new HashService
func NewHashService() *HashService {
	return &HashService{
		sha256Regex: regexp.MustCompile(`^[a-f0-9]{64}$`),
	}
}

// ComputeHash computes the SHA256 hash of a reader
func (s *HashService) ComputeHash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeHashBytes computes the SHA256 hash of bytes
func (s *HashService) ComputeHashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// NormalizeHash normalizes a hash string to lowercase
func (s *HashService) NormalizeHash(hash string) string {
	normalized := strings.TrimSpace(hash)

	// Remove "sha256:" prefix if present
	if strings.HasPrefix(strings.ToLower(normalized), "sha256:") {
		normalized = normalized[7:]
	}

	return strings.ToLower(normalized)
}

// IsValidHash checks if a string is a valid SHA256 hash
func (s *HashService) IsValidHash(hash string) bool {
	if strings.TrimSpace(hash) == "" {
		return false
	}

	normalized := s.NormalizeHash(hash)
	return s.sha256Regex.MatchString(normalized)
}

// Sniff determines the container from magic bytes. Filenames are never
// consulted. Anything outside the allow-list is ErrUnsupportedFormat, and the
// error names the detected type so the caller can act on it.
func (s *HashService) Sniff(data []byte) (Identity, error) {
	mt := mimetype.Detect(data)
	if mt.Is("image/jpeg") && isMotionJPEG(data) {
		return Identity{Kind: motionJPEG.kind, Mimetype: motionJPEG.mime, Ext: motionJPEG.ext}, nil
	}
	for _, c := range supportedContainers {
		if mt.Is(c.mime) {
			return Identity{Kind: c.kind, Mimetype: c.mime, Ext: c.ext}, nil
		}
	}
	return Identity{}, fmt.Errorf("%w: detected %s", models.ErrUnsupportedFormat, mt.String())
}

// Identify hashes and sniffs data. A hint other than KindAuto must agree with
// what the bytes contain.
func (s *HashService) Identify(data []byte, hint models.MediaKind) (Identity, error) {
	id, err := s.Sniff(data)
	if err != nil {
		return Identity{}, err
	}
	if hint != "" && hint != models.KindAuto && hint != id.Kind {
		return Identity{}, fmt.Errorf("%w: declared %s but content is %s (%s)",
			models.ErrUnsupportedFormat, hint, id.Kind, id.Mimetype)
	}
	id.ID = s.ComputeHashBytes(data)
	return id, nil
}
