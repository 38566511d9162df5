package services

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jdeng/goheif"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/photosync/mediaindex/internal/models"
	"github.com/photosync/mediaindex/internal/observability"
)

const exifTimeLayout = "2006:01:02 15:04:05"

// Timestamps some cameras write when their clock was never set
var sentinelDates = []time.Time{
	time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
	time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
}

// MetadataReader extracts embedded metadata from image bytes. Missing or
// unreadable metadata yields an empty record, never an error.
type MetadataReader interface {
	Extract(data []byte) *EXIFData
}

// EXIFData contains extracted EXIF metadata from an image. Every field is
// optional.
type EXIFData struct {
	CameraMake  *string
	CameraModel *string
	Caption     *string
	DateTaken   *time.Time

	// Orientation is the raw tag code, 0 when absent
	Orientation int

	Latitude  *float64
	Longitude *float64

	// Warnings lists non-fatal problems found while reading
	Warnings []error
}

// Rotation maps the orientation code to clockwise degrees needed to show the
// image upright.
func (d *EXIFData) Rotation() (int, error) {
	switch d.Orientation {
	case 0, 1:
		return 0, nil
	case 3:
		return 180, nil
	case 6:
		return 90, nil
	case 8:
		return 270, nil
	default:
		return 0, fmt.Errorf("%w: code %d", models.ErrUnknownOrientation, d.Orientation)
	}
}

// EXIFService reads EXIF blocks with goexif
type EXIFService struct{}

// NewEXIFService creates a new EXIFService
func NewEXIFService() *EXIFService {
	return &EXIFService{}
}

var _ MetadataReader = (*EXIFService)(nil)

// Extract reads EXIF data from image bytes
func (s *EXIFService) Extract(data []byte) *EXIFData {
	result := &EXIFData{}

	block, ok := exifBlock(data)
	if !ok {
		return result
	}
	x, err := exif.Decode(bytes.NewReader(block))
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		// No EXIF block; common and valid
		return result
	}
	if err != nil {
		result.warn(fmt.Errorf("partial exif: %w", err))
	}

	result.CameraMake = stringTag(x, exif.Make)
	result.CameraModel = stringTag(x, exif.Model)
	result.Caption = stringTag(x, exif.ImageDescription)

	if tag, err := x.Get(exif.Orientation); err == nil {
		if val, err := tag.Int(0); err == nil {
			result.Orientation = val
		} else {
			result.warn(fmt.Errorf("orientation: %w", err))
		}
	}

	result.DateTaken = firstDate(x, exif.DateTimeOriginal, exif.DateTime, exif.DateTimeDigitized)
	if result.DateTaken == nil {
		result.DateTaken = gpsDateTime(x)
	}

	result.Latitude = result.coordinate(x, exif.GPSLatitude, exif.GPSLatitudeRef, "N", "S")
	result.Longitude = result.coordinate(x, exif.GPSLongitude, exif.GPSLongitudeRef, "E", "W")

	if len(result.Warnings) > 0 {
		log := observability.WithField("component", "exif")
		for _, w := range result.Warnings {
			log.Warn(w.Error())
		}
	}

	return result
}

// exifBlock returns the bytes exif.Decode should read. JPEG and TIFF carry
// their own framing; HEIF keeps EXIF in a separate item.
func exifBlock(data []byte) ([]byte, bool) {
	mt := mimetype.Detect(data)
	if !mt.Is("image/heic") && !mt.Is("image/heif") {
		return data, true
	}
	block, err := goheif.ExtractExif(bytes.NewReader(data))
	if err != nil || len(block) == 0 {
		return nil, false
	}
	return block, true
}

func (d *EXIFData) warn(err error) {
	d.Warnings = append(d.Warnings, err)
}

func stringTag(x *exif.Exif, name exif.FieldName) *string {
	tag, err := x.Get(name)
	if err != nil {
		return nil
	}
	val, err := tag.StringVal()
	if err != nil {
		return nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return nil
	}
	return &val
}

// firstDate returns the first field holding a real timestamp. A sentinel in
// one field does not hide a real value in the next.
func firstDate(x *exif.Exif, names ...exif.FieldName) *time.Time {
	for _, name := range names {
		s := stringTag(x, name)
		if s == nil {
			continue
		}
		t, err := time.ParseInLocation(exifTimeLayout, *s, time.UTC)
		if err != nil || isSentinelDate(t) {
			continue
		}
		return &t
	}
	return nil
}

func isSentinelDate(t time.Time) bool {
	for _, s := range sentinelDates {
		if t.Equal(s) {
			return true
		}
	}
	return false
}

// gpsDateTime combines GPSDateStamp with a whole-second GPSTimeStamp, in UTC
func gpsDateTime(x *exif.Exif) *time.Time {
	dateStr := stringTag(x, exif.GPSDateStamp)
	if dateStr == nil {
		return nil
	}
	day, err := time.ParseInLocation("2006:01:02", *dateStr, time.UTC)
	if err != nil {
		return nil
	}

	tag, err := x.Get(exif.GPSTimeStamp)
	if err != nil || tag.Count != 3 {
		return nil
	}
	var parts [3]int64
	for i := range parts {
		num, den, err := tag.Rat2(i)
		if err != nil || den == 0 {
			return nil
		}
		if i < 2 {
			if den != 1 {
				return nil
			}
			parts[i] = num
			continue
		}
		parts[i] = int64(math.Round(float64(num) / float64(den)))
	}

	t := day.Add(time.Duration(parts[0])*time.Hour +
		time.Duration(parts[1])*time.Minute +
		time.Duration(parts[2])*time.Second)
	if isSentinelDate(t) {
		return nil
	}
	return &t
}

// coordinate reads a degrees/minutes/seconds triple and signs it from the
// reference tag. A missing reference keeps the magnitude; an unknown one
// also records a warning.
func (d *EXIFData) coordinate(x *exif.Exif, valueName, refName exif.FieldName, positive, negative string) *float64 {
	tag, err := x.Get(valueName)
	if err != nil {
		return nil
	}
	value, err := sexagesimal(tag)
	if err != nil {
		d.warn(fmt.Errorf("%s: %w", valueName, err))
		return nil
	}

	ref := ""
	if r := stringTag(x, refName); r != nil {
		ref = strings.ToUpper(*r)
	}
	switch ref {
	case positive:
	case negative:
		value = -value
	case "":
	default:
		d.warn(fmt.Errorf("%w: %s %q", models.ErrGpsReferenceInvalid, refName, ref))
	}
	return &value
}

var errMalformedRational = errors.New("malformed rational triple")

// sexagesimal computes deg + (min + sec/60)/60
func sexagesimal(tag *tiff.Tag) (float64, error) {
	if tag.Count != 3 || tag.Format() != tiff.RatVal {
		return 0, errMalformedRational
	}
	var v [3]float64
	for i := range v {
		num, den, err := tag.Rat2(i)
		if err != nil {
			return 0, err
		}
		if den == 0 {
			return 0, errMalformedRational
		}
		v[i] = float64(num) / float64(den)
	}
	return v[0] + (v[1]+v[2]/60)/60, nil
}
