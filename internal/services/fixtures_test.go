package services

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// gradient draws a w x h image whose pixels differ, so encoders keep detail
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / max(w, 1)), G: uint8(y * 255 / max(h, 1)), B: 128, A: 255})
		}
	}
	return img
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gradient(w, h)))
	return buf.Bytes()
}

// testMP4Header is an ftyp box, which is all content sniffing looks at
func testMP4Header() []byte {
	box := []byte{0, 0, 0, 0x18}
	box = append(box, "ftypisom"...)
	box = append(box, 0, 0, 2, 0)
	box = append(box, "isomiso2"...)
	return append(box, make([]byte, 64)...)
}

// TIFF field types
const (
	tiffASCII    = 2
	tiffShort    = 3
	tiffLong     = 4
	tiffRational = 5
)

type exifEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func asciiEntry(tag uint16, s string) exifEntry {
	data := append([]byte(s), 0)
	return exifEntry{tag: tag, typ: tiffASCII, count: uint32(len(data)), data: data}
}

func shortEntry(tag uint16, v uint16) exifEntry {
	data := make([]byte, 2)
	binary.LittleEndian.PutUint16(data, v)
	return exifEntry{tag: tag, typ: tiffShort, count: 1, data: data}
}

func longEntry(tag uint16, v uint32) exifEntry {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, v)
	return exifEntry{tag: tag, typ: tiffLong, count: 1, data: data}
}

func rationalEntry(tag uint16, pairs ...[2]uint32) exifEntry {
	data := make([]byte, 0, 8*len(pairs))
	for _, p := range pairs {
		data = binary.LittleEndian.AppendUint32(data, p[0])
		data = binary.LittleEndian.AppendUint32(data, p[1])
	}
	return exifEntry{tag: tag, typ: tiffRational, count: uint32(len(pairs)), data: data}
}

// buildIFD lays out one directory starting at offset start of the TIFF
// stream. Values longer than four bytes go to a data area after the
// directory.
func buildIFD(entries []exifEntry, start uint32) []byte {
	headerLen := uint32(2 + 12*len(entries) + 4)
	dir := binary.LittleEndian.AppendUint16(nil, uint16(len(entries)))
	var area []byte

	for _, e := range entries {
		dir = binary.LittleEndian.AppendUint16(dir, e.tag)
		dir = binary.LittleEndian.AppendUint16(dir, e.typ)
		dir = binary.LittleEndian.AppendUint32(dir, e.count)
		if len(e.data) <= 4 {
			value := make([]byte, 4)
			copy(value, e.data)
			dir = append(dir, value...)
			continue
		}
		dir = binary.LittleEndian.AppendUint32(dir, start+headerLen+uint32(len(area)))
		area = append(area, e.data...)
		if len(area)%2 == 1 {
			area = append(area, 0)
		}
	}
	dir = binary.LittleEndian.AppendUint32(dir, 0)
	return append(dir, area...)
}

// exifFixture describes the tags to embed. Pointers to the Exif and GPS
// sub-directories are added automatically when those lists are non-empty.
type exifFixture struct {
	ifd0 []exifEntry
	exif []exifEntry
	gps  []exifEntry
}

func (f exifFixture) tiff() []byte {
	const headerLen = 8
	withPointers := func(exifAt, gpsAt uint32) []exifEntry {
		entries := append([]exifEntry(nil), f.ifd0...)
		if len(f.exif) > 0 {
			entries = append(entries, longEntry(0x8769, exifAt))
		}
		if len(f.gps) > 0 {
			entries = append(entries, longEntry(0x8825, gpsAt))
		}
		return entries
	}

	// Pointer values do not change the directory size, so measure first.
	ifd0Len := uint32(len(buildIFD(withPointers(0, 0), headerLen)))
	exifAt := headerLen + ifd0Len
	var exifDir []byte
	if len(f.exif) > 0 {
		exifDir = buildIFD(f.exif, exifAt)
	}
	gpsAt := exifAt + uint32(len(exifDir))
	var gpsDir []byte
	if len(f.gps) > 0 {
		gpsDir = buildIFD(f.gps, gpsAt)
	}

	out := []byte{'I', 'I', 0x2A, 0x00}
	out = binary.LittleEndian.AppendUint32(out, headerLen)
	out = append(out, buildIFD(withPointers(exifAt, gpsAt), headerLen)...)
	out = append(out, exifDir...)
	return append(out, gpsDir...)
}

// withEXIF splices an APP1 Exif segment right after the JPEG SOI marker
func withEXIF(t *testing.T, jpg []byte, f exifFixture) []byte {
	t.Helper()
	require.True(t, len(jpg) > 2 && jpg[0] == 0xFF && jpg[1] == 0xD8, "not a JPEG")

	payload := append([]byte("Exif\x00\x00"), f.tiff()...)
	segment := []byte{0xFF, 0xE1}
	segment = binary.BigEndian.AppendUint16(segment, uint16(2+len(payload)))
	segment = append(segment, payload...)

	out := append([]byte{}, jpg[:2]...)
	out = append(out, segment...)
	return append(out, jpg[2:]...)
}

func testJPEGWithEXIF(t *testing.T, w, h int, f exifFixture) []byte {
	t.Helper()
	return withEXIF(t, testJPEG(t, w, h), f)
}

// gpsFixture is latitude 40°26'46" and longitude 79°58'56" with the given refs
func gpsFixture(latRef, lonRef string) []exifEntry {
	return []exifEntry{
		asciiEntry(0x0001, latRef),
		rationalEntry(0x0002, [2]uint32{40, 1}, [2]uint32{26, 1}, [2]uint32{46, 1}),
		asciiEntry(0x0003, lonRef),
		rationalEntry(0x0004, [2]uint32{79, 1}, [2]uint32{58, 1}, [2]uint32{56, 1}),
	}
}
