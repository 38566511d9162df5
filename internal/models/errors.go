package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an ingestion failed
type ErrorKind string

const (
	KindUnsupportedFormat   ErrorKind = "unsupported_format"
	KindCorruptMedia        ErrorKind = "corrupt_media"
	KindUnknownOrientation  ErrorKind = "unknown_orientation"
	KindAlreadyIndexed      ErrorKind = "already_indexed"
	KindPathConflict        ErrorKind = "path_conflict"
	KindStoreUnavailable    ErrorKind = "store_unavailable"
	KindTooLarge            ErrorKind = "too_large"
	KindGpsReferenceInvalid ErrorKind = "gps_reference_invalid"
	KindInternal            ErrorKind = "internal"
)

// MediaError is a sentinel for one ErrorKind
type MediaError struct {
	Kind    ErrorKind
	Message string
}

func (e MediaError) Error() string {
	return e.Message
}

var (
	ErrUnsupportedFormat   = MediaError{KindUnsupportedFormat, "unsupported media format"}
	ErrCorruptMedia        = MediaError{KindCorruptMedia, "media could not be decoded"}
	ErrUnknownOrientation  = MediaError{KindUnknownOrientation, "unknown orientation"}
	ErrAlreadyIndexed      = MediaError{KindAlreadyIndexed, "content is already indexed"}
	ErrPathConflict        = MediaError{KindPathConflict, "an unindexed file already occupies the target path"}
	ErrStoreUnavailable    = MediaError{KindStoreUnavailable, "metadata store unavailable"}
	ErrGpsReferenceInvalid = MediaError{KindGpsReferenceInvalid, "invalid GPS reference"}
	ErrFileTooLarge        = MediaError{KindTooLarge, "file exceeds the maximum allowed size"}
	ErrMediaNotFound       = MediaError{KindInternal, "media not found"}
	ErrPathTraversal       = MediaError{KindInternal, "path escapes the storage root"}
)

// IngestError carries whatever identity was known when ingestion failed.
// Path names the storage file involved, if any.
type IngestError struct {
	Kind ErrorKind
	ID   string
	Path string
	Err  error
}

// NewIngestError wraps err, taking the kind from any MediaError inside it
func NewIngestError(err error, id, path string) *IngestError {
	kind := KindInternal
	var me MediaError
	if errors.As(err, &me) {
		kind = me.Kind
	}
	return &IngestError{Kind: kind, ID: id, Path: path, Err: err}
}

func (e *IngestError) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("ingest %s (id %s): %v", e.Path, e.ID, e.Err)
	case e.ID != "":
		return fmt.Sprintf("ingest %s: %v", e.ID, e.Err)
	default:
		return fmt.Sprintf("ingest: %v", e.Err)
	}
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or KindInternal for anything unclassified
func KindOf(err error) ErrorKind {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	var me MediaError
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the caller may retry with backoff
func IsRetryable(err error) bool {
	return KindOf(err) == KindStoreUnavailable
}

// IsRejected reports whether the input itself was refused. Retrying the same
// bytes will fail the same way.
func IsRejected(err error) bool {
	switch KindOf(err) {
	case KindUnsupportedFormat, KindCorruptMedia, KindUnknownOrientation, KindAlreadyIndexed, KindPathConflict, KindTooLarge:
		return true
	default:
		return false
	}
}
