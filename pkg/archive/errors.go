package archive

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrArchiveNotFound indicates the archive path does not exist.
	ErrArchiveNotFound = errors.New("archive not found")

	// ErrAccess indicates the archive exists but cannot be read.
	ErrAccess = errors.New("archive not readable")

	// ErrMalformedArchive indicates the document itself is broken.
	ErrMalformedArchive = errors.New("malformed archive")

	// ErrUnsupportedVersion indicates an unknown export schema version.
	ErrUnsupportedVersion = errors.New("unsupported schema version")

	// ErrInvalidQuery indicates the search query is self-contradictory.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrNotFound indicates a conversation id is absent from the archive.
	ErrNotFound = errors.New("not found")
)

// NotFoundError reports a missing archive or a missing conversation.
type NotFoundError struct {
	Kind string // "archive" or "conversation"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

// Is matches ErrNotFound, and ErrArchiveNotFound for archives.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound || (target == ErrArchiveNotFound && e.Kind == "archive")
}

// AccessError reports an archive that exists but cannot be opened or read.
type AccessError struct {
	Path string
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("reading archive %s: %v", e.Path, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

func (e *AccessError) Is(target error) bool { return target == ErrAccess }

// ParseError reports a structurally broken document. Offset is the input
// byte offset at which decoding failed.
type ParseError struct {
	Archive string
	Offset  int64
	Err     error
}

func (e *ParseError) Error() string {
	if e.Archive != "" {
		return fmt.Sprintf("malformed archive %s at byte %d: %v", e.Archive, e.Offset, e.Err)
	}
	return fmt.Sprintf("malformed archive at byte %d: %v", e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrMalformedArchive }

// UnsupportedVersionError reports an export schema version no provider
// understands. It is raised before any record is processed.
type UnsupportedVersionError struct {
	Archive   string
	Detected  string
	Supported []string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("archive %s: unsupported schema version %q (supported: %v)", e.Archive, e.Detected, e.Supported)
}

func (e *UnsupportedVersionError) Is(target error) bool { return target == ErrUnsupportedVersion }

// InvalidQueryError reports a query field whose value cannot be honoured.
type InvalidQueryError struct {
	Field  string
	Reason string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("invalid query field %s: %s", e.Field, e.Reason)
}

func (e *InvalidQueryError) Is(target error) bool { return target == ErrInvalidQuery }

// Category classifies why a record was skipped.
type Category string

const (
	// CategorySyntax marks a record that is not a well-formed structure.
	CategorySyntax Category = "syntax"
	// CategorySchema marks a record missing required fields.
	CategorySchema Category = "schema"
	// CategoryValidation marks fields that are present but invalid.
	CategoryValidation Category = "validation"
)

// SkipError is a data-quality issue scoped to a single record (or to one
// message of a record). It never stops a stream.
type SkipError struct {
	// ID is the conversation id, "<conversation>/<message>" for message
	// scoped issues, or a positional fallback such as "record#12".
	ID       string
	Category Category
	Reason   string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skipping %s (%s): %s", e.ID, e.Category, e.Reason)
}

// Skip builds a SkipError.
func Skip(id string, cat Category, format string, args ...any) *SkipError {
	return &SkipError{ID: id, Category: cat, Reason: fmt.Sprintf(format, args...)}
}

// Disposition is the outcome of classifying an error.
type Disposition int

const (
	// DispositionNone means there was no error.
	DispositionNone Disposition = iota
	// DispositionSkip means skip the record and continue.
	DispositionSkip
	// DispositionFail means stop and propagate the error once.
	DispositionFail
)

func (d Disposition) String() string {
	switch d {
	case DispositionNone:
		return "none"
	case DispositionSkip:
		return "skip"
	default:
		return "fail"
	}
}

// Classify decides whether err is a per-record data-quality issue or an
// operational failure. Anything not recognised as a SkipError fails fast.
func Classify(err error) (Disposition, *SkipError) {
	if err == nil {
		return DispositionNone, nil
	}
	var skip *SkipError
	if errors.As(err, &skip) {
		return DispositionSkip, skip
	}
	return DispositionFail, nil
}
