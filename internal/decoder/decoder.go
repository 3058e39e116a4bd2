// Package decoder reads export archives one top-level record at a time.
//
// The decoder never holds more than the current record in memory: it walks
// the document with encoding/json's token stream and decodes each element of
// the conversations array on demand. A broken byte stream ends decoding with
// an *archive.ParseError; there is no resynchronisation and no retry. A
// failing reader ends it with an *archive.AccessError.
//
// Envelope version keys are honoured wherever they appear. One written before
// the conversations array is checked by New; one written after it can only
// be seen once the records are consumed, so the final call to Next reports
// it with an *archive.UnsupportedVersionError instead of io.EOF.
package decoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/aucontraire/echomine-sub001/pkg/archive"
)

// Envelope keys recognised in object-shaped archives.
const (
	keySchemaVersion = "schema_version"
	keyVersion       = "version"
	keyConversations = "conversations"
)

// Record is one loosely typed top-level element. Objects decode to
// map[string]any, arrays to []any, numbers to json.Number.
type Record = any

// Options configures a Decoder.
type Options struct {
	// Archive names the input in errors.
	Archive string

	// SupportedVersions lists the envelope schema versions accepted. An
	// envelope declaring any other version ahead of its records is rejected
	// by New; one declared after them fails the last call to Next. Bare
	// arrays carry no version and are always accepted.
	SupportedVersions []string
}

// Decoder yields records lazily. It is not safe for concurrent use.
type Decoder struct {
	dec      *json.Decoder
	opts     Options
	version  string
	envelope bool
	index    int
	done     bool
	err      error
}

// New reads the document header from r and positions the decoder on the
// first record. Header problems (not JSON, wrong top-level shape,
// unsupported version) are returned here.
func New(r io.Reader, opts Options) (*Decoder, error) {
	dec := json.NewDecoder(sourceReader{r})
	dec.UseNumber()

	d := &Decoder{dec: dec, opts: opts}
	if err := d.readHeader(); err != nil {
		return nil, err
	}
	return d, nil
}

// Version returns the declared schema version, or "" for a bare array.
func (d *Decoder) Version() string { return d.version }

// Index returns how many records have been returned so far.
func (d *Decoder) Index() int { return d.index }

// Offset returns the current input byte offset.
func (d *Decoder) Offset() int64 { return d.dec.InputOffset() }

// Next returns the next record, or io.EOF once the array is exhausted.
// After a ParseError every further call returns the same error.
func (d *Decoder) Next() (Record, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.done {
		return nil, io.EOF
	}

	if !d.dec.More() {
		if err := d.readTrailer(); err != nil {
			return nil, d.fail(err)
		}
		d.done = true
		return nil, io.EOF
	}

	var rec Record
	if err := d.dec.Decode(&rec); err != nil {
		return nil, d.fail(err)
	}
	d.index++
	return rec, nil
}

func (d *Decoder) readHeader() error {
	tok, err := d.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return d.parseError(errors.New("empty document"))
		}
		return d.wrap(err)
	}

	switch tok {
	case json.Delim('['):
		return nil
	case json.Delim('{'):
		d.envelope = true
		return d.readEnvelope()
	default:
		return d.parseError(fmt.Errorf("top-level value must be an array or object, got %v", tok))
	}
}

// readEnvelope consumes object keys up to the conversations array. A version
// key seen before that array is checked against the supported set.
func (d *Decoder) readEnvelope() error {
	for d.dec.More() {
		key, err := d.readKey()
		if err != nil {
			return err
		}

		switch key {
		case keySchemaVersion, keyVersion:
			if err := d.readVersion(); err != nil {
				return err
			}
		case keyConversations:
			tok, err := d.dec.Token()
			if err != nil {
				return d.wrap(err)
			}
			if tok != json.Delim('[') {
				return d.parseError(fmt.Errorf("%q must be an array, got %v", keyConversations, tok))
			}
			return nil
		default:
			var skip json.RawMessage
			if err := d.dec.Decode(&skip); err != nil {
				return d.wrap(err)
			}
		}
	}
	return d.parseError(fmt.Errorf("envelope has no %q array", keyConversations))
}

// readVersion decodes the value of a version key and checks it against the
// supported set.
func (d *Decoder) readVersion() error {
	var raw any
	if err := d.dec.Decode(&raw); err != nil {
		return d.wrap(err)
	}
	d.version = fmt.Sprint(raw)
	if len(d.opts.SupportedVersions) > 0 && !slices.Contains(d.opts.SupportedVersions, d.version) {
		return &archive.UnsupportedVersionError{
			Archive:   d.opts.Archive,
			Detected:  d.version,
			Supported: d.opts.SupportedVersions,
		}
	}
	return nil
}

// readTrailer consumes the closing bracket of the records array, the rest of
// an envelope object, and checks nothing follows the document.
func (d *Decoder) readTrailer() error {
	if _, err := d.dec.Token(); err != nil {
		return err
	}
	if d.envelope {
		for d.dec.More() {
			key, err := d.readKey()
			if err != nil {
				return err
			}
			if key == keySchemaVersion || key == keyVersion {
				if err := d.readVersion(); err != nil {
					return err
				}
				continue
			}
			var skip json.RawMessage
			if err := d.dec.Decode(&skip); err != nil {
				return err
			}
		}
		if _, err := d.dec.Token(); err != nil {
			return err
		}
	}
	if tok, err := d.dec.Token(); !errors.Is(err, io.EOF) {
		if err != nil {
			return err
		}
		return d.parseError(fmt.Errorf("unexpected data after document: %v", tok))
	}
	return nil
}

func (d *Decoder) readKey() (string, error) {
	tok, err := d.dec.Token()
	if err != nil {
		return "", d.wrap(err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", d.parseError(fmt.Errorf("expected object key, got %v", tok))
	}
	return key, nil
}

func (d *Decoder) fail(err error) error {
	d.err = d.wrap(err)
	return d.err
}

// wrap turns reader failures into AccessError and everything else the json
// package reports into ParseError.
func (d *Decoder) wrap(err error) error {
	var (
		readErr    *readError
		parseErr   *archive.ParseError
		accessErr  *archive.AccessError
		versionErr *archive.UnsupportedVersionError
	)
	switch {
	case errors.As(err, &parseErr), errors.As(err, &accessErr), errors.As(err, &versionErr):
		return err
	case errors.As(err, &readErr):
		return &archive.AccessError{Path: d.opts.Archive, Err: readErr.err}
	default:
		return d.parseError(err)
	}
}

func (d *Decoder) parseError(err error) error {
	return &archive.ParseError{Archive: d.opts.Archive, Offset: d.dec.InputOffset(), Err: err}
}

// sourceReader marks failures of the underlying reader so they can be told
// apart from malformed input.
type sourceReader struct {
	r io.Reader
}

func (s sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = &readError{err: err}
	}
	return n, err
}

type readError struct {
	err error
}

func (e *readError) Error() string { return e.err.Error() }

func (e *readError) Unwrap() error { return e.err }
