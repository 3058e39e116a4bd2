// Package archive provides handles to export archives and the error taxonomy
// shared by every stage of the ingestion pipeline.
//
// # Error classes
//
// Two disjoint classes exist:
//
//   - Operational errors fail fast: the archive is missing or unreadable, the
//     document is structurally broken, the schema version is unsupported, or
//     the query is invalid. They propagate once, are never retried, and no
//     partial search results accompany them.
//   - Data-quality issues are *SkipError values. The record is skipped, a
//     warning is logged, and the stream continues.
//
// Classify is the single place deciding which class an error belongs to.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Source is an archive that can be opened for one sequential scan. Each call
// to Open returns an independent reader, so one Source may back several
// concurrent scans.
type Source interface {
	// Name identifies the archive in logs and errors.
	Name() string

	// Open returns a fresh reader positioned at the start of the archive.
	// The caller closes it.
	Open() (io.ReadCloser, error)
}

// File returns a Source reading the archive at path.
func File(path string) Source {
	return fileSource{path: path}
}

type fileSource struct {
	path string
}

func (f fileSource) Name() string { return f.path }

func (f fileSource) Open() (io.ReadCloser, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Kind: "archive", Name: f.path}
		}
		return nil, &AccessError{Path: f.path, Err: err}
	}
	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, &AccessError{Path: f.path, Err: err}
	}
	if info.IsDir() {
		fh.Close()
		return nil, &AccessError{Path: f.path, Err: fmt.Errorf("is a directory")}
	}
	return fh, nil
}

// Bytes returns a Source over an in-memory archive.
func Bytes(name string, data []byte) Source {
	return bytesSource{name: name, data: data}
}

type bytesSource struct {
	name string
	data []byte
}

func (b bytesSource) Name() string { return b.name }

func (b bytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}
