package catalog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// maxRecordSize bounds a single JSON line; readmes can be large.
const maxRecordSize = 16 << 20

// DumpSource reads a catalog dump in JSON Lines format, one RawCrate per
// line. Files ending in ".gz" are decompressed on the fly.
type DumpSource struct {
	path    string
	file    *os.File
	gz      *gzip.Reader
	scanner *bufio.Scanner
	line    int
	record  int
	modTime time.Time
}

// OpenDump opens the dump at path.
func OpenDump(path string) (*DumpSource, error) {
	// #nosec G304 - path comes from configuration
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog dump: %w", err)
	}

	// Stat the open file, not the path: a dump renamed into place later is a
	// different file.
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat catalog dump: %w", err)
	}

	var r io.Reader = f
	var gz *gzip.Reader
	if strings.HasSuffix(path, ".gz") {
		gz, err = gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open gzip stream of %s: %w", path, err)
		}
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)

	return &DumpSource{path: path, file: f, gz: gz, scanner: scanner, modTime: info.ModTime()}, nil
}

// NewDumpSource reads JSON Lines records from r. It is used by tests and by
// callers that already hold an uncompressed stream.
func NewDumpSource(r io.Reader) *DumpSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	return &DumpSource{scanner: scanner}
}

// Next decodes the next non-blank line.
func (d *DumpSource) Next(ctx context.Context) (*RawCrate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for d.scanner.Scan() {
		d.line++
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		d.record++

		var rec RawCrate
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, &SourceError{Record: d.record, Err: fmt.Errorf("invalid JSON at line %d: %w", d.line, err)}
		}
		if err := rec.Validate(); err != nil {
			return nil, &SourceError{Record: d.record, Err: err}
		}
		return &rec, nil
	}

	if err := d.scanner.Err(); err != nil {
		return nil, &SourceError{Err: fmt.Errorf("read %s: %w", d.describe(), err)}
	}
	return nil, io.EOF
}

// Records returns the number of records decoded so far.
func (d *DumpSource) Records() int {
	return d.record
}

// ModTime returns the modification time of the opened dump file, or the zero
// time for a stream from NewDumpSource.
func (d *DumpSource) ModTime() time.Time {
	return d.modTime
}

// Close releases the underlying file.
func (d *DumpSource) Close() error {
	if d.gz != nil {
		d.gz.Close()
	}
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}

func (d *DumpSource) describe() string {
	if d.path == "" {
		return "catalog stream"
	}
	return d.path
}
