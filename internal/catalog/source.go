package catalog

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Source produces the records of one full catalog pass. Next returns io.EOF
// once the sequence is exhausted; any other error means the sequence could
// not be fully produced and the pass must be abandoned. Record order is not
// significant.
type Source interface {
	Next(ctx context.Context) (*RawCrate, error)
}

// ModTimer is implemented by sources backed by a file. The modification time
// identifies the snapshot a pass read and is recorded in the import ledger.
type ModTimer interface {
	ModTime() time.Time
}

// SourceError is returned when the upstream sequence fails part-way: a read
// error, or a record that cannot be decoded or validated.
type SourceError struct {
	// Record is the 1-based position of the failing record, or 0 when the
	// failure is not tied to a record.
	Record int
	Err    error
}

func (e *SourceError) Error() string {
	if e.Record > 0 {
		return fmt.Sprintf("catalog source: record %d: %v", e.Record, e.Err)
	}
	return fmt.Sprintf("catalog source: %v", e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// SliceSource serves records from memory.
type SliceSource struct {
	records []*RawCrate
	pos     int
}

// NewSliceSource returns a Source over records.
func NewSliceSource(records ...*RawCrate) *SliceSource {
	return &SliceSource{records: records}
}

// Next returns the next record or io.EOF.
func (s *SliceSource) Next(ctx context.Context) (*RawCrate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}
