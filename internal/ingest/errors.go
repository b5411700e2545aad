package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchema matches any *SchemaError via errors.Is.
var ErrSchema = errors.New("schema error")

// SchemaError indicates the file header lacks columns the pipeline needs.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) == 0 {
		return "schema error: empty file or missing header"
	}
	return fmt.Sprintf("schema error: missing required columns: %s", strings.Join(e.Missing, ", "))
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// ParseError indicates a cell that could not be converted to its column type.
type ParseError struct {
	Line   int
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: column %s: cannot parse %q: %v", e.Line, e.Column, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
