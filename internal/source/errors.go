package source

import "fmt"

// ParseError reports a malformed or schema-violating source record.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	switch {
	case e.Path != "" && e.Line > 0:
		return fmt.Sprintf("parse %s:%d: %v", e.Path, e.Line, e.Err)
	case e.Path != "":
		return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("parse line %d: %v", e.Line, e.Err)
	default:
		return fmt.Sprintf("parse: %v", e.Err)
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// MissingFieldError reports a required key absent from an otherwise
// well-formed record.
type MissingFieldError struct {
	Line  int
	Field string
}

func (e *MissingFieldError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: missing required field %q", e.Line, e.Field)
	}
	return fmt.Sprintf("missing required field %q", e.Field)
}
