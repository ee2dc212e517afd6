// Package source reads newline-delimited JSON record files and exposes
// typed, presence-checked access to their fields.
package source

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
)

var null = []byte("null")

var errNull = eris.New("null value")

// Record is one decoded JSON object from a source file.
type Record struct {
	Line   int
	Fields map[string]json.RawMessage
}

// Has reports whether key is present, even if its value is null.
func (r Record) Has(key string) bool {
	_, ok := r.Fields[key]
	return ok
}

func (r Record) raw(key string) (json.RawMessage, error) {
	v, ok := r.Fields[key]
	if !ok {
		return nil, &MissingFieldError{Line: r.Line, Field: key}
	}
	return v, nil
}

func (r Record) invalid(key string, err error) error {
	return &ParseError{Line: r.Line, Err: eris.Wrapf(err, "field %q", key)}
}

// String returns a required, non-null string field.
func (r Record) String(key string) (string, error) {
	v, err := r.NullString(key)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", r.invalid(key, errNull)
	}
	return *v, nil
}

// NullString returns a present string field that may be null.
func (r Record) NullString(key string) (*string, error) {
	raw, err := r.raw(key)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, r.invalid(key, err)
	}
	return &s, nil
}

// Text returns a required, non-null field that may be encoded either as a
// JSON string or a JSON number. Numbers are rendered without exponent or
// trailing zeros.
func (r Record) Text(key string) (string, error) {
	v, err := r.NullText(key)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", r.invalid(key, errNull)
	}
	return *v, nil
}

// NullText is Text for a present field that may be null.
func (r Record) NullText(key string) (*string, error) {
	raw, err := r.raw(key)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, r.invalid(key, err)
	}
	if i, err := n.Int64(); err == nil {
		s = strconv.FormatInt(i, 10)
		return &s, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, r.invalid(key, err)
	}
	s = strconv.FormatFloat(f, 'f', -1, 64)
	return &s, nil
}

// Float returns a required, non-null numeric field.
func (r Record) Float(key string) (float64, error) {
	v, err := r.NullFloat(key)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, r.invalid(key, errNull)
	}
	return *v, nil
}

// NullFloat returns a present numeric field that may be null.
func (r Record) NullFloat(key string) (*float64, error) {
	raw, err := r.raw(key)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, r.invalid(key, err)
	}
	return &f, nil
}

// Int returns a required, non-null integer field. Integral floats such as
// 2000.0 are accepted.
func (r Record) Int(key string) (int64, error) {
	raw, err := r.raw(key)
	if err != nil {
		return 0, err
	}
	if isNull(raw) {
		return 0, r.invalid(key, errNull)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, r.invalid(key, err)
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil || f != float64(int64(f)) {
		return 0, r.invalid(key, eris.Errorf("not an integer: %s", n))
	}
	return int64(f), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), null)
}
