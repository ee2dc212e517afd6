package source

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// maxLineBytes bounds a single JSON line.
const maxLineBytes = 16 << 20

// ReadFile opens path and decodes every non-blank line as one JSON object.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	records, err := Read(f)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Path = path
			return nil, pe
		}
		return nil, eris.Wrapf(err, "source: read %s", path)
	}
	return records, nil
}

// Read decodes newline-delimited JSON objects from r. Blank lines are skipped;
// any other line that is not a JSON object yields a *ParseError.
func Read(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var records []Record
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, &ParseError{Line: line, Err: err}
		}
		if fields == nil {
			return nil, &ParseError{Line: line, Err: eris.New("expected a JSON object, got null")}
		}
		records = append(records, Record{Line: line, Fields: fields})
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Line: line + 1, Err: err}
	}
	return records, nil
}
