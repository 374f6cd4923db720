// Package jsonutil checks that object payloads are well-formed JSON before
// anything downstream is asked to process them.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// ErrInvalidFormat marks content that is not JSON. Match it with errors.Is;
// the wrapped error carries the decoder's position and reason.
var ErrInvalidFormat = errors.New("invalid file format")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Documents checks that content is exactly one JSON value and returns how
// many records it holds: the element count of a top-level array, otherwise 1.
//
// Content must be UTF-8; a leading byte order mark is ignored. Empty input,
// trailing data after the value (including a second value, as in
// newline-delimited JSON) and invalid UTF-8 are all invalid.
func Documents(content []byte) (int, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if !utf8.Valid(content) {
		return 0, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidFormat)
	}

	dec := json.NewDecoder(bytes.NewReader(content))
	var doc json.RawMessage
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("%w: no JSON content", ErrInvalidFormat)
		}
		return 0, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	end := dec.InputOffset()
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("%w: extra data after offset %d", ErrInvalidFormat, end)
	}

	if doc[0] != '[' {
		return 1, nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(doc, &records); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	return len(records), nil
}

// Validate returns nil when content is a single JSON value and nothing else.
func Validate(content []byte) error {
	_, err := Documents(content)
	return err
}
