// Package codec stores an ordered list of strings inside a single text column.
//
// The encoded form is "[" followed by every element terminated by an
// unescaped ',' and a closing "]". Backslash and comma inside an element are
// written as `\\` and `\,`. The empty list is "[]" and a list holding one
// empty string is "[,]", so every input round-trips byte for byte.
package codec

import (
	"errors"
	"fmt"
	"strings"
)

const (
	openBracket  = '['
	closeBracket = ']'
	terminator   = ','
	escape       = '\\'

	// Empty is the encoded form of a list with no elements.
	Empty = "[]"
)

// ErrCorruptEncoding is matched by every decoding failure.
var ErrCorruptEncoding = errors.New("corrupt encoded collection")

// CorruptError describes where and why a stored value could not be decoded.
type CorruptError struct {
	Offset int
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("%s: %s at byte %d", ErrCorruptEncoding, e.Reason, e.Offset)
}

func (e *CorruptError) Unwrap() error { return ErrCorruptEncoding }

// Encode joins items into their stored representation.
func Encode(items []string) string {
	if len(items) == 0 {
		return Empty
	}

	size := 2
	for _, item := range items {
		size += len(item) + 1
	}

	var b strings.Builder
	b.Grow(size)
	b.WriteByte(openBracket)
	for _, item := range items {
		for i := 0; i < len(item); i++ {
			if item[i] == escape || item[i] == terminator {
				b.WriteByte(escape)
			}
			b.WriteByte(item[i])
		}
		b.WriteByte(terminator)
	}
	b.WriteByte(closeBracket)
	return b.String()
}

// Decode parses a value produced by Encode. An empty string is a cell that
// was never written and decodes to an empty list.
func Decode(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	if raw[0] != openBracket {
		return nil, &CorruptError{Offset: 0, Reason: "missing opening bracket"}
	}
	last := len(raw) - 1
	if last == 0 || raw[last] != closeBracket {
		return nil, &CorruptError{Offset: len(raw), Reason: "missing closing bracket"}
	}

	items := []string{}
	var cur strings.Builder
	pending := false
	for i := 1; i < last; i++ {
		c := raw[i]
		switch c {
		case escape:
			if i+1 >= last {
				return nil, &CorruptError{Offset: i, Reason: "dangling escape"}
			}
			next := raw[i+1]
			if next != escape && next != terminator {
				return nil, &CorruptError{Offset: i, Reason: fmt.Sprintf("unknown escape %q", next)}
			}
			cur.WriteByte(next)
			pending = true
			i++
		case terminator:
			items = append(items, cur.String())
			cur.Reset()
			pending = false
		default:
			cur.WriteByte(c)
			pending = true
		}
	}
	if pending {
		return nil, &CorruptError{Offset: last, Reason: "unterminated element"}
	}
	return items, nil
}

// EncodeRecord encodes a fixed set of fields, such as a chat entry.
func EncodeRecord(fields ...string) string {
	return Encode(fields)
}

// DecodeRecord decodes a value written by EncodeRecord and checks its arity.
func DecodeRecord(raw string, n int) ([]string, error) {
	fields, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if len(fields) != n {
		return nil, &CorruptError{Offset: 0, Reason: fmt.Sprintf("record has %d fields, want %d", len(fields), n)}
	}
	return fields, nil
}
