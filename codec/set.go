package codec

import (
	"fmt"
	"slices"
	"strconv"
)

// Set is an insertion-ordered set of decimal identifiers as stored in an
// encoded list column.
type Set []string

func (s Set) Contains(id string) bool {
	return slices.Contains(s, id)
}

// Add appends id unless present and reports whether the set changed.
func (s Set) Add(id string) (Set, bool) {
	if s.Contains(id) {
		return s, false
	}
	return append(s, id), true
}

// Remove drops every copy of id and reports whether the set changed.
func (s Set) Remove(id string) (Set, bool) {
	out := slices.DeleteFunc(slices.Clone(s), func(v string) bool { return v == id })
	return out, len(out) != len(s)
}

// Uints parses every element. A non-numeric element is ErrCorruptEncoding.
func (s Set) Uints() ([]uint, error) {
	out := make([]uint, 0, len(s))
	for _, v := range s {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: identifier %q is not numeric", ErrCorruptEncoding, v)
		}
		out = append(out, uint(n))
	}
	return out, nil
}

func FormatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
