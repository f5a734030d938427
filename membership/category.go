package membership

import (
	"fmt"
	"strings"
)

// Category is a user's classification of their relationship to an event.
type Category string

const (
	Pending  Category = "pending"
	Accepted Category = "accepted"
	Rejected Category = "rejected"
)

// Categories lists every category in storage order.
var Categories = []Category{Pending, Accepted, Rejected}

// ParseCategory accepts a category name in any case.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
	return c, nil
}

func (c Category) Valid() bool {
	return c == Pending || c == Accepted || c == Rejected
}

func (c Category) column() column {
	switch c {
	case Pending:
		return colPending
	case Accepted:
		return colAccepted
	default:
		return colRejected
	}
}
