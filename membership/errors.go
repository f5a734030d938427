package membership

import "errors"

var (
	// ErrNotAMember means the event is not in the category it was moved from.
	ErrNotAMember = errors.New("event is not a member of the source category")

	// ErrNotFound means the friend request being removed does not exist.
	ErrNotFound = errors.New("friend request not found")

	ErrInvalidCategory = errors.New("invalid category")
	ErrSelfRequest     = errors.New("cannot send a friend request to yourself")
	ErrUnknownUser     = errors.New("unknown user")
	ErrSelfBlock       = errors.New("cannot block yourself")

	// ErrBlocked means one of the two users has blocked the other.
	ErrBlocked = errors.New("user is blocked")
)
