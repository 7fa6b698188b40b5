package store

import (
	"errors"
	"fmt"
)

// ErrNotFound matches every ItemNotFoundError via errors.Is.
var ErrNotFound = errors.New("item not found")

// ItemNotFoundError reports that a referenced document does not exist.
type ItemNotFoundError struct {
	// Item is the document type ("guideline", "session", ...).
	Item string

	// ID is the identifier or content key that was looked up.
	ID string
}

// Error implements the error interface.
func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Item, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match any ItemNotFoundError.
func (e *ItemNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// IsNotFound returns true if err is or wraps an ItemNotFoundError.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func notFound(item, id string) *ItemNotFoundError {
	return &ItemNotFoundError{Item: item, ID: id}
}
