package storage

import "errors"

// ErrAlreadyCompleted is returned when a record receives a second terminal
// update.
var ErrAlreadyCompleted = errors.New("interaction already completed")

// NotFoundError is returned when a record doesn't exist in the store.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return "interaction not found"
	}

	return "interaction not found: " + e.ID
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}
