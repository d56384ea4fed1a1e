package data

import "errors"

// ErrNotFound is returned when updating a user or profile that does not exist.
var ErrNotFound = errors.New("not found")
