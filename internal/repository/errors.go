package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates an insert collided with an existing row, e.g. a
// duplicate session identifier or subject name.
var ErrConflict = errors.New("repository: conflict")
