package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrConflict indicates a uniqueness violation (duplicate name, username or
// membership row).
var ErrConflict = errors.New("repository: conflict")
