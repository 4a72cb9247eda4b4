package database

import "errors"

// ErrUnavailable indicates the database could not be reached.
var ErrUnavailable = errors.New("database unavailable")
