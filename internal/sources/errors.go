package sources

import "errors"

var (
	ErrNoSources    = errors.New("no candidate sources configured")
	ErrUnavailable  = errors.New("source unavailable")
	ErrBadResponse  = errors.New("source returned an unexpected response")
	ErrInvalidFeed  = errors.New("invalid candidate feed")
	ErrInvalidQuery = errors.New("invalid source url template")
)
