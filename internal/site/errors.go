package site

import "errors"

var (
	// ErrInvalidOrigin is returned when a site origin is not an absolute http(s) URL without a path.
	ErrInvalidOrigin = errors.New("site origin must be an absolute http(s) URL without a path")
	// ErrInvalidBasePath is returned when a base path does not start and end with a slash.
	ErrInvalidBasePath = errors.New("base path must start and end with '/'")
)
