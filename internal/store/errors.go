package store

import "errors"

// ErrJobNotFound is returned for operations against an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// ErrAccountNotFound is returned for lookups of an unknown account id.
var ErrAccountNotFound = errors.New("account not found")
