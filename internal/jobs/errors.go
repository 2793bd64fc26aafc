package jobs

import "errors"

var (
	ErrNotFound     = errors.New("job not found")
	ErrInvalidState = errors.New("invalid job state")
)
