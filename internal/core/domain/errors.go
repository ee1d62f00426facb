package domain

import "errors"

// Error kinds. Operations wrap one of these with fmt.Errorf("%w: ...") and
// the HTTP layer maps them to status codes with errors.Is.
var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid request")
	ErrIO       = errors.New("i/o failure")
	ErrBuild    = errors.New("docker build failed")
	ErrRun      = errors.New("container run failed")
	ErrTimeout  = errors.New("operation timed out")
)
