package model

import (
	"errors"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrMissingInput     = errors.New("missing input")
	ErrLaunchFailure    = errors.New("launch failure")
	ErrAlreadyRunning   = errors.New("training already running")
)

// ParamError reports a parameter which can't be used to build a job.
type ParamError struct {
	Name string
	Kind Kind
	Err  error
}

func (e *ParamError) Error() string {
	if e.Kind == KindText {
		return "parameter " + e.Name + ": " + e.Err.Error()
	}
	return "parameter " + e.Name + " (" + e.Kind.String() + "): " + e.Err.Error()
}

func (e *ParamError) Unwrap() []error {
	return []error{ErrInvalidParameter, e.Err}
}
