package term

import "errors"

var (
	ErrTermNotFound  = errors.New("term not found")
	ErrNoCurrentTerm = errors.New("no current term configured")
	ErrInternal      = errors.New("internal error")
)
