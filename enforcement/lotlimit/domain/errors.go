package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrNegativeLimit  = errors.New("limit must be >= 0")
	ErrMalformedJob   = errors.New("malformed retry job")
	ErrUnknownJobKind = errors.New("unknown retry job kind")
)
