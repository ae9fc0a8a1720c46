package service

import "errors"

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrUnfulfillable   = errors.New("item has no deliverable")
	ErrUpstream        = errors.New("upstream failure")
)
