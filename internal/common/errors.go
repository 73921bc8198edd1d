package common

import "errors"

var (
	ErrMalformedOrder = errors.New("malformed order")
	ErrOverfill       = errors.New("reduction exceeds remaining quantity")
	ErrUnknownOrder   = errors.New("order not found")
	ErrNotOwner       = errors.New("order belongs to another session")
	ErrShutdown       = errors.New("floor is shutting down")
	ErrUserExists     = errors.New("user already exists")
	ErrBadCredentials = errors.New("bad credentials")
	ErrTokenExpired   = errors.New("token expired")
)
