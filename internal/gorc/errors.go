package gorc

import "errors"

var (
	ErrUnknownProperty = errors.New("gorc: unknown property name")
	ErrUnknownObject   = errors.New("gorc: unknown object id")
	ErrUnknownChannel  = errors.New("gorc: channel not configured for object type")
	ErrInvalidLayer    = errors.New("gorc: invalid replication layer")
)
