package router

import "errors"

var (
	// ErrAuthorityViolation is returned when an envelope targets a keyspace
	// not permitted to a network client (core, plugin, gorc_instance), or
	// names a channel outside 0..=3.
	ErrAuthorityViolation = errors.New("router: authority violation")
	// ErrEnvelopeTooLarge is returned when the raw envelope exceeds the
	// configured maximum size.
	ErrEnvelopeTooLarge = errors.New("router: envelope exceeds maximum size")
	// ErrUnknownEnvelopeType is returned for a "type" the router doesn't
	// recognize at all (neither routable nor a known rejection target).
	ErrUnknownEnvelopeType = errors.New("router: unknown envelope type")
	// ErrMalformedEnvelope is returned when the envelope isn't valid JSON or
	// is missing fields its type requires.
	ErrMalformedEnvelope = errors.New("router: malformed envelope")
	// ErrUnknownObject is returned when a gorc_event names an object_id the
	// router's lookup doesn't recognize.
	ErrUnknownObject = errors.New("router: unknown object_id")
)
