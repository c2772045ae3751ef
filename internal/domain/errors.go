package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrForbidden              = errors.New("forbidden")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrValidation             = errors.New("invalid input")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrMalformedCallback      = errors.New("malformed callback")
	ErrUpload                 = errors.New("upload failed")
	ErrDispatchNotConfigured  = errors.New("dispatch endpoint not configured")
)
