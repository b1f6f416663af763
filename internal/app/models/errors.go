package models

import "errors"

// Domain specific errors shared by the realtime voice and map rendering packages.
var (
	ErrNotFound   = errors.New("requested item not found")
	ErrBadRequest = errors.New("bad request")
	ErrValidation = errors.New("validation failed")

	// ErrPermissionDenied means the user refused microphone access or the client lacks the capability.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrConnection covers negotiation and data channel setup failures.
	ErrConnection = errors.New("realtime connection failed")
	// ErrProtocol marks a malformed or unparseable inbound message. Never fatal.
	ErrProtocol = errors.New("malformed realtime message")
	// ErrGeometry marks malformed segment or bounds data. Filtered, never fatal.
	ErrGeometry = errors.New("malformed route geometry")
	// ErrRender marks a failed map engine operation. Logged per operation.
	ErrRender = errors.New("map operation failed")
)
