package engine

import "errors"

var (
	// ErrQueueFull means the order could not be handed to the matching loop
	// within the admit timeout. No sequence number was consumed; the caller
	// may retry.
	ErrQueueFull    = errors.New("admission queue full")
	ErrEngineClosed = errors.New("engine closed")
)
