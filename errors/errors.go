package errors

import "fmt"

var (
	ErrWorkerPanic      = fmt.Errorf("worker panic")
	ErrPublisherBind    = fmt.Errorf("publish endpoint could not be bound")
	ErrPeerUnreachable  = fmt.Errorf("peer unreachable")
	ErrInvalidPeer      = fmt.Errorf("invalid peer endpoint")
	ErrInvalidEvent     = fmt.Errorf("invalid chat event")
	ErrUnknownEvent     = fmt.Errorf("unknown client event")
	ErrSessionQueueFull = fmt.Errorf("session queue full")
	ErrSessionClosed    = fmt.Errorf("session closed")
)
