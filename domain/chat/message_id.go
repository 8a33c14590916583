package chat

import (
	"fmt"
	"sync/atomic"
	"time"
)

var lastTick atomic.Int64

// NewMessageID composes the session id, the kind and a process-wide strictly increasing
// tick. Two calls never share a tick, even within the same clock reading.
func NewMessageID(sessionID string, kind Kind, at time.Time) string {
	return fmt.Sprintf("%s:%s:%d", sessionID, kind, nextTick(at.UnixNano()))
}

func nextTick(now int64) int64 {
	for {
		last := lastTick.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if lastTick.CompareAndSwap(last, next) {
			return next
		}
	}
}
