package board

import "time"

// Now returns the wall clock in milliseconds. It is the fallback stamp when a
// message arrives without an mtime.
var Now = func() int64 { return time.Now().UnixMilli() }

// NextStamp returns a logical timestamp that follows the wall clock but is always
// strictly greater than prev.
func NextStamp(prev int64) int64 {
	if now := Now(); now > prev {
		return now
	}
	return prev + 1
}
