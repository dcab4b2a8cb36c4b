//go:build !(linux || darwin || freebsd)

package clock

import "time"

var processStart = time.Now()

// time.Since reads the runtime's monotonic reading.
func monotonicNanos() int64 {
	return int64(time.Since(processStart))
}
