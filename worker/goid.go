package worker

import (
	"bytes"
	"runtime"
	"strconv"
)

// goid returns the calling goroutine's id by parsing the first line of
// its stack trace ("goroutine N [running]:"). The runtime offers no
// public accessor; this is only used for same-goroutine detection, so
// the cost of runtime.Stack on the submission path is acceptable.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
