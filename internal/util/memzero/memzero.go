package memzero

import "runtime"

// Zero wipes the buffer. Best-effort: it aims to keep the compiler from
// eliding the writes.
//
//go:noinline
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
