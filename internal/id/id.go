// Package id generates flow identifiers.
//
// Flows get ULIDs (Universally Unique Lexicographically Sortable
// Identifiers): 26 characters, time-ordered, collision-free for the process
// lifetime. Time ordering keeps flow listings in capture order without an
// extra sequence column.
package id

import (
	"crypto/rand"
	"sync"
	"time"
)

// ulidEncoding is Crockford's Base32 (no I, L, O, U).
const ulidEncoding = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var (
	mu      sync.Mutex
	lastMs  int64
	counter uint16
)

// Flow returns a new flow identifier.
// Identifiers generated within the same millisecond stay unique via a
// monotonic counter mixed into the random component.
func Flow() string {
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UnixMilli()
	if now == lastMs {
		counter++
		if counter == 0 {
			for now == lastMs {
				time.Sleep(time.Millisecond)
				now = time.Now().UnixMilli()
			}
			lastMs = now
		}
	} else {
		lastMs = now
		counter = 0
	}

	return encode(now, counter)
}

// encode builds the 26-character ULID string: 10 characters of millisecond
// timestamp followed by 16 characters of randomness.
func encode(ms int64, ctr uint16) string {
	out := make([]byte, 26)

	for i := 9; i >= 0; i-- {
		out[i] = ulidEncoding[ms&0x1F]
		ms >>= 5
	}

	rnd := make([]byte, 10)
	_, _ = rand.Read(rnd)
	rnd[0] ^= byte(ctr >> 8)
	rnd[1] ^= byte(ctr)

	// 80 random bits packed 5 at a time.
	var acc uint32
	bits := 0
	pos := 10
	for _, b := range rnd {
		acc = acc<<8 | uint32(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out[pos] = ulidEncoding[(acc>>uint(bits))&0x1F]
			pos++
		}
	}

	return string(out)
}

// Valid reports whether s is a well-formed flow identifier.
func Valid(s string) bool {
	if len(s) != 26 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !validChar(s[i]) {
			return false
		}
	}
	return true
}

func validChar(c byte) bool {
	for i := 0; i < len(ulidEncoding); i++ {
		if ulidEncoding[i] == c {
			return true
		}
	}
	return false
}

// Time extracts the capture timestamp encoded in a flow identifier.
func Time(s string) (time.Time, bool) {
	if !Valid(s) {
		return time.Time{}, false
	}
	var ms int64
	for i := 0; i < 10; i++ {
		v := decodeChar(s[i])
		if v < 0 {
			return time.Time{}, false
		}
		ms = ms<<5 | int64(v)
	}
	return time.UnixMilli(ms), true
}

func decodeChar(c byte) int {
	for i := 0; i < len(ulidEncoding); i++ {
		if ulidEncoding[i] == c {
			return i
		}
	}
	return -1
}
