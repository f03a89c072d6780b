// Package entropy supplies fresh seeds when a run is started without one.
// Uses crypto/rand; falls back to the wall clock if that ever fails.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
	"time"
)

// Resolve returns seed unchanged when it is non-zero, otherwise a new
// random non-zero seed. Zero means "pick one for me".
func Resolve(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	return Seed()
}

// Seed returns a random non-zero int64 seed.
func Seed() int64 {
	for {
		s := cryptoSeed()
		if s != 0 {
			return s
		}
	}
}

// cryptoSeed draws 63 bits from crypto/rand.
func cryptoSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen; the clock is good enough for a seed.
		slog.Debug("crypto/rand read failed, seeding from clock", "error", err)
		return time.Now().UnixNano() & (1<<63 - 1)
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) >> 1)
}
