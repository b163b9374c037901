// Package idgen provides pluggable ID generation.
//
// Constructors that mint identifiers (capture, feedback, observability)
// accept a Generator, so the ID strategy is chosen at startup.
package idgen

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NanoID returns a Generator of random base-36 strings of the given length.
func NanoID(length int) Generator {
	return func() string {
		return randBase36(length)
	}
}

func randBase36(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("idgen: crypto/rand failed: " + err.Error())
	}
	for i := range buf {
		buf[i] = base36[int(buf[i])%len(base36)]
	}
	return string(buf)
}

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings (time-sortable).
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID produced by gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Feedback returns a Generator of widget-style IDs: "fb_<unix ms>_<9 base-36
// chars>". A process-local counter is folded into the random part so two
// IDs minted in the same millisecond never collide.
func Feedback() Generator {
	var seq atomic.Uint32
	return func() string {
		n := seq.Add(1)
		suffix := randBase36(9)
		c := strconv.FormatUint(uint64(n%1296), 36)
		if len(c) == 1 {
			c = "0" + c
		}
		return "fb_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + suffix[:7] + c
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// Parse validates a UUID string and returns its canonical form.
func Parse(s string) (string, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid UUID: %w", err)
	}
	return u.String(), nil
}
