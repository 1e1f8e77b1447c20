package id

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// New returns a run identifier: a UTC timestamp followed by random hex, so
// ids sort by start time in logs and metrics files.
func New() string {
	return newAt(time.Now())
}

func newAt(now time.Time) string {
	stamp := now.UTC().Format("20060102T150405Z")
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return stamp + "-" + "000000000000"
	}
	return stamp + "-" + hex.EncodeToString(b[:])
}
