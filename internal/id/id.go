package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a job identifier like "ck_9f1a...". The prefix keeps
// chromaknit IDs recognizable in queue dashboards and bucket listings.
func New() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively fatal elsewhere; a timestamp
		// keeps the ID unique enough to not lose the job.
		return fmt.Sprintf("ck_t%d", time.Now().UTC().UnixNano())
	}
	return "ck_" + hex.EncodeToString(b[:])
}
