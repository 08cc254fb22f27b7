// Package id generates identifiers for records and rollback tokens.
package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewRecordID returns a random UUIDv4 string for a stored record.
func NewRecordID() string {
	return uuid.NewString()
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRollbackToken returns a ULID string. ULIDs sort by creation time, which
// lets the rollback coordinator compare token recency lexicographically.
func NewRollbackToken() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// TokenTime extracts the creation time embedded in a rollback token.
func TokenTime(token string) (time.Time, error) {
	id, err := ulid.ParseStrict(token)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()), nil
}
