package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewIdentity returns a routing identity for a dealer socket. Identities are
// printable so they can double as topic and file name suffixes.
func NewIdentity() []byte {
	return []byte(CreateULID())
}

// NewCorrelationKey returns the key a service uses to track one in-flight command.
func NewCorrelationKey() string {
	return CreateULID()
}

// Timestamp extracts the creation time encoded in an id produced by this package.
func Timestamp(id string) (time.Time, bool) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}
