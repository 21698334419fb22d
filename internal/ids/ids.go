// Package ids produces identifiers for stored records.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewSortable returns a lexicographically sortable identifier. Approval
// requests use it so that ID order follows submission order.
func NewSortable() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewRandom returns a random UUID string for users, sessions and token IDs.
func NewRandom() string {
	return uuid.NewString()
}

// NewToken returns a 256-bit opaque bearer secret encoded as hex.
func NewToken() string {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return fmt.Sprintf("%s%s", uuid.NewString(), uuid.NewString())
	}
	return hex.EncodeToString(buf)
}
