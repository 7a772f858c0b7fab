package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ErrInvalidDeviceID reports a malformed device identifier.
var ErrInvalidDeviceID = errors.New("idx: invalid device id")

var (
	globalOnce sync.Once
	global     *generator
)

// generator is a tool to safely generate ULIDs concurrently using a monotonic
// source.
type generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func (g *generator) newAt(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), g.entropy).String()
}

func initGlobal() {
	global = &generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewRequestID returns a lexicographically sortable ULID used to correlate a
// backend request with our logs.
func NewRequestID() string {
	globalOnce.Do(initGlobal)
	return global.newAt(time.Now().UTC())
}

// NewDeviceID returns a random UUID in lower-case canonical form.
func NewDeviceID() string {
	return strings.ToLower(uuid.NewString())
}

// ParseDeviceID validates s and returns it in lower-case canonical form.
func ParseDeviceID(s string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", ErrInvalidDeviceID
	}
	return strings.ToLower(u.String()), nil
}

// IsCanonicalDeviceID reports whether s is already a lower-case canonical UUID.
func IsCanonicalDeviceID(s string) bool {
	parsed, err := ParseDeviceID(s)
	return err == nil && parsed == s
}
