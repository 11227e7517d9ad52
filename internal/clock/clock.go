// Package clock provides the monotonic/wall clock and ID generation used
// across the orchestrator (C2).
package clock

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/aiorchestrator/orchestrator/internal/domain"
)

// Real is the production domain.Clock backed by time.Now.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

var _ domain.Clock = Real{}

// Fake is a test clock that only advances when told to, so breaker and
// quota/rate-limit tests can exercise exact boundary conditions.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a Fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

var _ domain.Clock = (*Fake)(nil)

// cryptoSource satisfies io.Reader for ulid.Monotonic using crypto/rand,
// avoiding the weak-PRNG lint teacher's middleware.go carries a nolint for.
type cryptoSource struct{}

func (cryptoSource) Read(p []byte) (int, error) {
	return rand.Read(p)
}

var ulidEntropy = ulid.Monotonic(cryptoSource{}, 0)
var ulidMu sync.Mutex

// NewRequestID returns a time-sortable ULID string, used as the default
// RequestID when a caller doesn't supply one.
func NewRequestID(now time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(now), ulidEntropy)
	if err != nil {
		// Extremely unlikely (entropy exhaustion); fall back to a UUID so
		// callers always get a usable, unique ID.
		return uuid.NewString()
	}
	return id.String()
}

// NewUUID returns a plain UUID for internal identifiers that don't need to
// be time-sortable.
func NewUUID() string { return uuid.NewString() }

// BucketKeys derives the UTC-date-based bucket suffixes used throughout
// month "YYYY-MM", day "YYYY-MM-DD".
type BucketKeys struct {
	Month string
	Day   string
}

// DeriveBuckets computes the current month/day bucket suffixes from now,
// always in UTC so all instances agree regardless of local timezone.
func DeriveBuckets(now time.Time) BucketKeys {
	u := now.UTC()
	return BucketKeys{
		Month: fmt.Sprintf("%04d-%02d", u.Year(), int(u.Month())),
		Day:   fmt.Sprintf("%04d-%02d-%02d", u.Year(), int(u.Month()), u.Day()),
	}
}

// MinuteBucket and HourBucket derive the rate-limit window suffixes.
func MinuteBucket(now time.Time) string {
	u := now.UTC()
	return fmt.Sprintf("%04d-%02d-%02d-%02d-%02d", u.Year(), int(u.Month()), u.Day(), u.Hour(), u.Minute())
}

func HourBucket(now time.Time) string {
	u := now.UTC()
	return fmt.Sprintf("%04d-%02d-%02d-%02d", u.Year(), int(u.Month()), u.Day(), u.Hour())
}
