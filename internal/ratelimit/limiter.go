package ratelimit

import (
	"context"
	"time"
)

// DefaultIdentity is used when the caller's address cannot be resolved
const DefaultIdentity = "127.0.0.1"

// ThrottledMessage is streamed back to callers that exceed their window
const ThrottledMessage = "Oops! It seems you've reached the rate limit. Please try again later."

// Limiter decides whether an identity may proceed
type Limiter interface {
	// Limit records an attempt for identity and reports whether it is admitted.
	// Backend failures are returned as errors and must not be treated as admission.
	Limit(ctx context.Context, identity string) (*Result, error)
}

// Result is the outcome of a single admission check
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Config holds limiter configuration
type Config struct {
	Limit     int           // admissions per window
	Window    time.Duration // sliding window length
	KeyPrefix string        // namespace for shared counters
	IdleTTL   time.Duration // local backend only: evict idle identities after this long
}

// DefaultConfig returns the default policy: 1 request per 10 seconds
func DefaultConfig() *Config {
	return &Config{
		Limit:     1,
		Window:    10 * time.Second,
		KeyPrefix: "kirikou:ratelimit",
		IdleTTL:   10 * time.Minute,
	}
}

// Identity returns id, or DefaultIdentity when id is empty
func Identity(id string) string {
	if id == "" {
		return DefaultIdentity
	}
	return id
}
