package httpclient

import (
	"crypto/rand"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const jitterResolution = 1 << 53

// RetryPolicy computes exponential backoff with jitter.
type RetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	fraction   func() float64
}

// NewRetryPolicy builds a policy allowing maxRetries retries after the first
// attempt, with delays doubling from base up to maxDelay.
func NewRetryPolicy(maxRetries int, base, maxDelay time.Duration) *RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &RetryPolicy{
		maxRetries: maxRetries,
		baseDelay:  base,
		maxDelay:   maxDelay,
		fraction:   randomFraction,
	}
}

// MaxRetries is the number of retries allowed after the first attempt.
func (p *RetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// Unjittered returns min(maxDelay, base * 2^attempt).
func (p *RetryPolicy) Unjittered(attempt int) time.Duration {
	delay := p.baseDelay
	for i := 0; i < attempt; i++ {
		if delay > p.maxDelay-delay {
			return p.maxDelay
		}
		delay *= 2
	}
	if delay > p.maxDelay {
		return p.maxDelay
	}
	return delay
}

// Backoff scales the unjittered delay by a random factor in [0.5, 1.0].
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	unjittered := p.Unjittered(attempt)
	factor := 0.5 + 0.5*p.fraction()
	return time.Duration(float64(unjittered) * factor)
}

// RetryAfter parses a numeric Retry-After header and returns that many
// seconds plus one. ok is false when the header is missing or not numeric.
func RetryAfter(h http.Header) (time.Duration, bool) {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds+1) * time.Second, true
}

// randomFraction returns a value in [0, 1).
func randomFraction() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(jitterResolution))
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / jitterResolution
}
