package backoff

import (
	"math"
	"time"
)

// Policy computes reconnect delays: base * growth^attempt, capped.
type Policy struct {
	Base        time.Duration
	Growth      float64
	Max         time.Duration
	MaxAttempts int
}

// Default matches the production gateway client: 1s base, 1.5 growth,
// 30s cap, give up after 10 attempts.
func Default() Policy {
	return Policy{
		Base:        time.Second,
		Growth:      1.5,
		Max:         30 * time.Second,
		MaxAttempts: 10,
	}
}

// Delay returns the wait before reconnect attempt n (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	d := time.Duration(float64(p.Base) * math.Pow(p.Growth, float64(attempt)))
	if d > p.Max || d < 0 {
		return p.Max
	}
	return d
}

// Exhausted reports whether attempt n is past the retry budget.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
