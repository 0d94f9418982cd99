package detectors

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// streamFailureThreshold is how many consecutive long-poll failures are
// tolerated before backing off
const streamFailureThreshold = 3

// streamBackoff paces retries on a failing change stream: transient errors
// are absorbed up to a threshold, then waits grow exponentially to a 30 s
// ceiling until the stream recovers.
type streamBackoff struct {
	failures int
	policy   *backoff.ExponentialBackOff
}

func newStreamBackoff() *streamBackoff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 1 * time.Second
	policy.MaxInterval = 30 * time.Second
	return &streamBackoff{policy: policy}
}

// success resets the failure count and the wait schedule
func (s *streamBackoff) success() {
	s.failures = 0
	s.policy.Reset()
}

// failure records one failure and sleeps when the threshold is crossed.
// Returns false when the context ended during the wait.
func (s *streamBackoff) failure(ctx context.Context) bool {
	s.failures++
	if s.failures < streamFailureThreshold {
		return true
	}

	wait := s.policy.NextBackOff()
	select {
	case <-time.After(wait):
		return true
	case <-ctx.Done():
		return false
	}
}
