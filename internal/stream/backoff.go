// backoff.go computes reconnect delays.
package stream

import "time"

// Backoff computes exponential reconnect delays: Base on the first
// consecutive failure, multiplied by Factor for each further failure,
// capped at Max.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

// DefaultBackoff matches the relay's default reconnect policy.
func DefaultBackoff() Backoff {
	return Backoff{Base: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2}
}

// Delay returns the wait before reconnect attempt number attempt
// (1-based count of consecutive failures).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
		if time.Duration(d) >= b.Max {
			return b.Max
		}
	}
	if time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}
