package listener

import "time"

// Policy decides how long to wait before the next connection attempt.
// attempt counts consecutive failures since the last successful subscription,
// starting at zero.
type Policy interface {
	Delay(kind FailureKind, attempt int) time.Duration
}

// FixedPolicy waits a constant delay per failure kind.
type FixedPolicy struct {
	Connect        time.Duration
	Subscribe      time.Duration
	ConnectionLost time.Duration
	Probe          time.Duration
}

// DefaultPolicy returns the stock fixed delays: 10s after a failed connect,
// 1s after a failed subscription, 5s after a lost connection, and 1s after a
// failed probe.
func DefaultPolicy() FixedPolicy {
	return FixedPolicy{
		Connect:        10 * time.Second,
		Subscribe:      1 * time.Second,
		ConnectionLost: 5 * time.Second,
		Probe:          1 * time.Second,
	}
}

// Delay returns the configured delay for kind.
func (p FixedPolicy) Delay(kind FailureKind, _ int) time.Duration {
	switch kind {
	case FailureConnect:
		return p.Connect
	case FailureSubscribe:
		return p.Subscribe
	case FailureConnectionLost:
		return p.ConnectionLost
	case FailureProbe:
		return p.Probe
	default:
		return p.Connect
	}
}

// DefaultMaxDelay caps ExponentialPolicy when Max is not positive.
const DefaultMaxDelay = 5 * time.Minute

// ExponentialPolicy doubles the fixed delay for each consecutive failure,
// capped at Max, or at DefaultMaxDelay when Max is not positive.
type ExponentialPolicy struct {
	Base FixedPolicy
	Max  time.Duration
}

// Delay returns Base's delay for kind doubled attempt times, capped.
func (p ExponentialPolicy) Delay(kind FailureKind, attempt int) time.Duration {
	ceiling := p.Max
	if ceiling <= 0 {
		ceiling = DefaultMaxDelay
	}

	delay := p.Base.Delay(kind, attempt)
	for i := 0; i < attempt && delay > 0 && delay < ceiling; i++ {
		if delay > ceiling/2 {
			delay = ceiling
			break
		}
		delay *= 2
	}
	if delay > ceiling {
		delay = ceiling
	}
	return delay
}
