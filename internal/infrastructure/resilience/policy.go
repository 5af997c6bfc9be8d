package resilience

import (
	"strings"
	"time"
)

// RetryPolicy bounds how many times a dependency call is attempted and how long to wait in between.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// Delay returns the wait after the given failed attempt (1-based): InitialBackoff * Multiplier^(attempt-1), capped.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	if d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

func (p RetryPolicy) withDefaults(def RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// BreakerPolicy configures the circuit breaker kept per operation name.
type BreakerPolicy struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

func (b BreakerPolicy) withDefaults(def BreakerPolicy) BreakerPolicy {
	if b.MinRequests == 0 {
		b.MinRequests = def.MinRequests
	}
	if b.FailureRatio <= 0 || b.FailureRatio > 1 {
		b.FailureRatio = def.FailureRatio
	}
	if b.OpenTimeout <= 0 {
		b.OpenTimeout = def.OpenTimeout
	}
	if b.HalfOpenMaxCalls == 0 {
		b.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return b
}

type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy

	// Overrides replace Retry for operations whose name starts with the key, e.g. "nats." or "ollama.generate".
	// The longest matching prefix wins.
	Overrides map[string]RetryPolicy

	// OnRetry observes every retry before the backoff sleep.
	OnRetry func(operation string, attempt int, err error)
	// OnStateChange observes breaker transitions; nil logs through slog.
	OnStateChange func(operation, from, to string)
}

func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     400 * time.Millisecond,
			Multiplier:     2,
		},
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      10,
			FailureRatio:     0.5,
			OpenTimeout:      30 * time.Second,
			HalfOpenMaxCalls: 2,
		},
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c
	out.Retry = c.Retry.withDefaults(def.Retry)
	out.Breaker = c.Breaker.withDefaults(def.Breaker)
	if len(c.Overrides) > 0 {
		out.Overrides = make(map[string]RetryPolicy, len(c.Overrides))
		for prefix, p := range c.Overrides {
			out.Overrides[prefix] = p.withDefaults(out.Retry)
		}
	}
	return out
}

func (c Config) retryFor(operation string) RetryPolicy {
	best, bestLen := c.Retry, -1
	for prefix, p := range c.Overrides {
		if strings.HasPrefix(operation, prefix) && len(prefix) > bestLen {
			best, bestLen = p, len(prefix)
		}
	}
	return best
}
