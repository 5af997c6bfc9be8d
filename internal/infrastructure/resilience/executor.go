package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Verdict tells the executor what a failure means for retries and for the breaker.
type Verdict int

const (
	// Permanent failures are returned at once and count against the breaker.
	Permanent Verdict = iota
	// Transient failures are retried and count against the breaker.
	Transient
	// Ignored failures are returned at once and leave the breaker untouched.
	Ignored
)

func (v Verdict) String() string {
	switch v {
	case Transient:
		return "transient"
	case Ignored:
		return "ignored"
	default:
		return "permanent"
	}
}

type Classifier func(err error) Verdict

// Executor guards calls to one kind of dependency (model server, vector index, broker).
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// Execute runs fn under the operation's circuit breaker with bounded retries.
// A nil Executor runs fn once.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classify Classifier) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	if e == nil {
		return fn(ctx)
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classify == nil {
		classify = ClassifyPermanent
	}

	policy := e.cfg.retryFor(op)
	if !e.cfg.Breaker.Enabled {
		return e.retry(ctx, op, policy, fn, classify)
	}
	_, err := e.breaker(op, classify).Execute(func() (struct{}, error) {
		return struct{}{}, e.retry(ctx, op, policy, fn, classify)
	})
	return err
}

func (e *Executor) retry(ctx context.Context, op string, policy RetryPolicy, fn func(context.Context) error, classify Classifier) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if classify(last) != Transient || attempt >= policy.MaxAttempts {
			return last
		}

		wait := policy.Delay(attempt)
		if e.cfg.OnRetry != nil {
			e.cfg.OnRetry(op, attempt, last)
		} else {
			slog.Debug("dependency_retry", "operation", op, "attempt", attempt, "backoff_ms", wait.Milliseconds(), "error", last.Error())
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}
}

func (e *Executor) breaker(op string, classify Classifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[op]; ok {
		return cb
	}

	policy := e.cfg.Breaker
	onChange := e.cfg.OnStateChange
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        op,
		MaxRequests: policy.HalfOpenMaxCalls,
		Timeout:     policy.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < policy.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= policy.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || classify(err) == Ignored
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if onChange != nil {
				onChange(name, from.String(), to.String())
				return
			}
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	})
	e.breakers[op] = cb
	return cb
}

// Call is Execute for operations that produce a value.
func Call[T any](ctx context.Context, e *Executor, operation string, fn func(context.Context) (T, error), classify Classifier) (T, error) {
	var out T
	err := e.Execute(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, classify)
	return out, err
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// ClassifyPermanent never retries.
func ClassifyPermanent(error) Verdict { return Permanent }
