package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/doc-intelligence/internal/infrastructure/resilience"
)

// classifyPublishError treats connection loss as transient; protocol misuse such as a bad subject is permanent.
func classifyPublishError(err error) resilience.Verdict {
	switch {
	case err == nil:
		return resilience.Ignored
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.Ignored
	case resilience.IsCircuitOpen(err),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrDisconnected):
		return resilience.Transient
	default:
		return resilience.Permanent
	}
}

func wrapPublishError(err error) error {
	return resilience.WrapTemporary("nats publish", err, classifyPublishError)
}
