package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/doc-intelligence/internal/infrastructure/resilience"
)

// Notifier broadcasts "a job became runnable" hints between processes.
// The job store stays the source of truth; a lost hint only costs one poll interval.
type Notifier struct {
	conn     *nats.Conn
	sub      *nats.Subscription
	subject  string
	executor *resilience.Executor
	wakeups  chan struct{}
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, subject string) (*Notifier, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Notifier, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats-notifier")

	conn, err := nats.Connect(
		url,
		nats.Name("doc-intelligence"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", fmt.Sprint(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	n := &Notifier{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
		wakeups:  make(chan struct{}, 1),
		logger:   logger,
	}
	sub, err := conn.Subscribe(subject, func(_ *nats.Msg) { n.signal() })
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	n.sub = sub
	return n, nil
}

// Notify publishes the job id; subscribers only use it as a wake-up.
func (n *Notifier) Notify(ctx context.Context, jobID string) error {
	call := func(_ context.Context) error {
		if err := n.conn.Publish(n.subject, []byte(jobID)); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}
	if err := n.executor.Execute(ctx, "nats.publish", call, classifyPublishError); err != nil {
		return wrapPublishError(err)
	}
	return nil
}

func (n *Notifier) Wakeups() <-chan struct{} { return n.wakeups }

func (n *Notifier) signal() {
	select {
	case n.wakeups <- struct{}{}:
	default:
	}
}

func (n *Notifier) Close() error {
	if n.sub != nil {
		if err := n.sub.Drain(); err != nil {
			n.logger.Warn("nats_drain_failed", "error", err.Error())
		}
	}
	if n.conn != nil {
		if err := n.conn.FlushTimeout(5 * time.Second); err != nil && n.conn.IsConnected() {
			n.logger.Warn("nats_flush_failed", "error", err.Error())
		}
		n.conn.Close()
	}
	return nil
}
