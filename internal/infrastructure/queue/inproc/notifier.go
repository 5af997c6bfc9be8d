package inproc

import "context"

// Notifier wakes lease loops running in the same process.
type Notifier struct {
	wakeups chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{wakeups: make(chan struct{}, 1)}
}

func (n *Notifier) Notify(_ context.Context, _ string) error {
	select {
	case n.wakeups <- struct{}{}:
	default:
	}
	return nil
}

func (n *Notifier) Wakeups() <-chan struct{} { return n.wakeups }
