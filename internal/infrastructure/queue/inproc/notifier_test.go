package inproc

import (
	"context"
	"testing"
)

func TestNotifyNeverBlocks(t *testing.T) {
	n := NewNotifier()
	for i := 0; i < 10; i++ {
		if err := n.Notify(context.Background(), "job"); err != nil {
			t.Fatalf("Notify() error = %v", err)
		}
	}
	select {
	case <-n.Wakeups():
	default:
		t.Fatalf("expected wake-up")
	}
}
