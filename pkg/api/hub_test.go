package api

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestHubStopsOnContextCancel(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	// Register a client so shutdown has something to tear down.
	c := &Client{
		hub:           h,
		send:          make(chan []byte, 1),
		id:            "test-client",
		subscriptions: map[string]bool{"trades": true},
	}
	h.register <- c

	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop on context cancel")
	}

	// The client's send channel is closed and it is forgotten.
	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("send channel delivered data instead of closing")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed on shutdown")
	}
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n != 0 {
		t.Errorf("clients after shutdown = %d, want 0", n)
	}

	// Late unregisters must not block once the hub is gone.
	done := make(chan struct{})
	go func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unregister blocked after hub stopped")
	}
}
