package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return New(mr.Addr(), 0, ""), mr
}

func TestAppendAndBacklog(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	if err := bus.Append(ctx, "job-1", "line one\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := bus.Append(ctx, "job-1", "line two\n"); err != nil {
		t.Fatalf("append: %v", err)
	}

	backlog, err := bus.Backlog(ctx, "job-1")
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(backlog) != 2 || backlog[0] != "line one\n" || backlog[1] != "line two\n" {
		t.Fatalf("unexpected backlog: %+v", backlog)
	}
}

func TestFinishDeletesKeyAndAliveGoesFalse(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx := context.Background()

	if err := bus.Append(ctx, "job-2", "hi\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	alive, err := bus.Alive(ctx, "job-2")
	if err != nil || !alive {
		t.Fatalf("expected alive=true, got alive=%v err=%v", alive, err)
	}

	if err := bus.Finish(ctx, "job-2"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	alive, err = bus.Alive(ctx, "job-2")
	if err != nil || alive {
		t.Fatalf("expected alive=false after Finish, got alive=%v err=%v", alive, err)
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus, _ := newTestBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := bus.Subscribe(ctx, "job-3")
	defer sub.Close()

	// miniredis delivers synchronously but the subscribe handshake is
	// async; give it a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)

	if err := bus.Publish(ctx, "job-3", "hello\n"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != "hello\n" {
			t.Fatalf("unexpected payload: %q", msg.Payload)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for published message")
	}
}
