package bus

import (
	"context"
	"testing"
	"time"

	"github.com/psprecon/reconciler/internal/ports"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := b.Subscribe(ctx, ports.TopicRaw)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	msg := ports.Message{PartitionKey: "tenant-a", Payload: []byte("hello")}
	if err := b.Publish(ctx, ports.TopicRaw, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-sub.Messages():
		if string(got.Payload) != "hello" {
			t.Fatalf("got payload %q, want %q", got.Payload, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestOrderingPreservedWithinOnePartitionKey(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := b.Subscribe(ctx, ports.TopicNormalized)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	const n = 50
	for i := 0; i < n; i++ {
		msg := ports.Message{PartitionKey: "same-tenant", Payload: []byte{byte(i)}}
		if err := b.Publish(ctx, ports.TopicNormalized, msg); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case got := <-sub.Messages():
			if len(got.Payload) != 1 || got.Payload[0] != byte(i) {
				t.Fatalf("message %d out of order: got %v", i, got.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestPublishRespectsContextCancellation(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())

	// Fill every slot of the partition this key maps to without a reader,
	// then a subsequent publish to the same partition should block until
	// ctx is canceled and return its error instead of hanging forever.
	key := "tenant-blocked"
	for i := 0; i < partitionBuffer; i++ {
		if err := b.Publish(ctx, ports.TopicMatched, ports.Message{PartitionKey: key}); err != nil {
			t.Fatalf("fill publish %d: %v", i, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- b.Publish(ctx, ports.TopicMatched, ports.Message{PartitionKey: key})
	}()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publish did not unblock after context cancellation")
	}
}

func TestSubscribeClosesMessagesChannelOnClose(t *testing.T) {
	b := New()
	sub, err := b.Subscribe(context.Background(), ports.TopicRaw)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case _, ok := <-sub.Messages():
		if ok {
			t.Fatal("expected closed channel after Close, got a live message")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Messages() to close")
	}
}
