package server

import (
	"context"
	"testing"
	"time"

	"github.com/Gokul-madhav/home-ring/internal/calls"
)

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "owner-1")
	defer cleanup()

	dispatcher.PublishCallEvent(calls.Event{
		Type:       calls.EventInvite,
		OwnerID:    "owner-1",
		Call:       calls.Call{ID: "call-a", Status: calls.StatusRinging},
		OccurredAt: time.Now().UTC(),
	})

	select {
	case received := <-stream:
		if received.EventType != string(calls.EventInvite) {
			t.Fatalf("expected event type %s, got %s", calls.EventInvite, received.EventType)
		}
		if received.Call.ID != "call-a" {
			t.Fatalf("expected call-a, got %s", received.Call.ID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestRealtimeDispatcherIsolatedByOwner(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otherCtx, otherCancel := context.WithCancel(context.Background())
	defer otherCancel()

	ownerStream, cleanup := dispatcher.Subscribe(ctx, "owner-2")
	defer cleanup()

	otherStream, otherCleanup := dispatcher.Subscribe(otherCtx, "owner-3")
	defer otherCleanup()

	dispatcher.Publish(RealtimeMessage{
		OwnerID:   "owner-3",
		EventType: string(calls.EventEnded),
		Call:      calls.Call{ID: "call-c"},
		Timestamp: time.Now().UTC(),
	})

	select {
	case <-ownerStream:
		t.Fatal("did not expect realtime message for unrelated owner")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-otherStream:
		if msg.OwnerID != "owner-3" {
			t.Fatalf("expected owner-3, received %s", msg.OwnerID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message for subscribed owner")
	}
}

func TestRealtimeDispatcherUnsubscribesOnCancel(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx, "owner-4")
	if dispatcher.subscriberCount("owner-4") != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()
	deadline := time.Now().Add(time.Second)
	for dispatcher.subscriberCount("owner-4") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed after cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cleanup()

	dispatcher.Publish(RealtimeMessage{OwnerID: "owner-4", EventType: string(calls.EventInvite)})
}

func TestRealtimeDispatcherRejectsEmptyOwner(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), "")
	defer cleanup()
	if _, open := <-stream; open {
		t.Fatal("expected closed stream for empty owner")
	}
}
