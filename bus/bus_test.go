package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wasmforge/kernel/metrics"
)

func startRouter(t *testing.T, r *Router) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestDirectDeliveryFIFO(t *testing.T) {
	h, r := New(WithMailboxCapacity(10))
	startRouter(t, r)

	inbox := h.RegisterPlugin("bravo")

	for i := 0; i < 5; i++ {
		msg := Message{ID: string(rune('a' + i)), From: "alpha", To: "bravo", MsgType: "ping"}
		if err := h.SendMessage(msg); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		select {
		case msg := <-inbox:
			if msg.ID != string(rune('a'+i)) {
				t.Fatalf("out-of-order delivery: got %q at position %d", msg.ID, i)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestTopicFanOutAndUnsubscribe(t *testing.T) {
	h, r := New()
	startRouter(t, r)

	one := h.RegisterPlugin("one")
	two := h.RegisterPlugin("two")

	h.Subscribe("one", "events")
	h.Subscribe("two", "events")

	if err := h.SendMessage(Message{ID: "m1", From: "src", Topic: "events"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	for _, ch := range []<-chan Message{one, two} {
		select {
		case msg := <-ch:
			if msg.ID != "m1" {
				t.Fatalf("unexpected message id %q", msg.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out delivery")
		}
	}

	if !h.Unsubscribe("two", "events") {
		t.Fatal("Unsubscribe should report true for an existing member")
	}
	if h.Unsubscribe("two", "events") {
		t.Fatal("Unsubscribe should report false on repeat removal")
	}

	if err := h.SendMessage(Message{ID: "m2", From: "src", Topic: "events"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	select {
	case msg := <-one:
		if msg.ID != "m2" {
			t.Fatalf("unexpected message id %q", msg.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for remaining subscriber delivery")
	}

	select {
	case msg := <-two:
		t.Fatalf("unsubscribed plugin should not receive message, got %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscriptionTableMinimality(t *testing.T) {
	h, r := New()
	startRouter(t, r)

	h.RegisterPlugin("p1")
	h.Subscribe("p1", "topicA")

	if got := h.Subscribers("topicA"); len(got) != 1 || got[0] != "p1" {
		t.Fatalf("Subscribers(topicA) = %v, want [p1]", got)
	}

	h.Unsubscribe("p1", "topicA")
	if got := h.Subscribers("topicA"); len(got) != 0 {
		t.Fatalf("expected empty subscriber set after unsubscribe, got %v", got)
	}
}

func TestUnregisterPluginClearsSubscriptions(t *testing.T) {
	h, r := New()
	startRouter(t, r)

	h.RegisterPlugin("p1")
	h.Subscribe("p1", "topicA")
	h.Subscribe("p1", "topicB")

	h.UnregisterPlugin("p1")

	if got := h.Subscribers("topicA"); len(got) != 0 {
		t.Fatalf("expected no subscribers after unregister, got %v", got)
	}
	if got := h.Subscribers("topicB"); len(got) != 0 {
		t.Fatalf("expected no subscribers after unregister, got %v", got)
	}
}

func TestSendMessageAfterShutdown(t *testing.T) {
	h, r := New()
	startRouter(t, r)

	h.Shutdown()

	if err := h.SendMessage(Message{ID: "x", From: "a", To: "b"}); err != ErrBusClosed {
		t.Fatalf("SendMessage after Shutdown = %v, want ErrBusClosed", err)
	}
}

func TestNoDestinationDropsSilently(t *testing.T) {
	h, r := New()
	startRouter(t, r)

	if err := h.SendMessage(Message{ID: "x", From: "a", To: "ghost"}); err != nil {
		t.Fatalf("SendMessage to unknown plugin should not error: %v", err)
	}
}

func TestCloneIsolatesFanOutPayloads(t *testing.T) {
	h, r := New()
	startRouter(t, r)

	one := h.RegisterPlugin("one")
	two := h.RegisterPlugin("two")
	h.Subscribe("one", "t")
	h.Subscribe("two", "t")

	payload := []byte("shared")
	if err := h.SendMessage(Message{ID: "m", From: "src", Topic: "t", Payload: payload}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		msg := <-one
		msg.Payload[0] = 'X'
	}()
	go func() {
		defer wg.Done()
		msg := <-two
		if string(msg.Payload) != "shared" {
			t.Errorf("fan-out payload mutated across subscribers: got %q", msg.Payload)
		}
	}()
	wg.Wait()
}

func TestMailboxDepthGaugeReflectsQueuedMessages(t *testing.T) {
	reg := metrics.New()
	h, r := New(WithMailboxCapacity(10), WithMetrics(reg))

	// Register the mailbox but don't start the router, so sent messages
	// queue in the channel instead of being drained immediately.
	h.RegisterPlugin("bravo")

	for i := 0; i < 3; i++ {
		if err := h.SendMessage(Message{ID: string(rune('a' + i)), From: "alpha", To: "bravo"}); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	startRouter(t, r)

	// Once running, the router moves all three messages into bravo's
	// mailbox. Nothing reads that mailbox, so the gauge settles at 3.
	time.Sleep(20 * time.Millisecond)

	if got := testutil.ToFloat64(reg.MailboxDepth.WithLabelValues("bravo")); got != 3 {
		t.Fatalf("MailboxDepth[bravo] = %v, want 3 queued in the unread mailbox", got)
	}
}
