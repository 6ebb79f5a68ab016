package bus

import (
	"fmt"
	"testing"
	"time"
)

func TestPublishToSubscriber(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Cancel()

	b.Publish(TopicInboxUpdated, "agent-a")

	select {
	case n := <-sub.C:
		if n.Topic != TopicInboxUpdated {
			t.Errorf("Topic = %q, want %q", n.Topic, TopicInboxUpdated)
		}
		if n.Payload != "agent-a" {
			t.Errorf("Payload = %v", n.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestTopicFilter(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicProcessExit)
	defer sub.Cancel()

	b.Publish(TopicInboxUpdated, nil)
	b.Publish(TopicProcessExit, "sess-1")

	n := <-sub.C
	if n.Topic != TopicProcessExit {
		t.Errorf("got filtered-out topic %q", n.Topic)
	}
	select {
	case n := <-sub.C:
		t.Errorf("unexpected second notification: %+v", n)
	default:
	}
}

func TestPublishOrdering(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Cancel()

	for i := 0; i < 10; i++ {
		b.Publish(TopicProcessOutput, i)
	}
	for i := 0; i < 10; i++ {
		n := <-sub.C
		if n.Payload != i {
			t.Fatalf("out of order: got %v at position %d", n.Payload, i)
		}
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := New()
	// Must not block or panic; nothing is persisted.
	b.Publish(TopicBacklogUpdated, nil)
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d", b.SubscriberCount())
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish(TopicProcessOutput, i)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}

func TestCancelIdempotent(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	sub.Cancel()
	sub.Cancel() // must not panic

	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d after cancel", b.SubscriberCount())
	}
	// Publishing after cancel must not panic on the closed channel.
	b.Publish(TopicProcessOutput, nil)
}

func TestFanOutToMany(t *testing.T) {
	b := New()
	var subs []*Subscription
	for i := 0; i < 5; i++ {
		subs = append(subs, b.Subscribe())
	}
	b.Publish(TopicPendingQuestion, "q1")

	for i, s := range subs {
		select {
		case n := <-s.C:
			if fmt.Sprint(n.Payload) != "q1" {
				t.Errorf("sub %d payload = %v", i, n.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d did not receive", i)
		}
		s.Cancel()
	}
}
