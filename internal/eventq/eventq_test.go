package eventq

import "testing"

func TestOfferSends(t *testing.T) {
	ch := make(chan int, 1)
	if !Offer(ch, 42) {
		t.Fatal("Offer on empty buffered channel returned false")
	}
	if got := <-ch; got != 42 {
		t.Fatalf("received %d, want 42", got)
	}
}

func TestOfferFullChannel(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 1
	if Offer(ch, 2) {
		t.Fatal("Offer on full channel returned true")
	}
}

func TestOfferClosedChannel(t *testing.T) {
	ch := make(chan int)
	close(ch)
	if Offer(ch, 1) {
		t.Fatal("Offer on closed channel returned true")
	}
}
