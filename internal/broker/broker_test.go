package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewctl/crewctl/internal/bus"
)

func waitPending(t *testing.T, b *Broker, n int) []PendingRequest {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reqs := b.ListPending(); len(reqs) == n {
			return reqs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pending set never reached %d requests", n)
	return nil
}

func TestQuestionResolve(t *testing.T) {
	b := New(nil)

	type result struct {
		answers []string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		answers, err := b.AskUserQuestion(context.Background(), "alpha", []Question{
			{Text: "Deploy now?", Options: []string{"yes", "no"}},
		})
		done <- result{answers, err}
	}()

	reqs := waitPending(t, b, 1)
	require.Equal(t, KindQuestion, reqs[0].Kind)
	require.Equal(t, "alpha", reqs[0].AgentID)

	require.NoError(t, b.ResolveQuestion(reqs[0].ID, []string{"yes"}))

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, []string{"yes"}, r.answers)
	assert.Empty(t, b.ListPending())
}

func TestQuestionAnswerCountMismatch(t *testing.T) {
	b := New(nil)

	go b.AskUserQuestion(context.Background(), "alpha", []Question{
		{Text: "one"}, {Text: "two"},
	})
	reqs := waitPending(t, b, 1)

	err := b.ResolveQuestion(reqs[0].ID, []string{"only one"})
	require.Error(t, err)
	// Request stays pending after a bad resolution attempt.
	assert.Len(t, b.ListPending(), 1)
}

func TestSupersession(t *testing.T) {
	b := New(nil)

	first := make(chan error, 1)
	go func() {
		_, err := b.AskUserQuestion(context.Background(), "alpha", []Question{{Text: "first"}})
		first <- err
	}()
	waitPending(t, b, 1)

	type result struct {
		answers []string
		err     error
	}
	second := make(chan result, 1)
	go func() {
		answers, err := b.AskUserQuestion(context.Background(), "alpha", []Question{{Text: "second"}})
		second <- result{answers, err}
	}()

	// The first waiter must be released with ErrRequestSuperseded, and by
	// the time it is, the replacement is already the only pending request.
	select {
	case err := <-first:
		require.ErrorIs(t, err, ErrRequestSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("superseded waiter was left hanging")
	}

	reqs := waitPending(t, b, 1)
	require.Equal(t, "second", reqs[0].Questions[0].Text)

	require.NoError(t, b.ResolveQuestion(reqs[0].ID, []string{"ok"}))
	r := <-second
	require.NoError(t, r.err)
	assert.Equal(t, []string{"ok"}, r.answers)
}

func TestSupersessionIsPerKind(t *testing.T) {
	b := New(nil)

	qErr := make(chan error, 1)
	go func() {
		_, err := b.AskUserQuestion(context.Background(), "alpha", []Question{{Text: "q"}})
		qErr <- err
	}()
	waitPending(t, b, 1)

	go b.RequestToolPermission(context.Background(), "alpha", "Bash(rm *)", "cleanup")
	reqs := waitPending(t, b, 2)

	// A permission request must not expire the question.
	select {
	case err := <-qErr:
		t.Fatalf("question was resolved unexpectedly: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	for _, r := range reqs {
		switch r.Kind {
		case KindQuestion:
			require.NoError(t, b.ResolveQuestion(r.ID, []string{"a"}))
		case KindPermission:
			require.NoError(t, b.ResolvePermission(r.ID, false))
		}
	}
	require.NoError(t, <-qErr)
}

func TestPermissionDenied(t *testing.T) {
	b := New(nil)

	type result struct {
		granted bool
		err     error
	}
	done := make(chan result, 1)
	go func() {
		g, err := b.RequestToolPermission(context.Background(), "beta", "WebFetch", "docs lookup")
		done <- result{g, err}
	}()
	reqs := waitPending(t, b, 1)
	require.Equal(t, "WebFetch", reqs[0].Permission)

	require.NoError(t, b.ResolvePermission(reqs[0].ID, false))
	r := <-done
	require.NoError(t, r.err)
	assert.False(t, r.granted)
}

func TestPlanReviewEdits(t *testing.T) {
	b := New(nil)

	type result struct {
		review PlanReview
		err    error
	}
	out := make(chan result, 1)
	go func() {
		review, err := b.RequestPlanReview(context.Background(), "beta")
		out <- result{review, err}
	}()
	reqs := waitPending(t, b, 1)

	require.Error(t, b.ResolvePlanReview(reqs[0].ID, PlanReview{Decision: "maybe"}))
	require.NoError(t, b.ResolvePlanReview(reqs[0].ID, PlanReview{Decision: PlanEdits, Edits: "split step 2"}))

	r := <-out
	require.NoError(t, r.err)
	assert.Equal(t, PlanEdits, r.review.Decision)
	assert.Equal(t, "split step 2", r.review.Edits)
}

func TestResolveUnknownID(t *testing.T) {
	b := New(nil)
	require.ErrorIs(t, b.ResolveQuestion("nope", []string{"x"}), ErrUnknownRequest)
}

func TestResolveKindMismatch(t *testing.T) {
	b := New(nil)

	go b.AskUserQuestion(context.Background(), "alpha", []Question{{Text: "q"}})
	reqs := waitPending(t, b, 1)

	require.ErrorIs(t, b.ResolvePermission(reqs[0].ID, true), ErrUnknownRequest)
	require.NoError(t, b.ResolveQuestion(reqs[0].ID, []string{"a"}))
}

func TestAwaitContextCancel(t *testing.T) {
	b := New(nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := b.AskUserQuestion(ctx, "alpha", []Question{{Text: "q"}})
		errCh <- err
	}()
	waitPending(t, b, 1)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	waitPending(t, b, 0)
}

func TestPendingNotification(t *testing.T) {
	bs := bus.New()
	sub := bs.Subscribe(bus.TopicPendingQuestion)
	defer sub.Cancel()

	b := New(bs)
	go b.AskUserQuestion(context.Background(), "alpha", []Question{{Text: "q"}})
	reqs := waitPending(t, b, 1)

	select {
	case n := <-sub.C:
		req, ok := n.Payload.(PendingRequest)
		require.True(t, ok)
		assert.Equal(t, StatePending, req.State)
	case <-time.After(time.Second):
		t.Fatal("no pending-question notification")
	}

	require.NoError(t, b.ResolveQuestion(reqs[0].ID, []string{"a"}))
	select {
	case n := <-sub.C:
		req := n.Payload.(PendingRequest)
		assert.Equal(t, StateResolved, req.State)
	case <-time.After(time.Second):
		t.Fatal("no resolution notification")
	}
}
