package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/crewctl/crewctl/internal/bus"
	"github.com/crewctl/crewctl/internal/hexid"
)

// RequestKind is the category of a pending human decision.
type RequestKind string

const (
	KindQuestion   RequestKind = "question"
	KindPermission RequestKind = "permission"
	KindPlanReview RequestKind = "plan-review"
)

// RequestState is the lifecycle state of a PendingRequest.
type RequestState string

const (
	StatePending  RequestState = "pending"
	StateResolved RequestState = "resolved"
	StateExpired  RequestState = "expired"
)

// Question is one question an agent puts to the human, with the options
// it offers. Free-form answers are allowed when Options is empty.
type Question struct {
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// PlanDecision is the human's verdict on a plan review.
type PlanDecision string

const (
	PlanApproved PlanDecision = "approved"
	PlanRejected PlanDecision = "rejected"
	PlanEdits    PlanDecision = "edits"
)

// PlanReview carries the decision and, for PlanEdits, the requested
// changes.
type PlanReview struct {
	Decision PlanDecision `json:"decision"`
	Edits    string       `json:"edits,omitempty"`
}

// PendingRequest is one outstanding human decision blocking an agent's
// turn. At most one request of each kind is outstanding per agent.
type PendingRequest struct {
	ID        string       `json:"id"`
	AgentID   string       `json:"agent_id"`
	Kind      RequestKind  `json:"kind"`
	State     RequestState `json:"state"`
	CreatedAt time.Time    `json:"created_at"`

	// Question payload.
	Questions []Question `json:"questions,omitempty"`

	// Permission payload.
	Permission string `json:"permission,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type pendingKey struct {
	agentID string
	kind    RequestKind
}

type outcome struct {
	answers []string
	granted bool
	review  PlanReview
	err     error
}

type pendingRequest struct {
	req  PendingRequest
	done chan outcome // buffered, written exactly once
}

// AskUserQuestion suspends the calling agent's turn until a human answers
// through ResolveQuestion, the request is superseded, or ctx is done. The
// returned slice holds one answer per question, in order.
func (b *Broker) AskUserQuestion(ctx context.Context, agentID string, questions []Question) ([]string, error) {
	if len(questions) == 0 {
		return nil, errors.New("at least one question is required")
	}
	p, err := b.createPending(agentID, PendingRequest{
		Kind:      KindQuestion,
		Questions: questions,
	}, bus.TopicPendingQuestion)
	if err != nil {
		return nil, err
	}
	o, err := b.await(ctx, p)
	if err != nil {
		return nil, err
	}
	return o.answers, nil
}

// RequestToolPermission suspends until a human grants or denies the named
// permission through ResolvePermission, or the request is superseded.
func (b *Broker) RequestToolPermission(ctx context.Context, agentID, permission, reason string) (bool, error) {
	if permission == "" {
		return false, errors.New("permission is required")
	}
	p, err := b.createPending(agentID, PendingRequest{
		Kind:       KindPermission,
		Permission: permission,
		Reason:     reason,
	}, bus.TopicPendingPermission)
	if err != nil {
		return false, err
	}
	o, err := b.await(ctx, p)
	if err != nil {
		return false, err
	}
	return o.granted, nil
}

// RequestPlanReview suspends until a human approves, rejects, or requests
// edits through ResolvePlanReview, or the request is superseded.
func (b *Broker) RequestPlanReview(ctx context.Context, agentID string) (PlanReview, error) {
	p, err := b.createPending(agentID, PendingRequest{Kind: KindPlanReview}, bus.TopicPendingPlanReview)
	if err != nil {
		return PlanReview{}, err
	}
	o, err := b.await(ctx, p)
	if err != nil {
		return PlanReview{}, err
	}
	return o.review, nil
}

// createPending registers the request, expiring any outstanding request of
// the same kind from the same agent. The replacement is visible in the
// pending set before the superseded waiter is released.
func (b *Broker) createPending(agentID string, req PendingRequest, topic string) (*pendingRequest, error) {
	if agentID == "" {
		return nil, errors.New("agent id is required")
	}
	req.ID = hexid.New()
	req.AgentID = agentID
	req.State = StatePending

	b.mu.Lock()
	req.CreatedAt = b.now().UTC()
	p := &pendingRequest{req: req, done: make(chan outcome, 1)}

	key := pendingKey{agentID: agentID, kind: req.Kind}
	old := b.pending[key]
	b.pending[key] = p
	b.byID[req.ID] = p
	if old != nil {
		old.req.State = StateExpired
		delete(b.byID, old.req.ID)
	}
	b.mu.Unlock()

	if old != nil {
		old.done <- outcome{err: ErrRequestSuperseded}
	}
	b.publish(topic, req)
	return p, nil
}

func (b *Broker) await(ctx context.Context, p *pendingRequest) (outcome, error) {
	select {
	case o := <-p.done:
		return o, o.err
	case <-ctx.Done():
		b.dropPending(p)
		return outcome{}, ctx.Err()
	}
}

// dropPending removes a request whose waiter gave up. The done channel may
// already hold a resolution; that result is discarded with the request.
func (b *Broker) dropPending(p *pendingRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := pendingKey{agentID: p.req.AgentID, kind: p.req.Kind}
	if b.pending[key] == p {
		delete(b.pending, key)
	}
	delete(b.byID, p.req.ID)
}

// ListPending returns a snapshot of all outstanding requests, oldest
// first.
func (b *Broker) ListPending() []PendingRequest {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PendingRequest, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ResolveQuestion answers a pending question request. The number of
// answers must match the number of questions.
func (b *Broker) ResolveQuestion(id string, answers []string) error {
	return b.resolve(id, KindQuestion, bus.TopicPendingQuestion, func(req PendingRequest) (outcome, error) {
		if len(answers) != len(req.Questions) {
			return outcome{}, fmt.Errorf("expected %d answers, got %d", len(req.Questions), len(answers))
		}
		return outcome{answers: answers}, nil
	})
}

// ResolvePermission grants or denies a pending permission request.
func (b *Broker) ResolvePermission(id string, granted bool) error {
	return b.resolve(id, KindPermission, bus.TopicPendingPermission, func(PendingRequest) (outcome, error) {
		return outcome{granted: granted}, nil
	})
}

// ResolvePlanReview settles a pending plan review.
func (b *Broker) ResolvePlanReview(id string, review PlanReview) error {
	return b.resolve(id, KindPlanReview, bus.TopicPendingPlanReview, func(PendingRequest) (outcome, error) {
		switch review.Decision {
		case PlanApproved, PlanRejected, PlanEdits:
			return outcome{review: review}, nil
		default:
			return outcome{}, fmt.Errorf("unknown plan decision %q", review.Decision)
		}
	})
}

func (b *Broker) resolve(id string, kind RequestKind, topic string, fn func(PendingRequest) (outcome, error)) error {
	b.mu.Lock()
	p, ok := b.byID[id]
	if !ok || p.req.Kind != kind {
		b.mu.Unlock()
		return ErrUnknownRequest
	}
	o, err := fn(p.req)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	p.req.State = StateResolved
	delete(b.pending, pendingKey{agentID: p.req.AgentID, kind: p.req.Kind})
	delete(b.byID, id)
	resolved := p.req
	b.mu.Unlock()

	p.done <- o
	b.publish(topic, resolved)
	return nil
}
