package gate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chatline/internal/model"
	"github.com/chatline/internal/storage/memory"
)

// fakeLedger is an in-memory request ledger with the same contract as
// the repository: Find* return nil when nothing matches, Create keeps
// the first pending row per direction.
type fakeLedger struct {
	seq      int
	requests []*model.MessageRequest
}

func (l *fakeLedger) FindAccepted(_ context.Context, a, b string) (*model.MessageRequest, error) {
	for _, r := range l.requests {
		if r.Status != model.RequestAccepted {
			continue
		}
		if (r.FromID == a && r.ToID == b) || (r.FromID == b && r.ToID == a) {
			return r, nil
		}
	}
	return nil, nil
}

func (l *fakeLedger) FindPending(_ context.Context, from, to string) (*model.MessageRequest, error) {
	for _, r := range l.requests {
		if r.Status == model.RequestPending && r.FromID == from && r.ToID == to {
			return r, nil
		}
	}
	return nil, nil
}

func (l *fakeLedger) Create(_ context.Context, from, to, chatID string, used bool) (*model.MessageRequest, error) {
	for _, r := range l.requests {
		if r.Status == model.RequestPending && r.FromID == from && r.ToID == to {
			return r, nil
		}
	}
	l.seq++
	r := &model.MessageRequest{
		ID:             fmt.Sprintf("req-%d", l.seq),
		FromID:         from,
		ToID:           to,
		ChatID:         chatID,
		Status:         model.RequestPending,
		PreMessageUsed: used,
		CreatedAt:      time.Now().UTC(),
	}
	l.requests = append(l.requests, r)
	return r, nil
}

func (l *fakeLedger) MarkUsed(_ context.Context, id string) error {
	for _, r := range l.requests {
		if r.ID == id && r.Status == model.RequestPending {
			r.PreMessageUsed = true
			return nil
		}
	}
	return errors.New("not found")
}

func (l *fakeLedger) resolve(t *testing.T, id string, status model.RequestStatus) {
	t.Helper()
	for _, r := range l.requests {
		if r.ID == id && r.Status == model.RequestPending {
			r.Status = status
			return
		}
	}
	t.Fatalf("resolve: no pending request %s", id)
}

func newTestGate() (*Gate, *fakeLedger) {
	ledger := &fakeLedger{}
	return New(ledger, memory.New()), ledger
}

func denied(t *testing.T, err error) *DeniedError {
	t.Helper()
	var d *DeniedError
	if !errors.As(err, &d) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	return d
}

func TestFirstContactAdmitsOnceThenLimits(t *testing.T) {
	g, ledger := newTestGate()
	ctx := context.Background()

	if err := g.Admit(ctx, "alice", "bob", "chat1"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	req, _ := ledger.FindPending(ctx, "alice", "bob")
	if req == nil {
		t.Fatal("expected a pending request alice->bob")
	}
	if !req.PreMessageUsed {
		t.Fatal("creating the request must consume the pre-message")
	}

	err := g.Admit(ctx, "alice", "bob", "chat1")
	d := denied(t, err)
	if d.Reason != ReasonLimitReached {
		t.Fatalf("reason=%s want=%s", d.Reason, ReasonLimitReached)
	}
	if d.RequestID != req.ID {
		t.Fatalf("request id=%s want=%s", d.RequestID, req.ID)
	}
}

func TestTheirPendingOverridesEverything(t *testing.T) {
	g, ledger := newTestGate()
	ctx := context.Background()

	// Bob asked first; Alice has never sent anything.
	theirs, _ := ledger.Create(ctx, "bob", "alice", "chat1", true)

	err := g.Admit(ctx, "alice", "bob", "chat1")
	d := denied(t, err)
	if d.Reason != ReasonPendingFromThem {
		t.Fatalf("reason=%s want=%s", d.Reason, ReasonPendingFromThem)
	}
	if d.RequestID != theirs.ID {
		t.Fatalf("request id=%s want=%s", d.RequestID, theirs.ID)
	}
	if got, _ := ledger.FindPending(ctx, "alice", "bob"); got != nil {
		t.Fatal("denied send must not create a request of the sender's own")
	}
}

func TestAcceptUnlocksBothDirections(t *testing.T) {
	g, ledger := newTestGate()
	ctx := context.Background()

	if err := g.Admit(ctx, "alice", "bob", "chat1"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	req, _ := ledger.FindPending(ctx, "alice", "bob")
	ledger.resolve(t, req.ID, model.RequestAccepted)

	for i := 0; i < 3; i++ {
		if err := g.Admit(ctx, "alice", "bob", "chat1"); err != nil {
			t.Fatalf("alice->bob after accept: %v", err)
		}
		if err := g.Admit(ctx, "bob", "alice", "chat1"); err != nil {
			t.Fatalf("bob->alice after accept: %v", err)
		}
	}

	// findAccepted matches regardless of argument order.
	forward, _ := ledger.FindAccepted(ctx, "alice", "bob")
	reverse, _ := ledger.FindAccepted(ctx, "bob", "alice")
	if forward == nil || reverse == nil || forward.ID != reverse.ID {
		t.Fatal("accepted record must cover both orderings")
	}
}

func TestDeclineIsTerminalButNotABlock(t *testing.T) {
	g, ledger := newTestGate()
	ctx := context.Background()

	if err := g.Admit(ctx, "alice", "bob", "chat1"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	first, _ := ledger.FindPending(ctx, "alice", "bob")
	ledger.resolve(t, first.ID, model.RequestDeclined)

	// The declined record is never reused: a new send runs the full
	// procedure and creates a fresh pending request.
	if err := g.Admit(ctx, "alice", "bob", "chat1"); err != nil {
		t.Fatalf("send after decline: %v", err)
	}
	fresh, _ := ledger.FindPending(ctx, "alice", "bob")
	if fresh == nil {
		t.Fatal("expected a fresh pending request after decline")
	}
	if fresh.ID == first.ID {
		t.Fatal("declined request must not be reused")
	}

	// And the new pending request limits like any other.
	err := g.Admit(ctx, "alice", "bob", "chat1")
	if d := denied(t, err); d.Reason != ReasonLimitReached {
		t.Fatalf("reason=%s want=%s", d.Reason, ReasonLimitReached)
	}
}

func TestUnusedPendingAdmitsAndConsumes(t *testing.T) {
	g, ledger := newTestGate()
	ctx := context.Background()

	// A request created out of band with the pre-message still unused
	// (e.g. prior duplicate reconciliation).
	req, _ := ledger.Create(ctx, "alice", "bob", "chat1", false)

	if err := g.Admit(ctx, "alice", "bob", "chat1"); err != nil {
		t.Fatalf("send with unused pending: %v", err)
	}
	if !req.PreMessageUsed {
		t.Fatal("admission must consume the pre-message")
	}
}

func TestExampleScenario(t *testing.T) {
	g, ledger := newTestGate()
	ctx := context.Background()

	// A sends "hi": admitted, R1 created used.
	if err := g.Admit(ctx, "alice", "bob", "chatC"); err != nil {
		t.Fatalf(`A sends "hi": %v`, err)
	}
	r1, _ := ledger.FindPending(ctx, "alice", "bob")

	// A sends "there": denied with R1's id.
	d := denied(t, g.Admit(ctx, "alice", "bob", "chatC"))
	if d.Reason != ReasonLimitReached || d.RequestID != r1.ID {
		t.Fatalf("got %+v, want limit reached on %s", d, r1.ID)
	}

	// B accepts R1, then both directions flow.
	ledger.resolve(t, r1.ID, model.RequestAccepted)
	if err := g.Admit(ctx, "alice", "bob", "chatC"); err != nil {
		t.Fatalf(`A resends "there": %v`, err)
	}
	if err := g.Admit(ctx, "bob", "alice", "chatC"); err != nil {
		t.Fatalf(`B sends "yo": %v`, err)
	}
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	if PairKey("alice", "bob") != PairKey("bob", "alice") {
		t.Fatal("pair key must not depend on argument order")
	}
	if PairKey("alice", "bob") == PairKey("alice", "carol") {
		t.Fatal("distinct pairs must not collide")
	}
}
