// Package gate decides whether a sender may post to a personal chat
// right now. Group chats bypass the gate entirely; for personal chats
// the pending/accepted handshake between the two members is consulted
// and, on admission, advanced.
package gate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
)

// Reason codes surfaced to the client alongside the blocking request id.
const (
	ReasonPendingFromThem = "REQUEST_PENDING_FROM_THEM"
	ReasonLimitReached    = "REQUEST_LIMIT_REACHED"
)

// DeniedError is the expected control-flow outcome of a blocked send,
// not a fault. RequestID names the request the sender must wait on or
// resolve.
type DeniedError struct {
	Reason    string
	RequestID string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("send denied: %s (request %s)", e.Reason, e.RequestID)
}

// State is the sender's relationship to the other chat member, computed
// once per admission check from the two ledger lookups and then
// switched on.
type State int

const (
	// StateNone: no accepted record, no pending request either way.
	StateNone State = iota
	// StateTheirPending: the other member asked first; their pending
	// request overrides anything the sender has outstanding.
	StateTheirPending
	// StateMineUnused: sender has a pending request with the single
	// pre-acceptance message still available.
	StateMineUnused
	// StateMineUsed: sender's pending request exists and the
	// pre-acceptance message is spent.
	StateMineUsed
	// StateAccepted: the pair is unlocked permanently, both directions.
	StateAccepted
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateTheirPending:
		return "their_pending"
	case StateMineUnused:
		return "mine_unused"
	case StateMineUsed:
		return "mine_used"
	case StateAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// Ledger is the slice of the request repository the gate needs.
type Ledger interface {
	FindAccepted(ctx context.Context, userA, userB string) (*model.MessageRequest, error)
	FindPending(ctx context.Context, from, to string) (*model.MessageRequest, error)
	Create(ctx context.Context, from, to, chatID string, preMessageUsed bool) (*model.MessageRequest, error)
	MarkUsed(ctx context.Context, id string) error
}

// Locker serializes admission checks per user pair (storage.PairLocker).
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type Gate struct {
	ledger Ledger
	locks  Locker
}

func New(ledger Ledger, locks Locker) *Gate {
	return &Gate{ledger: ledger, locks: locks}
}

// PairKey is the lock key for an unordered user pair.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// Admit runs the admission decision for one message from sender to
// other in the given personal chat. A nil error means the message may
// be posted; admission is a read-modify-write, so every admitted
// message has either passed the accepted fast path or mutated exactly
// one request record (created it, or consumed its pre-message).
func (g *Gate) Admit(ctx context.Context, senderID, otherID, chatID string) error {
	defer logger.DeferLogDuration("gate.Admit", time.Now())()

	release, err := g.locks.Acquire(ctx, PairKey(senderID, otherID))
	if err != nil {
		return fmt.Errorf("gate: acquire pair lock: %w", err)
	}
	defer release()

	state, request, err := g.classify(ctx, senderID, otherID)
	if err != nil {
		return err
	}

	switch state {
	case StateAccepted:
		return nil
	case StateTheirPending:
		return &DeniedError{Reason: ReasonPendingFromThem, RequestID: request.ID}
	case StateMineUsed:
		return &DeniedError{Reason: ReasonLimitReached, RequestID: request.ID}
	case StateMineUnused:
		if err := g.ledger.MarkUsed(ctx, request.ID); err != nil {
			return fmt.Errorf("gate: consume pre-message: %w", err)
		}
		return nil
	case StateNone:
		// Creating the request consumes the sender's one pre-acceptance
		// message, so it is born already used.
		if _, err := g.ledger.Create(ctx, senderID, otherID, chatID, true); err != nil {
			return fmt.Errorf("gate: create request: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("gate: unexpected state %v", state)
	}
}

// classify computes the sender's state from at most three lookups,
// checked in priority order: accepted beats their-pending beats mine.
// Declined records never surface here, so a decline is terminal for its
// record but not a block on future handshakes.
func (g *Gate) classify(ctx context.Context, senderID, otherID string) (State, *model.MessageRequest, error) {
	accepted, err := g.ledger.FindAccepted(ctx, senderID, otherID)
	if err != nil {
		return StateNone, nil, fmt.Errorf("gate: find accepted: %w", err)
	}
	if accepted != nil {
		return StateAccepted, accepted, nil
	}

	theirs, err := g.ledger.FindPending(ctx, otherID, senderID)
	if err != nil {
		return StateNone, nil, fmt.Errorf("gate: find their pending: %w", err)
	}
	if theirs != nil {
		return StateTheirPending, theirs, nil
	}

	mine, err := g.ledger.FindPending(ctx, senderID, otherID)
	if err != nil {
		return StateNone, nil, fmt.Errorf("gate: find my pending: %w", err)
	}
	switch {
	case mine == nil:
		return StateNone, nil, nil
	case mine.PreMessageUsed:
		return StateMineUsed, mine, nil
	default:
		return StateMineUnused, mine, nil
	}
}
