package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
)

type fakeMessageRepo struct {
	messages map[string]*model.Message
	order    []string
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[string]*model.Message)}
}

func (r *fakeMessageRepo) Create(_ context.Context, m *model.Message) error {
	cp := *m
	r.messages[m.ID] = &cp
	r.order = append(r.order, m.ID)
	return nil
}

func (r *fakeMessageRepo) GetByID(_ context.Context, id string) (*model.Message, error) {
	m, ok := r.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	cp.Sender = &model.UserPublic{ID: m.SenderID, Username: "user-" + m.SenderID}
	return &cp, nil
}

func (r *fakeMessageRepo) Exists(_ context.Context, id string) (bool, error) {
	_, ok := r.messages[id]
	return ok, nil
}

func (r *fakeMessageRepo) GetChatMessages(_ context.Context, chatID string) ([]model.Message, error) {
	out := make([]model.Message, 0, len(r.order))
	for _, id := range r.order {
		if m := r.messages[id]; m.ChatID == chatID {
			out = append(out, *m)
		}
	}
	return out, nil
}

type fakeReactionRepo struct {
	reactions map[string][]model.Reaction // messageID -> ordered entries
}

func newFakeReactionRepo() *fakeReactionRepo {
	return &fakeReactionRepo{reactions: make(map[string][]model.Reaction)}
}

func (r *fakeReactionRepo) Set(_ context.Context, messageID, userID, emoji string) error {
	entries := r.reactions[messageID]
	for i := range entries {
		if entries[i].UserID == userID {
			entries[i].Emoji = emoji
			return nil
		}
	}
	r.reactions[messageID] = append(entries, model.Reaction{
		MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (r *fakeReactionRepo) Clear(_ context.Context, messageID, userID string) error {
	entries := r.reactions[messageID]
	out := entries[:0]
	for _, e := range entries {
		if e.UserID != userID {
			out = append(out, e)
		}
	}
	r.reactions[messageID] = out
	return nil
}

func (r *fakeReactionRepo) GetByMessage(_ context.Context, messageID string) ([]model.Reaction, error) {
	return append([]model.Reaction(nil), r.reactions[messageID]...), nil
}

func (r *fakeReactionRepo) GetByChat(_ context.Context, _ string) ([]model.Reaction, error) {
	var all []model.Reaction
	for _, entries := range r.reactions {
		all = append(all, entries...)
	}
	return all, nil
}

type fakeChatRepo struct {
	chats   map[string]*model.Chat
	members map[string][]string
	latest  map[string]string
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{
		chats:   make(map[string]*model.Chat),
		members: make(map[string][]string),
		latest:  make(map[string]string),
	}
}

func (r *fakeChatRepo) add(id string, chatType model.ChatType, members ...string) {
	r.chats[id] = &model.Chat{ID: id, ChatType: chatType}
	r.members[id] = members
}

func (r *fakeChatRepo) GetByID(_ context.Context, id string) (*model.Chat, error) {
	c, ok := r.chats[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (r *fakeChatRepo) GetMemberIDs(_ context.Context, chatID string) ([]string, error) {
	return r.members[chatID], nil
}

func (r *fakeChatRepo) SetLatestMessage(_ context.Context, chatID, messageID string) error {
	r.latest[chatID] = messageID
	return nil
}

type fakeAdmitter struct {
	calls []string // "sender->other"
	deny  error
}

func (a *fakeAdmitter) Admit(_ context.Context, senderID, otherID, _ string) error {
	a.calls = append(a.calls, senderID+"->"+otherID)
	return a.deny
}

type fakeRelay struct {
	newMessages []*model.Message
	reactions   []*model.Message
	connected   map[string]bool
}

func (r *fakeRelay) BroadcastNewMessage(m *model.Message) {
	r.newMessages = append(r.newMessages, m)
}

func (r *fakeRelay) BroadcastReactionUpdate(m *model.Message) {
	r.reactions = append(r.reactions, m)
}

func (r *fakeRelay) IsConnected(userID string) bool { return r.connected[userID] }

type pushRecord struct {
	userID string
	body   string
}

type fakeNotifier struct {
	notified chan pushRecord
}

func (n *fakeNotifier) Notify(_ context.Context, userID, _, body string, _ map[string]string) {
	n.notified <- pushRecord{userID: userID, body: body}
}

type fixture struct {
	svc      *MessageService
	msgs     *fakeMessageRepo
	reacts   *fakeReactionRepo
	chats    *fakeChatRepo
	admitter *fakeAdmitter
	relay    *fakeRelay
	notifier *fakeNotifier
}

func newFixture() *fixture {
	f := &fixture{
		msgs:     newFakeMessageRepo(),
		reacts:   newFakeReactionRepo(),
		chats:    newFakeChatRepo(),
		admitter: &fakeAdmitter{},
		relay:    &fakeRelay{connected: make(map[string]bool)},
		notifier: &fakeNotifier{notified: make(chan pushRecord, 8)},
	}
	f.svc = NewMessageService(f.msgs, f.reacts, f.chats, f.admitter, f.relay, f.notifier)
	return f
}

func TestSendRejectsEmptyContent(t *testing.T) {
	f := newFixture()
	f.chats.add("c1", model.ChatTypePersonal, "alice", "bob")

	if _, err := f.svc.Send(context.Background(), "alice", "c1", "   \n\t "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("err=%v want=%v", err, ErrEmptyContent)
	}
	if len(f.msgs.order) != 0 {
		t.Fatal("nothing must be persisted on bad input")
	}
}

func TestSendUnknownChatIsNotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Send(context.Background(), "alice", "missing", "hi"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err=%v want=%v", err, repository.ErrNotFound)
	}
}

func TestSendByNonMemberIsRejected(t *testing.T) {
	f := newFixture()
	f.chats.add("c1", model.ChatTypePersonal, "alice", "bob")

	if _, err := f.svc.Send(context.Background(), "mallory", "c1", "hi"); !errors.Is(err, ErrNotMember) {
		t.Fatalf("err=%v want=%v", err, ErrNotMember)
	}
}

func TestGroupChatBypassesGate(t *testing.T) {
	f := newFixture()
	f.chats.add("g1", model.ChatTypeGroup, "alice", "bob", "carol")

	for i := 0; i < 5; i++ {
		if _, err := f.svc.Send(context.Background(), "alice", "g1", "hello all"); err != nil {
			t.Fatalf("group send %d: %v", i, err)
		}
	}
	if len(f.admitter.calls) != 0 {
		t.Fatalf("group sends must never touch the gate, got %v", f.admitter.calls)
	}
}

func TestPersonalChatGoesThroughGate(t *testing.T) {
	f := newFixture()
	f.chats.add("c1", model.ChatTypePersonal, "alice", "bob")

	if _, err := f.svc.Send(context.Background(), "alice", "c1", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(f.admitter.calls) != 1 || f.admitter.calls[0] != "alice->bob" {
		t.Fatalf("gate calls=%v want alice->bob", f.admitter.calls)
	}
}

func TestGateDenialPersistsNothing(t *testing.T) {
	f := newFixture()
	f.chats.add("c1", model.ChatTypePersonal, "alice", "bob")
	denial := errors.New("denied")
	f.admitter.deny = denial

	if _, err := f.svc.Send(context.Background(), "alice", "c1", "hi"); !errors.Is(err, denial) {
		t.Fatalf("err=%v want denial passthrough", err)
	}
	if len(f.msgs.order) != 0 {
		t.Fatal("denied message must not be persisted")
	}
	if len(f.relay.newMessages) != 0 {
		t.Fatal("denied message must not be broadcast")
	}
}

func TestSendPersistsBroadcastsAndUpdatesLatest(t *testing.T) {
	f := newFixture()
	f.chats.add("c1", model.ChatTypePersonal, "alice", "bob")

	m, err := f.svc.Send(context.Background(), "alice", "c1", "  hi there  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if m.Content != "hi there" {
		t.Fatalf("content=%q want trimmed", m.Content)
	}
	if m.Sender == nil || m.Sender.ID != "alice" {
		t.Fatal("returned message must be populated with the sender")
	}
	if f.chats.latest["c1"] != m.ID {
		t.Fatalf("latest pointer=%s want=%s", f.chats.latest["c1"], m.ID)
	}
	if len(f.relay.newMessages) != 1 || f.relay.newMessages[0].ID != m.ID {
		t.Fatal("populated message must be broadcast once")
	}
}

func TestPushGoesOnlyToOfflineMembers(t *testing.T) {
	f := newFixture()
	f.chats.add("g1", model.ChatTypeGroup, "alice", "bob", "carol")
	f.relay.connected["bob"] = true // bob is joined, carol is not

	if _, err := f.svc.Send(context.Background(), "alice", "g1", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case rec := <-f.notifier.notified:
		if rec.userID != "carol" {
			t.Fatalf("notified %s, want carol", rec.userID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a push for the offline member")
	}
	select {
	case rec := <-f.notifier.notified:
		t.Fatalf("unexpected extra push for %s", rec.userID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPushBodyTruncatesOnRuneBoundary(t *testing.T) {
	f := newFixture()
	f.chats.add("c1", model.ChatTypePersonal, "alice", "bob")

	content := strings.Repeat("ü", 200)
	if _, err := f.svc.Send(context.Background(), "alice", "c1", content); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case rec := <-f.notifier.notified:
		if !utf8.ValidString(rec.body) {
			t.Fatalf("push body is not valid UTF-8: %q", rec.body)
		}
		want := strings.Repeat("ü", 117) + "..."
		if rec.body != want {
			t.Fatalf("body=%q want 117 runes plus ellipsis", rec.body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a push for the offline member")
	}
}

func TestHistoryMergesReactionsInOrder(t *testing.T) {
	f := newFixture()
	f.chats.add("c1", model.ChatTypePersonal, "alice", "bob")
	f.admitter.deny = nil

	m1, _ := f.svc.Send(context.Background(), "alice", "c1", "first")
	m2, _ := f.svc.Send(context.Background(), "alice", "c1", "second")
	if err := f.reacts.Set(context.Background(), m2.ID, "bob", "👍"); err != nil {
		t.Fatalf("set reaction: %v", err)
	}

	history, err := f.svc.History(context.Background(), "c1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].ID != m1.ID || history[1].ID != m2.ID {
		t.Fatal("history must be oldest first")
	}
	if len(history[0].Reactions) != 0 || len(history[1].Reactions) != 1 {
		t.Fatal("reactions must attach to their message")
	}
}

func TestSetReactionReplacesInPlace(t *testing.T) {
	f := newFixture()
	f.chats.add("c1", model.ChatTypePersonal, "alice", "bob")
	m, _ := f.svc.Send(context.Background(), "alice", "c1", "hi")

	if _, err := f.svc.SetReaction(context.Background(), m.ID, "bob", "👍"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := f.svc.SetReaction(context.Background(), m.ID, "bob", "👍"); err != nil {
		t.Fatalf("set again: %v", err)
	}
	out, err := f.svc.SetReaction(context.Background(), m.ID, "bob", "🎉")
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(out.Reactions) != 1 {
		t.Fatalf("reactions=%d want exactly one entry per user", len(out.Reactions))
	}
	if out.Reactions[0].Emoji != "🎉" {
		t.Fatalf("emoji=%s want replaced in place", out.Reactions[0].Emoji)
	}
	if len(f.relay.reactions) != 3 {
		t.Fatalf("broadcasts=%d want one per mutation", len(f.relay.reactions))
	}
}

func TestClearReactionIsIdempotent(t *testing.T) {
	f := newFixture()
	f.chats.add("c1", model.ChatTypePersonal, "alice", "bob")
	m, _ := f.svc.Send(context.Background(), "alice", "c1", "hi")

	if _, err := f.svc.SetReaction(context.Background(), m.ID, "bob", "👍"); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := f.svc.ClearReaction(context.Background(), m.ID, "bob")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(out.Reactions) != 0 {
		t.Fatal("reaction must be removed")
	}
	// Clearing again is a no-op success.
	if _, err := f.svc.ClearReaction(context.Background(), m.ID, "bob"); err != nil {
		t.Fatalf("clear absent: %v", err)
	}
}

func TestReactionOnMissingMessageIsNotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.SetReaction(context.Background(), "missing", "bob", "👍"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("set err=%v want not found", err)
	}
	if _, err := f.svc.ClearReaction(context.Background(), "missing", "bob"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("clear err=%v want not found", err)
	}
}
