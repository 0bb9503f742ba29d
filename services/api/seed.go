package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
)

// seedUserStore and seedChatStore are the repository slices the dev
// seed needs.
type seedUserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type seedChatStore interface {
	Create(ctx context.Context, c *model.Chat) error
	GetByID(ctx context.Context, id string) (*model.Chat, error)
	AddMember(ctx context.Context, chatID, userID string) error
}

// seedDevData creates the demo users and chats for -dev mode. Existing
// rows are left alone so restarts are idempotent.
func seedDevData(users seedUserStore, chats seedChatStore) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()

	demoUsers := []*model.User{
		{ID: "alice", Username: "Alice", Email: "alice@example.com", CreatedAt: now},
		{ID: "bob", Username: "Bob", Email: "bob@example.com", CreatedAt: now},
		{ID: "carol", Username: "Carol", Email: "carol@example.com", CreatedAt: now},
	}
	for _, u := range demoUsers {
		if _, err := users.GetByID(ctx, u.ID); err == nil {
			continue
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		if err := users.Create(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}

	demoChats := []struct {
		chat    model.Chat
		members []string
	}{
		{
			chat:    model.Chat{ID: "dm-alice-bob", ChatType: model.ChatTypePersonal, CreatedAt: now},
			members: []string{"alice", "bob"},
		},
		{
			chat:    model.Chat{ID: "dm-alice-carol", ChatType: model.ChatTypePersonal, CreatedAt: now},
			members: []string{"alice", "carol"},
		},
		{
			chat:    model.Chat{ID: "group-demo", ChatType: model.ChatTypeGroup, Name: "Demo group", GroupAdminID: "alice", CreatedAt: now},
			members: []string{"alice", "bob", "carol"},
		},
	}
	for _, dc := range demoChats {
		if _, err := chats.GetByID(ctx, dc.chat.ID); errors.Is(err, repository.ErrNotFound) {
			c := dc.chat
			if err := chats.Create(ctx, &c); err != nil {
				return fmt.Errorf("seed chat %s: %w", dc.chat.ID, err)
			}
		} else if err != nil {
			return fmt.Errorf("seed chat %s: %w", dc.chat.ID, err)
		}
		// AddMember is an upsert, safe to repeat on every start.
		for _, m := range dc.members {
			if err := chats.AddMember(ctx, dc.chat.ID, m); err != nil {
				return fmt.Errorf("seed chat %s member %s: %w", dc.chat.ID, m, err)
			}
		}
	}
	return nil
}
