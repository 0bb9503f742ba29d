// Package ws is the realtime relay: a hub of websocket sessions grouped
// into rooms by chat id. Delivery is fire-and-forget to the sessions
// joined at broadcast time; there is no replay, clients reconstruct
// state through the list endpoints after reconnecting.
package ws

import (
	"context"
	"sync"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
)

type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	byUser map[string]map[*Client]struct{}
	total  int

	maxConns   int
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		byUser:     make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.byUser {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.byUser = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if c.gone {
		// Unregister already ran for this session. The channels do not
		// preserve order between register and unregister, so drop it
		// instead of resurrecting a dead entry in byUser.
		h.mu.Unlock()
		c.Close()
		return
	}
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.byUser[c.userID]; !ok {
		h.byUser[c.userID] = make(map[*Client]struct{})
	}
	h.byUser[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	c.gone = true
	clients, ok := h.byUser[c.userID]
	if !ok {
		h.mu.Unlock()
		c.Close()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		c.Close()
		return
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.byUser, c.userID)
	}
	for room := range c.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.total--
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// Join adds the session to a chat room. Idempotent: joining a room the
// session is already in changes nothing.
func (h *Hub) Join(c *Client, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[chatID]; !ok {
		h.rooms[chatID] = make(map[*Client]struct{})
	}
	h.rooms[chatID][c] = struct{}{}
	c.rooms[chatID] = struct{}{}
}

// HandleMessage dispatches inbound websocket events.
func (h *Hub) HandleMessage(c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventJoinRoom:
		if msg.ChatID == "" {
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "chat_id required"})
			return
		}
		h.Join(c, msg.ChatID)
	case EventTyping, EventStopTyping:
		if msg.ChatID == "" {
			return
		}
		h.broadcastRoom(msg.ChatID, OutgoingMessage{
			Type:    msg.Type,
			Payload: TypingPayload{ChatID: msg.ChatID, UserID: c.userID},
		}, c)
	case EventNewMessage:
		h.handleRelayTrigger(c, msg)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

// handleRelayTrigger fans out a message the client already persisted
// through the send endpoint. The session must itself be joined to the
// message's room; the hub does not re-check membership beyond that.
func (h *Hub) handleRelayTrigger(c *Client, msg IncomingMessage) {
	if msg.Message == nil || msg.Message.ChatID == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "message required"})
		return
	}
	h.mu.RLock()
	_, joined := c.rooms[msg.Message.ChatID]
	h.mu.RUnlock()
	if !joined {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "join the room first"})
		return
	}
	h.BroadcastNewMessage(msg.Message)
}

// BroadcastNewMessage delivers a populated message to every session in
// the chat's room, the sender's own sessions included (no echo
// suppression in this protocol).
func (h *Hub) BroadcastNewMessage(m *model.Message) {
	h.broadcastRoom(m.ChatID, OutgoingMessage{Type: EventMessageReceived, Payload: m}, nil)
}

// BroadcastReactionUpdate delivers the message with its updated
// reaction set to every session in the room.
func (h *Hub) BroadcastReactionUpdate(m *model.Message) {
	h.broadcastRoom(m.ChatID, OutgoingMessage{Type: EventReactionUpdated, Payload: m}, nil)
}

// IsConnected reports whether the user has at least one live session.
// Used to decide who gets a push instead of a broadcast.
func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// broadcastRoom sends to every session joined to the room, skipping
// except. Within one connection, emission order is delivery order; no
// ordering holds across rooms or connections.
func (h *Hub) broadcastRoom(chatID string, msg OutgoingMessage, except *Client) {
	h.mu.RLock()
	members, ok := h.rooms[chatID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(members))
	for c := range members {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
