package router

import (
	"errors"
	"log/slog"
	"sync"

	"tetatet/internal/content"
	"tetatet/internal/models"
	"tetatet/internal/presence"

	"github.com/go-playground/validator/v10"
)

type conversationStore interface {
	AppendMessage(userA, userB string, msg models.Message) (models.Message, models.Conversation, error)
	Messages(userA, userB string) ([]models.Message, error)
	MarkSeen(userA, userB, authorID string) (int, error)
}

type summarySource interface {
	SummariesFor(userID string) ([]models.ConversationSummary, error)
}

type profileSource interface {
	Profile(userID string) (models.Profile, error)
}

// Notifier is told about messages that arrived for a user with no live
// connections. Delivery is best-effort.
type Notifier interface {
	MessageReceived(receiverID string, msg models.Message)
}

// Router is the event-driven core: it receives inbound session events,
// orchestrates store mutations and presence lookups, and pushes the
// resulting outbound events to the affected users' connections.
type Router struct {
	store     conversationStore
	registry  *presence.Registry
	fanout    summarySource
	directory profileSource
	notifier  Notifier // optional

	validate *validator.Validate
	locks    keyedMutex
}

func New(store conversationStore, registry *presence.Registry, fanout summarySource, directory profileSource, notifier Notifier) *Router {
	return &Router{
		store:     store,
		registry:  registry,
		fanout:    fanout,
		directory: directory,
		notifier:  notifier,
		validate:  validator.New(),
	}
}

// Connect registers a freshly authenticated connection. When the user
// comes online the updated online list is broadcast to everyone; either
// way the new connection gets the current snapshot. Returns the connection
// whose Events channel the transport must drain.
func (rt *Router) Connect(userID, connID string) *presence.Conn {
	c := presence.NewConn(connID, userID)
	if rt.registry.Register(c) {
		rt.broadcastOnline()
	} else {
		rt.registry.SendToConn(connID, models.ServerEvent{
			Type:  models.ServerEventOnlineUsers,
			Users: rt.registry.OnlineSnapshot(),
		})
	}
	return c
}

// Disconnect removes the connection from the registry and, if that was
// the user's last connection, broadcasts the shrunk online list.
func (rt *Router) Disconnect(connID string) {
	if _, wentOffline := rt.registry.Unregister(connID); wentOffline {
		rt.broadcastOnline()
	}
}

// Dispatch handles one inbound event from an authenticated connection.
// Failures are reported to the originating connection only; they never
// disturb other connections or presence state.
func (rt *Router) Dispatch(userID, connID string, ev models.ClientEvent) {
	if err := rt.validate.Struct(ev); err != nil {
		rt.sendError(connID, "malformed event")
		return
	}

	switch ev.Type {
	case models.ClientEventView:
		rt.handleView(userID, connID, ev.PeerID)
	case models.ClientEventSend:
		rt.handleSend(userID, connID, ev)
	case models.ClientEventSidebar:
		rt.handleSidebar(userID, connID)
	case models.ClientEventSeen:
		rt.handleSeen(userID, connID, ev.PeerID)
	case models.ClientEventCall, models.ClientEventAnswer, models.ClientEventICE:
		rt.relay(userID, ev)
	default:
		rt.sendError(connID, "unknown event type")
	}
}

// handleView answers a conversation-view request: the peer's profile with
// a presence snapshot, then the pair's message history. Both go to the
// requesting connection only. No conversation is created.
func (rt *Router) handleView(userID, connID, peerID string) {
	if peerID == "" {
		rt.sendError(connID, "view requires a peer id")
		return
	}

	profile, err := rt.directory.Profile(peerID)
	switch {
	case err == nil:
		rt.registry.SendToConn(connID, models.ServerEvent{
			Type: models.ServerEventPeerProfile,
			Profile: &models.PeerProfile{
				Profile: profile,
				Online:  rt.registry.IsOnline(peerID),
			},
		})
	case errors.Is(err, models.ErrNotFound):
		slog.Warn("view request for unknown peer", "user_id", userID, "peer_id", peerID)
	default:
		slog.Error("peer profile lookup failed", "peer_id", peerID, "error", err)
		rt.sendError(connID, "failed to load peer profile")
		return
	}

	history, err := rt.store.Messages(userID, peerID)
	if err != nil {
		slog.Error("message history load failed", "user_id", userID, "peer_id", peerID, "error", err)
		rt.sendError(connID, "failed to load messages")
		return
	}
	rt.registry.SendToConn(connID, models.ServerEvent{
		Type:     models.ServerEventMessages,
		Messages: renderAll(history),
	})
}

// handleSend appends a new message and fans the updated history out to
// every connection of both participants, then refreshed summaries to each
// side. The mutation and the reads feeding the pushes run under the pair's
// lock, so pushes always reflect the state after the append.
func (rt *Router) handleSend(userID, connID string, ev models.ClientEvent) {
	if ev.ReceiverID == "" {
		rt.sendError(connID, "message requires a receiver")
		return
	}
	if ev.Text == "" && ev.MediaURL == "" {
		rt.sendError(connID, "message requires text or media")
		return
	}

	unlock := rt.locks.lock(pairLockKey(userID, ev.ReceiverID))
	defer unlock()

	msg, _, err := rt.store.AppendMessage(userID, ev.ReceiverID, models.Message{
		AuthorID: userID,
		Text:     content.Sanitize(ev.Text),
		MediaURL: ev.MediaURL,
	})
	if err != nil {
		slog.Error("message append failed", "user_id", userID, "receiver_id", ev.ReceiverID, "error", err)
		rt.sendError(connID, "failed to send message")
		return
	}

	history, err := rt.store.Messages(userID, ev.ReceiverID)
	if err != nil {
		slog.Error("message history reload failed", "user_id", userID, "receiver_id", ev.ReceiverID, "error", err)
		rt.sendError(connID, "failed to send message")
		return
	}

	historyEvent := models.ServerEvent{
		Type:           models.ServerEventMessages,
		ConversationID: msg.ConversationID,
		Messages:       renderAll(history),
	}
	rt.registry.SendTo(userID, historyEvent)
	if ev.ReceiverID != userID {
		rt.registry.SendTo(ev.ReceiverID, historyEvent)
	}

	rt.pushSummaries(userID)
	if ev.ReceiverID != userID {
		rt.pushSummaries(ev.ReceiverID)
	}

	if rt.notifier != nil && !rt.registry.IsOnline(ev.ReceiverID) {
		go rt.notifier.MessageReceived(ev.ReceiverID, msg)
	}
}

func (rt *Router) handleSidebar(userID, connID string) {
	summaries, err := rt.fanout.SummariesFor(userID)
	if err != nil {
		slog.Error("summary computation failed", "user_id", userID, "error", err)
		rt.sendError(connID, "failed to load conversations")
		return
	}
	rt.registry.SendToConn(connID, models.ServerEvent{
		Type:          models.ServerEventConversations,
		Conversations: summaries,
	})
}

// handleSeen marks the peer's messages in the shared conversation as seen
// by the caller and refreshes both sidebars. A missing conversation is a
// soft failure: logged, nothing pushed, no error surfaced.
func (rt *Router) handleSeen(userID, connID, peerID string) {
	if peerID == "" {
		rt.sendError(connID, "seen requires a peer id")
		return
	}

	unlock := rt.locks.lock(pairLockKey(userID, peerID))
	defer unlock()

	if _, err := rt.store.MarkSeen(userID, peerID, peerID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			slog.Warn("seen for nonexistent conversation", "user_id", userID, "peer_id", peerID)
			return
		}
		slog.Error("mark seen failed", "user_id", userID, "peer_id", peerID, "error", err)
		rt.sendError(connID, "failed to mark messages seen")
		return
	}

	rt.pushSummaries(userID)
	if peerID != userID {
		rt.pushSummaries(peerID)
	}
}

func (rt *Router) pushSummaries(userID string) {
	summaries, err := rt.fanout.SummariesFor(userID)
	if err != nil {
		slog.Error("summary computation failed", "user_id", userID, "error", err)
		return
	}
	rt.registry.SendTo(userID, models.ServerEvent{
		Type:          models.ServerEventConversations,
		Conversations: summaries,
	})
}

func (rt *Router) broadcastOnline() {
	rt.registry.Broadcast(models.ServerEvent{
		Type:  models.ServerEventOnlineUsers,
		Users: rt.registry.OnlineSnapshot(),
	})
}

func (rt *Router) sendError(connID, message string) {
	rt.registry.SendToConn(connID, models.ServerEvent{
		Type:  models.ServerEventError,
		Error: message,
	})
}

func renderAll(messages []models.Message) []models.Message {
	for i := range messages {
		if messages[i].Text != "" {
			messages[i].HTML = content.RenderMarkdown(messages[i].Text)
		}
	}
	return messages
}

// keyedMutex serializes work per conversation pair. Entries are reference
// counted and removed once the last holder releases them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (km *keyedMutex) lock(key string) func() {
	km.mu.Lock()
	if km.locks == nil {
		km.locks = make(map[string]*lockEntry)
	}
	e, ok := km.locks[key]
	if !ok {
		e = &lockEntry{}
		km.locks[key] = e
	}
	e.refs++
	km.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		km.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(km.locks, key)
		}
		km.mu.Unlock()
	}
}
