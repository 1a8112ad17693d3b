package fanout

import (
	"errors"
	"log/slog"
	"sort"

	"tetatet/internal/models"
)

type conversationStore interface {
	ConversationsFor(userID string) ([]models.Conversation, error)
	LastMessage(userA, userB string) (*models.Message, error)
	UnseenCount(userA, userB, authorID string) (int, error)
}

type presenceView interface {
	IsOnline(userID string) bool
}

type profileSource interface {
	Profile(userID string) (models.Profile, error)
}

// Fanout computes conversation summaries for a user's sidebar from the
// store, the presence registry and the user directory. Summaries are
// derived on every call, never cached.
type Fanout struct {
	store     conversationStore
	presence  presenceView
	directory profileSource
}

func New(store conversationStore, presence presenceView, directory profileSource) *Fanout {
	return &Fanout{
		store:     store,
		presence:  presence,
		directory: directory,
	}
}

// SummariesFor returns one summary per conversation the user participates
// in, most recently updated first. The unseen count only covers messages
// authored by the peer; the peer's online flag is a snapshot taken at
// computation time.
func (f *Fanout) SummariesFor(userID string) ([]models.ConversationSummary, error) {
	convs, err := f.store.ConversationsFor(userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		peerID := conv.PeerOf(userID)

		last, err := f.store.LastMessage(conv.UserA, conv.UserB)
		if err != nil {
			return nil, err
		}
		unseen, err := f.store.UnseenCount(conv.UserA, conv.UserB, peerID)
		if err != nil {
			return nil, err
		}

		summary := models.ConversationSummary{
			ConversationID: conv.ID,
			PeerID:         peerID,
			PeerOnline:     f.presence.IsOnline(peerID),
			LastMessage:    last,
			UnseenCount:    unseen,
			UpdatedAt:      conv.UpdatedAt,
		}

		profile, err := f.directory.Profile(peerID)
		switch {
		case err == nil:
			summary.PeerDisplayName = profile.DisplayName
			summary.PeerAvatarURL = profile.AvatarURL
		case errors.Is(err, models.ErrNotFound):
			// Peer account gone: keep the conversation visible with a bare id.
			slog.Warn("summary peer has no profile", "peer_id", peerID)
		default:
			return nil, err
		}

		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].UpdatedAt != summaries[j].UpdatedAt {
			return summaries[i].UpdatedAt > summaries[j].UpdatedAt
		}
		return summaries[i].ConversationID < summaries[j].ConversationID
	})

	return summaries, nil
}
