package storage

import (
	"errors"
	"fmt"
	"time"

	"tetatet/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketUsers         = []byte("users")
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
	bucketUserConvs     = []byte("user_conversations")
	bucketFiles         = []byte("files")
	bucketPushSubs      = []byte("push_subscriptions")
)

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers,
			bucketConversations,
			bucketMessages,
			bucketUserConvs,
			bucketFiles,
			bucketPushSubs,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertUser stores a new or updated user record.
func (s *BboltStorage) UpsertUser(rec UserRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           rec.ID,
			UserName:     rec.UserName,
			DisplayName:  rec.DisplayName,
			AvatarURL:    rec.AvatarURL,
			PasswordHash: rec.PasswordHash,
			Status:       string(rec.Status),
		}
		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

func (s *BboltStorage) GetUser(id string) (UserRecord, error) {
	var rec UserRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		rec = toUserRecord(dbUser)
		return nil
	})
	return rec, err
}

// GetUserByName looks up a user by login name. The users bucket is small
// enough to scan (same assumption the credentials cache makes at startup).
func (s *BboltStorage) GetUserByName(userName string) (UserRecord, error) {
	var rec UserRecord
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbUser.UserName == userName {
				rec = toUserRecord(dbUser)
				found = true
			}
			return nil
		})
	})
	if err != nil {
		return UserRecord{}, err
	}
	if !found {
		return UserRecord{}, models.ErrNotFound
	}
	return rec, nil
}

func (s *BboltStorage) ListUsers() ([]UserRecord, error) {
	var recs []UserRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			recs = append(recs, toUserRecord(dbUser))
			return nil
		})
	})
	return recs, err
}

// FindOrCreateConversation resolves the conversation for the unordered
// pair, creating it with an empty message list if absent. Safe under
// concurrent calls for the same pair: the whole lookup-then-create runs
// inside one bbolt write transaction, and bbolt serializes writers.
func (s *BboltStorage) FindOrCreateConversation(userA, userB string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		conv, err = s.findOrCreateTx(tx, userA, userB)
		return err
	})
	return conv, err
}

func (s *BboltStorage) findOrCreateTx(tx *bbolt.Tx, userA, userB string) (models.Conversation, error) {
	b := tx.Bucket(bucketConversations)
	key := PairKey(userA, userB)

	if data := b.Get(key); data != nil {
		var dbConv DBConversation
		if err := dbConv.UnmarshalBinary(data); err != nil {
			return models.Conversation{}, err
		}
		return toConversation(dbConv), nil
	}

	dbConv := DBConversation{
		ID:        uuid.NewString(),
		UpdatedAt: s.now().Unix(),
	}
	// Canonical participant order matches the pair key.
	if userA < userB {
		dbConv.UserA, dbConv.UserB = userA, userB
	} else {
		dbConv.UserA, dbConv.UserB = userB, userA
	}

	data, err := dbConv.MarshalBinary()
	if err != nil {
		return models.Conversation{}, err
	}
	if err := b.Put(key, data); err != nil {
		return models.Conversation{}, err
	}

	// Index the conversation for both participants.
	idx := tx.Bucket(bucketUserConvs)
	for _, userID := range []string{dbConv.UserA, dbConv.UserB} {
		ub, err := idx.CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return models.Conversation{}, err
		}
		if err := ub.Put(key, nil); err != nil {
			return models.Conversation{}, err
		}
	}

	return toConversation(dbConv), nil
}

// GetConversation returns the conversation for the pair, or ErrNotFound.
func (s *BboltStorage) GetConversation(userA, userB string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketConversations).Get(PairKey(userA, userB))
		if data == nil {
			return models.ErrNotFound
		}
		var dbConv DBConversation
		if err := dbConv.UnmarshalBinary(data); err != nil {
			return err
		}
		conv = toConversation(dbConv)
		return nil
	})
	return conv, err
}

// ConversationsFor returns all conversations the user participates in.
func (s *BboltStorage) ConversationsFor(userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		ub := tx.Bucket(bucketUserConvs).Bucket([]byte(userID))
		if ub == nil {
			return nil
		}
		convBucket := tx.Bucket(bucketConversations)
		return ub.ForEach(func(k, v []byte) error {
			data := convBucket.Get(k)
			if data == nil {
				return fmt.Errorf("dangling conversation index entry %q", k)
			}
			var dbConv DBConversation
			if err := dbConv.UnmarshalBinary(data); err != nil {
				return err
			}
			convs = append(convs, toConversation(dbConv))
			return nil
		})
	})
	return convs, err
}

// AppendMessage appends a message to the pair's conversation, creating the
// conversation if this is the first message between the pair. The message
// sequence number, conversation id and timestamp are assigned here. Returns
// the stored message and the updated conversation.
func (s *BboltStorage) AppendMessage(userA, userB string, msg models.Message) (models.Message, models.Conversation, error) {
	if msg.AuthorID == "" {
		return models.Message{}, models.Conversation{}, fmt.Errorf("message without author: %w", models.ErrInvalidInput)
	}
	if msg.Text == "" && msg.MediaURL == "" {
		return models.Message{}, models.Conversation{}, fmt.Errorf("message without content: %w", models.ErrInvalidInput)
	}

	var conv models.Conversation
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		conv, err = s.findOrCreateTx(tx, userA, userB)
		if err != nil {
			return err
		}

		key := PairKey(userA, userB)
		chatBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists(key)
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		conv.LastSeq++
		conv.UpdatedAt = s.now().Unix()

		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CreatedAt == 0 {
			msg.CreatedAt = conv.UpdatedAt
		}
		msg.Seq = conv.LastSeq
		msg.ConversationID = conv.ID
		msg.Seen = false

		dbMsg := DBMessage{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			Seq:            msg.Seq,
			AuthorID:       msg.AuthorID,
			Text:           msg.Text,
			MediaURL:       msg.MediaURL,
			CreatedAt:      msg.CreatedAt,
		}
		data, err := dbMsg.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := chatBucket.Put(dbMsg.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		dbConv := DBConversation{
			ID:        conv.ID,
			UserA:     conv.UserA,
			UserB:     conv.UserB,
			LastSeq:   conv.LastSeq,
			UpdatedAt: conv.UpdatedAt,
		}
		convData, err := dbConv.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConversations).Put(key, convData)
	})
	if err != nil {
		return models.Message{}, models.Conversation{}, err
	}
	return msg, conv, nil
}

// Messages returns the pair's messages in chronological order. A missing
// conversation yields an empty result, not an error.
func (s *BboltStorage) Messages(userA, userB string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket(PairKey(userA, userB))
		if chatBucket == nil {
			return nil
		}
		return chatBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, toMessage(dbMsg))
			return nil
		})
	})
	return messages, err
}

// LastMessage returns the most recent message of the pair's conversation,
// or nil if there is none.
func (s *BboltStorage) LastMessage(userA, userB string) (*models.Message, error) {
	var last *models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket(PairKey(userA, userB))
		if chatBucket == nil {
			return nil
		}
		k, v := chatBucket.Cursor().Last()
		if k == nil {
			return nil
		}
		var dbMsg DBMessage
		if err := dbMsg.UnmarshalBinary(v); err != nil {
			return err
		}
		msg := toMessage(dbMsg)
		last = &msg
		return nil
	})
	return last, err
}

// UnseenCount counts messages authored by authorID that the other
// participant has not seen yet.
func (s *BboltStorage) UnseenCount(userA, userB, authorID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket(PairKey(userA, userB))
		if chatBucket == nil {
			return nil
		}
		return chatBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.AuthorID == authorID && !dbMsg.Seen {
				count++
			}
			return nil
		})
	})
	return count, err
}

// MarkSeen flips Seen to true on every message of the pair's conversation
// authored by authorID. Idempotent: already-seen messages are untouched.
// Returns the number of messages updated, or ErrNotFound if no conversation
// exists between the pair.
func (s *BboltStorage) MarkSeen(userA, userB, authorID string) (int, error) {
	updated := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		key := PairKey(userA, userB)
		if tx.Bucket(bucketConversations).Get(key) == nil {
			return models.ErrNotFound
		}
		chatBucket := tx.Bucket(bucketMessages).Bucket(key)
		if chatBucket == nil {
			return nil
		}
		// Collect first: the bucket must not be modified mid-iteration.
		pending := make(map[string][]byte)
		err := chatBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.AuthorID != authorID || dbMsg.Seen {
				return nil
			}
			dbMsg.Seen = true
			data, err := dbMsg.MarshalBinary()
			if err != nil {
				return err
			}
			pending[string(k)] = data
			return nil
		})
		if err != nil {
			return err
		}
		for k, data := range pending {
			if err := chatBucket.Put([]byte(k), data); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

func toUserRecord(u DBUser) UserRecord {
	return UserRecord{
		User: models.User{
			ID:          u.ID,
			UserName:    u.UserName,
			DisplayName: u.DisplayName,
			AvatarURL:   u.AvatarURL,
			Status:      models.UserStatus(u.Status),
		},
		PasswordHash: u.PasswordHash,
	}
}

func toConversation(c DBConversation) models.Conversation {
	return models.Conversation{
		ID:        c.ID,
		UserA:     c.UserA,
		UserB:     c.UserB,
		LastSeq:   c.LastSeq,
		UpdatedAt: c.UpdatedAt,
	}
}

func toMessage(m DBMessage) models.Message {
	return models.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		AuthorID:       m.AuthorID,
		Text:           m.Text,
		MediaURL:       m.MediaURL,
		Seen:           m.Seen,
		CreatedAt:      m.CreatedAt,
	}
}
