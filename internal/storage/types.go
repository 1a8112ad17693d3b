package storage

import (
	"encoding"
	"encoding/binary"
	"sort"
	"strings"

	"tetatet/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// PairKey returns the canonical storage key for the unordered pair of
// user ids: both orderings map to the same key.
func PairKey(userA, userB string) []byte {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return []byte(strings.Join(ids, "\x00"))
}

// UserRecord is a directory user together with its private credentials.
type UserRecord struct {
	models.User
	PasswordHash string
}

type DBUser struct {
	ID           string `msgpack:"id"`
	UserName     string `msgpack:"userName"`
	DisplayName  string `msgpack:"displayName"`
	AvatarURL    string `msgpack:"avatarUrl"`
	PasswordHash string `msgpack:"passwordHash"`
	Status       string `msgpack:"status"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBConversation struct {
	ID        string `msgpack:"id"`
	UserA     string `msgpack:"userA"`
	UserB     string `msgpack:"userB"`
	LastSeq   int64  `msgpack:"lastSeq"`
	UpdatedAt int64  `msgpack:"updatedAt"`
}

func (c *DBConversation) Key() []byte {
	return PairKey(c.UserA, c.UserB)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	ID             string `msgpack:"id"`
	ConversationID string `msgpack:"conversationId"`
	Seq            int64  `msgpack:"seq"`
	AuthorID       string `msgpack:"authorId"`
	Text           string `msgpack:"text"`
	MediaURL       string `msgpack:"mediaUrl"`
	Seen           bool   `msgpack:"seen"`
	CreatedAt      int64  `msgpack:"createdAt"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(m.Seq))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}
