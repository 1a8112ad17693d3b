package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tetatet/internal/models"
)

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "storage_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	store, err := NewBboltStorage(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStorage_Users(t *testing.T) {
	store := newTestStorage(t)

	rec := UserRecord{
		User: models.User{
			ID:          "user1",
			UserName:    "alice",
			DisplayName: "Alice",
			Status:      models.UserStatusActive,
		},
		PasswordHash: "hash",
	}
	if err := store.UpsertUser(rec); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	got, err := store.GetUser("user1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.UserName != "alice" || got.PasswordHash != "hash" {
		t.Errorf("unexpected record: %+v", got)
	}

	byName, err := store.GetUserByName("alice")
	if err != nil {
		t.Fatalf("GetUserByName failed: %v", err)
	}
	if byName.ID != "user1" {
		t.Errorf("expected user1, got %s", byName.ID)
	}

	if _, err := store.GetUser("nope"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetUserByName("nope"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStorage_FindOrCreateConversation_UnorderedPair(t *testing.T) {
	store := newTestStorage(t)

	conv1, err := store.FindOrCreateConversation("bob", "alice")
	if err != nil {
		t.Fatalf("FindOrCreateConversation failed: %v", err)
	}
	if conv1.ID == "" {
		t.Fatal("conversation has no id")
	}
	if conv1.UserA != "alice" || conv1.UserB != "bob" {
		t.Errorf("participants not canonical: %+v", conv1)
	}

	// Reverse ordering must resolve to the same record.
	conv2, err := store.FindOrCreateConversation("alice", "bob")
	if err != nil {
		t.Fatalf("FindOrCreateConversation failed: %v", err)
	}
	if conv2.ID != conv1.ID {
		t.Errorf("expected same conversation, got %s and %s", conv1.ID, conv2.ID)
	}

	convs, err := store.ConversationsFor("alice")
	if err != nil {
		t.Fatalf("ConversationsFor failed: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	if convs[0].ID != conv1.ID {
		t.Errorf("index returned wrong conversation")
	}
}

func TestStorage_GetConversation_NotFound(t *testing.T) {
	store := newTestStorage(t)

	if _, err := store.GetConversation("a", "b"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStorage_AppendMessage_Order(t *testing.T) {
	store := newTestStorage(t)

	texts := []string{"one", "two", "three"}
	for _, text := range texts {
		msg, conv, err := store.AppendMessage("alice", "bob", models.Message{
			AuthorID: "alice",
			Text:     text,
		})
		if err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
		if msg.ID == "" || msg.ConversationID != conv.ID {
			t.Errorf("message not filled in: %+v", msg)
		}
		if msg.Seen {
			t.Error("new message must not be seen")
		}
	}

	// Lookup in either ordering sees the same history.
	msgs, err := store.Messages("bob", "alice")
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != len(texts) {
		t.Fatalf("expected %d messages, got %d", len(texts), len(msgs))
	}
	for i, text := range texts {
		if msgs[i].Text != text {
			t.Errorf("message %d: expected %q, got %q", i, text, msgs[i].Text)
		}
		if msgs[i].Seq != int64(i+1) {
			t.Errorf("message %d: expected seq %d, got %d", i, i+1, msgs[i].Seq)
		}
	}

	last, err := store.LastMessage("alice", "bob")
	if err != nil {
		t.Fatalf("LastMessage failed: %v", err)
	}
	if last == nil || last.Text != "three" {
		t.Errorf("unexpected last message: %+v", last)
	}
}

func TestStorage_AppendMessage_BumpsUpdatedAt(t *testing.T) {
	store := newTestStorage(t)

	ts := time.Unix(1000, 0)
	store.now = func() time.Time { return ts }

	_, conv, err := store.AppendMessage("alice", "bob", models.Message{AuthorID: "alice", Text: "hi"})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if conv.UpdatedAt != 1000 {
		t.Errorf("expected UpdatedAt 1000, got %d", conv.UpdatedAt)
	}

	ts = time.Unix(2000, 0)
	_, conv, err = store.AppendMessage("bob", "alice", models.Message{AuthorID: "bob", Text: "yo"})
	if err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if conv.UpdatedAt != 2000 {
		t.Errorf("expected UpdatedAt 2000, got %d", conv.UpdatedAt)
	}
	if conv.LastSeq != 2 {
		t.Errorf("expected LastSeq 2, got %d", conv.LastSeq)
	}
}

func TestStorage_AppendMessage_InvalidInput(t *testing.T) {
	store := newTestStorage(t)

	_, _, err := store.AppendMessage("alice", "bob", models.Message{AuthorID: "alice"})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty message, got %v", err)
	}

	_, _, err = store.AppendMessage("alice", "bob", models.Message{Text: "hi"})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for missing author, got %v", err)
	}

	// No conversation side effects on rejected input.
	if _, err := store.GetConversation("alice", "bob"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected no conversation, got %v", err)
	}
}

func TestStorage_Messages_MissingConversation(t *testing.T) {
	store := newTestStorage(t)

	msgs, err := store.Messages("alice", "bob")
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected empty history, got %d messages", len(msgs))
	}

	last, err := store.LastMessage("alice", "bob")
	if err != nil {
		t.Fatalf("LastMessage failed: %v", err)
	}
	if last != nil {
		t.Errorf("expected nil last message, got %+v", last)
	}
}

func TestStorage_MarkSeen(t *testing.T) {
	store := newTestStorage(t)

	for i := 0; i < 3; i++ {
		if _, _, err := store.AppendMessage("alice", "bob", models.Message{AuthorID: "alice", Text: "hi"}); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}
	if _, _, err := store.AppendMessage("alice", "bob", models.Message{AuthorID: "bob", Text: "hey"}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	unseen, err := store.UnseenCount("alice", "bob", "alice")
	if err != nil {
		t.Fatalf("UnseenCount failed: %v", err)
	}
	if unseen != 3 {
		t.Errorf("expected 3 unseen, got %d", unseen)
	}

	// Bob marks alice's messages seen.
	updated, err := store.MarkSeen("bob", "alice", "alice")
	if err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	if updated != 3 {
		t.Errorf("expected 3 updated, got %d", updated)
	}

	// Bob's own message is untouched.
	unseen, err = store.UnseenCount("alice", "bob", "bob")
	if err != nil {
		t.Fatalf("UnseenCount failed: %v", err)
	}
	if unseen != 1 {
		t.Errorf("expected bob's message still unseen, got %d", unseen)
	}

	// Idempotent: second call updates nothing.
	updated, err = store.MarkSeen("bob", "alice", "alice")
	if err != nil {
		t.Fatalf("MarkSeen failed: %v", err)
	}
	if updated != 0 {
		t.Errorf("expected 0 updated on second call, got %d", updated)
	}
}

func TestStorage_MarkSeen_NoConversation(t *testing.T) {
	store := newTestStorage(t)

	if _, err := store.MarkSeen("alice", "bob", "alice"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStorage_PushSubscriptions(t *testing.T) {
	store := newTestStorage(t)

	sub := PushSubscription{
		UserID:   "user1",
		Endpoint: "https://push.example.com/abc",
		P256dh:   "p256",
		Auth:     "auth",
	}
	if err := store.UpsertPushSubscription(sub); err != nil {
		t.Fatalf("UpsertPushSubscription failed: %v", err)
	}
	// Same endpoint overwrites, no duplicate.
	if err := store.UpsertPushSubscription(sub); err != nil {
		t.Fatalf("UpsertPushSubscription failed: %v", err)
	}

	subs, err := store.ListPushSubscriptions("user1")
	if err != nil {
		t.Fatalf("ListPushSubscriptions failed: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(subs))
	}

	if err := store.DeletePushSubscription("user1", sub.Endpoint); err != nil {
		t.Fatalf("DeletePushSubscription failed: %v", err)
	}
	subs, err = store.ListPushSubscriptions("user1")
	if err != nil {
		t.Fatalf("ListPushSubscriptions failed: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("expected no subscriptions, got %d", len(subs))
	}
}

func TestStorage_FileMetadata(t *testing.T) {
	store := newTestStorage(t)

	meta := FileMetadata{
		ID:       "file1",
		Hash:     "deadbeef",
		MimeType: "image/png",
		Size:     42,
		UserID:   "user1",
	}
	if err := store.UpsertFileMetadata(meta); err != nil {
		t.Fatalf("UpsertFileMetadata failed: %v", err)
	}

	got, err := store.GetFileMetadata("file1")
	if err != nil {
		t.Fatalf("GetFileMetadata failed: %v", err)
	}
	if got.Hash != meta.Hash || got.MimeType != meta.MimeType {
		t.Errorf("unexpected metadata: %+v", got)
	}

	if _, err := store.GetFileMetadata("nope"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
