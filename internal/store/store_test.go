package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/chatapp/ws-server/internal/model"
)

type storeFactory func(t *testing.T) Store

func newMemoryStore(t *testing.T) Store {
	return NewMemory()
}

func newBadgerStore(t *testing.T) Store {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	s := NewBadger(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func forEachStore(t *testing.T, fn func(t *testing.T, newStore storeFactory)) {
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryStore) })
	t.Run("badger", func(t *testing.T) { fn(t, newBadgerStore) })
}

func textMessage(sender, text string) model.Message {
	return model.Message{Sender: model.User{Username: sender}, Content: model.EncodeText(text)}
}

func TestStore_Users(t *testing.T) {
	ctx := context.Background()

	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		t.Run("should add and get a user", func(t *testing.T) {
			req := require.New(t)
			s := newStore(t)

			added, err := s.AddUser(ctx, "Alice")
			req.NoError(err)
			req.Equal("Alice", added.Username)

			got, err := s.GetUser(ctx, "Alice")
			req.NoError(err)
			req.Equal(added, got)
		})

		t.Run("should reject duplicate usernames", func(t *testing.T) {
			s := newStore(t)

			_, err := s.AddUser(ctx, "Alice")
			require.NoError(t, err)
			_, err = s.AddUser(ctx, "Alice")

			require.ErrorIs(t, err, ErrUserAlreadyExists)
		})

		t.Run("should fail with user not found", func(t *testing.T) {
			_, err := newStore(t).GetUser(ctx, "nobody")

			require.ErrorIs(t, err, ErrUserNotFound)
		})

		t.Run("should let exactly one concurrent add win", func(t *testing.T) {
			s := newStore(t)
			const workers = 16

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				conflicts int
			)
			for range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.AddUser(ctx, "Carol")
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						successes++
					} else if errors.Is(err, ErrUserAlreadyExists) {
						conflicts++
					}
				}()
			}
			wg.Wait()

			require.Equal(t, 1, successes)
			require.Equal(t, workers-1, conflicts)
		})
	})
}

func TestStore_Conversations(t *testing.T) {
	ctx := context.Background()
	alice := model.User{Username: "Alice"}
	bob := model.User{Username: "Bob"}

	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		t.Run("should report an absent conversation without an error", func(t *testing.T) {
			_, found, err := newStore(t).GetConversation(ctx, "missing")

			require.NoError(t, err)
			require.False(t, found)
		})

		t.Run("should create and get a conversation", func(t *testing.T) {
			req := require.New(t)
			s := newStore(t)

			created, err := s.CreateConversation(ctx, model.Conversation{ID: "AB", Participants: []model.User{alice, bob}})
			req.NoError(err)
			req.Equal("AB", created.ID)
			req.Empty(created.Messages)

			got, found, err := s.GetConversation(ctx, "AB")
			req.NoError(err)
			req.True(found)
			req.Equal([]model.User{alice, bob}, got.Participants)
		})

		t.Run("should reject a duplicate conversation id and keep the original", func(t *testing.T) {
			req := require.New(t)
			s := newStore(t)

			_, err := s.CreateConversation(ctx, model.Conversation{ID: "AB", Participants: []model.User{alice, bob}})
			req.NoError(err)
			_, err = s.AppendMessage(ctx, "AB", textMessage("Alice", "Hello Bob!"))
			req.NoError(err)

			_, err = s.CreateConversation(ctx, model.Conversation{
				ID:           "AB",
				Participants: []model.User{{Username: "Mallory"}},
				Messages:     []model.Message{textMessage("Mallory", "overwrite")},
			})
			req.ErrorIs(err, ErrConversationAlreadyExists)

			got, found, err := s.GetConversation(ctx, "AB")
			req.NoError(err)
			req.True(found)
			req.Equal([]model.User{alice, bob}, got.Participants)
			req.Len(got.Messages, 1)
			req.Equal("Alice", got.Messages[0].Sender.Username)

			updated, err := s.AppendMessage(ctx, "AB", textMessage("Bob", "Hi Alice"))
			req.NoError(err)
			req.Len(updated.Messages, 2)
		})

		t.Run("should keep logs of ids sharing a prefix apart", func(t *testing.T) {
			req := require.New(t)
			s := newStore(t)
			mallory := model.User{Username: "Mallory"}

			for _, id := range []string{"AB", "AB\x00x", "A"} {
				_, err := s.CreateConversation(ctx, model.Conversation{ID: id, Participants: []model.User{alice, bob, mallory}})
				req.NoError(err)
			}
			_, err := s.AppendMessage(ctx, "AB\x00x", textMessage("Mallory", "injected"))
			req.NoError(err)
			_, err = s.AppendMessage(ctx, "A", textMessage("Mallory", "also injected"))
			req.NoError(err)

			got, _, err := s.GetConversation(ctx, "AB")
			req.NoError(err)
			req.Empty(got.Messages)

			updated, err := s.AppendMessage(ctx, "AB", textMessage("Alice", "Hello Bob!"))
			req.NoError(err)
			req.Len(updated.Messages, 1)
			req.Equal("Alice", updated.Messages[0].Sender.Username)

			other, _, err := s.GetConversation(ctx, "AB\x00x")
			req.NoError(err)
			req.Len(other.Messages, 1)
		})

		t.Run("should append messages in order", func(t *testing.T) {
			req := require.New(t)
			s := newStore(t)
			_, err := s.CreateConversation(ctx, model.Conversation{ID: "AB", Participants: []model.User{alice, bob}})
			req.NoError(err)

			updated, err := s.AppendMessage(ctx, "AB", textMessage("Alice", "Hello Bob!"))
			req.NoError(err)
			req.Len(updated.Messages, 1)

			updated, err = s.AppendMessage(ctx, "AB", textMessage("Bob", "Hi Alice"))
			req.NoError(err)
			req.Len(updated.Messages, 2)
			req.Equal("Alice", updated.Messages[0].Sender.Username)
			req.Equal("Bob", updated.Messages[1].Sender.Username)

			text, err := model.DecodeText(updated.Messages[1].Content)
			req.NoError(err)
			req.Equal("Hi Alice", text)

			got, _, err := s.GetConversation(ctx, "AB")
			req.NoError(err)
			req.Equal(updated.Messages, got.Messages)
		})

		t.Run("should keep preloaded history on create", func(t *testing.T) {
			req := require.New(t)
			s := newStore(t)

			created, err := s.CreateConversation(ctx, model.Conversation{
				ID:           "AB",
				Participants: []model.User{alice, bob},
				Messages:     []model.Message{textMessage("Alice", "one")},
			})
			req.NoError(err)
			req.Len(created.Messages, 1)

			updated, err := s.AppendMessage(ctx, "AB", textMessage("Bob", "two"))
			req.NoError(err)
			req.Len(updated.Messages, 2)
		})

		t.Run("should fail to append to an absent conversation", func(t *testing.T) {
			_, err := newStore(t).AppendMessage(ctx, "missing", textMessage("Alice", "hi"))

			require.ErrorIs(t, err, ErrConversationNotFound)
		})

		t.Run("should not change earlier snapshots on append", func(t *testing.T) {
			req := require.New(t)
			s := newStore(t)
			_, err := s.CreateConversation(ctx, model.Conversation{ID: "AB", Participants: []model.User{alice, bob}})
			req.NoError(err)
			_, err = s.AppendMessage(ctx, "AB", textMessage("Alice", "one"))
			req.NoError(err)

			before, _, err := s.GetConversation(ctx, "AB")
			req.NoError(err)

			_, err = s.AppendMessage(ctx, "AB", textMessage("Bob", "two"))
			req.NoError(err)

			req.Len(before.Messages, 1)
			before.Messages = append(before.Messages, textMessage("Mallory", "injected"))

			after, _, err := s.GetConversation(ctx, "AB")
			req.NoError(err)
			req.Len(after.Messages, 2)
			req.Equal("Bob", after.Messages[1].Sender.Username)
		})

		t.Run("should keep every concurrent append", func(t *testing.T) {
			req := require.New(t)
			s := newStore(t)
			_, err := s.CreateConversation(ctx, model.Conversation{ID: "AB", Participants: []model.User{alice, bob}})
			req.NoError(err)

			const workers = 16
			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.AppendMessage(ctx, "AB", textMessage("Alice", fmt.Sprintf("msg-%d", i)))
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				req.NoError(err)
			}

			got, _, err := s.GetConversation(ctx, "AB")
			req.NoError(err)
			req.Len(got.Messages, workers)

			seen := make(map[string]bool, workers)
			for _, msg := range got.Messages {
				text, err := model.DecodeText(msg.Content)
				req.NoError(err)
				seen[text] = true
			}
			req.Len(seen, workers)
		})
	})
}

func TestBadger_Persistence(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBadger(dir)
	req.NoError(err)
	_, err = s.AddUser(ctx, "Alice")
	req.NoError(err)
	_, err = s.CreateConversation(ctx, model.Conversation{ID: "AB", Participants: []model.User{{Username: "Alice"}}})
	req.NoError(err)
	_, err = s.AppendMessage(ctx, "AB", textMessage("Alice", "Hello Bob!"))
	req.NoError(err)
	req.NoError(s.Close())

	reopened, err := OpenBadger(dir)
	req.NoError(err)
	defer reopened.Close()

	_, err = reopened.GetUser(ctx, "Alice")
	req.NoError(err)

	conv, found, err := reopened.GetConversation(ctx, "AB")
	req.NoError(err)
	req.True(found)
	req.Len(conv.Messages, 1)
}

func TestMessageKeyOrdering(t *testing.T) {
	// Big-endian sequence numbers keep byte order equal to append order past 255.
	require.Less(t, string(messageKey("AB", 255)), string(messageKey("AB", 256)))

	for _, other := range []string{"A", "AB\x00x", "AB\x00\x00\x00\x00\x00\x00\x00\x01", "ABC"} {
		require.False(t, bytes.HasPrefix(messageKey(other, 1), messagePrefix("AB")), "%q", other)
		require.False(t, bytes.HasPrefix(messageKey("AB", 1), messagePrefix(other)), "%q", other)
	}
}
