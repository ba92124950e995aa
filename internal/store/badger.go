package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/chatapp/ws-server/internal/model"
)

// maxTxnAttempts bounds retries of optimistic transactions that lose a conflict.
const maxTxnAttempts = 32

// Badger is a Store persisted in BadgerDB.
//
// Keys:
//
//	user/<username>                 -> model.User
//	conv/<id>                       -> conversationRecord
//	msg/<len(id), u32 BE><id><seq, u64 BE>  -> model.Message
//
// The length prefix keeps one conversation's message keys from being a prefix
// of another's, whatever bytes the id holds. Message logs are read by exact key
// for positions 1..MessageCount.
//
// Every read-modify-write runs in a single transaction. Badger detects
// conflicting transactions at commit (including reads of absent keys), and the
// losing one is retried, so check-then-insert and append are linearizable per key.
type Badger struct {
	db *badger.DB
}

type conversationRecord struct {
	ID           string       `json:"id"`
	Participants []model.User `json:"participants"`
	MessageCount uint64       `json:"message_count"`
}

// NewBadger wraps an open Badger database.
func NewBadger(db *badger.DB) *Badger {
	return &Badger{db: db}
}

// OpenBadger opens (or creates) a Badger store in dir.
func OpenBadger(dir string) (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return NewBadger(db), nil
}

func userKey(username string) []byte {
	return []byte("user/" + username)
}

func conversationKey(id string) []byte {
	return []byte("conv/" + id)
}

func messagePrefix(id string) []byte {
	key := binary.BigEndian.AppendUint32([]byte("msg/"), uint32(len(id)))
	return append(key, id...)
}

func messageKey(id string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(messagePrefix(id), seq)
}

// update runs fn in a read-write transaction, retrying on commit conflicts.
func (b *Badger) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("transaction kept conflicting: %w", err)
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return txn.Set(key, data)
}

// GetUser returns the user registered under username.
func (b *Badger) GetUser(_ context.Context, username string) (model.User, error) {
	var user model.User
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(username), &user)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// AddUser registers username.
func (b *Badger) AddUser(ctx context.Context, username string) (model.User, error) {
	user := model.User{Username: username}
	err := b.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(userKey(username))
		if err == nil {
			return ErrUserAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, userKey(username), user)
	})
	if errors.Is(err, ErrUserAlreadyExists) {
		return model.User{}, fmt.Errorf("%w: %s", ErrUserAlreadyExists, username)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to add user: %w", err)
	}
	return user, nil
}

// GetConversation returns the conversation with id, if any.
func (b *Badger) GetConversation(_ context.Context, id string) (model.Conversation, bool, error) {
	var conv model.Conversation
	found := true

	err := b.db.View(func(txn *badger.Txn) error {
		var rec conversationRecord
		if err := getJSON(txn, conversationKey(id), &rec); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				found = false
				return nil
			}
			return err
		}

		messages, err := readMessages(txn, id, rec.MessageCount)
		if err != nil {
			return err
		}

		conv = model.Conversation{ID: rec.ID, Participants: rec.Participants, Messages: messages}
		return nil
	})
	if err != nil {
		return model.Conversation{}, false, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, found, nil
}

// CreateConversation inserts conv unless its id is taken.
func (b *Badger) CreateConversation(ctx context.Context, conv model.Conversation) (model.Conversation, error) {
	err := b.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(conversationKey(conv.ID))
		if err == nil {
			return ErrConversationAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		for i, msg := range conv.Messages {
			if err := setJSON(txn, messageKey(conv.ID, uint64(i+1)), msg); err != nil {
				return err
			}
		}

		return setJSON(txn, conversationKey(conv.ID), conversationRecord{
			ID:           conv.ID,
			Participants: conv.Participants,
			MessageCount: uint64(len(conv.Messages)),
		})
	})
	if errors.Is(err, ErrConversationAlreadyExists) {
		return model.Conversation{}, fmt.Errorf("%w: %s", ErrConversationAlreadyExists, conv.ID)
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}

	created, _, err := b.GetConversation(ctx, conv.ID)
	return created, err
}

// AppendMessage appends msg to the conversation's log. The transaction reads
// only the conversation record, so appends conflict with each other and nothing
// else; the returned snapshot is read after commit up to the new position.
func (b *Badger) AppendMessage(ctx context.Context, id string, msg model.Message) (model.Conversation, error) {
	var rec conversationRecord

	err := b.update(ctx, func(txn *badger.Txn) error {
		rec = conversationRecord{}
		if err := getJSON(txn, conversationKey(id), &rec); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrConversationNotFound
			}
			return err
		}

		rec.MessageCount++
		if err := setJSON(txn, messageKey(id, rec.MessageCount), msg); err != nil {
			return err
		}
		return setJSON(txn, conversationKey(id), rec)
	})
	if errors.Is(err, ErrConversationNotFound) {
		return model.Conversation{}, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	if err != nil {
		return model.Conversation{}, fmt.Errorf("failed to append message: %w", err)
	}

	// Keys 1..rec.MessageCount are committed and never rewritten.
	var messages []model.Message
	err = b.db.View(func(txn *badger.Txn) error {
		var err error
		messages, err = readMessages(txn, id, rec.MessageCount)
		return err
	})
	if err != nil {
		return model.Conversation{}, fmt.Errorf("failed to read messages: %w", err)
	}
	return model.Conversation{ID: rec.ID, Participants: rec.Participants, Messages: messages}, nil
}

func readMessages(txn *badger.Txn, id string, count uint64) ([]model.Message, error) {
	messages := make([]model.Message, 0, count)
	for seq := uint64(1); seq <= count; seq++ {
		var msg model.Message
		if err := getJSON(txn, messageKey(id, seq), &msg); err != nil {
			return nil, fmt.Errorf("message %d: %w", seq, err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Close closes the underlying database.
func (b *Badger) Close() error {
	return b.db.Close()
}
