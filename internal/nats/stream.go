package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/chatapp/ws-server/internal/model"
)

const (
	// DefaultStreamName is the name of the message journal stream.
	DefaultStreamName = "CHAT_MESSAGES"

	// SubjectPrefix is the prefix for all journal subjects.
	SubjectPrefix = "chat.msg"

	readerInactiveThreshold = 30 * time.Second
	readerFetchWait         = 2 * time.Second
)

// StreamManager records chat messages in a JetStream stream.
type StreamManager struct {
	client *Client
	stream string
	now    func() time.Time
}

// NewStreamManager creates a new stream manager for the named stream.
func NewStreamManager(client *Client, stream string) *StreamManager {
	if stream == "" {
		stream = DefaultStreamName
	}
	return &StreamManager{client: client, stream: stream, now: time.Now}
}

// EnsureStream ensures the journal stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, m.stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        m.stream,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  2 * time.Minute,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Chat messages by conversation",
	})
	if err != nil && !errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// MessageSubject returns the journal subject of a conversation. Conversation ids are
// opaque strings, so they are encoded into a single subject token.
func MessageSubject(conversationID string) string {
	return SubjectPrefix + "." + base64.RawURLEncoding.EncodeToString([]byte(conversationID))
}

// MessageID is the deduplication id of the seq-th message of a conversation.
func MessageID(conversationID string, seq uint64) string {
	return conversationID + ":" + strconv.FormatUint(seq, 10)
}

// Record publishes the seq-th message of a conversation to the journal.
func (m *StreamManager) Record(ctx context.Context, conversationID string, seq uint64, msg model.Message) error {
	_, err := m.PublishMessage(ctx, model.JournalEntry{
		ConversationID: conversationID,
		Sequence:       seq,
		Message:        msg,
		RecordedAt:     m.now().UTC(),
	})
	return err
}

// PublishMessage publishes a journal entry and returns its stream sequence.
func (m *StreamManager) PublishMessage(ctx context.Context, entry model.JournalEntry) (uint64, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, MessageSubject(entry.ConversationID), data,
		jetstream.WithMsgID(MessageID(entry.ConversationID, entry.Sequence)),
		jetstream.WithExpectStream(m.stream),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to publish message: %w", err)
	}

	return ack.Sequence, nil
}

// Messages reads up to limit journal entries of a conversation, oldest first.
func (m *StreamManager) Messages(ctx context.Context, conversationID string, limit int) ([]model.JournalEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	consumer, err := m.client.JetStream().CreateConsumer(ctx, m.stream, jetstream.ConsumerConfig{
		FilterSubject:     MessageSubject(conversationID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: readerInactiveThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	defer func() {
		_ = m.client.JetStream().DeleteConsumer(context.WithoutCancel(ctx), m.stream, consumer.CachedInfo().Name)
	}()

	info, err := consumer.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer info: %w", err)
	}

	want := min(uint64(limit), info.NumPending)
	if want == 0 {
		return []model.JournalEntry{}, nil
	}

	batch, err := consumer.Fetch(int(want), jetstream.FetchMaxWait(readerFetchWait))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	entries := make([]model.JournalEntry, 0, want)
	for msg := range batch.Messages() {
		var entry model.JournalEntry
		if err := json.Unmarshal(msg.Data(), &entry); err != nil {
			continue
		}

		if meta, err := msg.Metadata(); err == nil {
			entry.StreamSequence = meta.Sequence.Stream
		}

		entries = append(entries, entry)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("batch error: %w", err)
	}

	return entries, nil
}
