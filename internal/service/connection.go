package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatapp/ws-server/internal/model"
	"github.com/chatapp/ws-server/pkg/logger"
)

// DefaultSendBuffer is the number of outbound frames queued per connection.
const DefaultSendBuffer = 256

// State is the lifecycle state of a chat connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// delivery is one outbound frame. seq is the message's position in the
// conversation log; direct frames target this connection only and carry no position.
type delivery struct {
	seq     uint64
	content model.Content
	direct  bool
}

// Connection is one live client bound to one conversation.
type Connection struct {
	id             string
	conversationID string
	user           model.User

	state atomic.Int32

	// historyLen is fixed before the connection is handed to its caller.
	historyLen uint64

	outbound  chan delivery
	done      chan struct{}
	closeOnce sync.Once

	logger *logger.Logger
}

func newConnection(conversationID string, sendBuffer int, log *logger.Logger) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}

	id := uuid.NewString()
	return &Connection{
		id:             id,
		conversationID: conversationID,
		outbound:       make(chan delivery, sendBuffer),
		done:           make(chan struct{}),
		logger:         log.WithConnection(id, conversationID),
	}
}

// ID returns the connection id.
func (c *Connection) ID() string {
	return c.id
}

// ConversationID returns the conversation the connection is bound to.
func (c *Connection) ConversationID() string {
	return c.conversationID
}

// User returns the identity resolved when the connection opened.
func (c *Connection) User() model.User {
	return c.user
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *logger.Logger {
	return c.logger
}

// Next blocks until the next outbound frame is available. Messages already
// included in the history delivered at open are skipped.
func (c *Connection) Next(ctx context.Context) (model.Content, error) {
	for {
		select {
		case <-c.done:
			return model.Content{}, ErrConnectionClosed
		default:
		}

		select {
		case d := <-c.outbound:
			if !d.direct && d.seq <= c.historyLen {
				continue
			}
			return d.content, nil
		case <-c.done:
			return model.Content{}, ErrConnectionClosed
		case <-ctx.Done():
			return model.Content{}, ctx.Err()
		}
	}
}

// Notify queues content for this connection only.
func (c *Connection) Notify(ctx context.Context, content model.Content) error {
	return c.deliver(ctx, delivery{content: content, direct: true})
}

func (c *Connection) deliver(ctx context.Context, d delivery) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.outbound <- d:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close runs leave and marks the connection closed exactly once. It reports
// whether the connection was active.
func (c *Connection) close(leave func(*Connection)) bool {
	wasActive := false
	c.closeOnce.Do(func() {
		prev := State(c.state.Swap(int32(StateClosed)))
		wasActive = prev == StateActive
		if leave != nil {
			leave(c)
		}
		close(c.done)
		c.logger.Debug("connection closed", zap.Stringer("previous_state", prev))
	})
	return wasActive
}
