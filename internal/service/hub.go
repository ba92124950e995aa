package service

import (
	"context"
	"sync"

	"github.com/chatapp/ws-server/internal/model"
	"github.com/chatapp/ws-server/pkg/metrics"
)

// Hub is the registry of live connections by conversation id. Each conversation
// has its own group and lock, so fan-out on one conversation never waits on another.
type Hub struct {
	groups sync.Map // conversation id -> *group
}

type group struct {
	mu      sync.Mutex
	members map[string]*Connection
	retired bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Join registers conn under its conversation.
func (h *Hub) Join(conn *Connection) {
	for {
		v, _ := h.groups.LoadOrStore(conn.ConversationID(), &group{members: make(map[string]*Connection)})
		g := v.(*group)

		g.mu.Lock()
		if g.retired {
			// Lost a race with the last Leave; the group is being dropped.
			g.mu.Unlock()
			continue
		}
		g.members[conn.ID()] = conn
		g.mu.Unlock()
		return
	}
}

// Leave removes conn. Once it returns, no broadcast started afterwards reaches conn.
func (h *Hub) Leave(conn *Connection) {
	v, ok := h.groups.Load(conn.ConversationID())
	if !ok {
		return
	}
	g := v.(*group)

	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.members, conn.ID())
	if len(g.members) == 0 && !g.retired {
		g.retired = true
		h.groups.CompareAndDelete(conn.ConversationID(), g)
	}
}

// Broadcast delivers content, the seq-th message of the conversation, to every
// member. Members are snapshotted under the group lock and delivered to after it
// is released. It returns the number of connections that accepted the frame.
func (h *Hub) Broadcast(ctx context.Context, conversationID string, seq uint64, content model.Content) int {
	members := h.members(conversationID)

	delivered := 0
	for _, conn := range members {
		if err := conn.deliver(ctx, delivery{seq: seq, content: content}); err != nil {
			conn.Logger().Debug("broadcast skipped closed connection")
			continue
		}
		delivered++
	}

	metrics.BroadcastDeliveries.Add(float64(delivered))
	return delivered
}

// Size returns the number of connections registered under conversationID.
func (h *Hub) Size(conversationID string) int {
	return len(h.members(conversationID))
}

// Connections returns every registered connection.
func (h *Hub) Connections() []*Connection {
	var all []*Connection
	h.groups.Range(func(_, v any) bool {
		g := v.(*group)
		g.mu.Lock()
		for _, conn := range g.members {
			all = append(all, conn)
		}
		g.mu.Unlock()
		return true
	})
	return all
}

func (h *Hub) members(conversationID string) []*Connection {
	v, ok := h.groups.Load(conversationID)
	if !ok {
		return nil
	}
	g := v.(*group)

	g.mu.Lock()
	defer g.mu.Unlock()

	members := make([]*Connection, 0, len(g.members))
	for _, conn := range g.members {
		members = append(members, conn)
	}
	return members
}
