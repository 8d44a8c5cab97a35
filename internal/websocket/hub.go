package websocket

import (
	"encoding/json"
	"errors"
	"sync"
)

// MaxConnectionsPerUser bounds the open balance streams of one user.
const MaxConnectionsPerUser = 5

var ErrTooManyConnections = errors.New("too many balance streams for user")

type BalanceUpdate struct {
	AccountID   string `json:"account_id"`
	Balance     string `json:"balance"`
	Kind        string `json:"kind"`
	ReferenceID string `json:"reference_id"`
}

// Hub fans balance updates out to the websocket clients of one process.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]map[*Client]struct{}
	limit   int
}

func NewHub() *Hub {
	return &Hub{
		streams: make(map[string]map[*Client]struct{}),
		limit:   MaxConnectionsPerUser,
	}
}

// Register adds client to the user's streams. The snapshot is queued under
// the hub lock, so no broadcast can reach the client ahead of it.
func (h *Hub) Register(userID string, client *Client, snapshot *BalanceUpdate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	streams := h.streams[userID]
	if len(streams) >= h.limit {
		return ErrTooManyConnections
	}
	if streams == nil {
		streams = make(map[*Client]struct{})
		h.streams[userID] = streams
	}
	if snapshot != nil {
		payload, _ := json.Marshal(snapshot)
		select {
		case client.send <- payload:
		default:
		}
	}
	streams[client] = struct{}{}
	return nil
}

func (h *Hub) Unregister(userID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	streams, ok := h.streams[userID]
	if !ok {
		return
	}
	delete(streams, client)
	if len(streams) == 0 {
		delete(h.streams, userID)
	}
}

func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[userID])
}

// Full reports whether another stream for userID would be refused.
func (h *Hub) Full(userID string) bool {
	return h.Subscribers(userID) >= h.limit
}

// BroadcastBalance drops the update for clients whose buffer is full.
func (h *Hub) BroadcastBalance(userID string, update BalanceUpdate) {
	payload, _ := json.Marshal(update)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.streams[userID] {
		select {
		case client.send <- payload:
		default:
		}
	}
}
