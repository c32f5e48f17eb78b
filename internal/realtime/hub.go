// Package realtime streams recording status changes to websocket clients,
// grouped by account.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/getrec/recorder/internal/models"
)

// EventRecordingStatus is sent whenever a recording's persisted state changes.
const EventRecordingStatus = "recording_status"

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 64
)

// Publisher fans a status message out to every instance.
type Publisher interface {
	Publish(ctx context.Context, accountID string, payload []byte) error
}

// Subscriber delivers messages published for an account.
type Subscriber interface {
	Subscribe(accountID string, handler func(payload []byte)) (cancel func(), err error)
}

// Hub maintains account_id -> set of connections. With a Publisher and
// Subscriber configured, every message goes through Redis so each instance
// delivers it once; otherwise delivery is in-process.
type Hub struct {
	// accountID -> map[clientID]*Client
	accounts map[string]map[string]*Client
	subs     map[string]func()
	mu       sync.RWMutex
	pub      Publisher
	sub      Subscriber
	logger   *zap.Logger
}

// NewHub creates a hub. pub and sub may both be nil.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		accounts: make(map[string]map[string]*Client),
		subs:     make(map[string]func()),
		pub:      pub,
		sub:      sub,
		logger:   logger,
	}
}

// Register adds a client to its account. The first client of an account
// starts the Redis subscription.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.accounts[c.AccountID] == nil {
		h.accounts[c.AccountID] = make(map[string]*Client)
		if h.sub != nil {
			accountID := c.AccountID
			cancel, err := h.sub.Subscribe(accountID, func(payload []byte) {
				h.Broadcast(accountID, payload)
			})
			if err != nil {
				h.logger.Warn("subscribe account channel", zap.String("account_id", accountID), zap.Error(err))
			} else {
				h.subs[accountID] = cancel
			}
		}
	}
	h.accounts[c.AccountID][c.ID] = c
	h.logger.Debug("status client joined", zap.String("client_id", c.ID), zap.String("account_id", c.AccountID))
}

// Unregister removes a client and closes its send channel. The last client of
// an account cancels the subscription.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.accounts[c.AccountID]
	if !ok {
		return
	}
	if _, ok := m[c.ID]; !ok {
		return
	}
	delete(m, c.ID)
	close(c.send)
	if len(m) == 0 {
		delete(h.accounts, c.AccountID)
		if cancel, ok := h.subs[c.AccountID]; ok {
			cancel()
			delete(h.subs, c.AccountID)
		}
	}
	h.logger.Debug("status client left", zap.String("client_id", c.ID), zap.String("account_id", c.AccountID))
}

// Broadcast sends an encoded message to the local clients of an account.
// Clients whose buffer is full miss the message.
func (h *Hub) Broadcast(accountID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.accounts[accountID] {
		select {
		case c.send <- payload:
		default:
			h.logger.Debug("status client too slow, dropping message", zap.String("client_id", c.ID))
		}
	}
}

// Notify announces a recording's new state to every client of its account.
func (h *Hub) Notify(ctx context.Context, rec models.Recording) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode recording: %w", err)
	}
	payload, err := json.Marshal(WSMessage{Event: EventRecordingStatus, Data: data})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if h.pub != nil {
		return h.pub.Publish(ctx, rec.AccountID, payload)
	}
	h.Broadcast(rec.AccountID, payload)
	return nil
}

// ClientCount returns the number of connected clients of an account.
func (h *Hub) ClientCount(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.accounts[accountID])
}
