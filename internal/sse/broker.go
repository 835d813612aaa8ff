package sse

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	HeartbeatInterval = 30 * time.Second

	clientBufferSize = 100
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals data into an Event. Marshal failures are programmer
// errors on our own payload types; they degrade to an empty data object.
func NewEvent(eventType string, data any) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("failed to marshal event data")
		raw = []byte("{}")
	}
	return Event{Type: eventType, Data: raw}
}

type Client struct {
	SessionID string
	Events    chan Event
	Done      chan struct{}
}

// Broker fans outbound events out to the SSE streams of live sessions.
// The broker is purely in-process: pairing state never leaves the broker
// process, so there is no cross-instance bridge.
type Broker struct {
	clients map[string]map[*Client]bool // sessionID -> set of clients
	closed  bool
	mu      sync.RWMutex
}

func NewBroker() *Broker {
	return &Broker{
		clients: make(map[string]map[*Client]bool),
	}
}

func (b *Broker) Subscribe(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Events:    make(chan Event, clientBufferSize),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(client.Done)
		return client
	}
	if b.clients[sessionID] == nil {
		b.clients[sessionID] = make(map[*Client]bool)
	}
	b.clients[sessionID][client] = true
	clientCount := len(b.clients[sessionID])
	b.mu.Unlock()

	log.Debug().
		Str("sessionId", sessionID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.SessionID]; ok && clients[client] {
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.SessionID)
		}

		log.Debug().
			Str("sessionId", client.SessionID).
			Int("clientCount", len(clients)).
			Msg("sse client unsubscribed")
	}
}

// Publish delivers an event to every live stream of the session. It
// reports whether at least one stream accepted the event; a false return
// means the counterpart connection is gone.
func (b *Broker) Publish(sessionID string, event Event) bool {
	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients[sessionID]))
	for client := range b.clients[sessionID] {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	delivered := false
	for _, client := range clients {
		select {
		case client.Events <- event:
			delivered = true
		default:
			log.Warn().
				Str("sessionId", sessionID).
				Str("type", event.Type).
				Msg("client event buffer full, dropping event")
		}
	}
	return delivered
}

// Connected reports whether the session has at least one live stream.
func (b *Broker) Connected(sessionID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[sessionID]) > 0
}

func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) ClientCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[sessionID])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
