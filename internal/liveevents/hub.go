// Package liveevents fans order status changes out to connected clients.
package liveevents

import (
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("liveevents",
	fx.Provide(NewHub),
)

const (
	DefaultBufferSize       = 20
	DefaultSubscriberBuffer = 16
)

var ErrHubUnavailable = errors.New("hub_unavailable")

// OrderEvent is the payload streamed to a customer's websocket.
type OrderEvent struct {
	OrderID snowflake.ID `json:"order_id"`
	Number  string       `json:"number"`
	Status  string       `json:"status"`
	At      time.Time    `json:"at"`
}

// Hub keeps one stream per user. Slow subscribers miss events instead of
// blocking publishers.
type Hub struct {
	mu               sync.RWMutex
	streams          map[snowflake.ID]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []OrderEvent
	subs   map[uint64]chan OrderEvent
	nextID uint64
}

type Subscription struct {
	hub    *Hub
	userID snowflake.ID
	id     uint64
	ch     chan OrderEvent
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[snowflake.ID]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish records the event in the user's backlog and hands it to every
// live subscriber. Events for users without a stream are dropped.
func (h *Hub) Publish(userID snowflake.ID, event OrderEvent) {
	if h == nil || userID == 0 {
		return
	}
	h.mu.RLock()
	stream := h.streams[userID]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, event)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan OrderEvent, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe opens a stream for the user and returns the buffered backlog.
func (h *Hub) Subscribe(userID snowflake.ID) (*Subscription, []OrderEvent, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	if userID == 0 {
		return nil, nil, errors.New("invalid_user_id")
	}

	stream := h.ensureStream(userID)
	stream.mu.Lock()
	id := stream.nextID
	stream.nextID++
	ch := make(chan OrderEvent, h.subscriberBuffer)
	stream.subs[id] = ch
	backlog := append([]OrderEvent(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{hub: h, userID: userID, id: id, ch: ch}, backlog, nil
}

// Subscribers reports how many subscriptions the user holds.
func (h *Hub) Subscribers(userID snowflake.ID) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	stream := h.streams[userID]
	h.mu.RUnlock()
	if stream == nil {
		return 0
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	return len(stream.subs)
}

func (h *Hub) ensureStream(userID snowflake.ID) *stream {
	h.mu.RLock()
	current := h.streams[userID]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[userID]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan OrderEvent)}
		h.streams[userID] = current
	}
	return current
}

func (h *Hub) unsubscribe(userID snowflake.ID, id uint64) {
	h.mu.RLock()
	stream := h.streams[userID]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	delete(stream.subs, id)
	remaining := len(stream.subs)
	stream.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[userID] != stream {
		return
	}
	stream.mu.Lock()
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, userID)
	}
}

func (s *Subscription) Events() <-chan OrderEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.userID, s.id)
	})
}
