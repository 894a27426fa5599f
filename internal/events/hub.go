// Package events moves progress events from the orchestrator to whoever is
// watching: the local logger, in-process subscribers, Redis and SSE clients.
package events

import (
	"context"
	"sync"

	"studio/internal/domain"
)

// Hub fans events out to in-process subscribers, filtered by run.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan domain.ProgressEvent]string
	buffer  int
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{
		clients: make(map[chan domain.ProgressEvent]string),
		buffer:  buffer,
	}
}

// Subscribe registers a client for runID. An empty runID receives every run.
// The returned func unregisters and closes the channel.
func (h *Hub) Subscribe(runID string) (<-chan domain.ProgressEvent, func()) {
	ch := make(chan domain.ProgressEvent, h.buffer)
	h.mu.Lock()
	h.clients[ch] = runID
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.drop(ch) })
	}
}

// Publish implements domain.Publisher. Clients that cannot keep up are
// disconnected instead of blocking the run.
func (h *Hub) Publish(_ context.Context, ev domain.ProgressEvent) error {
	var slow []chan domain.ProgressEvent
	h.mu.RLock()
	for client, runID := range h.clients {
		if runID != "" && runID != ev.RunID {
			continue
		}
		select {
		case client <- ev:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.drop(client)
	}
	return nil
}

// Clients reports the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) drop(ch chan domain.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

var _ domain.Publisher = (*Hub)(nil)
