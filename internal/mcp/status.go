// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"log/slog"
	"sync"
	"time"
)

// StatusEvent describes one status transition of one server.
type StatusEvent struct {
	ServerID  string           `json:"server_id"`
	Status    ConnectionStatus `json:"status"`
	Previous  ConnectionStatus `json:"previous,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// StatusHub fans status events out to subscribers. A panicking subscriber
// is logged and does not affect the others. Publishing with no subscribers
// is fine.
type StatusHub struct {
	mu     sync.RWMutex
	subs   map[uint64]func(StatusEvent)
	nextID uint64
	logger *slog.Logger
}

// NewStatusHub creates a hub.
func NewStatusHub(logger *slog.Logger) *StatusHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHub{
		subs:   make(map[uint64]func(StatusEvent)),
		logger: logger,
	}
}

// Subscribe registers fn and returns a func that removes it.
func (h *StatusHub) Subscribe(fn func(StatusEvent)) (unsubscribe func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// Publish logs ev and delivers it to every subscriber on the calling
// goroutine.
func (h *StatusHub) Publish(ev StatusEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	attrs := []any{
		"server", ev.ServerID,
		"status", string(ev.Status),
	}
	if ev.Previous != "" {
		attrs = append(attrs, "previous", string(ev.Previous))
	}
	if ev.Message != "" {
		attrs = append(attrs, "message", ev.Message)
	}
	if ev.Status == StatusError {
		h.logger.Warn("mcp server status changed", attrs...)
	} else {
		h.logger.Info("mcp server status changed", attrs...)
	}

	h.mu.RLock()
	subs := make([]func(StatusEvent), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.RUnlock()

	for _, fn := range subs {
		h.deliver(fn, ev)
	}
}

func (h *StatusHub) deliver(fn func(StatusEvent), ev StatusEvent) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("status subscriber panicked", "server", ev.ServerID, "panic", r)
		}
	}()
	fn(ev)
}

// Len returns the number of subscribers.
func (h *StatusHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
