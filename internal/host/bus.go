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

package host

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Bus fans events out to subscribers. Handlers run synchronously on the
// emitting goroutine, outside the bus lock.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]map[uint64]func(json.RawMessage)
	nextID   uint64
	logger   *slog.Logger
}

// NewBus creates an empty event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[string]map[uint64]func(json.RawMessage)),
		logger:   logger,
	}
}

// Subscribe registers handler for event.
func (b *Bus) Subscribe(event string, handler func(json.RawMessage)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.handlers[event] == nil {
		b.handlers[event] = make(map[uint64]func(json.RawMessage))
	}
	b.handlers[event][id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[event], id)
			if len(b.handlers[event]) == 0 {
				delete(b.handlers, event)
			}
		})
	}
}

// Emit encodes payload and delivers it to every handler of event. A
// panicking handler is logged and does not affect the others.
func (b *Bus) Emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("failed to encode event payload", "event", event, "error", err)
		return
	}

	b.mu.RLock()
	handlers := make([]func(json.RawMessage), 0, len(b.handlers[event]))
	for _, h := range b.handlers[event] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(event, h, data)
	}
}

func (b *Bus) dispatch(event string, h func(json.RawMessage), data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", event, "panic", r)
		}
	}()
	h(data)
}

// SubscriberCount returns the number of handlers registered for event.
func (b *Bus) SubscriberCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event])
}
