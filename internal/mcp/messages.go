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
	"encoding/json"
	"sync"
	"time"
)

// MessageEntry is one unsolicited message received from a server.
type MessageEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Method    string          `json:"method,omitempty"`
	Message   json.RawMessage `json:"message"`
}

// RingBuffer is a fixed-size circular buffer.
type RingBuffer[T any] struct {
	mu      sync.RWMutex
	entries []T
	head    int
	tail    int
	size    int
	count   int
}

// NewRingBuffer creates a new ring buffer with the specified capacity.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &RingBuffer[T]{
		entries: make([]T, capacity),
		size:    capacity,
	}
}

// Add appends an entry, overwriting the oldest when full.
func (rb *RingBuffer[T]) Add(entry T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.tail] = entry
	rb.tail = (rb.tail + 1) % rb.size

	if rb.count < rb.size {
		rb.count++
	} else {
		rb.head = (rb.head + 1) % rb.size
	}
}

// GetAll returns all entries in the buffer, oldest first.
func (rb *RingBuffer[T]) GetAll() []T {
	return rb.GetLast(-1)
}

// GetLast returns the last n entries, oldest first. A negative n returns
// everything.
func (rb *RingBuffer[T]) GetLast(n int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n < 0 || n > rb.count {
		n = rb.count
	}

	result := make([]T, n)
	start := rb.count - n
	for i := 0; i < n; i++ {
		result[i] = rb.entries[(rb.head+start+i)%rb.size]
	}
	return result
}

// Count returns the number of entries in the buffer.
func (rb *RingBuffer[T]) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear removes all entries from the buffer.
func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	var zero T
	for i := range rb.entries {
		rb.entries[i] = zero
	}
	rb.head = 0
	rb.tail = 0
	rb.count = 0
}

// MessageLog keeps a bounded message history per server.
type MessageLog struct {
	mu      sync.RWMutex
	buffers map[string]*RingBuffer[MessageEntry]
	maxSize int
}

// NewMessageLog creates a log holding up to maxSize messages per server.
func NewMessageLog(maxSize int) *MessageLog {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &MessageLog{
		buffers: make(map[string]*RingBuffer[MessageEntry]),
		maxSize: maxSize,
	}
}

func (ml *MessageLog) buffer(serverID string) *RingBuffer[MessageEntry] {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if buf, exists := ml.buffers[serverID]; exists {
		return buf
	}
	buf := NewRingBuffer[MessageEntry](ml.maxSize)
	ml.buffers[serverID] = buf
	return buf
}

// Add records a raw message for a server and returns the stored entry.
func (ml *MessageLog) Add(serverID string, message json.RawMessage) MessageEntry {
	var head struct {
		Method string `json:"method"`
	}
	_ = json.Unmarshal(message, &head)

	entry := MessageEntry{
		Timestamp: time.Now(),
		Method:    head.Method,
		Message:   append(json.RawMessage(nil), message...),
	}
	ml.buffer(serverID).Add(entry)
	return entry
}

// Get returns the last n messages for a server, oldest first. n <= 0
// returns everything.
func (ml *MessageLog) Get(serverID string, n int) []MessageEntry {
	ml.mu.RLock()
	buf, exists := ml.buffers[serverID]
	ml.mu.RUnlock()

	if !exists {
		return nil
	}
	if n <= 0 {
		return buf.GetAll()
	}
	return buf.GetLast(n)
}

// Remove drops the history of a server.
func (ml *MessageLog) Remove(serverID string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	delete(ml.buffers, serverID)
}
