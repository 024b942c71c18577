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

// Package hosttest provides a scriptable host.Host for tests.
package hosttest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tombee/mcphost/internal/host"
)

// Handler answers one host command.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Invocation records one Invoke call.
type Invocation struct {
	Command string
	Args    json.RawMessage
}

// RPCRequest is the decoded message of a send_mcp_message call.
type RPCRequest struct {
	ID     *int            `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RPCError is a JSON-RPC error object returned by an RPC handler.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FakeHost implements host.Host with scripted replies. Commands without a
// handler succeed with a null result, except get_mcp_server_statuses which
// returns an empty object.
type FakeHost struct {
	bus *host.Bus

	mu          sync.RWMutex
	handlers    map[string]Handler
	invocations []Invocation
}

var _ host.Host = (*FakeHost)(nil)

// New creates a FakeHost.
func New() *FakeHost {
	return &FakeHost{
		bus:      host.NewBus(slog.Default()),
		handlers: make(map[string]Handler),
	}
}

// On sets the handler for command, replacing any previous one.
func (f *FakeHost) On(command string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[command] = h
}

// Reply makes command succeed with v encoded as JSON.
func (f *FakeHost) Reply(command string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("hosttest: cannot encode reply for %s: %v", command, err))
	}
	f.On(command, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return data, nil
	})
}

// Fail makes command return err.
func (f *FakeHost) Fail(command string, err error) {
	f.On(command, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, err
	})
}

// OnRPC answers send_mcp_message calls. Requests carrying an id receive a
// response built from the handler's result or error; notifications get a
// null reply and are still passed to the handler.
func (f *FakeHost) OnRPC(h func(serverID string, req RPCRequest) (any, *RPCError)) {
	f.On(host.CmdSendMessage, func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		var a host.SendMessageArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, err
		}
		var req RPCRequest
		if err := json.Unmarshal([]byte(a.Message), &req); err != nil {
			return nil, fmt.Errorf("invalid JSON-RPC message: %w", err)
		}

		result, rpcErr := h(a.ServerID, req)
		if req.ID == nil {
			return json.RawMessage("null"), nil
		}

		reply := map[string]any{"jsonrpc": "2.0", "id": *req.ID}
		if rpcErr != nil {
			reply["error"] = rpcErr
		} else {
			reply["result"] = result
		}
		encoded, err := json.Marshal(reply)
		if err != nil {
			return nil, err
		}
		return json.Marshal(string(encoded))
	})
}

// Invoke implements host.Host.
func (f *FakeHost) Invoke(ctx context.Context, command string, args any) (json.RawMessage, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.invocations = append(f.invocations, Invocation{Command: command, Args: data})
	h := f.handlers[command]
	f.mu.Unlock()

	if h != nil {
		return h(ctx, data)
	}
	if command == host.CmdGetServerStatuses {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage("null"), nil
}

// Subscribe implements host.Host.
func (f *FakeHost) Subscribe(event string, handler func(json.RawMessage)) func() {
	return f.bus.Subscribe(event, handler)
}

// Emit delivers payload to subscribers of event.
func (f *FakeHost) Emit(event string, payload any) {
	f.bus.Emit(event, payload)
}

// EmitMessage delivers an unsolicited or response message for serverID.
func (f *FakeHost) EmitMessage(serverID string, message any) {
	data, err := json.Marshal(message)
	if err != nil {
		panic(fmt.Sprintf("hosttest: cannot encode message: %v", err))
	}
	f.bus.Emit(host.MessageEvent(serverID), host.MessagePayload{ServerID: serverID, Message: data})
}

// SubscriberCount returns the number of handlers registered for event.
func (f *FakeHost) SubscriberCount(event string) int {
	return f.bus.SubscriberCount(event)
}

// Invocations returns a copy of every recorded Invoke call.
func (f *FakeHost) Invocations() []Invocation {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Invocation, len(f.invocations))
	copy(out, f.invocations)
	return out
}

// Calls returns the recorded invocations of command.
func (f *FakeHost) Calls(command string) []Invocation {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []Invocation
	for _, inv := range f.invocations {
		if inv.Command == command {
			out = append(out, inv)
		}
	}
	return out
}

// CallCount returns how many times command was invoked.
func (f *FakeHost) CallCount(command string) int {
	return len(f.Calls(command))
}

// Reset clears recorded invocations.
func (f *FakeHost) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invocations = nil
}
