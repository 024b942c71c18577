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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/mcphost/internal/host"
	internallog "github.com/tombee/mcphost/internal/log"
)

// DefaultRequestTimeout bounds a Session call when no timeout is configured.
const DefaultRequestTimeout = 30 * time.Second

const tracerName = "github.com/tombee/mcphost/internal/mcp"

// SessionConfig configures a Session.
type SessionConfig struct {
	// ServerID is the descriptor id the session talks to.
	ServerID string

	// Host carries requests to the server.
	Host host.Host

	// Timeout bounds each Call.
	// Default: 30s
	Timeout time.Duration

	Logger *slog.Logger

	// OnUnsolicited receives messages that match no pending request.
	OnUnsolicited func(msg json.RawMessage)
}

// Session is one JSON-RPC 2.0 conversation with one tool server. Calls are
// correlated by integer id and may run concurrently.
type Session struct {
	serverID      string
	host          host.Host
	timeout       time.Duration
	logger        *slog.Logger
	onUnsolicited func(json.RawMessage)

	mu      sync.Mutex
	nextID  int
	pending map[int]*pendingRequest
	closed  bool
}

// pendingRequest is owned by one session and removed exactly once, either
// by a matching response, a timeout or Close.
type pendingRequest struct {
	id       int
	method   string
	deadline time.Time
	done     chan callOutcome
}

type callOutcome struct {
	result json.RawMessage
	err    error
}

// NewSession creates a session. The session is open until Close.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	sessionsActive.Inc()
	return &Session{
		serverID:      cfg.ServerID,
		host:          cfg.Host,
		timeout:       timeout,
		logger:        internallog.WithServer(logger, cfg.ServerID),
		onUnsolicited: cfg.OnUnsolicited,
		pending:       make(map[int]*pendingRequest),
	}
}

// ServerID returns the id of the server this session talks to.
func (s *Session) ServerID() string {
	return s.serverID
}

// Call sends a request with the next id and waits for its result.
func (s *Session) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	return s.Do(ctx, Request{Method: method, Params: raw})
}

// Do sends req and waits for the matching response. An id is assigned when
// req.ID is nil. The call fails with ErrTimeout when no response arrives
// within the session timeout and with ErrDisconnected when the session is
// closed first.
func (s *Session) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	req.JSONRPC = "2.0"

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, newDisconnectedError(s.serverID)
	}
	if req.ID == nil {
		s.nextID++
		id := s.nextID
		req.ID = &id
	}
	id := *req.ID
	if _, dup := s.pending[id]; dup {
		s.mu.Unlock()
		return nil, newProtocolError(fmt.Sprintf("request id %d already in flight", id), nil)
	}
	p := &pendingRequest{
		id:       id,
		method:   req.Method,
		deadline: time.Now().Add(s.timeout),
		done:     make(chan callOutcome, 1),
	}
	s.pending[id] = p
	s.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "mcp.session.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("mcp.server", s.serverID),
			attribute.String("rpc.method", req.Method),
			attribute.Int("rpc.jsonrpc.request_id", id),
		),
	)
	defer span.End()

	call := &internallog.RPCCall{ServerID: s.serverID, Method: req.Method, RequestID: id}
	internallog.LogRPCStart(s.logger, call)
	start := time.Now()

	ictx, cancel := context.WithDeadline(ctx, p.deadline)
	defer cancel()
	go s.send(ictx, p, req)

	timer := time.NewTimer(time.Until(p.deadline))
	defer timer.Stop()

	var out callOutcome
	select {
	case out = <-p.done:
	case <-timer.C:
		out = s.expire(p, newTimeoutError(req.Method, s.timeout))
		if IsTimeout(out.err) {
			recordTimeout(s.serverID)
		}
	case <-ctx.Done():
		out = s.expire(p, ctx.Err())
	}

	internallog.LogRPCEnd(s.logger, call, time.Since(start), out.err)
	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
		recordRPC(req.Method, "error")
		return nil, out.err
	}
	recordRPC(req.Method, "ok")
	return out.result, nil
}

// send forwards req through the host and delivers an inline reply.
func (s *Session) send(ctx context.Context, p *pendingRequest, req Request) {
	msg, err := json.Marshal(req)
	if err != nil {
		s.settle(p.id, callOutcome{err: newProtocolError("failed to encode request", err)})
		return
	}
	internallog.Trace(s.logger, "rpc payload", slog.String("direction", "out"), slog.String("body", string(msg)))

	raw, err := s.host.Invoke(ctx, host.CmdSendMessage, host.SendMessageArgs{
		ServerID: s.serverID,
		Message:  string(msg),
	})
	if err != nil {
		s.settle(p.id, callOutcome{err: HostCallError(host.CmdSendMessage, err)})
		return
	}

	reply, err := decodeReply(raw)
	if err != nil {
		s.settle(p.id, callOutcome{err: newProtocolError("invalid response from "+s.serverID, err)})
		return
	}
	if reply == nil {
		// The response will arrive as a message event.
		return
	}
	s.Deliver(reply)
}

// expire removes p after a timeout or cancellation. When a response won
// the race, its outcome is returned instead.
func (s *Session) expire(p *pendingRequest, err error) callOutcome {
	s.mu.Lock()
	if s.pending[p.id] == p {
		delete(s.pending, p.id)
		s.mu.Unlock()
		return callOutcome{err: err}
	}
	s.mu.Unlock()
	return <-p.done
}

// settle resolves the pending request id, if it is still pending.
func (s *Session) settle(id int, out callOutcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	p.done <- out
	return true
}

// Notify sends a request without an id. No response is expected.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	raw, err := encodeParams(params)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Request{JSONRPC: "2.0", Method: method, Params: raw})
	if err != nil {
		return newProtocolError("failed to encode notification", err)
	}

	call := &internallog.RPCCall{ServerID: s.serverID, Method: method}
	internallog.LogRPCStart(s.logger, call)
	start := time.Now()

	_, err = s.host.Invoke(ctx, host.CmdSendMessage, host.SendMessageArgs{
		ServerID: s.serverID,
		Message:  string(msg),
	})
	if err != nil {
		err = HostCallError(host.CmdSendMessage, err)
	}
	internallog.LogRPCEnd(s.logger, call, time.Since(start), err)
	return err
}

// Deliver routes an inbound message. A response whose id matches a pending
// request settles it and Deliver returns true. Anything else is treated as
// an unsolicited server message.
func (s *Session) Deliver(message json.RawMessage) bool {
	internallog.Trace(s.logger, "rpc payload", slog.String("direction", "in"), slog.String("body", string(message)))

	var resp Response
	if err := json.Unmarshal(message, &resp); err != nil {
		s.logger.Warn("dropping malformed server message", "error", err)
		return false
	}

	var id int
	if len(resp.ID) > 0 && json.Unmarshal(resp.ID, &id) == nil && resp.Method == "" {
		s.mu.Lock()
		p, ok := s.pending[id]
		s.mu.Unlock()
		if ok {
			out := callOutcome{result: resp.Result}
			if resp.Error != nil {
				out = callOutcome{err: newProtocolError(fmt.Sprintf("%s failed", p.method), resp.Error)}
			} else if len(out.result) == 0 {
				out.result = json.RawMessage("null")
			}
			return s.settle(id, out)
		}
	}

	s.logger.Debug("unsolicited server message", "method", resp.Method)
	if s.onUnsolicited != nil {
		s.onUnsolicited(message)
	}
	return false
}

// Pending returns the number of outstanding calls.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close rejects every outstanding call with ErrDisconnected. Calling Close
// more than once is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[int]*pendingRequest)
	s.mu.Unlock()

	sessionsActive.Dec()
	for _, p := range pending {
		p.done <- callOutcome{err: newDisconnectedError(s.serverID)}
	}
	if len(pending) > 0 {
		s.logger.Debug("session closed with pending requests", "pending", len(pending))
	}
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// decodeReply parses a host send reply. The host returns the encoded
// response either as a JSON string or as an object; null means the response
// is delivered separately.
func decodeReply(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, err
		}
		if encoded == "" || encoded == "null" {
			return nil, nil
		}
		raw = json.RawMessage(encoded)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("reply is not valid JSON")
	}
	return raw, nil
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, newProtocolError("failed to encode params", err)
	}
	return raw, nil
}
