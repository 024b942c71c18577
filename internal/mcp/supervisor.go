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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/mcphost/internal/host"
	internallog "github.com/tombee/mcphost/internal/log"
	"github.com/tombee/mcphost/internal/secrets"
)

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// Host starts and stops servers and carries their traffic.
	Host host.Host

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// Secrets resolves bearer token references.
	// Default: keychain and environment backends
	Secrets *secrets.Resolver

	// RequestTimeout bounds each session call.
	// Default: 30s
	RequestTimeout time.Duration

	// StatusCheckDelay is how long after a start call the host is asked for
	// the authoritative status. Zero uses the default, negative disables.
	// Default: 2s
	StatusCheckDelay time.Duration

	// StopSettleDelay is waited after the pre-connect force stop. Zero uses
	// the default, negative disables.
	// Default: 100ms
	StopSettleDelay time.Duration

	// MessageHistory is the number of unsolicited messages kept per server.
	// Default: 100
	MessageHistory int

	// OnMessage observes every unsolicited message after it is recorded.
	// It runs on the host's event goroutine.
	OnMessage func(serverID string, entry MessageEntry)
}

// Supervisor owns the sessions and connection status of every server.
// It is the only writer of either map.
type Supervisor struct {
	host             host.Host
	logger           *slog.Logger
	secrets          *secrets.Resolver
	requestTimeout   time.Duration
	statusCheckDelay time.Duration
	stopSettleDelay  time.Duration

	hub       *StatusHub
	messages  *MessageLog
	onMessage func(serverID string, entry MessageEntry)

	// locks serializes connect and disconnect per server id.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mu          sync.RWMutex
	sessions    map[string]*Session
	statuses    map[string]ConnectionStatus
	unsubs      map[string][]func()
	descriptors map[string]ServerDescriptor
	rechecks    map[string]*time.Timer
}

// ServerResult is the outcome of a best-effort operation on one server.
type ServerResult struct {
	ServerID string `json:"server_id"`
	Err      error  `json:"-"`
}

// MarshalJSON renders Err as a string.
func (r ServerResult) MarshalJSON() ([]byte, error) {
	out := struct {
		ServerID string `json:"server_id"`
		Error    string `json:"error,omitempty"`
	}{ServerID: r.ServerID}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// ToolListing is the tools/list result of one server.
type ToolListing struct {
	ServerID string `json:"server_id"`
	Tools    []Tool `json:"tools"`
	Err      error  `json:"-"`
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := cfg.Secrets
	if resolver == nil {
		resolver = secrets.NewDefaultResolver()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	checkDelay := cfg.StatusCheckDelay
	if checkDelay == 0 {
		checkDelay = 2 * time.Second
	}
	settle := cfg.StopSettleDelay
	if settle == 0 {
		settle = 100 * time.Millisecond
	}

	logger = internallog.WithComponent(logger, "supervisor")
	return &Supervisor{
		host:             cfg.Host,
		logger:           logger,
		secrets:          resolver,
		requestTimeout:   timeout,
		statusCheckDelay: checkDelay,
		stopSettleDelay:  settle,
		hub:              NewStatusHub(logger),
		messages:         NewMessageLog(cfg.MessageHistory),
		onMessage:        cfg.OnMessage,
		locks:            make(map[string]*sync.Mutex),
		sessions:         make(map[string]*Session),
		statuses:         make(map[string]ConnectionStatus),
		unsubs:           make(map[string][]func()),
		descriptors:      make(map[string]ServerDescriptor),
		rechecks:         make(map[string]*time.Timer),
	}
}

func (s *Supervisor) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Connect starts the server described by d and opens a session to it. It
// is a no-op when the server is already connecting or connected. Connect
// returns once the host accepted the start call; the connected status
// follows from the host's event or the delayed status check.
func (s *Supervisor) Connect(ctx context.Context, id string, d ServerDescriptor) (err error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if st := s.Status(id); st == StatusConnecting || st == StatusConnected {
		s.logger.Info("mcp server already active, skipping connect", "server", id, "status", string(st))
		return nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "mcp.supervisor.connect")
	span.SetAttributes(attribute.String("mcp.server", id), attribute.String("mcp.transport", d.Transport.Kind()))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			recordConnect(id, "error")
		} else {
			recordConnect(id, "ok")
		}
		span.End()
	}()

	// The process may legitimately not exist.
	if _, stopErr := s.host.Invoke(ctx, host.CmdStopServer, host.ServerArgs{ServerID: id}); stopErr != nil {
		s.logger.Debug("pre-connect stop failed", "server", id, "error", stopErr)
	}
	if err := sleep(ctx, s.stopSettleDelay); err != nil {
		return err
	}

	s.teardown(id)

	session := NewSession(SessionConfig{
		ServerID: id,
		Host:     s.host,
		Timeout:  s.requestTimeout,
		Logger:   s.logger,
		OnUnsolicited: func(msg json.RawMessage) {
			entry := s.messages.Add(id, msg)
			if s.onMessage != nil {
				s.onMessage(id, entry)
			}
		},
	})

	s.mu.Lock()
	s.sessions[id] = session
	s.descriptors[id] = d.Clone()
	s.mu.Unlock()

	s.subscribe(id, session)
	s.setStatus(id, StatusConnecting, "")

	cfg, err := s.hostConfig(ctx, d)
	if err != nil {
		return s.failConnect(id, session, err)
	}
	if t := cfg.Transport; t.Type == TransportStdio {
		s.logger.Info("connecting mcp server", "server", id, "command", t.Command, "args", t.Args, "env", RedactEnv(t.Env), "working_dir", t.WorkingDir)
	} else {
		s.logger.Info("connecting mcp server", "server", id, "url", t.URL, "headers", RedactHeaders(t.Headers))
	}

	if _, err := s.host.Invoke(ctx, host.CmdStartServer, host.StartServerArgs{ServerID: id, Config: cfg}); err != nil {
		return s.failConnect(id, session, HostCallError(host.CmdStartServer, err))
	}

	s.scheduleRecheck(id, session)
	return nil
}

// failConnect records a connect failure and releases the new session.
func (s *Supervisor) failConnect(id string, session *Session, err error) error {
	s.release(id, session)
	s.setStatus(id, StatusError, err.Error())
	s.logger.Error("failed to connect mcp server", "server", id, "error", err)
	return fmt.Errorf("failed to connect %s: %w", id, err)
}

// subscribe registers the host event handlers for a new session.
func (s *Supervisor) subscribe(id string, session *Session) {
	current := func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.sessions[id] == session
	}

	unsubs := []func(){
		s.host.Subscribe(host.ConnectedEvent(id), func(json.RawMessage) {
			if current() {
				s.setStatus(id, StatusConnected, "")
			}
		}),
		s.host.Subscribe(host.MessageEvent(id), func(payload json.RawMessage) {
			var p host.MessagePayload
			if err := json.Unmarshal(payload, &p); err != nil {
				s.logger.Warn("malformed message event", "server", id, "error", err)
				return
			}
			session.Deliver(p.Message)
		}),
		s.host.Subscribe(host.StoppedEvent(id), func(json.RawMessage) {
			if s.release(id, session) {
				s.setStatus(id, StatusStopped, "")
			}
		}),
	}

	s.mu.Lock()
	s.unsubs[id] = unsubs
	s.mu.Unlock()
}

// teardown closes the session of id and drops its event subscriptions.
func (s *Supervisor) teardown(id string) {
	s.mu.Lock()
	s.detachLocked(id)
}

// release tears down id only while session is still the registered one.
// It reports whether it did.
func (s *Supervisor) release(id string, session *Session) bool {
	s.mu.Lock()
	if s.sessions[id] != session {
		s.mu.Unlock()
		return false
	}
	s.detachLocked(id)
	return true
}

// detachLocked removes the session state of id and unlocks s.mu before
// closing the session outside the lock.
func (s *Supervisor) detachLocked(id string) {
	session := s.sessions[id]
	unsubs := s.unsubs[id]
	timer := s.rechecks[id]
	delete(s.sessions, id)
	delete(s.unsubs, id)
	delete(s.rechecks, id)
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	for _, unsub := range unsubs {
		unsub()
	}
	if session != nil {
		session.Close()
	}
}

// scheduleRecheck asks the host for the status of id once the check delay
// elapsed, promoting a still-connecting server to connected.
func (s *Supervisor) scheduleRecheck(id string, session *Session) {
	if s.statusCheckDelay < 0 {
		return
	}
	timer := time.AfterFunc(s.statusCheckDelay, func() {
		s.recheck(id, session)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[id] != session {
		timer.Stop()
		return
	}
	if old := s.rechecks[id]; old != nil {
		old.Stop()
	}
	s.rechecks[id] = timer
}

func (s *Supervisor) recheck(id string, session *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()

	raw, err := s.host.Invoke(ctx, host.CmdGetServerStatuses, nil)
	if err != nil {
		s.logger.Debug("status re-check failed", "server", id, "error", err)
		return
	}
	var statuses map[string]host.ServerStatus
	if err := json.Unmarshal(raw, &statuses); err != nil {
		s.logger.Debug("status re-check returned malformed result", "server", id, "error", err)
		return
	}

	s.mu.RLock()
	owned := s.sessions[id] == session
	current := s.statuses[id]
	s.mu.RUnlock()

	if owned && current != StatusConnected && statuses[id].Status == host.StatusConnected {
		s.logger.Info("status re-check promoted server to connected", "server", id)
		s.setStatus(id, StatusConnected, "")
	}
}

// hostConfig converts a descriptor to the host wire shape. A bearer token
// becomes an Authorization header.
func (s *Supervisor) hostConfig(ctx context.Context, d ServerDescriptor) (host.ServerConfig, error) {
	cfg := host.ServerConfig{
		Enabled:      true,
		Capabilities: host.Capabilities(d.Capabilities),
		Permissions:  host.Permissions(d.Permissions),
	}

	switch {
	case d.Transport.Stdio != nil:
		t := d.Transport.Stdio
		cfg.Transport = host.TransportConfig{
			Type:       TransportStdio,
			Command:    t.Command,
			Args:       slices.Clone(t.Args),
			Env:        maps.Clone(t.Env),
			WorkingDir: t.WorkingDir,
		}
	case d.Transport.HTTP != nil:
		t := d.Transport.HTTP
		headers := maps.Clone(t.Headers)
		if t.BearerToken != "" {
			token, err := s.secrets.Resolve(ctx, t.BearerToken)
			if err != nil {
				return host.ServerConfig{}, fmt.Errorf("failed to resolve bearer token: %w", err)
			}
			if headers == nil {
				headers = make(map[string]string, 1)
			}
			headers["Authorization"] = "Bearer " + token
		}
		cfg.Transport = host.TransportConfig{
			Type:    TransportHTTP,
			URL:     t.URL,
			Headers: headers,
		}
	default:
		return host.ServerConfig{}, ErrInvalidDescriptor(fmt.Sprintf("%s has no transport", d.ID))
	}
	return cfg, nil
}

// Disconnect stops the server and closes its session. Pending calls fail
// with ErrDisconnected. Local state is cleared even when the host stop call
// fails; that error is returned.
func (s *Supervisor) Disconnect(ctx context.Context, id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	_, stopErr := s.host.Invoke(ctx, host.CmdStopServer, host.ServerArgs{ServerID: id})

	s.teardown(id)
	s.setStatus(id, StatusDisconnected, "")

	if stopErr != nil {
		s.logger.Warn("host stop failed during disconnect", "server", id, "error", stopErr)
		return HostCallError(host.CmdStopServer, stopErr)
	}
	return nil
}

// DisconnectAll disconnects every known server in id order. Every server is
// attempted; the per-server outcomes are returned.
func (s *Supervisor) DisconnectAll(ctx context.Context) []ServerResult {
	s.mu.RLock()
	known := make(map[string]struct{}, len(s.statuses)+len(s.sessions))
	for id := range s.statuses {
		known[id] = struct{}{}
	}
	for id := range s.sessions {
		known[id] = struct{}{}
	}
	s.mu.RUnlock()

	ids := slices.Sorted(maps.Keys(known))
	results := make([]ServerResult, 0, len(ids))
	for _, id := range ids {
		err := s.Disconnect(ctx, id)
		if err != nil {
			s.logger.Warn("failed to disconnect mcp server", "server", id, "error", err)
		}
		results = append(results, ServerResult{ServerID: id, Err: err})
	}

	s.mu.Lock()
	clear(s.sessions)
	clear(s.statuses)
	clear(s.unsubs)
	s.mu.Unlock()

	return results
}

// Reconnect disconnects id and connects it again with the descriptor of
// its last connect.
func (s *Supervisor) Reconnect(ctx context.Context, id string) error {
	s.mu.RLock()
	d, ok := s.descriptors[id]
	s.mu.RUnlock()
	if !ok {
		return ErrServerNotFound(id)
	}

	if err := s.Disconnect(ctx, id); err != nil {
		s.logger.Debug("disconnect before reconnect failed", "server", id, "error", err)
	}
	return s.Connect(ctx, id, d)
}

func (s *Supervisor) setStatus(id string, status ConnectionStatus, message string) {
	s.mu.Lock()
	prev := s.statuses[id]
	s.statuses[id] = status
	s.mu.Unlock()

	recordStatus(id, status)
	s.hub.Publish(StatusEvent{
		ServerID: id,
		Status:   status,
		Previous: prev,
		Message:  message,
	})
}

// Subscribe registers fn for every status transition.
func (s *Supervisor) Subscribe(fn func(StatusEvent)) (unsubscribe func()) {
	return s.hub.Subscribe(fn)
}

// Status returns the status of id, disconnected when unknown.
func (s *Supervisor) Status(id string) ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.statuses[id]; ok {
		return st
	}
	return StatusDisconnected
}

// Statuses returns a copy of the status map.
func (s *Supervisor) Statuses() map[string]ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.statuses)
}

// Connected returns the ids that have an open session, sorted.
func (s *Supervisor) Connected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.sessions))
}

// Descriptor returns the descriptor id was last connected with.
func (s *Supervisor) Descriptor(id string) (ServerDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.descriptors[id]
	return d.Clone(), ok
}

// WaitForStatus blocks until id reaches one of want or ctx is done.
func (s *Supervisor) WaitForStatus(ctx context.Context, id string, want ...ConnectionStatus) (ConnectionStatus, error) {
	ch := make(chan ConnectionStatus, 1)
	unsub := s.hub.Subscribe(func(ev StatusEvent) {
		if ev.ServerID == id && slices.Contains(want, ev.Status) {
			select {
			case ch <- ev.Status:
			default:
			}
		}
	})
	defer unsub()

	if st := s.Status(id); slices.Contains(want, st) {
		return st, nil
	}

	select {
	case st := <-ch:
		return st, nil
	case <-ctx.Done():
		return s.Status(id), fmt.Errorf("waiting for %s: %w", id, ctx.Err())
	}
}

// Messages returns up to n unsolicited messages received from id, oldest
// first. n <= 0 returns all retained messages.
func (s *Supervisor) Messages(id string, n int) []MessageEntry {
	return s.messages.Get(id, n)
}

func (s *Supervisor) session(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, NotConnectedError(id)
	}
	return session, nil
}

// InvokeTool calls a tool and returns the raw tools/call result.
func (s *Supervisor) InvokeTool(ctx context.Context, id, toolName string, args map[string]any) (json.RawMessage, error) {
	session, err := s.session(id)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return session.Call(ctx, "tools/call", map[string]any{
		"name":      toolName,
		"arguments": args,
	})
}

// ReadResource reads a resource and returns the raw resources/read result.
func (s *Supervisor) ReadResource(ctx context.Context, id, uri string) (json.RawMessage, error) {
	session, err := s.session(id)
	if err != nil {
		return nil, err
	}
	return session.Call(ctx, "resources/read", map[string]any{"uri": uri})
}

// ListTools returns the tools of id. A result without tools yields an empty
// list.
func (s *Supervisor) ListTools(ctx context.Context, id string) ([]Tool, error) {
	session, err := s.session(id)
	if err != nil {
		return nil, err
	}
	raw, err := session.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []Tool `json:"tools"`
	}
	if err := decodeResult(raw, &result); err != nil {
		return nil, newProtocolError("malformed tools/list result from "+id, err)
	}
	if result.Tools == nil {
		result.Tools = []Tool{}
	}
	return result.Tools, nil
}

// ListResources returns the resources of id. A result without resources
// yields an empty list.
func (s *Supervisor) ListResources(ctx context.Context, id string) ([]Resource, error) {
	session, err := s.session(id)
	if err != nil {
		return nil, err
	}
	raw, err := session.Call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Resources []Resource `json:"resources"`
	}
	if err := decodeResult(raw, &result); err != nil {
		return nil, newProtocolError("malformed resources/list result from "+id, err)
	}
	if result.Resources == nil {
		result.Resources = []Resource{}
	}
	return result.Resources, nil
}

// ListAllTools lists the tools of every server with an open session
// concurrently. A failing server is reported in its listing and does not
// affect the others.
func (s *Supervisor) ListAllTools(ctx context.Context) []ToolListing {
	ids := s.Connected()
	listings := make([]ToolListing, len(ids))

	var g errgroup.Group
	g.SetLimit(8)
	for i, id := range ids {
		g.Go(func() error {
			tools, err := s.ListTools(ctx, id)
			listings[i] = ToolListing{ServerID: id, Tools: tools, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return listings
}

// Close stops pending status checks and closes every session without
// contacting the host.
func (s *Supervisor) Close() {
	s.mu.RLock()
	ids := slices.Collect(maps.Keys(s.sessions))
	s.mu.RUnlock()
	for _, id := range ids {
		s.teardown(id)
	}
}

func decodeResult(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
