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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/mcphost/internal/host"
	"github.com/tombee/mcphost/internal/host/hosttest"
	"github.com/tombee/mcphost/internal/secrets"
)

func newTestSupervisor(t *testing.T, h host.Host) *Supervisor {
	t.Helper()
	s := NewSupervisor(SupervisorConfig{
		Host:             h,
		Secrets:          secrets.NewResolver(secrets.EnvBackend{}),
		RequestTimeout:   2 * time.Second,
		StatusCheckDelay: -1,
		StopSettleDelay:  -1,
	})
	t.Cleanup(s.Close)
	return s
}

// statusRecorder collects status events.
type statusRecorder struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (r *statusRecorder) record(ev StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *statusRecorder) statuses(id string) []ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ConnectionStatus
	for _, ev := range r.events {
		if ev.ServerID == id {
			out = append(out, ev.Status)
		}
	}
	return out
}

func TestSupervisor_ConcurrentConnectStartsOnce(t *testing.T) {
	h := hosttest.New()
	s := newTestSupervisor(t, h)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Connect(context.Background(), "x", stdioDescriptor("node")))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.CallCount(host.CmdStartServer))
	assert.Equal(t, StatusConnecting, s.Status("x"))
}

func TestSupervisor_ConnectSequence(t *testing.T) {
	h := hosttest.New()
	s := newTestSupervisor(t, h)
	rec := &statusRecorder{}
	s.Subscribe(rec.record)

	d := stdioDescriptor("node", "server.js")
	d.Transport.Stdio.Env = map[string]string{"API_KEY": "secret"}
	d.Capabilities = Capabilities{Tools: true}
	require.NoError(t, s.Connect(context.Background(), "x", d))

	invs := h.Invocations()
	require.Len(t, invs, 2)
	assert.Equal(t, host.CmdStopServer, invs[0].Command)
	assert.Equal(t, host.CmdStartServer, invs[1].Command)

	var args host.StartServerArgs
	require.NoError(t, json.Unmarshal(invs[1].Args, &args))
	assert.Equal(t, "x", args.ServerID)
	assert.True(t, args.Config.Enabled)
	assert.True(t, args.Config.Capabilities.Tools)
	assert.Equal(t, TransportStdio, args.Config.Transport.Type)
	assert.Equal(t, "node", args.Config.Transport.Command)
	assert.Equal(t, []string{"server.js"}, args.Config.Transport.Args)
	assert.Equal(t, "secret", args.Config.Transport.Env["API_KEY"])

	h.Emit(host.ConnectedEvent("x"), host.ConnectedPayload{ServerID: "x"})
	assert.Equal(t, StatusConnected, s.Status("x"))

	h.Emit(host.StoppedEvent("x"), host.StoppedPayload{ServerID: "x"})
	assert.Equal(t, StatusStopped, s.Status("x"))

	assert.Equal(t, []ConnectionStatus{StatusConnecting, StatusConnected, StatusStopped}, rec.statuses("x"))
}

func TestSupervisor_StoppedEventDropsSession(t *testing.T) {
	h := hosttest.New()
	s := newTestSupervisor(t, h)

	require.NoError(t, s.Connect(context.Background(), "x", stdioDescriptor("node")))
	h.Emit(host.ConnectedEvent("x"), host.ConnectedPayload{ServerID: "x"})
	require.Equal(t, []string{"x"}, s.Connected())
	require.Positive(t, h.SubscriberCount(host.StoppedEvent("x")))

	h.Emit(host.StoppedEvent("x"), host.StoppedPayload{ServerID: "x"})

	assert.Equal(t, StatusStopped, s.Status("x"))
	assert.Empty(t, s.Connected())
	assert.Zero(t, h.SubscriberCount(host.StoppedEvent("x")))
	assert.Zero(t, h.SubscriberCount(host.MessageEvent("x")))

	_, err := s.ListTools(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.Contains(t, err.Error(), "x not connected")

	_, err = s.InvokeTool(context.Background(), "x", "echo", nil)
	assert.True(t, errors.Is(err, ErrNotConnected))

	// The server can be connected again.
	require.NoError(t, s.Connect(context.Background(), "x", stdioDescriptor("node")))
	assert.Equal(t, []string{"x"}, s.Connected())
}

func TestSupervisor_BearerTokenBecomesHeader(t *testing.T) {
	t.Setenv("MCPHOST_TEST_TOKEN", "s3cret")

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{name: "literal", token: "abc", want: "Bearer abc"},
		{name: "env reference", token: "env:MCPHOST_TEST_TOKEN", want: "Bearer s3cret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := hosttest.New()
			s := newTestSupervisor(t, h)

			d := ServerDescriptor{Transport: Transport{HTTP: &HTTPTransport{
				URL:         "https://mcp.example.com/mcp",
				Headers:     map[string]string{"X-Team": "core"},
				BearerToken: tt.token,
			}}}
			require.NoError(t, s.Connect(context.Background(), "remote", d))

			calls := h.Calls(host.CmdStartServer)
			require.Len(t, calls, 1)
			var args host.StartServerArgs
			require.NoError(t, json.Unmarshal(calls[0].Args, &args))
			assert.Equal(t, TransportHTTP, args.Config.Transport.Type)
			assert.Equal(t, "https://mcp.example.com/mcp", args.Config.Transport.URL)
			assert.Equal(t, map[string]string{"X-Team": "core", "Authorization": tt.want}, args.Config.Transport.Headers)

			// The stored descriptor is not modified.
			stored, ok := s.Descriptor("remote")
			require.True(t, ok)
			assert.Equal(t, map[string]string{"X-Team": "core"}, stored.Transport.HTTP.Headers)
		})
	}
}

func TestSupervisor_UnresolvableTokenFailsConnect(t *testing.T) {
	h := hosttest.New()
	s := newTestSupervisor(t, h)

	d := ServerDescriptor{Transport: Transport{HTTP: &HTTPTransport{
		URL:         "https://mcp.example.com/mcp",
		BearerToken: "env:MCPHOST_TEST_MISSING_TOKEN",
	}}}
	err := s.Connect(context.Background(), "remote", d)
	require.Error(t, err)
	assert.Equal(t, StatusError, s.Status("remote"))
	assert.Zero(t, h.CallCount(host.CmdStartServer))
	assert.Empty(t, s.Connected())
}

func TestSupervisor_StartFailure(t *testing.T) {
	h := hosttest.New()
	h.Fail(host.CmdStartServer, errors.New("spawn failed"))
	s := newTestSupervisor(t, h)
	rec := &statusRecorder{}
	s.Subscribe(rec.record)

	err := s.Connect(context.Background(), "x", stdioDescriptor("missing-binary"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHostCallFailure))
	assert.Contains(t, err.Error(), "spawn failed")

	assert.Equal(t, StatusError, s.Status("x"))
	assert.Empty(t, s.Connected())
	assert.Zero(t, h.SubscriberCount(host.MessageEvent("x")))
	assert.Equal(t, []ConnectionStatus{StatusConnecting, StatusError}, rec.statuses("x"))

	// A failed server may be connected again.
	h.Reply(host.CmdStartServer, nil)
	require.NoError(t, s.Connect(context.Background(), "x", stdioDescriptor("node")))
	assert.Equal(t, StatusConnecting, s.Status("x"))
}

func TestSupervisor_StatusRecheckPromotes(t *testing.T) {
	h := hosttest.New()
	h.Reply(host.CmdGetServerStatuses, map[string]host.ServerStatus{
		"x": {Status: host.StatusConnected},
	})
	s := NewSupervisor(SupervisorConfig{
		Host:             h,
		StatusCheckDelay: 10 * time.Millisecond,
		StopSettleDelay:  -1,
	})
	defer s.Close()

	require.NoError(t, s.Connect(context.Background(), "x", stdioDescriptor("node")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := s.WaitForStatus(ctx, "x", StatusConnected)
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, st)
}

func TestSupervisor_RecheckIgnoresOtherStatuses(t *testing.T) {
	h := hosttest.New()
	h.Reply(host.CmdGetServerStatuses, map[string]host.ServerStatus{
		"x": {Status: host.StatusStarting},
	})
	s := NewSupervisor(SupervisorConfig{
		Host:             h,
		StatusCheckDelay: 5 * time.Millisecond,
		StopSettleDelay:  -1,
	})
	defer s.Close()

	require.NoError(t, s.Connect(context.Background(), "x", stdioDescriptor("node")))
	require.Eventually(t, func() bool {
		return h.CallCount(host.CmdGetServerStatuses) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StatusConnecting, s.Status("x"))
}

func TestSupervisor_DisconnectRejectsPendingCalls(t *testing.T) {
	h := hosttest.New()
	s := newTestSupervisor(t, h)
	require.NoError(t, s.Connect(context.Background(), "x", stdioDescriptor("node")))

	session, err := s.session("x")
	require.NoError(t, err)

	errs := make(chan error, 2)
	go func() {
		_, err := s.InvokeTool(context.Background(), "x", "slow", nil)
		errs <- err
	}()
	go func() {
		_, err := s.ListTools(context.Background(), "x")
		errs <- err
	}()
	require.Eventually(t, func() bool { return session.Pending() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Disconnect(context.Background(), "x"))
	for range 2 {
		assert.True(t, errors.Is(<-errs, ErrDisconnected))
	}

	assert.Equal(t, StatusDisconnected, s.Status("x"))
	assert.Empty(t, s.Connected())
	assert.Zero(t, h.SubscriberCount(host.ConnectedEvent("x")))

	_, err = s.InvokeTool(context.Background(), "x", "slow", nil)
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestSupervisor_DisconnectHostFailureStillClears(t *testing.T) {
	h := hosttest.New()
	s := newTestSupervisor(t, h)
	require.NoError(t, s.Connect(context.Background(), "x", stdioDescriptor("node")))

	h.Fail(host.CmdStopServer, errors.New("no such process"))
	err := s.Disconnect(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrHostCallFailure))
	assert.Equal(t, StatusDisconnected, s.Status("x"))
	assert.Empty(t, s.Connected())
}

func TestSupervisor_DisconnectAll(t *testing.T) {
	h := hosttest.New()
	s := newTestSupervisor(t, h)
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Connect(context.Background(), id, stdioDescriptor("node")))
	}

	h.On(host.CmdStopServer, func(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var args host.ServerArgs
		require.NoError(t, json.Unmarshal(raw, &args))
		if args.ServerID == "b" {
			return nil, errors.New("stuck")
		}
		return nil, nil
	})

	results := s.DisconnectAll(context.Background())
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].ServerID)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "b", results[1].ServerID)
	assert.Error(t, results[1].Err)
	assert.Equal(t, "c", results[2].ServerID)
	assert.NoError(t, results[2].Err)

	assert.Empty(t, s.Connected())
	assert.Empty(t, s.Statuses())

	data, err := json.Marshal(results[1])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"error":"host call stop_mcp_server failed: stuck"`)
}

func TestSupervisor_Reconnect(t *testing.T) {
	h := hosttest.New()
	s := newTestSupervisor(t, h)

	err := s.Reconnect(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Connect(context.Background(), "x", stdioDescriptor("node", "v1.js")))
	h.Emit(host.ConnectedEvent("x"), host.ConnectedPayload{ServerID: "x"})

	require.NoError(t, s.Reconnect(context.Background(), "x"))
	assert.Equal(t, 2, h.CallCount(host.CmdStartServer))
	assert.Equal(t, StatusConnecting, s.Status("x"))

	d, ok := s.Descriptor("x")
	require.True(t, ok)
	assert.Equal(t, []string{"v1.js"}, d.Transport.Stdio.Args)
}

func TestSupervisor_ListTools(t *testing.T) {
	h := hosttest.New()
	h.OnRPC(func(serverID string, req hosttest.RPCRequest) (any, *hosttest.RPCError) {
		switch {
		case serverID == "empty":
			return map[string]any{}, nil
		case serverID == "broken":
			return nil, &hosttest.RPCError{Code: -32603, Message: "internal error"}
		case req.Method == "tools/list":
			return map[string]any{"tools": []map[string]any{
				{"name": "read_note", "description": "Read a note", "inputSchema": map[string]any{"type": "object"}},
			}}, nil
		case req.Method == "resources/list":
			return map[string]any{"resources": []map[string]any{{"uri": "note://a", "name": "a"}}}, nil
		}
		return nil, &hosttest.RPCError{Code: -32601, Message: "method not found"}
	})
	s := newTestSupervisor(t, h)

	_, err := s.ListTools(context.Background(), "notes")
	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.Contains(t, err.Error(), "notes not connected")

	for _, id := range []string{"notes", "empty", "broken"} {
		require.NoError(t, s.Connect(context.Background(), id, stdioDescriptor("node")))
	}

	tools, err := s.ListTools(context.Background(), "notes")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "read_note", tools[0].Name)

	tools, err = s.ListTools(context.Background(), "empty")
	require.NoError(t, err)
	assert.NotNil(t, tools)
	assert.Empty(t, tools)

	resources, err := s.ListResources(context.Background(), "notes")
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "note://a", resources[0].URI)

	resources, err = s.ListResources(context.Background(), "empty")
	require.NoError(t, err)
	assert.NotNil(t, resources)

	_, err = s.ListTools(context.Background(), "broken")
	assert.True(t, errors.Is(err, ErrProtocol))
	assert.Contains(t, err.Error(), "internal error")

	listings := s.ListAllTools(context.Background())
	require.Len(t, listings, 3)
	assert.Equal(t, "broken", listings[0].ServerID)
	assert.Error(t, listings[0].Err)
	assert.Equal(t, "empty", listings[1].ServerID)
	assert.NoError(t, listings[1].Err)
	assert.Equal(t, "notes", listings[2].ServerID)
	assert.Len(t, listings[2].Tools, 1)
}

func TestSupervisor_InvokeToolRequest(t *testing.T) {
	h := hosttest.New()
	var got hosttest.RPCRequest
	h.OnRPC(func(_ string, req hosttest.RPCRequest) (any, *hosttest.RPCError) {
		got = req
		return map[string]any{"content": []any{}}, nil
	})
	s := newTestSupervisor(t, h)
	require.NoError(t, s.Connect(context.Background(), "x", stdioDescriptor("node")))

	_, err := s.InvokeTool(context.Background(), "x", "search", map[string]any{"q": "go"})
	require.NoError(t, err)
	assert.Equal(t, "tools/call", got.Method)
	assert.JSONEq(t, `{"name":"search","arguments":{"q":"go"}}`, string(got.Params))

	_, err = s.InvokeTool(context.Background(), "x", "noargs", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"noargs","arguments":{}}`, string(got.Params))

	_, err = s.ReadResource(context.Background(), "x", "note://a")
	require.NoError(t, err)
	assert.Equal(t, "resources/read", got.Method)
	assert.JSONEq(t, `{"uri":"note://a"}`, string(got.Params))
}

func TestSupervisor_MessagesKeepUnsolicited(t *testing.T) {
	h := hosttest.New()
	var observed []string
	s := NewSupervisor(SupervisorConfig{
		Host:             h,
		StatusCheckDelay: -1,
		StopSettleDelay:  -1,
		MessageHistory:   2,
		OnMessage: func(id string, entry MessageEntry) {
			observed = append(observed, id+":"+entry.Method)
		},
	})
	defer s.Close()
	require.NoError(t, s.Connect(context.Background(), "x", stdioDescriptor("node")))

	for _, method := range []string{"a", "b", "c"} {
		h.EmitMessage("x", map[string]any{"jsonrpc": "2.0", "method": "notifications/" + method})
	}

	msgs := s.Messages("x", 0)
	require.Len(t, msgs, 2)
	assert.Equal(t, "notifications/b", msgs[0].Method)
	assert.Equal(t, "notifications/c", msgs[1].Method)
	assert.Len(t, s.Messages("x", 1), 1)
	assert.Empty(t, s.Messages("other", 0))
	assert.Equal(t, []string{"x:notifications/a", "x:notifications/b", "x:notifications/c"}, observed)
}

func TestSupervisor_WaitForStatusTimeout(t *testing.T) {
	s := newTestSupervisor(t, hosttest.New())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := s.WaitForStatus(ctx, "x", StatusConnected)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusDisconnected, st)
}

func TestSupervisor_SubscriberPanicIsIsolated(t *testing.T) {
	h := hosttest.New()
	s := newTestSupervisor(t, h)
	rec := &statusRecorder{}
	s.Subscribe(func(StatusEvent) { panic("boom") })
	unsub := s.Subscribe(rec.record)

	require.NoError(t, s.Connect(context.Background(), "x", stdioDescriptor("node")))
	assert.Equal(t, []ConnectionStatus{StatusConnecting}, rec.statuses("x"))

	unsub()
	h.Emit(host.ConnectedEvent("x"), host.ConnectedPayload{ServerID: "x"})
	assert.Len(t, rec.statuses("x"), 1)
}

func newEchoServer() *server.MCPServer {
	srv := server.NewMCPServer("echo", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
	)
	srv.AddTool(
		mcpgo.NewTool("echo", mcpgo.WithDescription("Echo input"), mcpgo.WithString("text", mcpgo.Required())),
		func(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			return mcpgo.NewToolResultText(req.GetString("text", "")), nil
		},
	)
	srv.AddResource(
		mcpgo.NewResource("note://hello", "hello", mcpgo.WithMIMEType("text/plain")),
		func(_ context.Context, req mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
			return []mcpgo.ResourceContents{
				mcpgo.TextResourceContents{URI: req.Params.URI, MIMEType: "text/plain", Text: "hello from the vault"},
			}, nil
		},
	)
	return srv
}

func newLocalHost(srv *server.MCPServer) *host.Local {
	return host.NewLocal(host.LocalConfig{
		Dial: func(context.Context, string, host.TransportConfig) (host.ToolClient, int, error) {
			c, err := client.NewInProcessClient(srv)
			return c, 0, err
		},
	})
}

func TestSupervisor_LocalHostEndToEnd(t *testing.T) {
	h := newLocalHost(newEchoServer())
	s := newTestSupervisor(t, h)
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx, "echo", stdioDescriptor("echo-server")))

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, err := s.WaitForStatus(waitCtx, "echo", StatusConnected)
	require.NoError(t, err)

	tools, err := s.ListTools(ctx, "echo")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)

	result, err := s.InvokeTool(ctx, "echo", "echo", map[string]any{"text": "hi there"})
	require.NoError(t, err)
	assert.Contains(t, string(result), "hi there")

	content, err := s.ReadResource(ctx, "echo", "note://hello")
	require.NoError(t, err)
	assert.Contains(t, string(content), "hello from the vault")

	_, err = s.InvokeTool(ctx, "echo", "missing", nil)
	require.Error(t, err)

	require.NoError(t, s.Disconnect(ctx, "echo"))
	assert.Equal(t, StatusDisconnected, s.Status("echo"))
}
