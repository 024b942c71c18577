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
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stdioDescriptor(command string, args ...string) ServerDescriptor {
	return ServerDescriptor{
		Name:      command,
		Transport: Transport{Stdio: &StdioTransport{Command: command, Args: args}},
	}
}

func TestRegistry_AddUserServer(t *testing.T) {
	r := NewRegistry()

	d := stdioDescriptor("node", "server.js")
	d.ID = "ignored"
	d.Builtin = true
	require.NoError(t, r.AddUserServer("notes", d))

	got, ok := r.UserServer("notes")
	require.True(t, ok)
	assert.Equal(t, "notes", got.ID)
	assert.False(t, got.Builtin)
	assert.Equal(t, "node", got.Transport.Stdio.Command)

	// The stored copy is independent of the caller's descriptor.
	d.Transport.Stdio.Args[0] = "changed"
	got, _ = r.UserServer("notes")
	assert.Equal(t, []string{"server.js"}, got.Transport.Stdio.Args)
}

func TestRegistry_DuplicateLeavesRegistryUnchanged(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddUserServer("notes", stdioDescriptor("node", "a.js")))
	r.SetServerEnabled("notes", true)

	before, err := json.Marshal(r)
	require.NoError(t, err)

	err = r.AddUserServer("notes", stdioDescriptor("python3", "b.py"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateName))
	assert.Contains(t, err.Error(), "notes")

	after, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestRegistry_RejectsInvalidTransportShape(t *testing.T) {
	tests := map[string]Transport{
		"no shape": {},
		"both shapes": {
			Stdio: &StdioTransport{Command: "node"},
			HTTP:  &HTTPTransport{URL: "https://mcp.example.com"},
		},
	}

	for name, tr := range tests {
		t.Run(name, func(t *testing.T) {
			r := NewRegistry()
			require.NoError(t, r.AddUserServer("notes", stdioDescriptor("node")))
			r.SetServerEnabled("notes", true)
			before, err := json.Marshal(r)
			require.NoError(t, err)

			err = r.AddUserServer("bad", ServerDescriptor{Name: "Bad", Transport: tr})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			assert.Contains(t, err.Error(), "bad")

			_, ok := r.UserServer("bad")
			assert.False(t, ok)
			after, err := json.Marshal(r)
			require.NoError(t, err)
			assert.JSONEq(t, string(before), string(after))
		})
	}
}

func TestRegistry_JSONRoundTripIsExact(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddUserServer("bare", stdioDescriptor("node")))
	require.NoError(t, r.AddUserServer("remote", ServerDescriptor{
		Name:      "Remote",
		Transport: Transport{HTTP: &HTTPTransport{URL: "https://mcp.example.com"}},
	}))
	r.SetServerEnabled("bare", true)

	bare, _ := r.UserServer("bare")
	assert.NotNil(t, bare.Transport.Stdio.Args)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	restored := NewRegistry()
	require.NoError(t, json.Unmarshal(data, restored))

	assert.Equal(t, r.UserServers(), restored.UserServers())
	assert.Equal(t, r.EnabledIDs(), restored.EnabledIDs())

	// A persisted entry without args loads the same way.
	require.NoError(t, json.Unmarshal([]byte(`{"userServers":{"bare":{"name":"node","transport":{"type":"stdio","command":"node"}}},"enabledServers":[]}`), restored))
	loaded, ok := restored.UserServer("bare")
	require.True(t, ok)
	assert.Equal(t, bare, loaded)
}

func TestRegistry_RemoveUserServer(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddUserServer("notes", stdioDescriptor("node")))
	r.SetServerEnabled("notes", true)
	r.SetServerEnabled("filesystem", true)

	r.RemoveUserServer("notes")
	_, ok := r.UserServer("notes")
	assert.False(t, ok)
	assert.False(t, r.IsEnabled("notes"))

	// Built-in ids only live in the enabled set and are left alone.
	r.RemoveUserServer("filesystem")
	assert.True(t, r.IsEnabled("filesystem"))

	r.RemoveUserServer("missing")
	assert.Equal(t, []string{"filesystem"}, r.EnabledIDs())
}

func TestRegistry_GetEnabledServers(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddUserServer("zeta", stdioDescriptor("z")))
	require.NoError(t, r.AddUserServer("alpha", stdioDescriptor("a")))
	require.NoError(t, r.AddUserServer("off", stdioDescriptor("o")))
	r.SetServerEnabled("zeta", true)
	r.SetServerEnabled("alpha", true)
	r.SetServerEnabled("git", true)

	got := r.GetEnabledServers()
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].ID)
	assert.Equal(t, "zeta", got[1].ID)

	r.SetServerEnabled("zeta", false)
	assert.Len(t, r.GetEnabledServers(), 1)
	assert.Equal(t, []string{"alpha", "git"}, r.EnabledIDs())
}

func TestRegistry_JSONRoundTrip(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddUserServer("notes", ServerDescriptor{
		Name: "Notes",
		Transport: Transport{Stdio: &StdioTransport{
			Command: "node",
			Args:    []string{"${VAULT_PATH}"},
			Env:     map[string]string{"TOKEN": "${TOKEN}"},
		}},
		Capabilities: Capabilities{Tools: true},
	}))
	require.NoError(t, r.AddUserServer("remote", ServerDescriptor{
		Name:      "Remote",
		Transport: Transport{HTTP: &HTTPTransport{URL: "https://mcp.example.com", BearerToken: "keyring:remote"}},
	}))
	r.SetServerEnabled("notes", true)
	r.SetServerEnabled("filesystem", true)

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Len(t, raw, 2)
	assert.Contains(t, raw, "userServers")
	assert.Contains(t, raw, "enabledServers")

	restored := NewRegistry()
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, r.UserServers(), restored.UserServers())
	assert.Equal(t, r.EnabledIDs(), restored.EnabledIDs())

	again, err := json.Marshal(restored)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestRegistry_UnmarshalEmpty(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddUserServer("notes", stdioDescriptor("node")))

	require.NoError(t, json.Unmarshal([]byte(`{}`), r))
	assert.Empty(t, r.UserServers())
	assert.Empty(t, r.EnabledIDs())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("server-%d", i)
			_ = r.AddUserServer(id, stdioDescriptor("node"))
			r.SetServerEnabled(id, true)
			_ = r.GetEnabledServers()
		}()
	}
	wg.Wait()
	assert.Len(t, r.GetEnabledServers(), 50)
}

func TestExpand(t *testing.T) {
	in := ServerDescriptor{
		ID: "fs",
		Transport: Transport{Stdio: &StdioTransport{
			Command:    "${BUNDLE_PATH}/mcp-servers/fs",
			Args:       []string{"--root", "${VAULT_PATH}", "${VAULT_PATH}/${VAULT_PATH}", "${UNKNOWN}"},
			Env:        map[string]string{"VAULT_PATH": "${VAULT_PATH}", "HOME": "/home/u"},
			WorkingDir: "${VAULT_PATH}",
		}},
	}

	out := Expand(in, PathVars("/v", "/b"))

	s := out.Transport.Stdio
	assert.Equal(t, "/b/mcp-servers/fs", s.Command)
	assert.Equal(t, []string{"--root", "/v", "/v//v", "${UNKNOWN}"}, s.Args)
	assert.Equal(t, map[string]string{"VAULT_PATH": "/v", "HOME": "/home/u"}, s.Env)
	assert.Equal(t, "/v", s.WorkingDir)

	// The input is untouched and shares no storage with the output.
	assert.Equal(t, "${BUNDLE_PATH}/mcp-servers/fs", in.Transport.Stdio.Command)
	assert.Equal(t, "${VAULT_PATH}", in.Transport.Stdio.Args[1])
	assert.Equal(t, "${VAULT_PATH}", in.Transport.Stdio.Env["VAULT_PATH"])
	s.Args[0] = "mutated"
	s.Env["HOME"] = "mutated"
	assert.Equal(t, "--root", in.Transport.Stdio.Args[0])
	assert.Equal(t, "/home/u", in.Transport.Stdio.Env["HOME"])
	assert.NotSame(t, in.Transport.Stdio, out.Transport.Stdio)
}

func TestExpand_HTTPUnchanged(t *testing.T) {
	in := ServerDescriptor{Transport: Transport{HTTP: &HTTPTransport{URL: "https://x/${VAULT_PATH}"}}}
	out := Expand(in, PathVars("/v", "/b"))
	assert.Equal(t, "https://x/${VAULT_PATH}", out.Transport.HTTP.URL)
	assert.NotSame(t, in.Transport.HTTP, out.Transport.HTTP)
}
