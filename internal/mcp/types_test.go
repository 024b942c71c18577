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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		kind    string
		wantErr bool
	}{
		{name: "stdio", input: `{"type":"stdio","command":"node","args":["a"]}`, kind: TransportStdio},
		{name: "http", input: `{"type":"http","url":"https://x"}`, kind: TransportHTTP},
		{name: "sse is treated as http", input: `{"type":"sse","url":"https://x/sse"}`, kind: TransportHTTP},
		{name: "unknown tag", input: `{"type":"websocket"}`, wantErr: true},
		{name: "missing tag", input: `{"command":"node"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tr Transport
			err := json.Unmarshal([]byte(tt.input), &tr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, tr.Kind())
		})
	}
}

func TestTransport_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Transport{Stdio: &StdioTransport{Command: "node"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"stdio","command":"node","args":[]}`, string(data))

	data, err = json.Marshal(Transport{HTTP: &HTTPTransport{URL: "https://x"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"http","url":"https://x"}`, string(data))

	_, err = json.Marshal(Transport{})
	assert.Error(t, err)

	_, err = json.Marshal(Transport{Stdio: &StdioTransport{}, HTTP: &HTTPTransport{}})
	assert.Error(t, err)
}

func TestServerDescriptor_Clone(t *testing.T) {
	d := ServerDescriptor{
		ID: "x",
		Transport: Transport{Stdio: &StdioTransport{
			Command: "node",
			Args:    []string{"a"},
			Env:     map[string]string{"K": "v"},
		}},
	}
	c := d.Clone()
	c.Transport.Stdio.Args[0] = "b"
	c.Transport.Stdio.Env["K"] = "w"
	c.Transport.Stdio.Command = "python3"

	assert.Equal(t, "a", d.Transport.Stdio.Args[0])
	assert.Equal(t, "v", d.Transport.Stdio.Env["K"])
	assert.Equal(t, "node", d.Transport.Stdio.Command)
}
