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
	"fmt"
	"maps"
	"slices"
)

// Transport kinds as they appear in the "type" field on the wire.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// ServerDescriptor declares how to reach one tool server.
type ServerDescriptor struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Transport    Transport    `json:"transport"`
	Capabilities Capabilities `json:"capabilities"`
	Permissions  Permissions  `json:"permissions"`
	Builtin      bool         `json:"builtin"`
}

// Clone returns a deep copy of d.
func (d ServerDescriptor) Clone() ServerDescriptor {
	d.Transport = d.Transport.Clone()
	return d
}

// Transport is a tagged union: exactly one of Stdio or HTTP is set.
type Transport struct {
	Stdio *StdioTransport
	HTTP  *HTTPTransport
}

// StdioTransport launches the server as a child process.
type StdioTransport struct {
	Command    string            `json:"command"`
	Args       []string          `json:"args"`
	Env        map[string]string `json:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
}

// HTTPTransport reaches the server over streamable HTTP.
type HTTPTransport struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	// BearerToken is a literal token or a secret reference such as
	// "keyring:<name>". It becomes an Authorization header on connect.
	BearerToken string `json:"bearer_token,omitempty"`
}

// Kind returns "stdio", "http" or "" when no shape is populated.
func (t Transport) Kind() string {
	switch {
	case t.Stdio != nil:
		return TransportStdio
	case t.HTTP != nil:
		return TransportHTTP
	default:
		return ""
	}
}

// Clone returns a deep copy of t.
func (t Transport) Clone() Transport {
	var out Transport
	if t.Stdio != nil {
		s := *t.Stdio
		s.Args = slices.Clone(t.Stdio.Args)
		s.Env = maps.Clone(t.Stdio.Env)
		out.Stdio = &s
	}
	if t.HTTP != nil {
		h := *t.HTTP
		h.Headers = maps.Clone(t.HTTP.Headers)
		out.HTTP = &h
	}
	return out
}

// MarshalJSON flattens the populated shape and adds the "type" tag.
func (t Transport) MarshalJSON() ([]byte, error) {
	switch {
	case t.Stdio != nil && t.HTTP != nil:
		return nil, fmt.Errorf("transport has both stdio and http shapes")
	case t.Stdio != nil:
		s := *t.Stdio
		if s.Args == nil {
			s.Args = []string{}
		}
		return json.Marshal(struct {
			Type string `json:"type"`
			StdioTransport
		}{TransportStdio, s})
	case t.HTTP != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			HTTPTransport
		}{TransportHTTP, *t.HTTP})
	default:
		return nil, fmt.Errorf("transport has no shape")
	}
}

// UnmarshalJSON resolves the shape from the "type" tag.
func (t *Transport) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}

	*t = Transport{}
	switch tag.Type {
	case TransportStdio:
		var s StdioTransport
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t.Stdio = &s
	case TransportHTTP, "sse":
		var h HTTPTransport
		if err := json.Unmarshal(data, &h); err != nil {
			return err
		}
		t.HTTP = &h
	default:
		return fmt.Errorf("unknown transport type %q", tag.Type)
	}
	return nil
}

// Capabilities are the features requested from a server.
type Capabilities struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
	Prompts   bool `json:"prompts"`
	Sampling  bool `json:"sampling"`
}

// Permissions bound what a server may do on the user's behalf.
type Permissions struct {
	Read           bool `json:"read"`
	Write          bool `json:"write"`
	Delete         bool `json:"delete"`
	ExternalAccess bool `json:"external_access"`
}

// ConnectionStatus is the supervisor's view of one server.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusStopped      ConnectionStatus = "stopped"
	StatusError        ConnectionStatus = "error"
)

// Tool is one entry of a tools/list result.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Resource is one entry of a resources/list result.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Request is a JSON-RPC 2.0 request. A nil ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response or an unsolicited message.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}
