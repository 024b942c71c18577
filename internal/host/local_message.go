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
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// rpcEnvelope is the JSON-RPC request accepted by send_mcp_message.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcErrorObject `json:"error,omitempty"`
}

type rpcErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// sendMessage dispatches one JSON-RPC request to the server's typed client
// and returns the encoded response as a JSON string.
func (l *Local) sendMessage(ctx context.Context, id, message string) (json.RawMessage, error) {
	var req rpcEnvelope
	if err := json.Unmarshal([]byte(message), &req); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC message: %w", err)
	}

	l.mu.RLock()
	entry, ok := l.servers[id]
	var (
		c          ToolClient
		status     ServerStatus
		initResult json.RawMessage
	)
	if ok {
		c, status, initResult = entry.client, entry.status, entry.initResult
	}
	l.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("server %s not found", id)
	}
	switch status.Status {
	case StatusConnected:
	case StatusStarting:
		return nil, fmt.Errorf("server %s is still starting", id)
	case StatusError:
		return nil, fmt.Errorf("server %s has error: %s", id, status.Message)
	default:
		return nil, fmt.Errorf("server %s is not ready", id)
	}

	// Notifications carry no id and get no reply.
	if len(req.ID) == 0 || string(req.ID) == "null" {
		return json.RawMessage("null"), nil
	}

	result, err := l.dispatch(ctx, c, req, initResult)
	reply := rpcReply{JSONRPC: mcp.JSONRPC_VERSION, ID: req.ID}
	if err != nil {
		reply.Error = &rpcErrorObject{Code: errorCode(err), Message: err.Error()}
	} else {
		reply.Result = result
	}

	encoded, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}
	return json.Marshal(string(encoded))
}

func (l *Local) dispatch(ctx context.Context, c ToolClient, req rpcEnvelope, initResult json.RawMessage) (any, error) {
	switch req.Method {
	case "initialize":
		return initResult, nil
	case "ping":
		if err := c.Ping(ctx); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	case "tools/list":
		return c.ListTools(ctx, mcp.ListToolsRequest{})
	case "tools/call":
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments,omitempty"`
		}
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		if p.Name == "" {
			return nil, fmt.Errorf("%w: tool name is required", mcp.ErrInvalidParams)
		}
		return c.CallTool(ctx, mcp.CallToolRequest{
			Params: mcp.CallToolParams{Name: p.Name, Arguments: p.Arguments},
		})
	case "resources/list":
		return c.ListResources(ctx, mcp.ListResourcesRequest{})
	case "resources/read":
		var p struct {
			URI string `json:"uri"`
		}
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		if p.URI == "" {
			return nil, fmt.Errorf("%w: uri is required", mcp.ErrInvalidParams)
		}
		return c.ReadResource(ctx, mcp.ReadResourceRequest{
			Params: mcp.ReadResourceParams{URI: p.URI},
		})
	default:
		return nil, fmt.Errorf("%w: %s", mcp.ErrMethodNotFound, req.Method)
	}
}

func unmarshalParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: params are required", mcp.ErrInvalidParams)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", mcp.ErrInvalidParams, err)
	}
	return nil
}

// errorCode maps mcp-go sentinel errors back to JSON-RPC codes.
func errorCode(err error) int {
	switch {
	case errors.Is(err, mcp.ErrParseError):
		return mcp.PARSE_ERROR
	case errors.Is(err, mcp.ErrInvalidRequest):
		return mcp.INVALID_REQUEST
	case errors.Is(err, mcp.ErrMethodNotFound):
		return mcp.METHOD_NOT_FOUND
	case errors.Is(err, mcp.ErrInvalidParams):
		return mcp.INVALID_PARAMS
	case errors.Is(err, mcp.ErrResourceNotFound):
		return mcp.RESOURCE_NOT_FOUND
	default:
		return mcp.INTERNAL_ERROR
	}
}
