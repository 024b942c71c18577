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
	"errors"
	"fmt"
	"strings"
	"time"
)

// MCPErrorCode represents a category of MCP error.
type MCPErrorCode string

const (
	// ErrorCodeTimeout indicates a request received no response in time.
	ErrorCodeTimeout MCPErrorCode = "TIMEOUT"
	// ErrorCodeDisconnected indicates a session closed with requests outstanding.
	ErrorCodeDisconnected MCPErrorCode = "DISCONNECTED"
	// ErrorCodeHostCallFailure indicates the host rejected a call.
	ErrorCodeHostCallFailure MCPErrorCode = "HOST_CALL_FAILURE"
	// ErrorCodeProtocol indicates a malformed reply or a JSON-RPC error object.
	ErrorCodeProtocol MCPErrorCode = "PROTOCOL"
	// ErrorCodeDuplicateName indicates a user server id is already taken.
	ErrorCodeDuplicateName MCPErrorCode = "DUPLICATE_NAME"
	// ErrorCodeUnknownAgent indicates no config dialect exists for an agent.
	ErrorCodeUnknownAgent MCPErrorCode = "UNKNOWN_AGENT"
	// ErrorCodeNotConnected indicates no session exists for a server.
	ErrorCodeNotConnected MCPErrorCode = "NOT_CONNECTED"
	// ErrorCodeNotFound indicates a server id does not resolve.
	ErrorCodeNotFound MCPErrorCode = "NOT_FOUND"
	// ErrorCodeValidation indicates a descriptor failed validation.
	ErrorCodeValidation MCPErrorCode = "VALIDATION"
	// ErrorCodeConfig indicates a configuration error.
	ErrorCodeConfig MCPErrorCode = "CONFIG"
)

// Sentinels for errors.Is. Any *MCPError with the same code matches.
var (
	ErrTimeout         = &MCPError{Code: ErrorCodeTimeout}
	ErrDisconnected    = &MCPError{Code: ErrorCodeDisconnected}
	ErrHostCallFailure = &MCPError{Code: ErrorCodeHostCallFailure}
	ErrProtocol        = &MCPError{Code: ErrorCodeProtocol}
	ErrDuplicateName   = &MCPError{Code: ErrorCodeDuplicateName}
	ErrUnknownAgent    = &MCPError{Code: ErrorCodeUnknownAgent}
	ErrNotConnected    = &MCPError{Code: ErrorCodeNotConnected}
	ErrNotFound        = &MCPError{Code: ErrorCodeNotFound}
	ErrValidation      = &MCPError{Code: ErrorCodeValidation}
)

// MCPError is an error type that includes suggestions for resolution.
type MCPError struct {
	// Code is the error category.
	Code MCPErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface. The result is a single line; use
// Verbose for the multi-line form with suggestions.
func (e *MCPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " "))
	}
	if e.Detail != "" {
		return msg + ": " + e.Detail
	}
	return msg
}

// Verbose renders the error with its suggestions for terminal output.
func (e *MCPError) Verbose() string {
	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	if e.Detail != "" {
		sb.WriteString("  → ")
		sb.WriteString(e.Detail)
		sb.WriteString("\n")
	}

	if len(e.Suggestions) > 0 {
		sb.WriteString("\n  Suggestions:\n")
		for _, s := range e.Suggestions {
			sb.WriteString("  - ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *MCPError) Unwrap() error {
	return e.Cause
}

// Is matches any *MCPError carrying the same code.
func (e *MCPError) Is(target error) bool {
	t, ok := target.(*MCPError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewMCPError creates a new MCPError.
func NewMCPError(code MCPErrorCode, message string) *MCPError {
	return &MCPError{
		Code:    code,
		Message: message,
	}
}

// WithDetail adds detail to the error.
func (e *MCPError) WithDetail(detail string) *MCPError {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *MCPError) WithSuggestions(suggestions ...string) *MCPError {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *MCPError) WithCause(cause error) *MCPError {
	e.Cause = cause
	return e
}

func newTimeoutError(method string, timeout time.Duration) *MCPError {
	return NewMCPError(ErrorCodeTimeout, fmt.Sprintf("request %s timed out after %s", method, timeout)).
		WithSuggestions(
			"Check if the server is responding",
			"Increase supervisor.request_timeout in config.yaml",
		)
}

func newDisconnectedError(serverID string) *MCPError {
	return NewMCPError(ErrorCodeDisconnected, fmt.Sprintf("session for %s closed", serverID))
}

// NotConnectedError is returned when an operation needs a session that does
// not exist.
func NotConnectedError(serverID string) *MCPError {
	return NewMCPError(ErrorCodeNotConnected, fmt.Sprintf("%s not connected", serverID)).
		WithSuggestions(fmt.Sprintf("Connect the server first: mcphost connect %s", serverID))
}

// HostCallError wraps a failure returned by the host call surface.
func HostCallError(command string, cause error) *MCPError {
	return NewMCPError(ErrorCodeHostCallFailure, fmt.Sprintf("host call %s failed", command)).
		WithDetail(cause.Error()).
		WithCause(cause)
}

func newProtocolError(message string, cause error) *MCPError {
	e := NewMCPError(ErrorCodeProtocol, message)
	if cause != nil {
		e = e.WithDetail(cause.Error()).WithCause(cause)
	}
	return e
}

// DuplicateNameError is returned when adding a user server whose id exists.
func DuplicateNameError(id string) *MCPError {
	return NewMCPError(ErrorCodeDuplicateName, fmt.Sprintf("MCP server '%s' already exists", id)).
		WithSuggestions(
			"Use a different name for the new server",
			fmt.Sprintf("Remove existing server: mcphost servers remove %s", id),
		)
}

// UnknownAgentError is returned when no config dialect exists for agent.
func UnknownAgentError(agent string) *MCPError {
	return NewMCPError(ErrorCodeUnknownAgent, fmt.Sprintf("unknown agent %q", agent)).
		WithSuggestions("Supported agents: claude, gemini, codex")
}

// ErrServerNotFound creates an error for when a server is not found.
func ErrServerNotFound(id string) *MCPError {
	return NewMCPError(ErrorCodeNotFound, fmt.Sprintf("MCP server '%s' not found", id)).
		WithSuggestions(
			"Check the server name: mcphost servers list",
			fmt.Sprintf("Register the server: mcphost servers add %s --command <cmd>", id),
		)
}

// ErrInvalidServerName creates an error for an invalid server name.
func ErrInvalidServerName(name string) *MCPError {
	return NewMCPError(ErrorCodeValidation, fmt.Sprintf("Invalid server name '%s'", name)).
		WithDetail("Names must start with a letter, contain only letters/numbers/hyphens/underscores, and be at most 64 characters").
		WithSuggestions(
			"Use only letters, numbers, hyphens (-), and underscores (_)",
			"Start the name with a letter",
		)
}

// ErrInvalidDescriptor creates a validation error for a server descriptor.
func ErrInvalidDescriptor(detail string) *MCPError {
	return NewMCPError(ErrorCodeValidation, "Invalid MCP server descriptor").
		WithDetail(detail)
}

// GetMCPError extracts an MCPError from an error chain.
func GetMCPError(err error) *MCPError {
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	return nil
}
