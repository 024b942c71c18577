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

package shared

import (
	"errors"
	"fmt"
	"io"

	"github.com/tombee/mcphost/internal/mcp"
)

// Exit codes for mcphost commands
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitInvalidInput = 2
	ExitNotFound     = 3
	ExitServerError  = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewInvalidInputError creates an error for bad flags or arguments
func NewInvalidInputError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidInput, Message: msg, Cause: cause}
}

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	switch {
	case errors.Is(err, mcp.ErrValidation),
		errors.Is(err, mcp.ErrDuplicateName),
		errors.Is(err, mcp.ErrUnknownAgent):
		return ExitInvalidInput
	case errors.Is(err, mcp.ErrNotFound),
		errors.Is(err, mcp.ErrNotConnected):
		return ExitNotFound
	case errors.Is(err, mcp.ErrTimeout),
		errors.Is(err, mcp.ErrDisconnected),
		errors.Is(err, mcp.ErrHostCallFailure),
		errors.Is(err, mcp.ErrProtocol):
		return ExitServerError
	}
	return ExitFailure
}

// HandleExitError prints err to w with any suggestions attached to it and
// returns the exit code to use.
func HandleExitError(w io.Writer, err error) int {
	if err == nil {
		return ExitSuccess
	}

	fmt.Fprintln(w, "Error:", err.Error())

	if mcpErr := mcp.GetMCPError(err); mcpErr != nil && len(mcpErr.Suggestions) > 0 {
		fmt.Fprintln(w, "\nSuggestions:")
		for _, s := range mcpErr.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}

	return ExitCode(err)
}
