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
	"io"
	"strings"
	"time"
)

// DebugFormatter renders JSON-RPC traffic for terminal debugging.
type DebugFormatter struct {
	writer         io.Writer
	serverID       string
	showTimestamps bool
	now            func() time.Time
}

// DebugFormatterConfig configures a DebugFormatter.
type DebugFormatterConfig struct {
	// Writer is where formatted output is written.
	Writer io.Writer

	// ServerID prefixes every message (optional).
	ServerID string

	// HideTimestamps drops the leading clock time.
	HideTimestamps bool
}

// NewDebugFormatter creates a new debug formatter.
func NewDebugFormatter(cfg DebugFormatterConfig) *DebugFormatter {
	if cfg.Writer == nil {
		cfg.Writer = io.Discard
	}
	return &DebugFormatter{
		writer:         cfg.Writer,
		serverID:       cfg.ServerID,
		showTimestamps: !cfg.HideTimestamps,
		now:            time.Now,
	}
}

// FormatRequest writes an outgoing request.
func (f *DebugFormatter) FormatRequest(method string, params any) error {
	return f.write(f.now(), "REQUEST", method, params)
}

// FormatResponse writes a result.
func (f *DebugFormatter) FormatResponse(method string, result any) error {
	return f.write(f.now(), "RESPONSE", method, result)
}

// FormatError writes a failed call.
func (f *DebugFormatter) FormatError(method string, err error) error {
	return f.write(f.now(), "ERROR", method, err.Error())
}

// FormatEntry writes one recorded server message.
func (f *DebugFormatter) FormatEntry(entry MessageEntry) error {
	var msg struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(entry.Message, &msg); err != nil {
		return f.write(entry.Timestamp, "RAW", "", string(entry.Message))
	}
	var params any
	if len(msg.Params) > 0 {
		params = msg.Params
	}
	return f.write(entry.Timestamp, "NOTIFICATION", msg.Method, params)
}

func (f *DebugFormatter) write(at time.Time, kind, method string, data any) error {
	var builder strings.Builder

	if f.showTimestamps {
		builder.WriteString(at.Format("15:04:05.000"))
		builder.WriteString(" ")
	}
	if f.serverID != "" {
		builder.WriteString("[")
		builder.WriteString(f.serverID)
		builder.WriteString("] ")
	}
	builder.WriteString(kind)
	if method != "" {
		builder.WriteString(" ")
		builder.WriteString(method)
	}
	builder.WriteString("\n")

	if data != nil {
		jsonData, err := json.MarshalIndent(data, "  ", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
		builder.WriteString("  ")
		builder.Write(jsonData)
		builder.WriteString("\n")
	}

	_, err := io.WriteString(f.writer, builder.String())
	return err
}
