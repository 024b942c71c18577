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

package log

import (
	"context"
	"log/slog"
	"time"
)

// RPCCall describes one JSON-RPC exchange with a tool server.
type RPCCall struct {
	// ServerID is the descriptor id of the tool server.
	ServerID string

	// Method is the JSON-RPC method name.
	Method string

	// RequestID is the correlation id. Zero for notifications.
	RequestID int
}

// LogRPCStart logs an outgoing JSON-RPC request at debug level.
func LogRPCStart(logger *slog.Logger, call *RPCCall) {
	attrs := []any{
		ServerIDKey, call.ServerID,
		MethodKey, call.Method,
	}
	if call.RequestID != 0 {
		attrs = append(attrs, RequestIDKey, call.RequestID)
	}
	logger.Debug("rpc request sent", attrs...)
}

// LogRPCEnd logs the outcome of a JSON-RPC request. Failures are logged at
// warn level, successes at debug.
func LogRPCEnd(logger *slog.Logger, call *RPCCall, elapsed time.Duration, err error) {
	attrs := []any{
		ServerIDKey, call.ServerID,
		MethodKey, call.Method,
		DurationKey, elapsed.Milliseconds(),
	}
	if call.RequestID != 0 {
		attrs = append(attrs, RequestIDKey, call.RequestID)
	}

	level := slog.LevelDebug
	message := "rpc request completed"
	if err != nil {
		attrs = append(attrs, "error", err.Error())
		level = slog.LevelWarn
		message = "rpc request failed"
	}

	logger.Log(context.Background(), level, message, attrs...)
}
