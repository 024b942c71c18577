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
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRPCStart(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	LogRPCStart(logger, &RPCCall{ServerID: "git", Method: "tools/list", RequestID: 7})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "rpc request sent", entry["msg"])
	assert.Equal(t, "git", entry[ServerIDKey])
	assert.Equal(t, "tools/list", entry[MethodKey])
	assert.EqualValues(t, 7, entry[RequestIDKey])
}

func TestLogRPCEnd(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		level   string
		message string
	}{
		{name: "success", level: "DEBUG", message: "rpc request completed"},
		{name: "failure", err: errors.New("timed out"), level: "WARN", message: "rpc request failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

			LogRPCEnd(logger, &RPCCall{ServerID: "search", Method: "initialized"}, 15*time.Millisecond, tt.err)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, tt.message, entry["msg"])
			assert.EqualValues(t, 15, entry[DurationKey])
			assert.NotContains(t, entry, RequestIDKey)
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), entry["error"])
			}
		})
	}
}
