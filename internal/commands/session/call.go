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

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/mcphost/internal/commands/completion"
	"github.com/tombee/mcphost/internal/commands/shared"
	"github.com/tombee/mcphost/internal/mcp"
)

// contentBlock is the part of a tool or resource content item printed in
// text mode.
type contentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Blob     string `json:"blob"`
}

func newCallCommand(env *shared.Env) *cobra.Command {
	var (
		timeout time.Duration
		rawArgs string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "call <id> <tool>",
		Short: "Invoke a tool",
		Long: `Connect to a server and invoke one of its tools. Arguments are a JSON
object given with --args, or read from stdin with --args -.

Text content is printed as is; use --json for the full result. --debug
writes the tools/call request and response to stderr.`,
		Example: `  mcphost call search search_notes --args '{"query":"meeting"}'
  echo '{"path":"todo.md"}' | mcphost call filesystem read_file --args -`,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completion.ServerIDs(env),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, tool := args[0], args[1]
			toolArgs, err := parseArgs(cmd.InOrStdin(), rawArgs)
			if err != nil {
				return err
			}

			a, err := env.App(cmd.Context())
			if err != nil {
				return err
			}
			if err := connect(cmd.Context(), cmd, a, id, timeout); err != nil {
				return err
			}

			var trace *mcp.DebugFormatter
			if debug {
				trace = mcp.NewDebugFormatter(mcp.DebugFormatterConfig{Writer: cmd.ErrOrStderr(), ServerID: id})
				_ = trace.FormatRequest("tools/call", map[string]any{"name": tool, "arguments": toolArgs})
			}

			result, err := a.Supervisor.InvokeTool(cmd.Context(), id, tool, toolArgs)
			if err != nil {
				if trace != nil {
					_ = trace.FormatError("tools/call", err)
				}
				return err
			}
			if trace != nil {
				_ = trace.FormatResponse("tools/call", json.RawMessage(result))
			}

			var decoded struct {
				Content []contentBlock `json:"content"`
				IsError bool           `json:"isError"`
			}
			_ = json.Unmarshal(result, &decoded)

			out := cmd.OutOrStdout()
			if env.Flags.JSON {
				if err := shared.EmitJSON(out, json.RawMessage(result)); err != nil {
					return err
				}
			} else {
				printContent(out, decoded.Content)
			}

			if decoded.IsError {
				return fmt.Errorf("tool %s on %s reported an error", tool, id)
			}
			return nil
		},
	}

	addTimeoutFlag(cmd, &timeout)
	cmd.Flags().StringVar(&rawArgs, "args", "{}", "Tool arguments as a JSON object, or - to read stdin")
	cmd.Flags().BoolVar(&debug, "debug", false, "Print the JSON-RPC request and response to stderr")

	return cmd
}

func parseArgs(stdin io.Reader, raw string) (map[string]any, error) {
	data := []byte(raw)
	if raw == "-" {
		var err error
		data, err = io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read arguments: %w", err)
		}
	}

	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, shared.NewInvalidInputError("invalid --args", err)
	}
	if args == nil {
		return nil, shared.NewInvalidInputError("invalid --args", errors.New("expected a JSON object"))
	}
	return args, nil
}

func printContent(out io.Writer, blocks []contentBlock) {
	for _, b := range blocks {
		switch {
		case b.Text != "":
			fmt.Fprintln(out, b.Text)
		case b.Blob != "":
			fmt.Fprintln(out, shared.Muted.Render(fmt.Sprintf("[%s %s, %d bytes base64]", b.MimeType, b.URI, len(b.Blob))))
		default:
			fmt.Fprintln(out, shared.Muted.Render(fmt.Sprintf("[%s content]", b.Type)))
		}
	}
}
