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
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/mcphost/internal/settings"
)

// settingsKey is the store key of the MCP settings blob.
const settingsKey = "mcp_settings"

// ToolClient is the subset of the mcp-go client used by Local.
type ToolClient interface {
	Start(ctx context.Context) error
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	ListResources(ctx context.Context, request mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error)
	ReadResource(ctx context.Context, request mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
	Ping(ctx context.Context) error
	OnNotification(handler func(notification mcp.JSONRPCNotification))
	Close() error
}

// Dialer opens a client for one server. pid is zero when no child process
// backs the connection.
type Dialer func(ctx context.Context, serverID string, t TransportConfig) (c ToolClient, pid int, err error)

// LocalConfig configures a Local host.
type LocalConfig struct {
	Logger *slog.Logger

	// Store backs get_mcp_settings and save_mcp_settings.
	// Default: in-memory store
	Store settings.Store

	// RootPath is reported by get_vault_info. Empty means no vault is open.
	RootPath string

	// BundlePath is reported by get_bundle_path.
	// Default: directory of the running executable
	BundlePath string

	// HandshakeTimeout bounds the initialize handshake.
	// Default: 10s
	HandshakeTimeout time.Duration

	// ClientVersion is sent as clientInfo.version during initialize.
	ClientVersion string

	// Dial overrides how clients are opened. Default: DefaultDialer.
	Dial Dialer
}

// Local is an in-process Host that runs tool servers through mcp-go.
type Local struct {
	bus              *Bus
	logger           *slog.Logger
	store            settings.Store
	rootPath         string
	bundlePath       string
	handshakeTimeout time.Duration
	clientVersion    string
	dial             Dialer

	mu      sync.RWMutex
	servers map[string]*localServer
}

type localServer struct {
	id           string
	instanceID   string
	config       ServerConfig
	client       ToolClient
	pid          int
	status       ServerStatus
	capabilities json.RawMessage
	initResult   json.RawMessage
	startedAt    time.Time
}

var _ Host = (*Local)(nil)

// NewLocal creates a Local host.
func NewLocal(cfg LocalConfig) *Local {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Store
	if store == nil {
		store = settings.NewMemoryStore()
	}
	timeout := cfg.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	version := cfg.ClientVersion
	if version == "" {
		version = "dev"
	}
	dial := cfg.Dial
	if dial == nil {
		dial = DefaultDialer
	}

	return &Local{
		bus:              NewBus(logger),
		logger:           logger.With("component", "host"),
		store:            store,
		rootPath:         cfg.RootPath,
		bundlePath:       cfg.BundlePath,
		handshakeTimeout: timeout,
		clientVersion:    version,
		dial:             dial,
		servers:          make(map[string]*localServer),
	}
}

// Subscribe implements Host.
func (l *Local) Subscribe(event string, handler func(json.RawMessage)) func() {
	return l.bus.Subscribe(event, handler)
}

// SetRootPath changes the path reported by get_vault_info.
func (l *Local) SetRootPath(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rootPath = path
}

// Invoke implements Host.
func (l *Local) Invoke(ctx context.Context, command string, args any) (json.RawMessage, error) {
	switch command {
	case CmdStartServer:
		var a StartServerArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return nil, l.startServer(ctx, a.ServerID, a.Config)
	case CmdStopServer:
		var a ServerArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return nil, l.stopServer(a.ServerID)
	case CmdSendMessage:
		var a SendMessageArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return l.sendMessage(ctx, a.ServerID, a.Message)
	case CmdGetServerStatuses:
		return json.Marshal(l.statuses())
	case CmdGetServerInfo:
		var a ServerArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		info, err := l.serverInfo(a.ServerID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(info)
	case CmdListProcesses:
		return json.Marshal(l.processes())
	case CmdKillAllProcesses:
		return json.Marshal(KillAllResult{Killed: l.killAll()})
	case CmdGetVaultInfo:
		l.mu.RLock()
		root := l.rootPath
		l.mu.RUnlock()
		if root == "" {
			return json.RawMessage("null"), nil
		}
		return json.Marshal(VaultInfo{Path: root, Name: filepath.Base(root)})
	case CmdGetCurrentDir:
		dir, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		return json.Marshal(dir)
	case CmdGetBundlePath:
		return json.Marshal(l.resolveBundlePath())
	case CmdGetHomeDir:
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		return json.Marshal(home)
	case CmdGetSettings:
		s, err := l.loadSettings(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(s)
	case CmdSaveSettings:
		var a SaveSettingsArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return nil, l.saveSettings(ctx, a.Settings)
	case CmdWriteConfig:
		var a WriteConfigArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return nil, WriteConfigFile(a.Path, a.Content, a.Format)
	default:
		return nil, fmt.Errorf("unknown host command %q", command)
	}
}

func (l *Local) startServer(ctx context.Context, id string, cfg ServerConfig) error {
	if err := validateServerConfig(cfg); err != nil {
		return err
	}

	entry := &localServer{
		id:         id,
		instanceID: uuid.NewString(),
		config:     cfg,
		status:     ServerStatus{Status: StatusStarting},
		startedAt:  time.Now(),
	}

	l.mu.Lock()
	if _, exists := l.servers[id]; exists {
		l.mu.Unlock()
		return fmt.Errorf("server %s already exists", id)
	}
	l.servers[id] = entry
	l.mu.Unlock()

	logger := l.logger.With("server", id, "instance", entry.instanceID)
	logger.Info("starting mcp server", "transport", cfg.Transport.Type)

	c, pid, err := l.dial(ctx, id, cfg.Transport)
	if err != nil {
		l.removeIf(id, entry)
		return fmt.Errorf("failed to start %s: %w", id, err)
	}

	c.OnNotification(func(n mcp.JSONRPCNotification) {
		data, err := json.Marshal(n)
		if err != nil {
			logger.Warn("failed to encode notification", "error", err)
			return
		}
		l.bus.Emit(MessageEvent(id), MessagePayload{ServerID: id, Message: data})
	})

	if err := c.Start(context.Background()); err != nil {
		c.Close()
		l.removeIf(id, entry)
		return fmt.Errorf("failed to start %s: %w", id, err)
	}

	hctx, cancel := context.WithTimeout(ctx, l.handshakeTimeout)
	defer cancel()
	result, err := c.Initialize(hctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "mcphost",
				Version: l.clientVersion,
			},
		},
	})
	if err != nil {
		c.Close()
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("initialize request timed out after %s", l.handshakeTimeout)
		}
		l.setStatus(id, entry, ServerStatus{Status: StatusError, Message: err.Error()})
		l.removeIf(id, entry)
		logger.Error("mcp handshake failed", "error", err)
		return fmt.Errorf("failed to initialize %s: %w", id, err)
	}

	caps, _ := json.Marshal(result.Capabilities)
	initResult, _ := json.Marshal(result)

	l.mu.Lock()
	if l.servers[id] != entry {
		// Stopped while the handshake was in flight.
		l.mu.Unlock()
		c.Close()
		return fmt.Errorf("server %s was stopped during startup", id)
	}
	entry.client = c
	entry.pid = pid
	entry.capabilities = caps
	entry.initResult = initResult
	entry.status = ServerStatus{Status: StatusConnected}
	l.mu.Unlock()

	logger.Info("mcp server connected", "pid", pid)
	l.bus.Emit(ConnectedEvent(id), ConnectedPayload{ServerID: id, Capabilities: caps})
	return nil
}

func (l *Local) removeIf(id string, entry *localServer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.servers[id] == entry {
		delete(l.servers, id)
	}
}

func (l *Local) setStatus(id string, entry *localServer, status ServerStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.servers[id] == entry {
		entry.status = status
	}
}

func (l *Local) stopServer(id string) error {
	l.mu.Lock()
	entry, ok := l.servers[id]
	if ok {
		delete(l.servers, id)
	}
	l.mu.Unlock()

	if !ok {
		return nil
	}

	var err error
	if entry.client != nil {
		err = entry.client.Close()
	}
	l.logger.Info("mcp server stopped", "server", id)
	l.bus.Emit(StoppedEvent(id), StoppedPayload{ServerID: id})
	if err != nil {
		return fmt.Errorf("failed to stop %s: %w", id, err)
	}
	return nil
}

func (l *Local) killAll() int {
	l.mu.RLock()
	ids := slices.Collect(maps.Keys(l.servers))
	l.mu.RUnlock()

	killed := 0
	for _, id := range ids {
		if err := l.stopServer(id); err != nil {
			l.logger.Warn("failed to kill mcp server", "server", id, "error", err)
		}
		killed++
	}
	return killed
}

func (l *Local) statuses() map[string]ServerStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]ServerStatus, len(l.servers))
	for id, s := range l.servers {
		out[id] = s.status
	}
	return out
}

func (l *Local) serverInfo(id string) (*ServerInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.servers[id]
	if !ok {
		return nil, fmt.Errorf("server %s not found", id)
	}
	return &ServerInfo{
		ID:            s.id,
		Status:        s.status,
		Capabilities:  s.capabilities,
		TransportType: s.config.Transport.Type,
	}, nil
}

func (l *Local) processes() []ProcessInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ProcessInfo, 0, len(l.servers))
	for _, s := range l.servers {
		out = append(out, ProcessInfo{
			InstanceID: s.instanceID,
			ServerID:   s.id,
			PID:        s.pid,
			Command:    s.config.Transport.Command,
			URL:        s.config.Transport.URL,
			StartedAt:  s.startedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

func (l *Local) resolveBundlePath() string {
	if l.bundlePath != "" {
		return l.bundlePath
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}

func (l *Local) loadSettings(ctx context.Context) (*Settings, error) {
	raw, err := l.store.Get(ctx, settingsKey)
	if errors.Is(err, settings.ErrNotFound) {
		return &Settings{Enabled: true, Servers: map[string]SettingsServer{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if s.Servers == nil {
		s.Servers = map[string]SettingsServer{}
	}
	for _, id := range s.StripWorkingDirs() {
		l.logger.Warn("clearing stale working_dir from saved settings", "server", id)
	}
	return &s, nil
}

func (l *Local) saveSettings(ctx context.Context, s Settings) error {
	if s.Servers == nil {
		s.Servers = map[string]SettingsServer{}
	}
	s.StripWorkingDirs()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := l.store.Set(ctx, settingsKey, data); err != nil {
		return fmt.Errorf("failed to persist settings: %w", err)
	}
	return nil
}

func validateServerConfig(cfg ServerConfig) error {
	switch cfg.Transport.Type {
	case "stdio":
		if cfg.Transport.Command == "" {
			return errors.New("command cannot be empty")
		}
	case "http", "sse":
		if cfg.Transport.URL == "" {
			return errors.New("invalid URL: empty")
		}
	default:
		return fmt.Errorf("unknown transport type %q", cfg.Transport.Type)
	}
	return nil
}

// DefaultDialer opens stdio servers as child processes and http servers
// over streamable HTTP.
func DefaultDialer(_ context.Context, _ string, t TransportConfig) (ToolClient, int, error) {
	switch t.Type {
	case "stdio":
		var cmd *exec.Cmd
		c, err := client.NewStdioMCPClientWithOptions(t.Command, envList(t.Env), t.Args,
			transport.WithCommandFunc(func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
				cmd = exec.CommandContext(ctx, command, args...)
				cmd.Env = append(os.Environ(), env...)
				cmd.Dir = t.WorkingDir
				return cmd, nil
			}),
		)
		if err != nil {
			return nil, 0, err
		}
		pid := 0
		if cmd != nil && cmd.Process != nil {
			pid = cmd.Process.Pid
		}
		return c, pid, nil
	case "http", "sse":
		var opts []transport.StreamableHTTPCOption
		if len(t.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(t.Headers))
		}
		c, err := client.NewStreamableHttpClient(t.URL, opts...)
		if err != nil {
			return nil, 0, err
		}
		return c, 0, nil
	default:
		return nil, 0, fmt.Errorf("unknown transport type %q", t.Type)
	}
}

func envList(env map[string]string) []string {
	keys := slices.Sorted(maps.Keys(env))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// decodeArgs converts loosely typed args into dst through JSON.
func decodeArgs(args any, dst any) error {
	var data []byte
	switch v := args.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		var err error
		data, err = json.Marshal(args)
		if err != nil {
			return fmt.Errorf("failed to encode args: %w", err)
		}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid args: %w", err)
	}
	return nil
}
