// Copyright 2025 Trinity Labs
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

// Package toolserver owns the lifecycles of the out-of-process tool servers
// and translates (server, tool, args) calls into JSON-RPC over stdio. No
// other component may touch a server subprocess.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trinitylabs/trinity/pkg/config"
	"github.com/trinitylabs/trinity/pkg/execlog"
	"github.com/trinitylabs/trinity/pkg/observability"
)

const (
	// DefaultToolTimeout applies when neither the server nor the tool
	// configures one.
	DefaultToolTimeout = 10 * time.Second

	// VibeToolTimeout is the long default for code-assistant tools.
	VibeToolTimeout = 60 * time.Minute
)

// Manager owns every tool server session.
type Manager struct {
	cfg *config.ServersConfig

	// OSNativeServer marks which server counts as the OS-automation
	// family for routing metrics. Set once at wiring time.
	OSNativeServer string

	mu        sync.Mutex
	sessions  map[string]*Session
	internals map[string]InternalAdapter

	execLog *execlog.Store
}

// ManagerError carries the failing component and action.
type ManagerError struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *ManagerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Action, e.Message)
}

func (e *ManagerError) Unwrap() error { return e.Err }

func newManagerError(action, message string, err error) *ManagerError {
	return &ManagerError{Component: "ToolServerManager", Action: action, Message: message, Err: err}
}

// NewManager creates a manager over the servers config. execLog may be nil.
func NewManager(cfg *config.ServersConfig, execLog *execlog.Store) *Manager {
	return &Manager{
		cfg:       cfg,
		sessions:  make(map[string]*Session),
		internals: make(map[string]InternalAdapter),
		execLog:   execLog,
	}
}

// RegisterInternal installs an in-process adapter for a server configured
// with transport "internal".
func (m *Manager) RegisterInternal(server string, adapter InternalAdapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.internals[server] = adapter
}

// GetSession returns the session for a server, creating it on first use.
// Disabled servers return an error without spawning anything.
func (m *Manager) GetSession(server string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getSessionLocked(server)
}

func (m *Manager) getSessionLocked(server string) (*Session, error) {
	if session, ok := m.sessions[server]; ok {
		return session, nil
	}

	srvCfg, ok := m.cfg.Servers[server]
	if !ok {
		return nil, newManagerError("GetSession", fmt.Sprintf("unknown server '%s'", server), nil)
	}
	if srvCfg.Disabled {
		return nil, newManagerError("GetSession", fmt.Sprintf("server '%s' is disabled", server), nil)
	}

	var internal InternalAdapter
	if srvCfg.Transport == "internal" {
		internal, ok = m.internals[server]
		if !ok {
			return nil, newManagerError("GetSession",
				fmt.Sprintf("server '%s' declares internal transport but no adapter is registered", server), nil)
		}
	}

	session := newSession(server, srvCfg, internal)
	m.sessions[server] = session
	return session, nil
}

// ListTools lists the tools a server advertises.
func (m *Manager) ListTools(ctx context.Context, server string) ([]ToolDescriptor, error) {
	session, err := m.GetSession(server)
	if err != nil {
		return nil, err
	}
	return session.ListTools(ctx)
}

// CallTool invokes a tool on a server and returns a normalized result.
// Spawn failures come back as results, never panics or raw errors: the
// dispatcher and agents decide what to do next.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any) *CallResult {
	return m.CallToolForSession(ctx, "", "", server, tool, args)
}

// CallToolForSession is CallTool plus execution-record attribution.
func (m *Manager) CallToolForSession(ctx context.Context, sessionID, stepID, server, tool string, args map[string]any) *CallResult {
	start := time.Now()

	session, err := m.GetSession(server)
	if err != nil {
		return failedResult(server, tool, err.Error(), TagToolNotFound)
	}

	result := session.CallTool(ctx, tool, args, m.timeoutFor(server, tool))
	duration := time.Since(start)

	if m.execLog != nil {
		command := extractCommand(args)
		logErr := m.execLog.Append(ctx, execlog.Record{
			SessionID: sessionID,
			StepID:    stepID,
			Server:    server,
			Tool:      tool,
			Command:   command,
			Success:   result.Success,
			Error:     result.Error,
			Duration:  duration,
		})
		if logErr != nil {
			slog.Warn("Failed to record tool call", "server", server, "tool", tool, "error", logErr)
		}
	}

	osNative := m.OSNativeServer != "" && server == m.OSNativeServer
	observability.GetGlobalMetrics().RecordToolCall(ctx, server, tool, duration, osNative, resultErr(result))

	return result
}

func resultErr(result *CallResult) error {
	if result.Success {
		return nil
	}
	return fmt.Errorf("%s", result.Error)
}

// timeoutFor resolves the call timeout: per-tool override, then per-server
// default, then the vibe long default, then the global default.
func (m *Manager) timeoutFor(server, tool string) time.Duration {
	srvCfg, ok := m.cfg.Servers[server]
	if ok {
		if secs, found := srvCfg.ToolTimeouts[tool]; found && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if srvCfg.TimeoutSeconds > 0 {
			return time.Duration(srvCfg.TimeoutSeconds) * time.Second
		}
	}
	if server == "vibe" {
		return VibeToolTimeout
	}
	return DefaultToolTimeout
}

// RestartServer kills and respawns a server. Outstanding request IDs are
// invalidated by the reconnect.
func (m *Manager) RestartServer(ctx context.Context, server string) bool {
	m.mu.Lock()
	session, ok := m.sessions[server]
	if ok {
		delete(m.sessions, server)
	}
	m.mu.Unlock()

	if ok {
		if err := session.close(); err != nil {
			slog.Warn("Error closing server during restart", "server", server, "error", err)
		}
	}

	newSession, err := m.GetSession(server)
	if err != nil {
		slog.Error("Failed to recreate server session", "server", server, "error", err)
		return false
	}
	if err := newSession.connect(ctx); err != nil {
		slog.Error("Failed to reconnect server", "server", server, "error", err)
		return false
	}

	observability.GetGlobalMetrics().RecordServerRestart(ctx, server)
	return true
}

// EnsureServersConnected connects the listed servers concurrently and
// reports per-server success.
func (m *Manager) EnsureServersConnected(ctx context.Context, servers []string) map[string]bool {
	results := make(map[string]bool, len(servers))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, server := range servers {
		g.Go(func() error {
			ok := false
			if session, err := m.GetSession(server); err == nil {
				ok = session.connect(gctx) == nil
			}
			resultsMu.Lock()
			results[server] = ok
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// QueryDB runs a read-only query against the execution-record database.
// Reserved for internal state queries; never exposed to LLM-driven callers.
func (m *Manager) QueryDB(ctx context.Context, query string, params ...any) ([]map[string]any, error) {
	if m.execLog == nil {
		return nil, newManagerError("QueryDB", "execution log is not configured", nil)
	}
	return m.execLog.Query(ctx, query, params...)
}

// ExecRecordsForStep returns the audit trail for one step.
func (m *Manager) ExecRecordsForStep(ctx context.Context, sessionID, stepID string) ([]execlog.Record, error) {
	if m.execLog == nil {
		return nil, nil
	}
	return m.execLog.ForStep(ctx, sessionID, stepID)
}

// Shutdown closes every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.close(); err != nil {
			slog.Warn("Error closing tool server", "server", s.Name, "error", err)
		}
	}
}

// extractCommand pulls the shell command out of args for audit purposes.
func extractCommand(args map[string]any) string {
	for _, key := range []string{"command", "cmd", "script"} {
		if v, ok := args[key].(string); ok {
			return v
		}
	}
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	if len(data) > 512 {
		data = data[:512]
	}
	return string(data)
}
