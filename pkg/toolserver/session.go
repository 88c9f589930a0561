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

package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/trinitylabs/trinity/pkg/config"
)

const (
	protocolVersion = "2024-11-05"
	clientName      = "trinity"
	clientVersion   = "1.0.0"

	shutdownGrace = 3 * time.Second
)

// InternalAdapter is an in-process tool server (transport "internal").
type InternalAdapter interface {
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	CallTool(ctx context.Context, tool string, args map[string]any) (*CallResult, error)
}

// Session is one live connection to a tool server. The session exclusively
// owns the subprocess and its stdio; callers multiplex through the client's
// request-id correlation.
type Session struct {
	Name string

	cfg *config.ServerConfig

	mu        sync.Mutex
	client    *client.Client
	internal  InternalAdapter
	tools     []ToolDescriptor
	connected bool
}

func newSession(name string, cfg *config.ServerConfig, internal InternalAdapter) *Session {
	return &Session{Name: name, cfg: cfg, internal: internal}
}

// connect spawns the subprocess and performs the initialize handshake
// (initialize request, then the initialized notification). Idempotent.
func (s *Session) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) error {
	if s.connected {
		return nil
	}
	if s.internal != nil {
		s.connected = true
		return nil
	}

	expanded := config.ExpandServerConfig(s.cfg)

	env := make([]string, 0, len(expanded.Env))
	for k, v := range expanded.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	mcpClient, err := client.NewStdioMCPClient(expanded.Command, env, expanded.Args...)
	if err != nil {
		return fmt.Errorf("failed to spawn server '%s': %w", s.Name, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server '%s': %w", s.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = protocolVersion
	initReq.Params.Capabilities = mcp.ClientCapabilities{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to initialize server '%s': %w", s.Name, err)
	}

	s.client = mcpClient
	s.connected = true

	slog.Info("Connected to tool server",
		"server", s.Name,
		"command", expanded.Command)

	return nil
}

// ListTools issues tools/list, caching the result for the session lifetime.
func (s *Session) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tools != nil {
		return s.tools, nil
	}

	if s.internal != nil {
		tools, err := s.internal.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		s.tools = tools
		return tools, nil
	}

	resp, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("tools/list failed for '%s': %w", s.Name, err)
	}

	tools := make([]ToolDescriptor, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		tools = append(tools, ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: convertInputSchema(t.InputSchema),
		})
	}
	s.tools = tools

	return tools, nil
}

// CallTool issues tools/call with the given timeout and normalizes the
// result. Timeouts surface as transient errors suitable for reflexion.
func (s *Session) CallTool(ctx context.Context, tool string, args map[string]any, timeout time.Duration) *CallResult {
	if err := s.connect(ctx); err != nil {
		return failedResult(s.Name, tool, err.Error(), TagToolNotFound)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if s.internal != nil {
		result, err := s.internal.CallTool(callCtx, tool, args)
		if err != nil {
			if callCtx.Err() == context.DeadlineExceeded {
				return failedResult(s.Name, tool,
					fmt.Sprintf("tool '%s' timeout after %v", tool, timeout), TagTimeout)
			}
			return failedResult(s.Name, tool, err.Error(), TagBadRequest)
		}
		result.Server = s.Name
		result.Tool = tool
		return result
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	s.mu.Lock()
	mcpClient := s.client
	s.mu.Unlock()

	// A concurrent close or restart may have torn the client down between
	// connect and the snapshot.
	if mcpClient == nil {
		return failedResult(s.Name, tool,
			fmt.Sprintf("server '%s' disconnected", s.Name), TagToolNotFound)
	}

	resp, err := mcpClient.CallTool(callCtx, req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return failedResult(s.Name, tool,
				fmt.Sprintf("tool '%s' timeout after %v", tool, timeout), TagTimeout)
		}
		return failedResult(s.Name, tool, err.Error(), TagBadRequest)
	}

	return normalizeResult(s.Name, tool, resp)
}

// close shuts the session down, giving the subprocess a grace period.
func (s *Session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	s.tools = nil

	if s.client == nil {
		return nil
	}

	done := make(chan error, 1)
	mcpClient := s.client
	s.client = nil
	go func() { done <- mcpClient.Close() }()

	select {
	case err := <-done:
		return err
	case <-time.After(shutdownGrace):
		slog.Warn("Tool server did not exit within grace period", "server", s.Name)
		return nil
	}
}

func convertInputSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}
