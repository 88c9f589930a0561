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

// Package dispatch is the single entry point for every tool call. It resolves
// heterogeneous tool names (synonyms, hallucinations, dotted namespaces) to a
// concrete (server, tool, arguments) triple, validates arguments against the
// schema registry, and invokes the server through the Tool Server Manager.
// Agents never talk to servers directly.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/trinitylabs/trinity/pkg/observability"
	"github.com/trinitylabs/trinity/pkg/safety"
	"github.com/trinitylabs/trinity/pkg/schema"
	"github.com/trinitylabs/trinity/pkg/sharedctx"
	"github.com/trinitylabs/trinity/pkg/toolserver"
)

// Dispatcher-level error tags, extending the transport tags.
const (
	TagHallucinated toolserver.ErrorTag = "hallucinated"
	TagUnknownTool  toolserver.ErrorTag = "unknown_tool"
	TagBlocked      toolserver.ErrorTag = "blocked"
)

// Result is the normalized outcome of a dispatch: the transport result plus
// resolution metadata for upstream retry decisions.
type Result struct {
	toolserver.CallResult
	Hallucinated bool     `json:"hallucinated,omitempty"`
	Suggestions  []string `json:"suggestions,omitempty"`
}

// Call is one dispatch request. Tool may be empty when the caller only has
// arguments; ExplicitServer skips server inference.
type Call struct {
	Tool           string
	Args           map[string]any
	ExplicitServer string
	SessionID      string
	StepID         string
}

// Resolution is a fully resolved (server, tool, args) triple.
type Resolution struct {
	Server string
	Tool   string
	Args   map[string]any
}

// Options configure routing policy.
type Options struct {
	// OSServer is the OS-automation server that the prefer-native policy
	// routes to. Default "macos-use".
	OSServer string

	// SearchServer receives the literal tool name "search" so that web
	// searches never hit a browser-automation server. Default
	// "duckduckgo-search".
	SearchServer string
}

func (o *Options) setDefaults() {
	if o.OSServer == "" {
		o.OSServer = "macos-use"
	}
	if o.SearchServer == "" {
		o.SearchServer = "duckduckgo-search"
	}
}

// Dispatcher resolves and executes tool calls.
type Dispatcher struct {
	registry *schema.Registry
	manager  *toolserver.Manager
	shared   *sharedctx.Context
	mapState *sharedctx.MapState
	opts     Options

	totalCalls    atomic.Int64
	osNativeCalls atomic.Int64
}

// New wires a dispatcher. shared and mapState may be nil when no session
// state is tracked (validation runs, tests).
func New(registry *schema.Registry, manager *toolserver.Manager, shared *sharedctx.Context, mapState *sharedctx.MapState, opts Options) *Dispatcher {
	opts.setDefaults()
	if manager != nil {
		manager.OSNativeServer = opts.OSServer
	}
	return &Dispatcher{
		registry: registry,
		manager:  manager,
		shared:   shared,
		mapState: mapState,
		opts:     opts,
	}
}

// ResolveAndDispatch resolves the call and executes it. Resolution failures
// come back as tagged results, never as errors: the caller decides between
// retry, reflexion, and replan.
func (d *Dispatcher) ResolveAndDispatch(ctx context.Context, call Call) *Result {
	ctx, span := observability.GetTracer("dispatch").Start(ctx, observability.SpanToolDispatch)
	defer span.End()

	d.totalCalls.Add(1)

	res, failure := d.Resolve(call)
	if failure != nil {
		span.SetStatus(codes.Error, failure.Error)
		return failure
	}

	span.SetAttributes(
		attribute.String(observability.AttrServerName, res.Server),
		attribute.String(observability.AttrToolName, res.Tool),
	)

	if check := safety.CheckArgs(res.Args); !check.Safe {
		slog.Error("Blocked destructive command",
			"server", res.Server, "tool", res.Tool, "reason", check.Reason)
		return &Result{CallResult: toolserver.CallResult{
			Success: false,
			Server:  res.Server,
			Tool:    res.Tool,
			Error:   fmt.Sprintf("command blocked: %s (risk level %s)", check.Reason, check.RiskLevel),
			Tag:     TagBlocked,
		}}
	}

	if res.Server == d.opts.OSServer {
		d.osNativeCalls.Add(1)
	}

	raw := d.manager.CallToolForSession(ctx, call.SessionID, call.StepID, res.Server, res.Tool, res.Args)
	result := &Result{CallResult: *raw}
	d.postProcess(res, result)

	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}
	return result
}

// Resolve runs the resolution pipeline without executing anything. Exposed so
// agents can pre-resolve calls and the verifier can reuse routing.
func (d *Dispatcher) Resolve(call Call) (Resolution, *Result) {
	name := strings.ToLower(strings.TrimSpace(call.Tool))
	server := strings.TrimSpace(call.ExplicitServer)
	args := cloneArgs(call.Args)

	// 1. Sanitize and infer from argument shape.
	if name == "" {
		name = inferToolFromArgs(args)
		if name == "" {
			return Resolution{}, d.unknownToolResult("",
				"no tool name given and none inferable from arguments")
		}
	}

	// 2. Hallucination check. An explicit server lets the per-server
	// handler disambiguate names like "run", so only bare names fail here.
	if server == "" {
		if suggestion, ok := hallucinatedNames[name]; ok {
			return Resolution{}, &Result{
				CallResult: toolserver.CallResult{
					Success: false,
					Tool:    name,
					Error:   fmt.Sprintf("Tool '%s' does not exist. %s", name, suggestion),
					Tag:     TagHallucinated,
				},
				Hallucinated: true,
			}
		}
	}

	// 3. Dotted namespace: "srv.tool" with a known server splits.
	if server == "" {
		if left, right, found := strings.Cut(name, "."); found && d.isKnownServer(left) {
			server, name = left, right
		}
	}

	// 4. Strip a server prefix when the remainder is unambiguous.
	if server == "" {
		server, name = d.stripServerPrefix(name)
	}

	// OS-native priority words route to the automation server before any
	// registry lookup.
	if server == "" && osNativePriority[name] {
		server = d.opts.OSServer
	}

	// 5. Per-server handler: synonyms, argument repair, context injection.
	if server != "" {
		var failure *Result
		server, name, args, failure = d.applyHandler(server, name, args)
		if failure != nil {
			return Resolution{}, failure
		}
	}

	// 6. Registry fallback with fuzzy suggestions.
	if server == "" {
		resolved, ok := d.registry.GetServerForTool(name)
		if !ok {
			return Resolution{}, d.unknownToolResult(name,
				fmt.Sprintf("unknown tool '%s'", name))
		}
		server = resolved
		var failure *Result
		server, name, args, failure = d.applyHandler(server, name, args)
		if failure != nil {
			return Resolution{}, failure
		}
	}

	// 7. Compatibility check against the server's capability listing.
	if failure := d.checkCompatibility(server, name); failure != nil {
		return Resolution{}, failure
	}

	// 8. Argument validation, synonym auto-fill, and type coercion.
	if failure := d.prepareArgs(server, name, args); failure != nil {
		return Resolution{}, failure
	}

	return Resolution{Server: server, Tool: name, Args: args}, nil
}

// Stats returns total dispatches and how many went to the OS-automation
// server. The routing target is at least 90% native.
func (d *Dispatcher) Stats() (total, osNative int64) {
	return d.totalCalls.Load(), d.osNativeCalls.Load()
}

func (d *Dispatcher) isKnownServer(name string) bool {
	if d.registry == nil {
		return false
	}
	_, ok := d.registry.GetCatalogEntry(name)
	return ok
}

// stripServerPrefix removes a "{server}_" prefix when the remainder resolves
// for that server. Ambiguous names keep their prefix.
func (d *Dispatcher) stripServerPrefix(name string) (server, tool string) {
	if d.registry == nil {
		return "", name
	}
	for _, srv := range d.registry.ServerNames() {
		prefix := srv + "_"
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if rest == "" {
			continue
		}
		if owner, ok := d.registry.GetServerForTool(rest); ok && owner == srv {
			return srv, rest
		}
		if containsString(d.registry.ToolNamesForServer(srv), rest) {
			return srv, rest
		}
		if _, known := toolSynonyms[srv][rest]; known {
			return srv, rest
		}
	}
	return "", name
}

func (d *Dispatcher) unknownToolResult(name, message string) *Result {
	var suggestions []string
	if name != "" && d.registry != nil {
		suggestions = Suggest(name, d.registry.ToolNames(), 3)
	}
	if len(suggestions) > 0 {
		message += ". Did you mean: " + strings.Join(suggestions, ", ")
	}
	return &Result{
		CallResult: toolserver.CallResult{
			Success: false,
			Tool:    name,
			Error:   message,
			Tag:     TagUnknownTool,
		},
		Suggestions: suggestions,
	}
}

// checkCompatibility enforces that the resolved tool belongs to the server's
// capability listing. Servers without any listing accept anything.
func (d *Dispatcher) checkCompatibility(server, tool string) *Result {
	if d.registry == nil {
		return nil
	}

	listed := d.registry.ToolNamesForServer(server)
	entry, hasEntry := d.registry.GetCatalogEntry(server)

	if len(listed) == 0 && (!hasEntry || len(entry.KeyTools) == 0) {
		return nil
	}
	if containsString(listed, tool) {
		return nil
	}
	if hasEntry && containsString(entry.KeyTools, tool) {
		return nil
	}

	allowed := listed
	if hasEntry {
		allowed = append(append([]string(nil), listed...), entry.KeyTools...)
	}
	return &Result{CallResult: toolserver.CallResult{
		Success: false,
		Server:  server,
		Tool:    tool,
		Error: fmt.Sprintf("tool '%s' is not compatible with server '%s'; allowed tools: %s",
			tool, server, strings.Join(allowed, ", ")),
		Tag: toolserver.TagCompatibilityError,
	}}
}

// prepareArgs validates required parameters, auto-fills them from synonym
// keys, and coerces value types per the schema. One auto-fill round only.
func (d *Dispatcher) prepareArgs(server, tool string, args map[string]any) *Result {
	if d.registry == nil {
		return nil
	}

	ts := d.registry.GetToolSchema(tool)
	if ts != nil {
		for _, param := range ts.Required {
			if v, ok := args[param]; ok && v != nil {
				continue
			}
			for _, alias := range argSynonyms[param] {
				if v, ok := args[alias]; ok && v != nil {
					args[param] = v
					delete(args, alias)
					break
				}
			}
		}
		coerceArgs(tool, args, ts.Types)
	}

	if ok, err := d.registry.ValidateToolCall(tool, args); !ok {
		return &Result{CallResult: toolserver.CallResult{
			Success: false,
			Server:  server,
			Tool:    tool,
			Error:   err.Error(),
			Tag:     toolserver.TagValidationError,
		}}
	}
	return nil
}

// postProcess feeds successful results back into session state: map view
// updates, recent paths, last process id.
func (d *Dispatcher) postProcess(res Resolution, result *Result) {
	if !result.Success {
		return
	}

	if d.shared != nil {
		if path := argString(res.Args, "path"); path != "" {
			d.shared.RecordPath(path)
		}
		if pid, ok := extractPID(result.Output); ok {
			d.shared.SetLastPID(pid)
		}
	}

	if d.mapState != nil && isMapsDirections(res.Server, res.Tool) {
		distance, duration := extractDirections(result.Output)
		d.mapState.UpdateDirections(
			argString(res.Args, "origin"),
			argString(res.Args, "destination"),
			distance, duration)
	}
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
