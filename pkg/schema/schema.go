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

// Package schema holds the tool schema registry: a read-only store of tool
// parameter schemas and the tiered server catalog, loaded from the
// declarative config files. It is the dispatcher's source of truth for
// argument validation and server routing.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/trinitylabs/trinity/pkg/config"
)

// ToolSchema describes one tool's binding and parameters.
type ToolSchema struct {
	Name     string
	Server   string
	Required []string
	Optional []string
	Types    map[string]string
	AliasFor string
}

// CatalogEntry describes one server for prompt rendering and compatibility
// checks.
type CatalogEntry struct {
	Name         string
	Tier         int
	Description  string
	KeyTools     []string
	WhenToUse    string
	Capabilities []string
	Active       bool
}

// Registry is immutable after Load; all lookups are safe for concurrent use.
type Registry struct {
	tools   map[string]*ToolSchema
	catalog map[string]*CatalogEntry

	serverCacheMu sync.RWMutex
	serverCache   map[string]string
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64

	perServer map[string][]string
}

// Load builds a registry from the parsed schemas and servers files.
func Load(schemas *config.SchemasConfig, servers *config.ServersConfig) (*Registry, error) {
	r := &Registry{
		tools:       make(map[string]*ToolSchema),
		catalog:     make(map[string]*CatalogEntry),
		serverCache: make(map[string]string),
		perServer:   make(map[string][]string),
	}

	if schemas != nil {
		for name, sc := range schemas.Tools {
			if sc == nil {
				continue
			}
			r.tools[name] = &ToolSchema{
				Name:     name,
				Server:   sc.Server,
				Required: append([]string(nil), sc.Required...),
				Optional: append([]string(nil), sc.Optional...),
				Types:    cloneTypes(sc.Types),
				AliasFor: sc.AliasFor,
			}
		}
	}

	if servers != nil {
		for name, srv := range servers.Servers {
			if srv == nil {
				continue
			}
			r.catalog[name] = &CatalogEntry{
				Name:         name,
				Tier:         srv.Tier,
				Description:  srv.Description,
				KeyTools:     append([]string(nil), srv.KeyTools...),
				WhenToUse:    srv.WhenToUse,
				Capabilities: append([]string(nil), srv.Capabilities...),
				Active:       !srv.Disabled,
			}
		}
	}

	for name, ts := range r.tools {
		resolved := r.resolveAlias(ts)
		if resolved == nil || resolved.Server == "" {
			continue
		}
		r.perServer[resolved.Server] = append(r.perServer[resolved.Server], name)
	}
	for _, names := range r.perServer {
		sort.Strings(names)
	}

	return r, nil
}

func cloneTypes(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// resolveAlias follows at most one alias hop.
func (r *Registry) resolveAlias(ts *ToolSchema) *ToolSchema {
	if ts == nil || ts.AliasFor == "" {
		return ts
	}
	if target, ok := r.tools[ts.AliasFor]; ok {
		return target
	}
	return nil
}

// GetToolSchema returns the schema for a tool, resolving one alias hop.
// Unknown tools return nil.
func (r *Registry) GetToolSchema(name string) *ToolSchema {
	ts, ok := r.tools[name]
	if !ok {
		return nil
	}
	return r.resolveAlias(ts)
}

// GetServerForTool returns the owning server of a tool. The result is cached.
func (r *Registry) GetServerForTool(name string) (string, bool) {
	r.serverCacheMu.RLock()
	server, ok := r.serverCache[name]
	r.serverCacheMu.RUnlock()
	if ok {
		r.cacheHits.Add(1)
		return server, server != ""
	}

	r.cacheMisses.Add(1)
	ts := r.GetToolSchema(name)
	server = ""
	if ts != nil {
		server = ts.Server
	}

	r.serverCacheMu.Lock()
	r.serverCache[name] = server
	r.serverCacheMu.Unlock()

	return server, server != ""
}

// CacheStats returns the server lookup cache hit/miss counters.
func (r *Registry) CacheStats() (hits, misses int64) {
	return r.cacheHits.Load(), r.cacheMisses.Load()
}

// ValidateToolCall checks that all required parameters are present. Unknown
// tools always validate: rejecting them is the dispatcher's job.
func (r *Registry) ValidateToolCall(name string, args map[string]any) (bool, error) {
	ts := r.GetToolSchema(name)
	if ts == nil {
		return true, nil
	}

	var missing []string
	for _, param := range ts.Required {
		if v, ok := args[param]; !ok || v == nil {
			missing = append(missing, param)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return false, fmt.Errorf("tool '%s' missing required parameters: %s",
			ts.Name, strings.Join(missing, ", "))
	}
	return true, nil
}

// ToolNamesForServer returns the sorted tool names bound to a server.
func (r *Registry) ToolNamesForServer(server string) []string {
	return append([]string(nil), r.perServer[server]...)
}

// ToolNames returns every registered tool name (aliases included), sorted.
func (r *Registry) ToolNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetCatalogEntry returns the catalog entry for a server.
func (r *Registry) GetCatalogEntry(server string) (*CatalogEntry, bool) {
	entry, ok := r.catalog[server]
	return entry, ok
}

// ServerNames returns the sorted server names in the catalog.
func (r *Registry) ServerNames() []string {
	names := make([]string, 0, len(r.catalog))
	for name := range r.catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CatalogForPrompt renders the server catalog for LLM prompts, grouped by
// tier, deterministically ordered. Inactive servers are flagged so planners
// never assign steps to them.
func (r *Registry) CatalogForPrompt(includeKeyTools bool) string {
	byTier := make(map[int][]*CatalogEntry)
	for _, entry := range r.catalog {
		byTier[entry.Tier] = append(byTier[entry.Tier], entry)
	}

	tiers := make([]int, 0, len(byTier))
	for tier := range byTier {
		tiers = append(tiers, tier)
	}
	sort.Ints(tiers)

	var b strings.Builder
	for _, tier := range tiers {
		entries := byTier[tier]
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

		fmt.Fprintf(&b, "## Tier %d\n", tier)
		for _, entry := range entries {
			status := "ACTIVE"
			if !entry.Active {
				status = "INACTIVE"
			}
			fmt.Fprintf(&b, "- %s [%s]: %s\n", entry.Name, status, entry.Description)
			if entry.WhenToUse != "" {
				fmt.Fprintf(&b, "  when to use: %s\n", entry.WhenToUse)
			}
			if includeKeyTools && len(entry.KeyTools) > 0 {
				fmt.Fprintf(&b, "  key tools: %s\n", strings.Join(entry.KeyTools, ", "))
			}
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}
