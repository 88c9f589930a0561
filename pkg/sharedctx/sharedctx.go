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

// Package sharedctx holds the per-session mutable state agents share: recent
// paths, variables, the current goal, and the map view updated by maps-tool
// responses. Both types are injected collaborators tied to an orchestrator
// session; nothing here is persisted.
package sharedctx

import (
	"sync"
	"time"
)

// Context is the session-wide key/value state. Single writer at a time;
// readers always get snapshots.
type Context struct {
	mu sync.RWMutex

	goal        string
	variables   map[string]any
	recentPaths []string
	lastPID     int
}

const maxRecentPaths = 10

func New() *Context {
	return &Context{variables: make(map[string]any)}
}

// SetGoal records the current segment goal.
func (c *Context) SetGoal(goal string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.goal = goal
}

func (c *Context) Goal() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.goal
}

// Set stores a variable.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[key] = value
}

func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[key]
	return v, ok
}

// Snapshot returns a copy of all variables.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// RecordPath remembers a recently used filesystem path.
func (c *Context) RecordPath(path string) {
	if path == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.recentPaths {
		if p == path {
			return
		}
	}
	c.recentPaths = append(c.recentPaths, path)
	if len(c.recentPaths) > maxRecentPaths {
		c.recentPaths = c.recentPaths[len(c.recentPaths)-maxRecentPaths:]
	}
}

func (c *Context) RecentPaths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.recentPaths...)
}

// SetLastPID records the last-known process id for OS automation tools.
func (c *Context) SetLastPID(pid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPID = pid
}

func (c *Context) LastPID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPID
}

// Reset clears per-segment state. Keys never leak between segments unless
// explicitly propagated by the orchestrator.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.goal = ""
	c.variables = make(map[string]any)
	c.recentPaths = nil
	c.lastPID = 0
}

// MapState mirrors the latest maps-tool responses for frontend readers.
type MapState struct {
	mu sync.RWMutex

	origin      string
	destination string
	distance    string
	duration    string
	updatedAt   time.Time
}

func NewMapState() *MapState {
	return &MapState{}
}

// UpdateDirections records a directions/distance result.
func (m *MapState) UpdateDirections(origin, destination, distance, duration string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.origin = origin
	m.destination = destination
	m.distance = distance
	m.duration = duration
	m.updatedAt = time.Now()
}

// View returns a snapshot of the map state.
func (m *MapState) View() (origin, destination, distance, duration string, updatedAt time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.origin, m.destination, m.distance, m.duration, m.updatedAt
}
