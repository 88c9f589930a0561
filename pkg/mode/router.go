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

package mode

import (
	"log/slog"
	"strings"

	"github.com/trinitylabs/trinity/pkg/config"
)

// modeSynonyms normalizes the mode/intent strings LLMs actually emit.
var modeSynonyms = map[string]string{
	"dev":          ModeDevelopment,
	"coding":       ModeDevelopment,
	"code":         ModeDevelopment,
	"programming":  ModeDevelopment,
	"deepchat":     ModeDeepChat,
	"deep-chat":    ModeDeepChat,
	"deep chat":    ModeDeepChat,
	"philosophy":   ModeDeepChat,
	"solo":         ModeSoloTask,
	"solotask":     ModeSoloTask,
	"solo-task":    ModeSoloTask,
	"quick_task":   ModeSoloTask,
	"conversation": ModeChat,
	"talk":         ModeChat,
	"memory":       ModeRecall,
	"remember":     ModeRecall,
	"health":       ModeStatus,
}

// Router builds mode profiles from LLM analysis or keyword fallback.
type Router struct {
	modes     *config.ModesConfig
	protocols map[string]string
}

func NewRouter(modes *config.ModesConfig) *Router {
	protocols := modes.ProtocolRegistry
	if protocols == nil {
		protocols = map[string]string{}
	}
	return &Router{modes: modes, protocols: protocols}
}

// NormalizeMode maps a raw mode/intent string to a known mode, or "" when it
// cannot be normalized.
func NormalizeMode(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := modeSynonyms[name]; ok {
		return canonical
	}
	if KnownModes[name] {
		return name
	}
	return ""
}

// BuildProfile merges the static defaults of the analyzed mode with the
// LLM-proposed overrides. This is the only constructor of downstream mode
// decisions; building from an already built profile map is a no-op.
func (r *Router) BuildProfile(analysis map[string]any) *Profile {
	rawMode, _ := analysis["mode"].(string)
	if rawMode == "" {
		rawMode, _ = analysis["intent"].(string)
	}

	name := NormalizeMode(rawMode)
	if name == "" {
		slog.Warn("Unknown mode from analysis, defaulting to solo_task", "mode", rawMode)
		name = ModeSoloTask
	}

	profile := r.defaultsFor(name)

	if v, ok := analysis["complexity"].(string); ok && v != "" {
		profile.Complexity = v
	}
	if v, ok := analysis["llm_tier"].(string); ok && v != "" {
		profile.LLMTier = v
	}
	if v, ok := analysis["reason"].(string); ok {
		profile.Reason = v
	}
	if v, ok := analysis["use_deep_persona"].(bool); ok && v {
		profile.UseDeepPersona = true
	}
	if v, ok := analysis["use_sequential_thinking"].(bool); ok && v {
		profile.UseSequentialThinking = true
	}

	profile.Servers = mergeUnique(profile.Servers, stringSlice(analysis["extra_servers"]))
	profile.Protocols = mergeUnique(profile.Protocols, stringSlice(analysis["extra_protocols"]))

	// Auto-upgrade: a chat that asks for the deep persona is a deep chat.
	if profile.Mode == ModeChat && profile.UseDeepPersona {
		upgraded := r.defaultsFor(ModeDeepChat)
		upgraded.Complexity = profile.Complexity
		upgraded.Reason = profile.Reason
		upgraded.Servers = mergeUnique(upgraded.Servers, profile.Servers)
		upgraded.Protocols = mergeUnique(upgraded.Protocols, profile.Protocols)
		upgraded.UseDeepPersona = true
		profile = upgraded
	}

	// The deep persona only exists for deep chat and development work; an
	// LLM suggesting it for any other mode is ignored.
	if profile.UseDeepPersona && profile.Mode != ModeDeepChat && profile.Mode != ModeDevelopment {
		profile.UseDeepPersona = false
	}

	return profile
}

// BuildProfileForMode builds the static default profile of a known mode.
func (r *Router) BuildProfileForMode(name string) *Profile {
	if normalized := NormalizeMode(name); normalized != "" {
		name = normalized
	} else {
		name = ModeSoloTask
	}
	return r.defaultsFor(name)
}

func (r *Router) defaultsFor(name string) *Profile {
	profile := &Profile{
		Mode:        name,
		Complexity:  "medium",
		LLMTier:     "standard",
		ToolsAccess: ToolsFull,
	}

	cfg, ok := r.modes.Modes[name]
	if !ok {
		switch name {
		case ModeChat, ModeDeepChat:
			profile.ToolsAccess = ToolsNone
		}
		if name == ModeDeepChat {
			profile.LLMTier = "deep"
			profile.UseDeepPersona = true
		}
		if name == ModeTask || name == ModeDevelopment {
			profile.RequirePlanning = true
			profile.RequireTools = true
			profile.TrinityRequired = true
		}
		if name == ModeDevelopment {
			profile.UseVibe = true
		}
		return profile
	}

	if cfg.Complexity != "" {
		profile.Complexity = cfg.Complexity
	}
	if cfg.LLMTier != "" {
		profile.LLMTier = cfg.LLMTier
	}
	profile.PromptTemplate = cfg.PromptTemplate
	if cfg.ToolsAccess != "" {
		profile.ToolsAccess = cfg.ToolsAccess
	}
	profile.Protocols = append([]string(nil), cfg.Protocols...)
	profile.Servers = append([]string(nil), cfg.Servers...)
	profile.RequirePlanning = cfg.RequirePlanning
	profile.RequireTools = cfg.RequireTools
	profile.UseDeepPersona = cfg.UseDeepPersona
	profile.UseSequentialThinking = cfg.UseSequentialThinking
	profile.UseVibe = cfg.UseVibe
	profile.TrinityRequired = cfg.TrinityRequired
	profile.Priority = cfg.Segmentation.Priority

	return profile
}

// ResolveProtocols maps a profile's protocol names to their prompt blocks,
// preserving order and skipping unknown names.
func (r *Router) ResolveProtocols(profile *Profile) []string {
	blocks := make([]string, 0, len(profile.Protocols))
	for _, name := range profile.Protocols {
		if block, ok := r.protocols[name]; ok {
			blocks = append(blocks, block)
		} else {
			slog.Debug("Unknown protocol name", "protocol", name)
		}
	}
	return blocks
}

// Keyword tables for the heuristic fallback. Deliberately minimal; the LLM
// is the real classifier.
var (
	codeWords = []string{
		"code", "function", "bug", "compile", "debug", "refactor", "script",
		"api", "class", "variable", "repository", "commit",
		"код", "функці", "баг", "скрипт", "програм", "компіл", "рефактор",
	}
	imperativeVerbs = []string{
		"open", "create", "delete", "install", "download", "make", "write",
		"send", "launch", "start", "stop", "move", "copy",
		"відкрий", "створи", "видали", "встанови", "завантаж", "зроби",
		"напиши", "надішли", "запусти", "зупини", "перемісти", "скопіюй",
	}
)

// FallbackClassify applies six ordered heuristic rules when the LLM
// classifier is unavailable or returned garbage.
func (r *Router) FallbackClassify(request string) *Profile {
	text := strings.ToLower(strings.TrimSpace(request))
	words := strings.Fields(text)

	build := func(name, reason string) *Profile {
		p := r.defaultsFor(name)
		p.Reason = reason
		return p
	}

	for _, w := range codeWords {
		if strings.Contains(text, w) {
			return build(ModeDevelopment, "fallback: code vocabulary")
		}
	}
	for _, verb := range imperativeVerbs {
		if len(words) > 0 && strings.HasPrefix(words[0], verb) {
			return build(ModeTask, "fallback: imperative verb")
		}
	}
	if len(words) <= 3 {
		return build(ModeChat, "fallback: short utterance")
	}
	if len(words) >= 15 {
		p := build(ModeTask, "fallback: long request")
		p.Complexity = "high"
		return p
	}
	if strings.Contains(text, "?") && len(words) < 10 {
		return build(ModeSoloTask, "fallback: short question")
	}
	return build(ModeSoloTask, "fallback: default")
}

func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func mergeUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, s := range base {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range extra {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
