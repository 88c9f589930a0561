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

// Package mode builds execution profiles for request segments. A Profile is
// the only carrier of mode decisions downstream: agents and the orchestrator
// never re-classify by keywords.
package mode

import (
	"github.com/mitchellh/mapstructure"
)

// Mode names. Closed set.
const (
	ModeChat        = "chat"
	ModeDeepChat    = "deep_chat"
	ModeSoloTask    = "solo_task"
	ModeTask        = "task"
	ModeDevelopment = "development"
	ModeRecall      = "recall"
	ModeStatus      = "status"
)

// KnownModes lists every valid mode.
var KnownModes = map[string]bool{
	ModeChat:        true,
	ModeDeepChat:    true,
	ModeSoloTask:    true,
	ModeTask:        true,
	ModeDevelopment: true,
	ModeRecall:      true,
	ModeStatus:      true,
}

// Tool access levels.
const (
	ToolsNone    = "none"
	ToolsLimited = "limited"
	ToolsFull    = "full"
)

// Profile is the execution contract for one segment: which mode, which LLM
// tier, which servers and protocols, and which flags gate the pipeline.
type Profile struct {
	Mode           string   `json:"mode" mapstructure:"mode"`
	Complexity     string   `json:"complexity,omitempty" mapstructure:"complexity"`
	LLMTier        string   `json:"llm_tier,omitempty" mapstructure:"llm_tier"`
	PromptTemplate string   `json:"prompt_template,omitempty" mapstructure:"prompt_template"`
	ToolsAccess    string   `json:"tools_access,omitempty" mapstructure:"tools_access"`
	Protocols      []string `json:"protocols,omitempty" mapstructure:"protocols"`
	Servers        []string `json:"servers,omitempty" mapstructure:"servers"`

	RequirePlanning       bool `json:"require_planning,omitempty" mapstructure:"require_planning"`
	RequireTools          bool `json:"require_tools,omitempty" mapstructure:"require_tools"`
	UseDeepPersona        bool `json:"use_deep_persona,omitempty" mapstructure:"use_deep_persona"`
	UseSequentialThinking bool `json:"use_sequential_thinking,omitempty" mapstructure:"use_sequential_thinking"`
	UseVibe               bool `json:"use_vibe,omitempty" mapstructure:"use_vibe"`
	TrinityRequired       bool `json:"trinity_required,omitempty" mapstructure:"trinity_required"`

	// Priority orders segments for execution (lower runs earlier); zero
	// means unprioritized. Never derived from LLM-reported positions.
	Priority int `json:"priority,omitempty" mapstructure:"priority"`

	// Reason records why this mode was chosen (LLM or fallback rule).
	Reason string `json:"reason,omitempty" mapstructure:"reason"`
}

// ToMap renders the profile as a plain map for prompts and checkpoints.
func (p *Profile) ToMap() map[string]any {
	out := map[string]any{"mode": p.Mode}
	if p.Complexity != "" {
		out["complexity"] = p.Complexity
	}
	if p.LLMTier != "" {
		out["llm_tier"] = p.LLMTier
	}
	if p.PromptTemplate != "" {
		out["prompt_template"] = p.PromptTemplate
	}
	if p.ToolsAccess != "" {
		out["tools_access"] = p.ToolsAccess
	}
	if len(p.Protocols) > 0 {
		out["protocols"] = append([]string(nil), p.Protocols...)
	}
	if len(p.Servers) > 0 {
		out["servers"] = append([]string(nil), p.Servers...)
	}
	if p.RequirePlanning {
		out["require_planning"] = true
	}
	if p.RequireTools {
		out["require_tools"] = true
	}
	if p.UseDeepPersona {
		out["use_deep_persona"] = true
	}
	if p.UseSequentialThinking {
		out["use_sequential_thinking"] = true
	}
	if p.UseVibe {
		out["use_vibe"] = true
	}
	if p.TrinityRequired {
		out["trinity_required"] = true
	}
	if p.Priority != 0 {
		out["priority"] = p.Priority
	}
	if p.Reason != "" {
		out["reason"] = p.Reason
	}
	return out
}

// FromMap decodes a profile from a loosely typed map.
func FromMap(data map[string]any) (*Profile, error) {
	var p Profile
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(data); err != nil {
		return nil, err
	}
	return &p, nil
}

// IsConversational reports whether the mode runs without planning.
func (p *Profile) IsConversational() bool {
	return p.Mode == ModeChat || p.Mode == ModeDeepChat
}

// NeedsTrinity reports whether the full planner/executor/auditor pipeline
// runs for this profile.
func (p *Profile) NeedsTrinity() bool {
	return p.TrinityRequired || p.Mode == ModeTask || p.Mode == ModeDevelopment
}
