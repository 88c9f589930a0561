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

package config

// ServerConfig describes one tool server: how to reach it (lifecycle) and
// what it is good for (catalog). Catalog fields feed the prompt-facing server
// listing; lifecycle fields feed the server manager.
type ServerConfig struct {
	// Transport is "stdio" (spawn a subprocess) or "internal" (in-process
	// adapter registered by the host).
	Transport string `json:"transport"`

	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// Tier 1..4; lower tiers are preferred in prompts.
	Tier        int      `json:"tier"`
	Agents      []string `json:"agents,omitempty"`
	Disabled    bool     `json:"disabled,omitempty"`
	Description string   `json:"description,omitempty"`

	KeyTools     []string `json:"key_tools,omitempty"`
	WhenToUse    string   `json:"when_to_use,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`

	// TimeoutSeconds is the default per-tool call timeout for this server.
	// Zero means the global default (10s).
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	// ToolTimeouts overrides the timeout for specific tools, in seconds.
	// Code-assistant tools routinely run for many minutes.
	ToolTimeouts map[string]int `json:"tool_timeouts,omitempty"`
}

// ServersConfig is the parsed servers file ("mcpServers" top-level key).
type ServersConfig struct {
	Servers  map[string]*ServerConfig `json:"mcpServers"`
	Metadata map[string]any           `json:"_metadata,omitempty"`
}

// ModeSegmentation holds the per-mode segmentation knobs.
type ModeSegmentation struct {
	// Priority orders segments when the orchestrator sorts them; lower runs
	// earlier.
	Priority int `json:"priority"`

	// Keywords bias the LLM segmentation prompt toward this mode.
	Keywords []string `json:"keywords,omitempty"`

	// SplitKeywords open a new segment in the keyword fallback scanner.
	SplitKeywords []string `json:"split_keywords,omitempty"`

	// MergeWith lists modes a following segment may be merged into this one.
	MergeWith []string `json:"merge_with,omitempty"`
}

// ModeConfig is the static default profile for one mode.
type ModeConfig struct {
	Complexity     string   `json:"complexity,omitempty"`
	LLMTier        string   `json:"llm_tier,omitempty"`
	PromptTemplate string   `json:"prompt_template,omitempty"`
	ToolsAccess    string   `json:"tools_access,omitempty"`
	Protocols      []string `json:"protocols,omitempty"`
	Servers        []string `json:"servers,omitempty"`

	RequirePlanning       bool `json:"require_planning,omitempty"`
	RequireTools          bool `json:"require_tools,omitempty"`
	UseDeepPersona        bool `json:"use_deep_persona,omitempty"`
	UseSequentialThinking bool `json:"use_sequential_thinking,omitempty"`
	UseVibe               bool `json:"use_vibe,omitempty"`
	TrinityRequired       bool `json:"trinity_required,omitempty"`

	Segmentation ModeSegmentation `json:"segmentation,omitempty"`
}

// SegmentationConfig is the global segmentation config from the modes file.
type SegmentationConfig struct {
	Enabled          *bool `json:"enabled,omitempty"`
	MaxSegments      int   `json:"max_segments,omitempty"`
	MinSegmentLength int   `json:"min_segment_length,omitempty"`
}

func (c *SegmentationConfig) IsEnabled() bool {
	return c == nil || c.Enabled == nil || *c.Enabled
}

// ModesConfig is the parsed modes file: mode name -> defaults, plus the
// protocol registry and segmentation meta.
type ModesConfig struct {
	Modes            map[string]*ModeConfig
	ProtocolRegistry map[string]string
	Segmentation     SegmentationConfig
}

// ToolSchemaConfig is one entry of the tool schemas file. Aliases carry only
// AliasFor.
type ToolSchemaConfig struct {
	Server   string            `json:"server,omitempty"`
	Required []string          `json:"required,omitempty"`
	Optional []string          `json:"optional,omitempty"`
	Types    map[string]string `json:"types,omitempty"`
	AliasFor string            `json:"alias_for,omitempty"`
}

// SchemasConfig is the parsed tool schemas file.
type SchemasConfig struct {
	Tools map[string]*ToolSchemaConfig
}

// LLMProviderConfig configures one LLM provider endpoint.
type LLMProviderConfig struct {
	Type        string  `json:"type"`
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	// Pointer distinguishes unset from an explicit 0.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Timeout     int      `json:"timeout,omitempty"`
	MaxRetries  int      `json:"max_retries,omitempty"`
	RetryDelay  int      `json:"retry_delay,omitempty"`
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Temperature == nil {
		temp := 0.7
		c.Temperature = &temp
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 180
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
}

// TierConfig maps LLM tiers to provider names.
type TierConfig struct {
	Standard string `json:"standard"`
	Deep     string `json:"deep"`
	Vision   string `json:"vision,omitempty"`
}

// CheckpointConfig configures the Redis checkpoint store.
type CheckpointConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

func (c *CheckpointConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
}

// ExecLogConfig configures the sqlite execution-record store.
type ExecLogConfig struct {
	Path string `json:"path,omitempty"`
}

// OrchestratorConfig carries the bounded-retry knobs of the Trinity loop.
type OrchestratorConfig struct {
	MaxStepAttempts      int `json:"max_step_attempts,omitempty"`
	ReplanLimit          int `json:"replan_limit,omitempty"`
	ChatTurnLimit        int `json:"chat_turn_limit,omitempty"`
	MaxFixes             int `json:"max_fixes,omitempty"`
	UserInputTimeoutSecs int `json:"user_input_timeout_seconds,omitempty"`
}

func (c *OrchestratorConfig) SetDefaults() {
	if c.MaxStepAttempts == 0 {
		c.MaxStepAttempts = 3
	}
	if c.ReplanLimit == 0 {
		c.ReplanLimit = 2
	}
	if c.ChatTurnLimit == 0 {
		c.ChatTurnLimit = 5
	}
	if c.MaxFixes == 0 {
		c.MaxFixes = 3
	}
	if c.UserInputTimeoutSecs == 0 {
		c.UserInputTimeoutSecs = 20
	}
}

// AuditorConfig carries auditor policy knobs.
type AuditorConfig struct {
	// CreatorPhrases trigger the creator override when the user request
	// mentions one of them and a plan rejection is purely policy-based.
	CreatorPhrases []string `json:"creator_phrases,omitempty"`

	// ReportsDir is where rejection reports are written.
	ReportsDir string `json:"reports_dir,omitempty"`
}
