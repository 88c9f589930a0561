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

// Package config defines Trinity's declarative configuration: the main
// config plus three data files (tool servers, mode profiles, tool schemas).
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config is the root configuration.
type Config struct {
	// Language is the target natural language for user-facing messages
	// (ISO 639-1). Voice actions are validated against it.
	Language string `json:"language,omitempty"`

	// Paths of the three declarative data files, relative to the config file.
	ServersFile string `json:"servers_file,omitempty"`
	ModesFile   string `json:"modes_file,omitempty"`
	SchemasFile string `json:"schemas_file,omitempty"`

	LLMs  map[string]*LLMProviderConfig `json:"llms,omitempty"`
	Tiers TierConfig                    `json:"tiers,omitempty"`

	Checkpoint   CheckpointConfig   `json:"checkpoint,omitempty"`
	ExecLog      ExecLogConfig      `json:"exec_log,omitempty"`
	Orchestrator OrchestratorConfig `json:"orchestrator,omitempty"`
	Auditor      AuditorConfig      `json:"auditor,omitempty"`

	Metrics bool `json:"metrics,omitempty"`

	// Loaded data files (populated by the loader).
	Servers ServersConfig `json:"-"`
	Modes   ModesConfig   `json:"-"`
	Schemas SchemasConfig `json:"-"`
}

// SetDefaults fills zero values in place.
func (c *Config) SetDefaults() {
	if c.Language == "" {
		c.Language = "uk"
	}
	if c.ServersFile == "" {
		c.ServersFile = "servers.json"
	}
	if c.ModesFile == "" {
		c.ModesFile = "modes.json"
	}
	if c.SchemasFile == "" {
		c.SchemasFile = "schemas.json"
	}
	for _, llm := range c.LLMs {
		if llm != nil {
			llm.SetDefaults()
		}
	}
	c.Checkpoint.SetDefaults()
	c.Orchestrator.SetDefaults()
	if c.ExecLog.Path == "" {
		c.ExecLog.Path = filepath.Join(DataDir(), "execlog.db")
	}
	if c.Auditor.ReportsDir == "" {
		c.Auditor.ReportsDir = filepath.Join(DataDir(), "reports")
	}
	if len(c.Auditor.CreatorPhrases) == 0 {
		c.Auditor.CreatorPhrases = []string{"creator", "творець", "создатель"}
	}
}

// Validate checks referential consistency between the main config and the
// loaded data files.
func (c *Config) Validate() error {
	if c.Tiers.Standard != "" {
		if _, ok := c.LLMs[c.Tiers.Standard]; !ok {
			return fmt.Errorf("tiers.standard references unknown llm '%s'", c.Tiers.Standard)
		}
	}
	if c.Tiers.Deep != "" {
		if _, ok := c.LLMs[c.Tiers.Deep]; !ok {
			return fmt.Errorf("tiers.deep references unknown llm '%s'", c.Tiers.Deep)
		}
	}

	for name, srv := range c.Servers.Servers {
		if srv == nil {
			continue
		}
		switch srv.Transport {
		case "", "stdio":
			if !srv.Disabled && srv.Command == "" {
				return fmt.Errorf("server '%s': stdio transport requires a command", name)
			}
		case "internal":
		default:
			return fmt.Errorf("server '%s': unsupported transport '%s'", name, srv.Transport)
		}
		if srv.Tier < 0 || srv.Tier > 4 {
			return fmt.Errorf("server '%s': tier must be 1..4", name)
		}
	}

	for tool, schema := range c.Schemas.Tools {
		if schema == nil {
			continue
		}
		if schema.AliasFor != "" {
			target, ok := c.Schemas.Tools[schema.AliasFor]
			if !ok {
				return fmt.Errorf("tool '%s': alias_for references unknown tool '%s'", tool, schema.AliasFor)
			}
			// Alias resolution is one-hop.
			if target != nil && target.AliasFor != "" {
				return fmt.Errorf("tool '%s': alias chain through '%s' exceeds one hop", tool, schema.AliasFor)
			}
			continue
		}
		if schema.Server == "" {
			return fmt.Errorf("tool '%s': server is required", tool)
		}
	}

	return nil
}

// DataDir returns Trinity's per-user data directory
// (~/.config/trinity by default).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trinity"
	}
	return filepath.Join(home, ".config", "trinity")
}
