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

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load reads the main config file and the three data files it references.
// Passing an empty path yields a default config with empty data files.
func Load(path string) (*Config, error) {
	LoadDotEnv()

	cfg := &Config{}

	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), koanfjson.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
		if err := decodeRaw(ExpandRaw(k.Raw()), cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}

	cfg.SetDefaults()

	if path != "" {
		dir := filepath.Dir(path)

		servers, err := LoadServersFile(resolvePath(dir, cfg.ServersFile))
		if err != nil {
			return nil, err
		}
		cfg.Servers = *servers

		modes, err := LoadModesFile(resolvePath(dir, cfg.ModesFile))
		if err != nil {
			return nil, err
		}
		cfg.Modes = *modes

		schemas, err := LoadSchemasFile(resolvePath(dir, cfg.SchemasFile))
		if err != nil {
			return nil, err
		}
		cfg.Schemas = *schemas
	}

	if cfg.Servers.Servers == nil {
		cfg.Servers.Servers = map[string]*ServerConfig{}
	}
	if cfg.Modes.Modes == nil {
		cfg.Modes.Modes = map[string]*ModeConfig{}
	}
	if cfg.Schemas.Tools == nil {
		cfg.Schemas.Tools = map[string]*ToolSchemaConfig{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadServersFile parses the tool servers file ("mcpServers" top-level key).
func LoadServersFile(path string) (*ServersConfig, error) {
	raw, err := loadRaw(path)
	if err != nil {
		return nil, err
	}

	out := &ServersConfig{Servers: map[string]*ServerConfig{}}

	if meta, ok := raw["_metadata"].(map[string]any); ok {
		out.Metadata = meta
	}

	serversRaw, ok := raw["mcpServers"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: missing mcpServers section", path)
	}

	for name, entry := range serversRaw {
		sc := &ServerConfig{}
		if err := decodeRaw(entry, sc); err != nil {
			return nil, fmt.Errorf("%s: server '%s': %w", path, name, err)
		}
		out.Servers[name] = sc
	}

	return out, nil
}

// LoadModesFile parses the mode profiles file. Top-level keys are mode names
// except the underscore-prefixed registry and meta sections.
func LoadModesFile(path string) (*ModesConfig, error) {
	raw, err := loadRaw(path)
	if err != nil {
		return nil, err
	}

	out := &ModesConfig{
		Modes:            map[string]*ModeConfig{},
		ProtocolRegistry: map[string]string{},
	}

	for key, entry := range raw {
		switch {
		case key == "_protocol_registry":
			if err := decodeRaw(entry, &out.ProtocolRegistry); err != nil {
				return nil, fmt.Errorf("%s: _protocol_registry: %w", path, err)
			}
		case key == "_meta":
			var meta struct {
				Segmentation SegmentationConfig `json:"segmentation"`
			}
			if err := decodeRaw(entry, &meta); err != nil {
				return nil, fmt.Errorf("%s: _meta: %w", path, err)
			}
			out.Segmentation = meta.Segmentation
		case strings.HasPrefix(key, "_"):
			// Unknown metadata sections are ignored.
		default:
			mc := &ModeConfig{}
			if err := decodeRaw(entry, mc); err != nil {
				return nil, fmt.Errorf("%s: mode '%s': %w", path, key, err)
			}
			out.Modes[key] = mc
		}
	}

	return out, nil
}

// LoadSchemasFile parses the tool schemas file (tool name -> schema).
func LoadSchemasFile(path string) (*SchemasConfig, error) {
	raw, err := loadRaw(path)
	if err != nil {
		return nil, err
	}

	out := &SchemasConfig{Tools: map[string]*ToolSchemaConfig{}}
	for name, entry := range raw {
		if strings.HasPrefix(name, "_") {
			continue
		}
		ts := &ToolSchemaConfig{}
		if err := decodeRaw(entry, ts); err != nil {
			return nil, fmt.Errorf("%s: tool '%s': %w", path, name, err)
		}
		out.Tools[name] = ts
	}

	return out, nil
}

func loadRaw(path string) (map[string]any, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), koanfjson.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return k.Raw(), nil
}

// decodeRaw round-trips a raw map through JSON into a typed struct so the
// struct tags drive the decoding.
func decodeRaw(raw any, target any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

func resolvePath(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
