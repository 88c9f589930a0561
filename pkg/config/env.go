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
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

var envVarPatterns = struct {
	withDefault *regexp.Regexp
	braced      *regexp.Regexp
	simple      *regexp.Regexp
}{
	withDefault: regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`),
	braced:      regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`),
	simple:      regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`),
}

// LoadDotEnv loads a .env file from the working directory when present.
// Existing environment variables win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// ExpandEnvVars substitutes ${VAR:-default}, ${VAR} and $VAR references.
// PROJECT_ROOT falls back to the working directory when unset.
func ExpandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	lookup := func(name string) string {
		if val := os.Getenv(name); val != "" {
			return val
		}
		if name == "PROJECT_ROOT" {
			if wd, err := os.Getwd(); err == nil {
				return wd
			}
		}
		return ""
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if len(parts) == 3 {
			if val := lookup(parts[1]); val != "" {
				return val
			}
			return parts[2]
		}
		return match
	})

	s = envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		if len(parts) == 2 {
			return lookup(parts[1])
		}
		return match
	})

	s = envVarPatterns.simple.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.simple.FindStringSubmatch(match)
		if len(parts) == 2 {
			return lookup(parts[1])
		}
		return match
	})

	return s
}

// ExpandRaw walks a raw config tree and expands env references in every
// string value. Keys are left alone.
func ExpandRaw(v any) any {
	switch tv := v.(type) {
	case string:
		return ExpandEnvVars(tv)
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			out[k] = ExpandRaw(val)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			out[i] = ExpandRaw(val)
		}
		return out
	default:
		return v
	}
}

// ExpandServerConfig returns a copy of cfg with command, args and env values
// expanded. The original is left untouched so reloads see pristine values.
func ExpandServerConfig(cfg *ServerConfig) *ServerConfig {
	if cfg == nil {
		return nil
	}

	out := *cfg
	out.Command = ExpandEnvVars(cfg.Command)

	if len(cfg.Args) > 0 {
		out.Args = make([]string, len(cfg.Args))
		for i, a := range cfg.Args {
			out.Args[i] = ExpandEnvVars(a)
		}
	}

	if len(cfg.Env) > 0 {
		out.Env = make(map[string]string, len(cfg.Env))
		for k, v := range cfg.Env {
			out.Env[k] = ExpandEnvVars(v)
		}
	}

	return &out
}
