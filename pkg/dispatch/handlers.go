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

package dispatch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/trinitylabs/trinity/pkg/toolserver"
)

// hallucinatedNames are tool names LLMs invent that exist on no server. Each
// maps to a redirect suggestion appended to the error.
var hallucinatedNames = map[string]string{
	"evaluate": "Use vibe_code_review for code evaluation or execute_command for running tests.",
	"assess":   "Use vibe_code_review for code evaluation or execute_command for running tests.",
	"verify":   "Use read_file to inspect results or execute_command to run checks.",
	"validate": "Use read_file to inspect results or execute_command to run checks.",
	"check":    "Use read_file to inspect results or execute_command to run checks.",
	"test":     "Use execute_command to run the test suite.",
	"compile":  "Use execute_command with the build command.",
	"build":    "Use execute_command with the build command.",
	"deploy":   "Use execute_command with the deployment script.",
	"run":      "Use execute_command to run a shell command.",
}

// osNativePriority words route straight to the OS-automation server without
// a registry lookup.
var osNativePriority = map[string]bool{
	"bash":        true,
	"zsh":         true,
	"sh":          true,
	"shell":       true,
	"git":         true,
	"npm":         true,
	"curl":        true,
	"time":        true,
	"clipboard":   true,
	"applescript": true,
	"brew":        true,
	"make":        true,
	"python":      true,
	"pip":         true,
}

// toolSynonyms translates per-server synonym names to canonical tools.
var toolSynonyms = map[string]map[string]string{
	"macos-use": {
		"bash":        "execute_command",
		"zsh":         "execute_command",
		"sh":          "execute_command",
		"shell":       "execute_command",
		"execute":     "execute_command",
		"exec":        "execute_command",
		"run":         "execute_command",
		"command":     "execute_command",
		"terminal":    "execute_command",
		"git":         "execute_command",
		"npm":         "execute_command",
		"curl":        "execute_command",
		"brew":        "execute_command",
		"make":        "execute_command",
		"python":      "execute_command",
		"pip":         "execute_command",
		"time":        "execute_command",
		"read":        "read_file",
		"cat":         "read_file",
		"write":       "write_file",
		"ls":          "list_directory",
		"list":        "list_directory",
		"click":       "click_at_coordinate",
		"type":        "type_text",
		"screenshot":  "take_screenshot",
		"clipboard":   "read_clipboard",
		"applescript": "run_applescript",
	},
	"browser": {
		"goto":     "navigate",
		"open_url": "navigate",
		"open":     "navigate",
	},
	"duckduckgo-search": {
		"web_search": "search",
		"websearch":  "search",
	},
	"memory": {
		"remember": "store_memory",
		"recall":   "search_memory",
	},
	"sequential-thinking": {
		"think": "sequentialthinking",
	},
}

// argRepairs renames misspelled or legacy argument keys per server.
var argRepairs = map[string]map[string]string{
	"macos-use": {
		"cmd":      "command",
		"script":   "command",
		"new_path": "path",
		"file":     "path",
	},
	"context7": {
		"libraryName": "term",
		"library":     "term",
	},
	"vibe": {
		"cmd":       "command",
		"directory": "cwd",
	},
}

// argSynonyms lists alternate keys a missing required parameter may be
// auto-filled from. Order matters.
var argSynonyms = map[string][]string{
	"query":   {"question", "q", "search", "text"},
	"prompt":  {"query", "question", "message", "text"},
	"command": {"cmd", "script"},
	"path":    {"file", "filepath", "file_path", "filename", "new_path"},
	"url":     {"link", "uri"},
	"term":    {"libraryName", "library", "topic"},
	"origin":  {"from", "start"},
	"destination": {"to", "end"},
}

// inferToolFromArgs guesses a tool when the caller sent only arguments.
func inferToolFromArgs(args map[string]any) string {
	switch {
	case args["command"] != nil || args["cmd"] != nil:
		return "execute_command"
	case args["url"] != nil:
		return "fetch"
	case args["x"] != nil && args["y"] != nil:
		return "click_at_coordinate"
	case args["path"] != nil:
		return "read_file"
	case args["query"] != nil:
		return "search"
	default:
		return ""
	}
}

// applyHandler runs the per-server normalizer for a resolved server.
func (d *Dispatcher) applyHandler(server, tool string, args map[string]any) (string, string, map[string]any, *Result) {
	// Search routing safety: the literal name "search" in a browser
	// context must hit the web-search server, never browser automation.
	if tool == "search" && server == "browser" {
		server = d.opts.SearchServer
	}

	if canonical, ok := toolSynonyms[server][tool]; ok {
		tool = canonical
	}
	for from, to := range argRepairs[server] {
		if v, ok := args[from]; ok {
			if _, taken := args[to]; !taken {
				args[to] = v
			}
			delete(args, from)
		}
	}

	switch server {
	case d.opts.OSServer:
		return d.handleOSAutomation(server, tool, args)
	case "vibe":
		return d.handleVibe(server, tool, args)
	default:
		return server, tool, args, nil
	}
}

// handleOSAutomation finishes terminal and filesystem normalization: cwd
// chaining for tools without a working-dir parameter and last-PID injection
// for process tools.
func (d *Dispatcher) handleOSAutomation(server, tool string, args map[string]any) (string, string, map[string]any, *Result) {
	if tool == "execute_command" {
		cmd := argString(args, "command")
		cwd := argString(args, "cwd")
		if cwd == "" {
			cwd = argString(args, "working_directory")
			delete(args, "working_directory")
		}
		if cwd != "" && cmd != "" && !toolAcceptsParam(d, tool, "cwd") {
			args["command"] = fmt.Sprintf("cd %s && %s", cwd, cmd)
			delete(args, "cwd")
		}
	}

	if d.shared != nil && needsPID(tool) {
		if _, ok := args["pid"]; !ok {
			if pid := d.shared.LastPID(); pid > 0 {
				args["pid"] = pid
			}
		}
	}

	return server, tool, args, nil
}

// handleVibe pins the code assistant to an absolute, existing working
// directory. The long call timeout is applied by the server manager.
func (d *Dispatcher) handleVibe(server, tool string, args map[string]any) (string, string, map[string]any, *Result) {
	cwd := argString(args, "cwd")
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			wd = os.TempDir()
		}
		cwd = wd
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return server, tool, args, &Result{CallResult: toolserver.CallResult{
			Success: false,
			Server:  server,
			Tool:    tool,
			Error:   fmt.Sprintf("cannot resolve vibe cwd '%s': %v", cwd, err),
			Tag:     toolserver.TagBadRequest,
		}}
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return server, tool, args, &Result{CallResult: toolserver.CallResult{
			Success: false,
			Server:  server,
			Tool:    tool,
			Error:   fmt.Sprintf("cannot create vibe cwd '%s': %v", abs, err),
			Tag:     toolserver.TagBadRequest,
		}}
	}
	args["cwd"] = abs
	return server, tool, args, nil
}

// toolAcceptsParam reports whether the schema declares a parameter for the
// tool. Unknown tools accept everything.
func toolAcceptsParam(d *Dispatcher, tool, param string) bool {
	if d.registry == nil {
		return true
	}
	ts := d.registry.GetToolSchema(tool)
	if ts == nil {
		return true
	}
	return containsString(ts.Required, param) || containsString(ts.Optional, param)
}

func needsPID(tool string) bool {
	switch tool {
	case "kill_process", "get_process_output", "send_input_to_process", "wait_for_process":
		return true
	}
	return false
}

// coerceArgs converts argument values to the schema-declared types. Coercion
// failures are logged and the original value kept; validation decides later.
func coerceArgs(tool string, args map[string]any, types map[string]string) {
	for param, wantType := range types {
		v, ok := args[param]
		if !ok || v == nil {
			continue
		}
		coerced, err := coerceValue(v, wantType)
		if err != nil {
			slog.Warn("Type coercion failed",
				"tool", tool, "param", param, "want", wantType, "error", err)
			continue
		}
		args[param] = coerced
	}
}

func coerceValue(v any, wantType string) (any, error) {
	switch wantType {
	case "string":
		switch t := v.(type) {
		case string:
			return t, nil
		case float64:
			if t == float64(int64(t)) {
				return strconv.FormatInt(int64(t), 10), nil
			}
			return strconv.FormatFloat(t, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(t), nil
		case bool:
			return strconv.FormatBool(t), nil
		}
	case "number", "integer":
		switch t := v.(type) {
		case float64:
			if wantType == "integer" {
				return int(t), nil
			}
			return t, nil
		case int:
			return t, nil
		case string:
			if wantType == "integer" {
				n, err := strconv.Atoi(strings.TrimSpace(t))
				if err != nil {
					return nil, fmt.Errorf("'%s' is not an integer", t)
				}
				return n, nil
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, fmt.Errorf("'%s' is not a number", t)
			}
			return f, nil
		}
	case "boolean":
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(t))
			if err != nil {
				return nil, fmt.Errorf("'%s' is not a boolean", t)
			}
			return b, nil
		}
	case "array", "object", "":
		return v, nil
	}
	return v, nil
}

var pidPattern = regexp.MustCompile(`"pid"\s*:\s*(\d+)`)

// extractPID pulls a process id out of a tool result, JSON first, then the
// quoted-key fallback for semi-structured output.
func extractPID(output string) (int, bool) {
	var blob struct {
		PID int `json:"pid"`
	}
	if err := json.Unmarshal([]byte(output), &blob); err == nil && blob.PID > 0 {
		return blob.PID, true
	}
	if m := pidPattern.FindStringSubmatch(output); m != nil {
		pid, err := strconv.Atoi(m[1])
		if err == nil && pid > 0 {
			return pid, true
		}
	}
	return 0, false
}

func isMapsDirections(server, tool string) bool {
	if server != "maps" {
		return false
	}
	return strings.Contains(tool, "direction") || strings.Contains(tool, "distance") ||
		strings.Contains(tool, "route")
}

// extractDirections pulls distance and duration strings out of a maps result.
func extractDirections(output string) (distance, duration string) {
	var blob struct {
		Distance string `json:"distance"`
		Duration string `json:"duration"`
	}
	if err := json.Unmarshal([]byte(output), &blob); err == nil {
		return blob.Distance, blob.Duration
	}

	var nested struct {
		Routes []struct {
			Distance string `json:"distance"`
			Duration string `json:"duration"`
		} `json:"routes"`
	}
	if err := json.Unmarshal([]byte(output), &nested); err == nil && len(nested.Routes) > 0 {
		return nested.Routes[0].Distance, nested.Routes[0].Duration
	}
	return "", ""
}
