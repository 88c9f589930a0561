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

// Package safety screens shell commands against a static blocklist of
// destructive patterns. The check is purely syntactic and never calls an
// LLM; a hit short-circuits any further security analysis.
package safety

import (
	"regexp"
	"strings"
)

// RiskLevel classifies a command check outcome.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskCritical RiskLevel = "critical"
)

// CheckResult is the outcome of a blocklist check.
type CheckResult struct {
	Safe      bool
	RiskLevel RiskLevel
	Pattern   string
	Reason    string
}

// Destructive shell patterns. Matching is case-insensitive on a
// whitespace-normalized command.
var blockedPatterns = []struct {
	pattern *regexp.Regexp
	reason  string
}{
	{regexp.MustCompile(`rm\s+(-[a-z]*\s+)*-?[a-z]*[rf][a-z]*\s+/(\s|$|\*)`), "recursive delete of filesystem root"},
	{regexp.MustCompile(`rm\s+-rf\s+~`), "recursive delete of home directory"},
	{regexp.MustCompile(`\bmkfs(\.\w+)?\b`), "filesystem format"},
	{regexp.MustCompile(`dd\s+.*of=/dev/(sd|hd|disk|nvme)`), "raw write to block device"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`), "fork bomb"},
	{regexp.MustCompile(`>\s*/dev/(sd|hd|disk|nvme)`), "redirect onto block device"},
	{regexp.MustCompile(`chmod\s+(-[a-z]+\s+)*777\s+/(\s|$)`), "open permissions on filesystem root"},
	{regexp.MustCompile(`\bshutdown\b|\bhalt\b|\breboot\b.*--?force`), "forced machine shutdown"},
	{regexp.MustCompile(`launchctl\s+unload\s+-w\s+/System`), "disabling system services"},
	{regexp.MustCompile(`history\s+-c|shred\s+.*\.bash_history`), "shell history destruction"},
}

// CheckCommand screens a shell command. Blocked commands are never retried.
func CheckCommand(command string) CheckResult {
	normalized := strings.ToLower(strings.Join(strings.Fields(command), " "))
	if normalized == "" {
		return CheckResult{Safe: true, RiskLevel: RiskNone}
	}

	for _, entry := range blockedPatterns {
		if entry.pattern.MatchString(normalized) {
			return CheckResult{
				Safe:      false,
				RiskLevel: RiskCritical,
				Pattern:   entry.pattern.String(),
				Reason:    entry.reason,
			}
		}
	}

	return CheckResult{Safe: true, RiskLevel: RiskNone}
}

// CheckArgs screens every string value of a tool-call argument map.
func CheckArgs(args map[string]any) CheckResult {
	for _, key := range []string{"command", "cmd", "script", "code"} {
		if v, ok := args[key].(string); ok {
			if result := CheckCommand(v); !result.Safe {
				return result
			}
		}
	}
	return CheckResult{Safe: true, RiskLevel: RiskNone}
}
