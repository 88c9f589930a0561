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

package plan

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// pathPattern matches absolute and home-relative file paths with an
// extension. Used only as a fallback when steps carry no explicit artifacts.
var pathPattern = regexp.MustCompile(`(?:~|/)[\w./ -]*/[\w -]+\.\w{1,6}`)

// DeclaredArtifacts collects the explicit artifact paths of every step, then
// falls back to regex extraction from goal and result texts.
func DeclaredArtifacts(p *Plan, resultTexts []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" || seen[path] {
			return
		}
		seen[path] = true
		out = append(out, path)
	}

	for _, step := range p.Steps {
		for _, artifact := range step.Artifacts {
			add(artifact)
		}
	}
	for _, match := range pathPattern.FindAllString(p.Goal, -1) {
		add(match)
	}
	for _, text := range resultTexts {
		for _, match := range pathPattern.FindAllString(text, -1) {
			add(match)
		}
	}
	return out
}

// MissingArtifacts returns the claimed paths that do not exist on disk.
// Home-relative paths are expanded before the check.
func MissingArtifacts(paths []string) []string {
	var missing []string
	for _, path := range paths {
		expanded := path
		if strings.HasPrefix(path, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				expanded = filepath.Join(home, strings.TrimPrefix(path, "~"))
			}
		}
		if _, err := os.Stat(expanded); err != nil {
			missing = append(missing, path)
		}
	}
	return missing
}
