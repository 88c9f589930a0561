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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeclaredArtifacts(t *testing.T) {
	t.Run("explicit step artifacts come first", func(t *testing.T) {
		p := New("write a report")
		p.Steps = []Step{
			{ID: "1", Artifacts: []string{"/tmp/report.pdf"}},
			{ID: "2", Artifacts: []string{"/tmp/summary.txt", "/tmp/report.pdf"}},
		}

		artifacts := DeclaredArtifacts(p, nil)
		assert.Equal(t, []string{"/tmp/report.pdf", "/tmp/summary.txt"}, artifacts)
	})

	t.Run("paths are extracted from goal and results", func(t *testing.T) {
		p := New("save the chart to ~/Documents/chart.png")
		artifacts := DeclaredArtifacts(p, []string{"wrote output to /var/data/out.csv"})

		assert.Contains(t, artifacts, "~/Documents/chart.png")
		assert.Contains(t, artifacts, "/var/data/out.csv")
	})

	t.Run("no artifacts yields empty", func(t *testing.T) {
		p := New("open the browser and search")
		assert.Empty(t, DeclaredArtifacts(p, []string{"done"}))
	})
}

func TestMissingArtifacts(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "exists.txt")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o644))

	missing := MissingArtifacts([]string{existing, filepath.Join(dir, "ghost.txt")})
	assert.Equal(t, []string{filepath.Join(dir, "ghost.txt")}, missing)

	assert.Empty(t, MissingArtifacts([]string{existing}))
	assert.Empty(t, MissingArtifacts(nil))
}
