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

package execlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "execlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndForStep(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, Record{
		SessionID: "s1", StepID: "step-1", Server: "macos-use",
		Tool: "execute_command", Command: "ls -la",
		Success: true, Duration: 120 * time.Millisecond,
	}))
	require.NoError(t, store.Append(ctx, Record{
		SessionID: "s1", StepID: "step-1", Server: "macos-use",
		Tool: "read_file", Success: false, Error: "no such file",
	}))
	require.NoError(t, store.Append(ctx, Record{
		SessionID: "s1", StepID: "step-2", Server: "browser", Tool: "navigate", Success: true,
	}))

	records, err := store.ForStep(ctx, "s1", "step-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "execute_command", records[0].Tool)
	assert.Equal(t, "ls -la", records[0].Command)
	assert.True(t, records[0].Success)
	assert.Equal(t, 120*time.Millisecond, records[0].Duration)

	assert.False(t, records[1].Success)
	assert.Equal(t, "no such file", records[1].Error)

	empty, err := store.ForStep(ctx, "s1", "step-99")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestQuery_SelectOnly(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, Record{
		SessionID: "s1", Server: "macos-use", Tool: "execute_command", Success: true,
	}))

	rows, err := store.Query(ctx, "SELECT tool, server FROM tool_calls WHERE session_id = ?", "s1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "execute_command", rows[0]["tool"])

	_, err = store.Query(ctx, "DELETE FROM tool_calls")
	assert.ErrorContains(t, err, "only SELECT")

	// Leading whitespace and case do not bypass the guard.
	_, err = store.Query(ctx, "  drop table tool_calls")
	assert.ErrorContains(t, err, "only SELECT")
}
