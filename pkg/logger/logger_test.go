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

package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelWarn},
		{"", slog.LevelWarn},
	}
	for _, tt := range tests {
		level, err := ParseLevel(tt.input)
		require.NoError(t, err)
		assert.Equal(t, tt.want, level, "input %q", tt.input)
	}
}

func TestTextHandler_Simple(t *testing.T) {
	var buf bytes.Buffer
	h := &textHandler{
		handler: slog.NewTextHandler(io.Discard, nil),
		writer:  &buf,
	}

	record := slog.NewRecord(time.Now(), slog.LevelInfo, "server started", 0)
	record.AddAttrs(slog.String("name", "macos-use"))
	require.NoError(t, h.Handle(context.Background(), record))

	assert.Equal(t, "INFO server started name=macos-use\n", buf.String())
}

func TestTextHandler_Verbose(t *testing.T) {
	var buf bytes.Buffer
	h := &textHandler{
		handler: slog.NewTextHandler(io.Discard, nil),
		writer:  &buf,
		verbose: true,
	}

	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	record := slog.NewRecord(ts, slog.LevelWarn, "queue full", 0)
	require.NoError(t, h.Handle(context.Background(), record))

	assert.Equal(t, "2025/06/01 12:30:00 WARN queue full\n", buf.String())
}

func TestModuleFilterHandler(t *testing.T) {
	// Records with no caller information count as third-party and are
	// suppressed above DEBUG.
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	filtered := &moduleFilterHandler{handler: inner, minLevel: slog.LevelInfo}
	record := slog.NewRecord(time.Now(), slog.LevelInfo, "external noise", 0)
	require.NoError(t, filtered.Handle(context.Background(), record))
	assert.Empty(t, buf.String())

	debug := &moduleFilterHandler{handler: inner, minLevel: slog.LevelDebug}
	require.NoError(t, debug.Handle(context.Background(), record))
	assert.Contains(t, buf.String(), "external noise")
}

func TestOpenLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trinity.log")

	file, cleanup, err := OpenLogFile(path)
	require.NoError(t, err)
	require.NotNil(t, file)
	cleanup()

	// Reopening appends instead of truncating.
	_, cleanup, err = OpenLogFile(path)
	require.NoError(t, err)
	cleanup()
}
