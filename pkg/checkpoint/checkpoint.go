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

// Package checkpoint persists per-step results and the restart flag so a
// session can resume after a process restart. Keys follow the layout
// session:{id}:step:{n} plus a single restart_pending marker.
package checkpoint

import (
	"context"
	"time"

	"github.com/trinitylabs/trinity/pkg/plan"
)

// RestartMarker records why a restart was requested and which session to
// resume.
type RestartMarker struct {
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
}

// Store is the checkpoint persistence contract.
type Store interface {
	// SaveStep persists the result of step n for a session.
	SaveStep(ctx context.Context, sessionID string, n int, result *plan.StepResult) error

	// LoadSteps returns all persisted results for a session, ordered by
	// step index with no gaps. Missing sessions return an empty slice.
	LoadSteps(ctx context.Context, sessionID string) ([]*plan.StepResult, error)

	// SetRestartPending marks that the next process start should resume.
	SetRestartPending(ctx context.Context, marker *RestartMarker) error

	// RestartPending returns the marker, or nil when no restart is pending.
	// Reading clears the flag.
	RestartPending(ctx context.Context) (*RestartMarker, error)

	// ClearSession removes every checkpoint of a session.
	ClearSession(ctx context.Context, sessionID string) error

	Close() error
}
