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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyResult(t *testing.T) {
	tests := []struct {
		name        string
		result      StepResult
		wantKind    OutcomeKind
		wantFailure FailureKind
	}{
		{
			name:     "success",
			result:   StepResult{Success: true},
			wantKind: OutcomeSuccess,
		},
		{
			name:     "need_input_marker",
			result:   StepResult{Error: ErrNeedUserInput, Question: "which browser?"},
			wantKind: OutcomeNeedInput,
		},
		{
			name:     "proactive_help_marker",
			result:   StepResult{Error: ErrProactiveHelp, Question: "is the VPN up?"},
			wantKind: OutcomeProactiveHelp,
		},
		{
			name:     "deviation_beats_failure",
			result:   StepResult{IsDeviation: true, DeviationInfo: "skip, already installed", Error: "exit 1"},
			wantKind: OutcomeDeviation,
		},
		{
			name:        "transient_failure",
			result:      StepResult{Error: "dial tcp: connection refused"},
			wantKind:    OutcomeFailure,
			wantFailure: FailureTransient,
		},
		{
			name:        "blocked_failure",
			result:      StepResult{Error: "command blocked: recursive delete of filesystem root"},
			wantKind:    OutcomeFailure,
			wantFailure: FailureBlocked,
		},
		{
			name:        "hard_failure",
			result:      StepResult{Error: "no such file or directory"},
			wantKind:    OutcomeFailure,
			wantFailure: FailureHard,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := ClassifyResult(&tt.result)
			assert.Equal(t, tt.wantKind, outcome.Kind)
			if tt.wantKind == OutcomeFailure {
				assert.Equal(t, tt.wantFailure, outcome.FailureKind)
			}
			if tt.wantKind == OutcomeNeedInput || tt.wantKind == OutcomeProactiveHelp {
				assert.Equal(t, tt.result.Question, outcome.Question)
			}
		})
	}
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError("read: connection reset by peer"))
	assert.True(t, IsTransientError("429 rate limit exceeded"))
	assert.True(t, IsTransientError("context deadline exceeded: timeout"))
	assert.False(t, IsTransientError("permission denied"))
	assert.False(t, IsTransientError(""))
}

func TestStepByID(t *testing.T) {
	p := New("test goal")
	p.Steps = []Step{{ID: "1", Action: "open browser"}, {ID: "2", Action: "search"}}

	step := p.StepByID("2")
	require.NotNil(t, step)
	assert.Equal(t, "search", step.Action)

	assert.Nil(t, p.StepByID("99"))
}

func TestNew(t *testing.T) {
	p := New("goal")
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, "goal", p.Goal)
	assert.False(t, p.CreatedAt.IsZero())
}
