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

package checkpoint

import (
	"context"
	"sync"

	"github.com/trinitylabs/trinity/pkg/plan"
)

// MemoryStore is the in-process Store used when checkpointing is disabled
// and in tests. Not durable.
type MemoryStore struct {
	mu      sync.Mutex
	steps   map[string]map[int]*plan.StepResult
	restart *RestartMarker
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{steps: make(map[string]map[int]*plan.StepResult)}
}

func (s *MemoryStore) SaveStep(_ context.Context, sessionID string, n int, result *plan.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.steps[sessionID] == nil {
		s.steps[sessionID] = make(map[int]*plan.StepResult)
	}
	copied := *result
	s.steps[sessionID][n] = &copied
	return nil
}

func (s *MemoryStore) LoadSteps(_ context.Context, sessionID string) ([]*plan.StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.steps[sessionID]
	var results []*plan.StepResult
	for n := 0; ; n++ {
		result, ok := session[n]
		if !ok {
			break
		}
		copied := *result
		results = append(results, &copied)
	}
	return results, nil
}

func (s *MemoryStore) SetRestartPending(_ context.Context, marker *RestartMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restart = marker
	return nil
}

func (s *MemoryStore) RestartPending(_ context.Context) (*RestartMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marker := s.restart
	s.restart = nil
	return marker, nil
}

func (s *MemoryStore) ClearSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.steps, sessionID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
