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
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trinitylabs/trinity/pkg/config"
	"github.com/trinitylabs/trinity/pkg/plan"
)

const (
	restartPendingKey = "restart_pending"

	// Checkpoints outlive a crash but not a week of inactivity.
	checkpointTTL = 7 * 24 * time.Hour
)

// RedisStore keeps checkpoints in Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings the configured Redis instance.
func NewRedisStore(ctx context.Context, cfg *config.CheckpointConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("checkpoint store unreachable at %s: %w", cfg.Addr, err)
	}
	return &RedisStore{client: client}, nil
}

func stepKey(sessionID string, n int) string {
	return fmt.Sprintf("session:%s:step:%d", sessionID, n)
}

func (s *RedisStore) SaveStep(ctx context.Context, sessionID string, n int, result *plan.StepResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode step result: %w", err)
	}
	return s.client.Set(ctx, stepKey(sessionID, n), data, checkpointTTL).Err()
}

func (s *RedisStore) LoadSteps(ctx context.Context, sessionID string) ([]*plan.StepResult, error) {
	var results []*plan.StepResult
	for n := 0; ; n++ {
		data, err := s.client.Get(ctx, stepKey(sessionID, n)).Bytes()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read checkpoint %s: %w", stepKey(sessionID, n), err)
		}
		var result plan.StepResult
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("corrupt checkpoint %s: %w", stepKey(sessionID, n), err)
		}
		results = append(results, &result)
	}
	return results, nil
}

func (s *RedisStore) SetRestartPending(ctx context.Context, marker *RestartMarker) error {
	data, err := json.Marshal(marker)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, restartPendingKey, data, checkpointTTL).Err()
}

func (s *RedisStore) RestartPending(ctx context.Context) (*RestartMarker, error) {
	data, err := s.client.GetDel(ctx, restartPendingKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var marker RestartMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("corrupt restart marker: %w", err)
	}
	return &marker, nil
}

func (s *RedisStore) ClearSession(ctx context.Context, sessionID string) error {
	for n := 0; ; n++ {
		deleted, err := s.client.Del(ctx, stepKey(sessionID, n)).Result()
		if err != nil {
			return err
		}
		if deleted == 0 {
			return nil
		}
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
