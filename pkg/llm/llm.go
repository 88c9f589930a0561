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

// Package llm defines the narrow surface the core consumes from LLM
// providers, plus an OpenAI-compatible implementation. Providers are
// deliberately thin: agents parse structured JSON themselves.
package llm

import (
	"context"
	"fmt"

	"github.com/trinitylabs/trinity/pkg/config"
	"github.com/trinitylabs/trinity/pkg/registry"
)

// Message is one turn of an LLM conversation. Images ride along for vision
// requests.
type Message struct {
	Role    string
	Content string
	Images  []Image
}

// Image is a base64-encoded inline image.
type Image struct {
	MediaType string
	Base64    string
}

// Response is a completed (non-streaming) LLM generation.
type Response struct {
	Text   string
	Tokens int
}

// Provider is the surface consumed by the agents and the segmenter.
type Provider interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
	GetModelName() string
	Close() error
}

// Tier names a model capability class.
type Tier string

const (
	TierStandard Tier = "standard"
	TierDeep     Tier = "deep"
	TierVision   Tier = "vision"
)

// Registry holds named providers plus the tier bindings.
type Registry struct {
	*registry.BaseRegistry[Provider]
	tiers config.TierConfig
}

func NewRegistry(tiers config.TierConfig) *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
		tiers:        tiers,
	}
}

// NewRegistryFromConfig instantiates providers from config and binds tiers.
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	r := NewRegistry(cfg.Tiers)
	for name, llmCfg := range cfg.LLMs {
		if llmCfg == nil {
			continue
		}
		provider, err := NewProviderFromConfig(llmCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create llm '%s': %w", name, err)
		}
		if err := r.Register(name, provider); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewProviderFromConfig creates a provider by config type.
func NewProviderFromConfig(cfg *config.LLMProviderConfig) (Provider, error) {
	switch cfg.Type {
	case "", "openai":
		return NewOpenAIProviderFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm type '%s'", cfg.Type)
	}
}

// ForTier resolves the provider bound to a tier, falling back standard ->
// deep -> any registered provider.
func (r *Registry) ForTier(tier Tier) (Provider, error) {
	name := ""
	switch tier {
	case TierDeep:
		name = r.tiers.Deep
		if name == "" {
			name = r.tiers.Standard
		}
	case TierVision:
		name = r.tiers.Vision
		if name == "" {
			name = r.tiers.Standard
		}
	default:
		name = r.tiers.Standard
	}

	if name != "" {
		if p, ok := r.Get(name); ok {
			return p, nil
		}
		return nil, fmt.Errorf("tier '%s' references unknown llm '%s'", tier, name)
	}

	names := r.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("no llm providers registered")
	}
	p, _ := r.Get(names[0])
	return p, nil
}
