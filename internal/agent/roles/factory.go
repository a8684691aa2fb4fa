package roles

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/urska/config"
	"github.com/mohammad-safakhou/urska/internal/agent/core"
	"github.com/mohammad-safakhou/urska/provider"
	anthropic_provider "github.com/mohammad-safakhou/urska/provider/anthropic"
	openai_provider "github.com/mohammad-safakhou/urska/provider/openai"
)

// Factory builds one provider client per configured model and reuses it.
type Factory struct {
	cfg   config.LLMConfig
	mu    sync.Mutex
	cache map[string]provider.Provider
}

// NewFactory validates cfg and returns a Factory.
func NewFactory(cfg config.LLMConfig) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Factory{cfg: cfg, cache: make(map[string]provider.Provider)}, nil
}

// ForRole returns the client routed to role (see config.LLMRoutingConfig.Model).
func (f *Factory) ForRole(role string) (provider.Provider, error) {
	return f.Model(f.cfg.Routing.Model(role))
}

// Model returns the client for a model key declared under some provider's
// models. Providers are searched in name order.
func (f *Factory) Model(key string) (provider.Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.cache[key]; ok {
		return p, nil
	}

	names := make([]string, 0, len(f.cfg.Providers))
	for name := range f.cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pc := f.cfg.Providers[name]
		m, ok := pc.Models[key]
		if !ok {
			continue
		}
		p, err := newProvider(pc, key, m)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		f.cache[key] = p
		return p, nil
	}
	return nil, fmt.Errorf("model %q is not declared by any provider", key)
}

func newProvider(pc config.LLMProvider, key string, m config.LLMModel) (provider.Provider, error) {
	apiName := m.APIName
	if apiName == "" {
		apiName = m.Name
	}
	if apiName == "" {
		apiName = key
	}
	switch provider.Kind(strings.ToLower(pc.Type)) {
	case provider.OpenAI, provider.Ollama:
		return openai_provider.New(openai_provider.Options{
			APIKey:      pc.APIKey,
			BaseURL:     pc.BaseURL,
			Model:       apiName,
			MaxTokens:   m.MaxTokens,
			Temperature: m.Temperature,
			Timeout:     pc.Timeout,
		}), nil
	case provider.Anthropic:
		return anthropic_provider.New(anthropic_provider.Options{
			APIKey:      pc.APIKey,
			BaseURL:     pc.BaseURL,
			Model:       apiName,
			MaxTokens:   m.MaxTokens,
			Temperature: m.Temperature,
			Timeout:     pc.Timeout,
			MaxRetries:  pc.MaxRetries,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %s", pc.Type)
	}
}

// Set bundles the orchestrator collaborators with the request rephraser.
type Set struct {
	core.Collaborators
	Rephraser *Rephraser
}

// Build wires every role to its routed model. The executor calls tools
// through caller.
func Build(f *Factory, orch config.OrchestratorConfig, caller ToolCaller, logger *log.Logger) (Set, error) {
	get := func(role string) (provider.Provider, error) {
		p, err := f.ForRole(role)
		if err != nil {
			return nil, fmt.Errorf("%s role: %w", role, err)
		}
		return p, nil
	}
	var set Set
	for _, bind := range []struct {
		role string
		fn   func(provider.Provider)
	}{
		{"strategy", func(p provider.Provider) { set.Strategist = NewStrategist(p) }},
		{"planning", func(p provider.Provider) {
			set.Planner = NewPlanner(p)
			set.Replanner = NewReplanner(p)
		}},
		{"execution", func(p provider.Provider) {
			set.Executor = NewExecutor(p, caller, orch.ExecutorMaxRounds, logger)
		}},
		{"synthesis", func(p provider.Provider) { set.Synthesizer = NewSynthesizer(p) }},
		{"filter", func(p provider.Provider) { set.Filter = NewToolFilter(p, logger) }},
		{"rephrase", func(p provider.Provider) { set.Rephraser = NewRephraser(p) }},
	} {
		p, err := get(bind.role)
		if err != nil {
			return Set{}, err
		}
		bind.fn(p)
	}
	return set, nil
}
