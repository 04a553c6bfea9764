package application

import (
	"context"
	"fmt"

	"github.com/openkraft/anvil/internal/domain"
	"github.com/openkraft/anvil/internal/domain/rules"
)

// RuleService manages persisted execution rules.
type RuleService struct {
	store  domain.StatsStore
	engine *rules.Engine
}

func NewRuleService(store domain.StatsStore, statsWindow int) *RuleService {
	return &RuleService{store: store, engine: rules.NewEngine(store, statsWindow)}
}

func (s *RuleService) Save(ctx context.Context, rule domain.ExecutionRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := s.store.SaveRule(ctx, rule); err != nil {
		return fmt.Errorf("saving rule %q: %w", rule.Name, err)
	}
	return nil
}

func (s *RuleService) Get(ctx context.Context, name string) (*domain.ExecutionRule, error) {
	r, err := s.store.Rule(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("loading rule %q: %w", name, err)
	}
	return r, nil
}

func (s *RuleService) List(ctx context.Context, enabledOnly bool) ([]domain.ExecutionRule, error) {
	rs, err := s.store.Rules(ctx, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	return rs, nil
}

func (s *RuleService) Delete(ctx context.Context, name string) error {
	if err := s.store.DeleteRule(ctx, name); err != nil {
		return fmt.Errorf("deleting rule %q: %w", name, err)
	}
	return nil
}

// Preview resolves a stored rule against candidates without running anything.
// A nil candidate list selects from history alone.
func (s *RuleService) Preview(ctx context.Context, name string, candidates []string) ([]string, error) {
	r, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.PreviewRule(ctx, *r, candidates)
}

// PreviewRule resolves an unsaved rule.
func (s *RuleService) PreviewRule(ctx context.Context, rule domain.ExecutionRule, candidates []string) ([]string, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return s.engine.Resolve(ctx, rule, candidates)
}
