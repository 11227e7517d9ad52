package cache

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleYAML is one entry of the cache-invalidation dependency-rule table
// (§4.6): whenever any of Dependencies is invalidated, Pattern is
// invalidated too, cascading further if Cascade is set.
type RuleYAML struct {
	Name         string   `yaml:"name"`
	Pattern      string   `yaml:"pattern"`
	Dependencies []string `yaml:"dependencies"`
	Cascade      bool     `yaml:"cascade"`
}

type rulesTableYAML struct {
	Rules []RuleYAML `yaml:"rules"`
}

// LoadInvalidationRules reads a YAML dependency-rule table from path and
// registers each entry via AddInvalidationRule.
func (c *Cache) LoadInvalidationRules(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("op=cache.LoadInvalidationRules: %w", err)
	}
	var doc rulesTableYAML
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("op=cache.LoadInvalidationRules: yaml parse: %w", err)
	}
	for _, r := range doc.Rules {
		rule := invalidationRule{Pattern: r.Pattern, Dependencies: r.Dependencies, Cascade: r.Cascade}
		if err := c.AddInvalidationRule(ctx, r.Name, rule); err != nil {
			return fmt.Errorf("op=cache.LoadInvalidationRules: rule %q: %w", r.Name, err)
		}
	}
	return nil
}
