package snapshot

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule routes a session label to a logical owner when the label contains
// any of the substrings. Rule order is significant: the first matching rule
// wins, even when a label would also match a later rule.
type Rule struct {
	Substrings []string `yaml:"substrings"`
	Owner      string   `yaml:"owner"`
}

// Roster defines the crew and the label-classification rules.
type Roster struct {
	Roles        map[string]string `yaml:"roles"` // agent id → role title
	Rules        []Rule            `yaml:"rules"`
	DefaultOwner string            `yaml:"defaultOwner"`
}

// DefaultRoster returns the built-in crew definition.
func DefaultRoster() Roster {
	return Roster{
		Roles: map[string]string{
			"riker":  "Operations",
			"data":   "Research & Analysis",
			"geordi": "Build & Infrastructure",
			"worf":   "Security",
			"quark":  "Trading",
		},
		Rules: []Rule{
			{Substrings: []string{"trade", "quark", "market"}, Owner: "quark"},
			{Substrings: []string{"research", "analysis", "scan"}, Owner: "data"},
			{Substrings: []string{"build", "deploy", "infra", "docker"}, Owner: "geordi"},
			{Substrings: []string{"security", "audit", "guard"}, Owner: "worf"},
			{Substrings: []string{"monitor", "watch", "ops"}, Owner: "riker"},
		},
		DefaultOwner: "riker",
	}
}

// LoadRoster reads a roster override from a YAML file. Missing fields fall
// back to the built-in defaults.
func LoadRoster(path string) (Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, fmt.Errorf("reading roster: %w", err)
	}

	r := DefaultRoster()
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Roster{}, fmt.Errorf("decoding roster: %w", err)
	}
	if r.DefaultOwner == "" {
		r.DefaultOwner = DefaultRoster().DefaultOwner
	}
	if len(r.Rules) == 0 {
		r.Rules = DefaultRoster().Rules
	}
	if len(r.Roles) == 0 {
		r.Roles = DefaultRoster().Roles
	}
	return r, nil
}

// Agents returns the crew ids in stable sorted order.
func (r Roster) Agents() []string {
	out := make([]string, 0, len(r.Roles))
	for id := range r.Roles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Classify routes a session label to its owner by first-match substring
// rules. Matching is case-insensitive; no rule matching falls through to
// the default owner.
func (r Roster) Classify(label string) string {
	lower := strings.ToLower(label)
	for _, rule := range r.Rules {
		for _, sub := range rule.Substrings {
			if strings.Contains(lower, sub) {
				return rule.Owner
			}
		}
	}
	return r.DefaultOwner
}
