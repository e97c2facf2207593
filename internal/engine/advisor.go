package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/observastack/health-sentinel/internal/models"
)

// AdvisoryEngine attaches rule-based operator advisories to evaluations so a
// human reading the audit record has a starting point, not just a verdict.
type AdvisoryEngine struct {
	rules  []AdvisoryRule
	logger *slog.Logger
}

// AdvisoryRule maps an indicator condition to one or more advisories.
type AdvisoryRule struct {
	ID         string        `yaml:"id"`
	Match      AdvisoryMatch `yaml:"match"`
	Advisories []string      `yaml:"advisories"`
}

// AdvisoryMatch defines optional attributes for rule matching. Empty fields
// match anything.
type AdvisoryMatch struct {
	Indicator      string   `yaml:"indicator"`
	State          string   `yaml:"state"`
	OverallState   string   `yaml:"overall_state"`
	ReasonContains []string `yaml:"reason_contains"`
}

// AdvisoryRuleFile is the YAML root structure of a rule pack.
type AdvisoryRuleFile struct {
	Rules []AdvisoryRule `yaml:"rules"`
}

// NewAdvisoryEngine loads a rule pack from the provided path. An empty or
// missing path returns a nil engine, which advises nothing.
func NewAdvisoryEngine(path string, logger *slog.Logger) (*AdvisoryEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var file AdvisoryRuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdvisoryEngine{rules: file.Rules, logger: logger}, nil
}

// Advise returns the advisories whose rules match the evaluated indicators
// and overall state, deduplicated in rule order.
func (e *AdvisoryEngine) Advise(indicators []models.Indicator, overall models.HealthState) []string {
	if e == nil {
		return nil
	}

	matched := make([]string, 0)
	for _, rule := range e.rules {
		if rule.Match.OverallState != "" && !strings.EqualFold(rule.Match.OverallState, string(overall)) {
			continue
		}
		if !indicatorMatches(rule.Match, indicators) {
			continue
		}
		matched = appendUnique(matched, rule.Advisories...)
	}
	return matched
}

func indicatorMatches(match AdvisoryMatch, indicators []models.Indicator) bool {
	if match.Indicator == "" && match.State == "" && len(match.ReasonContains) == 0 {
		return true
	}
	for _, ind := range indicators {
		if match.Indicator != "" && !strings.EqualFold(match.Indicator, string(ind.Type)) {
			continue
		}
		if match.State != "" && !strings.EqualFold(match.State, string(ind.State)) {
			continue
		}
		if len(match.ReasonContains) > 0 && !reasonContains(match.ReasonContains, ind.StateReason) {
			continue
		}
		return true
	}
	return false
}

func reasonContains(keywords []string, reason string) bool {
	lowered := strings.ToLower(reason)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		seen[item] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
