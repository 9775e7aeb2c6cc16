// Package trust decides what happens to tool results before they re-enter
// the model context: trusted results pass through, blocked results are
// stripped, and everything else goes through the quarantine protocol.
package trust

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	wardenotel "github.com/warden-ai/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/warden-ai/warden/internal/trust")

// Policy is the declarative trust policy loaded from warden.trust.yaml.
// Tools not listed anywhere are untrusted, which is the safe default: an
// empty policy quarantines everything.
type Policy struct {
	Version string `yaml:"version" json:"version"`

	// TrustedTools lists tool names whose results skip quarantine for
	// every agent.
	TrustedTools []string `yaml:"trusted_tools" json:"trusted_tools"`

	// BlockedPatterns are regular expressions matched against raw tool
	// result content. A match removes the result outright; blocking takes
	// precedence over quarantine.
	BlockedPatterns []BlockedPattern `yaml:"blocked_patterns" json:"blocked_patterns"`

	// Agents holds per-agent additions to the global trusted list.
	Agents map[string]AgentPolicy `yaml:"agents" json:"agents"`
}

// BlockedPattern names a content pattern that must never reach the model.
type BlockedPattern struct {
	Name  string `yaml:"name" json:"name"`
	Regex string `yaml:"regex" json:"regex"`
}

// AgentPolicy extends the global policy for one agent.
type AgentPolicy struct {
	TrustedTools []string `yaml:"trusted_tools" json:"trusted_tools"`
}

// DefaultPolicy returns the policy used when no file exists: nothing
// trusted, nothing blocked.
func DefaultPolicy() *Policy {
	return &Policy{Version: "1"}
}

// LoadPolicy reads and validates a trust policy file. A missing file is
// not an error; the default (quarantine everything) policy is returned.
func LoadPolicy(ctx context.Context, path string) (*Policy, error) {
	_, span := tracer.Start(ctx, "trust.policy.load")
	defer span.End()
	span.SetAttributes(attribute.String("policy.path", path))

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		span.SetAttributes(attribute.Bool("policy.default", true))
		return DefaultPolicy(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading trust policy %s: %w", path, err)
	}

	var pol Policy
	if err := yaml.Unmarshal(content, &pol); err != nil {
		return nil, fmt.Errorf("parsing trust policy %s: %w", path, err)
	}
	if err := pol.Validate(); err != nil {
		return nil, fmt.Errorf("validating trust policy %s: %w", path, err)
	}

	span.SetAttributes(
		attribute.Int("policy.trusted_tools", len(pol.TrustedTools)),
		attribute.Int("policy.blocked_patterns", len(pol.BlockedPatterns)),
	)
	return &pol, nil
}

// Validate rejects policies that would fail at evaluation time.
func (p *Policy) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("version is required")
	}
	for i, bp := range p.BlockedPatterns {
		if bp.Name == "" {
			return fmt.Errorf("blocked_patterns[%d]: name is required", i)
		}
		if _, err := regexp.Compile(bp.Regex); err != nil {
			return fmt.Errorf("blocked_patterns[%d] (%s): invalid regex: %w", i, bp.Name, err)
		}
	}
	return nil
}
