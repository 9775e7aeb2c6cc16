package trust

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

//go:embed rego/*.rego
var embeddedPolicies embed.FS

// Verdict is the trust classification of one tool result. Blocked takes
// precedence over everything else; Trusted and Blocked are never both set.
type Verdict struct {
	Trusted bool     `json:"trusted"`
	Blocked bool     `json:"blocked"`
	Reasons []string `json:"reasons,omitempty"`
}

// regoQuery binds an embedded Rego file to the query evaluated against it.
type regoQuery struct {
	name  string
	file  string
	query string
}

var trustQueries = []regoQuery{
	{name: "trusted", file: "rego/tool_trust.rego", query: "data.warden.trust.tool_trust.trusted"},
	{name: "deny", file: "rego/tool_trust.rego", query: "data.warden.trust.tool_trust.deny"},
}

// Engine evaluates the trust policy with embedded OPA. The policy document
// is serialized into OPA data at construction, so Evaluate never touches
// the filesystem.
type Engine struct {
	policy   *Policy
	prepared map[string]rego.PreparedEvalQuery
}

// NewEngine compiles the embedded Rego against the given policy.
func NewEngine(ctx context.Context, pol *Policy) (*Engine, error) {
	ctx, span := tracer.Start(ctx, "trust.engine.new")
	defer span.End()

	data, err := policyToData(pol)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("converting trust policy to OPA data: %w", err)
	}

	prepared := make(map[string]rego.PreparedEvalQuery, len(trustQueries))
	for _, q := range trustQueries {
		content, err := embeddedPolicies.ReadFile(q.file)
		if err != nil {
			return nil, fmt.Errorf("reading embedded policy %s: %w", q.file, err)
		}
		r := rego.New(
			rego.Query(q.query),
			rego.Module(q.file, string(content)),
			rego.Store(inmem.NewFromObject(map[string]interface{}{"policy": data})),
		)
		pq, err := r.PrepareForEval(ctx)
		if err != nil {
			return nil, fmt.Errorf("preparing Rego query %s: %w", q.name, err)
		}
		prepared[q.name] = pq
	}

	span.SetAttributes(attribute.Int("trust.prepared_count", len(prepared)))
	return &Engine{policy: pol, prepared: prepared}, nil
}

// Evaluate classifies a single tool result. toolName may be empty when the
// originating tool call could not be resolved; the policy never marks an
// unresolvable result trusted.
func (e *Engine) Evaluate(ctx context.Context, toolName, agentID, content string) (*Verdict, error) {
	ctx, span := tracer.Start(ctx, "trust.evaluate",
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.String("agent.id", agentID),
		))
	defer span.End()

	input := map[string]interface{}{
		"tool_name": toolName,
		"agent_id":  agentID,
		"content":   content,
	}

	reasons, err := e.evalDeny(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(reasons) > 0 {
		span.SetAttributes(
			attribute.Bool("trust.blocked", true),
			attribute.Int("trust.deny_reasons", len(reasons)),
		)
		return &Verdict{Blocked: true, Reasons: reasons}, nil
	}

	trusted, err := e.evalTrusted(ctx, input)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("trust.trusted", trusted))
	return &Verdict{Trusted: trusted}, nil
}

func (e *Engine) evalTrusted(ctx context.Context, input map[string]interface{}) (bool, error) {
	pq, ok := e.prepared["trusted"]
	if !ok {
		return false, fmt.Errorf("trusted query not prepared")
	}
	results, err := pq.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("evaluating trusted query: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	trusted, _ := results[0].Expressions[0].Value.(bool)
	return trusted, nil
}

func (e *Engine) evalDeny(ctx context.Context, input map[string]interface{}) ([]string, error) {
	pq, ok := e.prepared["deny"]
	if !ok {
		return nil, fmt.Errorf("deny query not prepared")
	}
	results, err := pq.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating deny query: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	// Querying a partial set yields []interface{} or, occasionally,
	// map[string]interface{} depending on the OPA version.
	var reasons []string
	switch v := results[0].Expressions[0].Value.(type) {
	case []interface{}:
		for _, msg := range v {
			if s, ok := msg.(string); ok {
				reasons = append(reasons, s)
			}
		}
	case map[string]interface{}:
		for _, msg := range v {
			if s, ok := msg.(string); ok {
				reasons = append(reasons, s)
			}
		}
	}
	return reasons, nil
}

// policyToData converts the Policy to clean map types for OPA by going
// through JSON.
func policyToData(pol *Policy) (map[string]interface{}, error) {
	raw, err := json.Marshal(pol)
	if err != nil {
		return nil, fmt.Errorf("marshalling trust policy: %w", err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshalling trust policy data: %w", err)
	}
	return data, nil
}
