package pricing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Calculator combines resolved prices with token counts to produce the
// monetary cost of one model invocation. Cost is derived state: computed
// per invocation, never cached.
type Calculator struct {
	resolver *Resolver
}

// NewCalculator creates a calculator using the given resolver.
func NewCalculator(resolver *Resolver) *Calculator {
	return &Calculator{resolver: resolver}
}

// CalculateCost returns the USD cost for the invocation, or ok=false when
// either token count is zero or negative — a request with no measurable
// usage has no defined cost, which is distinct from a zero-cost result.
// No rounding is applied; rounding for display is the caller's concern.
func (c *Calculator) CalculateCost(ctx context.Context, modelID, provider string, inputTokens, outputTokens int) (cost float64, ok bool) {
	ctx, span := tracer.Start(ctx, "pricing.calculate_cost",
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("gen_ai.request.model", modelID),
			attribute.Int("gen_ai.usage.input_tokens", inputTokens),
			attribute.Int("gen_ai.usage.output_tokens", outputTokens),
		))
	defer span.End()

	if inputTokens <= 0 || outputTokens <= 0 {
		span.SetAttributes(attribute.Bool("cost.undefined", true))
		return 0, false
	}

	price := c.resolver.Resolve(ctx, provider, modelID)
	cost = float64(inputTokens)/1_000_000*price.InputPerMillion +
		float64(outputTokens)/1_000_000*price.OutputPerMillion

	span.SetAttributes(attribute.Float64("cost.usd", cost))
	return cost, true
}
