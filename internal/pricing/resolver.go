package pricing

import (
	"context"
	"regexp"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Source identifies which pricing tier produced a resolved price.
type Source string

const (
	SourceCustom    Source = "custom"
	SourceModelsDev Source = "models_dev"
	SourceDefault   Source = "default"
)

// Default per-million-token prices in USD when neither a custom override
// nor a synced catalog price exists. Models whose identifier matches a
// lightweight naming pattern get the low tier.
const (
	DefaultInputPerMillion      = 2.5
	DefaultOutputPerMillion     = 10.0
	LightweightInputPerMillion  = 0.15
	LightweightOutputPerMillion = 0.6
)

// lightweightModelPattern matches the naming conventions providers use for
// their small/cheap model variants.
var lightweightModelPattern = regexp.MustCompile(`(?i)(mini|nano|lite|light|small|haiku|flash)`)

// Resolved is the effective price for a (provider, model) pair, normalized
// to USD per million tokens.
type Resolved struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
	Source           Source  `json:"source"`
}

// Resolver resolves effective prices across the tier priority chain.
type Resolver struct {
	store *Store
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the effective price for (provider, modelID). First match
// wins: custom override, then synced catalog price (per token, scaled to
// per million), then the default heuristic. An absent record is not an
// error; neither is a store read failure — both fall through to the
// default tier so cost is still computed.
func (r *Resolver) Resolve(ctx context.Context, provider, modelID string) Resolved {
	ctx, span := tracer.Start(ctx, "pricing.resolve",
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("gen_ai.request.model", modelID),
		))
	defer span.End()

	rec, err := r.store.Get(ctx, provider, modelID)
	if err != nil {
		log.Warn().Err(err).
			Str("provider", provider).
			Str("model", modelID).
			Msg("pricing_lookup_failed")
	}

	resolved := resolveFromRecord(rec, modelID)
	span.SetAttributes(
		attribute.String("pricing.source", string(resolved.Source)),
		attribute.Float64("pricing.input_per_million", resolved.InputPerMillion),
		attribute.Float64("pricing.output_per_million", resolved.OutputPerMillion),
	)
	return resolved
}

func resolveFromRecord(rec *Record, modelID string) Resolved {
	if rec != nil {
		if rec.CustomInputPerMillion != nil && rec.CustomOutputPerMillion != nil {
			return Resolved{
				InputPerMillion:  *rec.CustomInputPerMillion,
				OutputPerMillion: *rec.CustomOutputPerMillion,
				Source:           SourceCustom,
			}
		}
		if rec.SyncedInputPerToken != nil && rec.SyncedOutputPerToken != nil {
			return Resolved{
				InputPerMillion:  *rec.SyncedInputPerToken * 1_000_000,
				OutputPerMillion: *rec.SyncedOutputPerToken * 1_000_000,
				Source:           SourceModelsDev,
			}
		}
	}

	if lightweightModelPattern.MatchString(modelID) {
		return Resolved{
			InputPerMillion:  LightweightInputPerMillion,
			OutputPerMillion: LightweightOutputPerMillion,
			Source:           SourceDefault,
		}
	}
	return Resolved{
		InputPerMillion:  DefaultInputPerMillion,
		OutputPerMillion: DefaultOutputPerMillion,
		Source:           SourceDefault,
	}
}
