package trust

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/warden-ai/warden/internal/message"
	"github.com/warden-ai/warden/internal/quarantine"
)

// Quarantine failure strictness modes.
const (
	OnFailureBlock = "block"
	OnFailureFlag  = "flag"
)

// SubagentRunner runs the isolation protocol for one untrusted tool
// result. Implemented by quarantine.Subagent.
type SubagentRunner interface {
	Run(ctx context.Context, history []message.Message, untrusted message.Message, toolName, agentID string) (*quarantine.RunResult, error)
}

// Outcome is the result of filtering one conversation. Messages is a new
// slice; the input is never mutated. ContextTrusted is the conjunction
// over the tool results that reach the model: any untrusted or
// unattributable result flips it; blocked results are stripped entirely
// and do not count against it.
type Outcome struct {
	Messages       []message.Message
	ContextTrusted bool
	QuarantineRuns int
	CacheHits      int
	BlockedCount   int
	InputTokens    int
	OutputTokens   int
}

// Aggregator walks a conversation and applies the trust pipeline to every
// tool result: blocked content is stripped, trusted content passes, and
// untrusted content is replaced by its quarantine summary.
type Aggregator struct {
	engine           *Engine
	store            *quarantine.Store
	subagent         SubagentRunner
	isolationEnabled bool
	onFailure        string
}

// NewAggregator wires the pipeline. onFailure must be OnFailureBlock or
// OnFailureFlag and decides what happens to an untrusted result when the
// quarantine protocol itself fails.
func NewAggregator(engine *Engine, store *quarantine.Store, subagent SubagentRunner, isolationEnabled bool, onFailure string) *Aggregator {
	return &Aggregator{
		engine:           engine,
		store:            store,
		subagent:         subagent,
		isolationEnabled: isolationEnabled,
		onFailure:        onFailure,
	}
}

// Process filters the conversation for one agent. Tool results that cannot
// be attributed to a tool call are delivered unchanged but mark the
// conversation untrusted; a policy evaluation error does the same. A
// blocked result is stripped and excluded from the trust conjunction —
// nothing of it reaches the model, so it carries no residual risk. Only a
// persistence failure on the quarantine cache is surfaced as an error.
func (a *Aggregator) Process(ctx context.Context, msgs []message.Message, agentID string) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "trust.process",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.Int("messages.count", len(msgs)),
		))
	defer span.End()

	out := &Outcome{
		Messages:       make([]message.Message, len(msgs)),
		ContextTrusted: true,
	}
	copy(out.Messages, msgs)

	for i, m := range msgs {
		if !m.IsToolResult() {
			continue
		}

		toolName, ok := message.ResolveToolName(msgs, m.CallID)
		if !ok {
			out.ContextTrusted = false
			log.Warn().
				Str("tool_call_id", m.CallID).
				Str("agent_id", agentID).
				Msg("tool_call_unresolved")
			continue
		}

		verdict, err := a.engine.Evaluate(ctx, toolName, agentID, m.Content)
		if err != nil {
			out.ContextTrusted = false
			log.Error().Err(err).
				Str("tool_call_id", m.CallID).
				Str("tool_name", toolName).
				Msg("trust_evaluation_failed")
			continue
		}

		switch {
		case verdict.Blocked:
			out.BlockedCount++
			out.Messages[i].Content = fmt.Sprintf("[tool result removed by trust policy: %s]",
				strings.Join(verdict.Reasons, "; "))
			log.Warn().
				Str("tool_call_id", m.CallID).
				Str("tool_name", toolName).
				Str("agent_id", agentID).
				Strs("reasons", verdict.Reasons).
				Msg("trust_content_blocked")

		case verdict.Trusted:
			// Passes through untouched.

		default:
			out.ContextTrusted = false
			if !a.isolationEnabled {
				continue
			}
			if err := a.quarantineMessage(ctx, msgs, i, toolName, agentID, out); err != nil {
				span.RecordError(err)
				return nil, err
			}
		}
	}

	span.SetAttributes(
		attribute.Bool("trust.context_trusted", out.ContextTrusted),
		attribute.Int("quarantine.runs", out.QuarantineRuns),
		attribute.Int("quarantine.cache_hits", out.CacheHits),
		attribute.Int("trust.blocked", out.BlockedCount),
	)
	return out, nil
}

// quarantineMessage substitutes out.Messages[i] with a safe summary, from
// cache when available, otherwise by running the protocol. When two
// requests race on the same tool call the store's insert conflict decides
// the winner and both substitute the same summary.
func (a *Aggregator) quarantineMessage(ctx context.Context, history []message.Message, i int, toolName, agentID string, out *Outcome) error {
	m := history[i]

	cached, err := a.store.FindByCallID(ctx, m.CallID)
	if err != nil {
		// A read failure downgrades to a cache miss: the protocol still
		// runs, and the insert conflict keeps idempotency intact.
		log.Error().Err(err).Str("tool_call_id", m.CallID).Msg("quarantine_cache_read_failed")
	}
	if cached != nil {
		out.CacheHits++
		out.Messages[i].Content = cached.SafeSummary
		return nil
	}

	res, err := a.subagent.Run(ctx, history, m, toolName, agentID)
	if err != nil {
		log.Error().Err(err).
			Str("tool_call_id", m.CallID).
			Str("tool_name", toolName).
			Str("on_failure", a.onFailure).
			Msg("quarantine_run_failed")
		if a.onFailure == OnFailureBlock {
			out.BlockedCount++
			out.Messages[i].Content = "[tool result withheld: quarantine unavailable]"
		}
		// Flag mode leaves the raw content in place; ContextTrusted is
		// already false for this conversation.
		return nil
	}

	out.QuarantineRuns++
	out.InputTokens += res.InputTokens
	out.OutputTokens += res.OutputTokens

	saved, err := a.store.Save(ctx, m.CallID, res.Summary)
	if err != nil {
		return fmt.Errorf("persisting quarantine result for %s: %w", m.CallID, err)
	}
	out.Messages[i].Content = saved.SafeSummary
	return nil
}
