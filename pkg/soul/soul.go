// Package soul is the Loop Driver: the step state machine that interleaves
// LLM invocation and tool dispatch against a Context Store, publishing
// progress on an Event Bus and honoring D-Mail between steps. Named after,
// and functionally the successor to, the teacher's pkg/agent/react.ReAct
// loop, rebuilt around the durable history.Store and wire.Bus this core
// specifies instead of react's in-memory domain.State and events.EventEmitter.
package soul

import (
	"context"

	"github.com/pkg/errors"

	"github.com/leavesfly/jimi/pkg/approval"
	"github.com/leavesfly/jimi/pkg/dmail"
	"github.com/leavesfly/jimi/pkg/history"
	"github.com/leavesfly/jimi/pkg/llm"
	"github.com/leavesfly/jimi/pkg/message"
	"github.com/leavesfly/jimi/pkg/registry"
	"github.com/leavesfly/jimi/pkg/wire"
)

// RunOptions is the construction-time configuration the spec assumes
// exists (§4.2 YOLO, §4.7 compaction threshold and step limit) but never
// names as a type.
type RunOptions struct {
	MaxStepsPerRun  int
	MaxContextSize  int
	CompactionRatio float64 // in (0,1); soft threshold = MaxContextSize * CompactionRatio
	YOLO            bool
}

// ResultKind discriminates the Result variants a run terminates with.
type ResultKind string

const (
	Completed       ResultKind = "Completed"
	Interrupted     ResultKind = "Interrupted"
	MaxStepsReached ResultKind = "MaxStepsReached"
	ProviderError   ResultKind = "ProviderError"
)

// Result is the outcome of one Run call.
type Result struct {
	Kind    ResultKind
	Message message.Message // valid when Kind == Completed
	Detail  string           // valid when Kind == ProviderError
}

// CompactionStrategy produces a single summary Message that replaces a
// prefix of History. The normative reading of §9 Open Question (a) is that
// this call must actually summarize, never a no-op that only emits events.
type CompactionStrategy interface {
	Summarize(ctx context.Context, prefix []message.Message) (message.Message, error)
}

// Soul is the Loop Driver. All dependencies are supplied by construction,
// per the explicit-dependency-parameter design note this core follows.
type Soul struct {
	ctx       *history.Store
	reg       *registry.Registry
	gate      *approval.Gate
	bus       *wire.Bus
	facade    *llm.Facade
	mail      *dmail.Box
	compactor CompactionStrategy
	opts      RunOptions

	step int
}

// New constructs a Soul from its dependencies.
func New(ctxStore *history.Store, reg *registry.Registry, gate *approval.Gate, bus *wire.Bus, facade *llm.Facade, mail *dmail.Box, compactor CompactionStrategy, opts RunOptions) *Soul {
	return &Soul{
		ctx:       ctxStore,
		reg:       reg,
		gate:      gate,
		bus:       bus,
		facade:    facade,
		mail:      mail,
		compactor: compactor,
		opts:      opts,
	}
}

// Subscribe connects a front-end to the loop's Event Bus.
func (s *Soul) Subscribe(bufferSize int) (<-chan wire.Event, wire.Cancel) {
	return s.bus.Subscribe(bufferSize)
}

// Run drives one user turn to completion, a stop condition, or
// cancellation. It is the sole entry point named in §6's loop-driver
// callable surface.
func (s *Soul) Run(ctx context.Context, input string) (Result, error) {
	if err := s.ctx.Append(message.NewUserMessage(input)); err != nil {
		return Result{}, errors.Wrap(err, "append user message")
	}
	s.step = 0
	return s.stepLoop(ctx)
}

// stepLoop is the STEP_BEGIN..APPEND_RESULTS cycle of §4.7, re-entered
// directly by D-Mail's revert-and-inject without going through Run's
// public append-then-loop split.
func (s *Soul) stepLoop(ctx context.Context) (Result, error) {
	for {
		if mail, ok := s.mail.Fetch(); ok {
			if err := s.ctx.RevertTo(mail.CheckpointID); err != nil {
				return Result{}, errors.Wrap(err, "d-mail revert")
			}
			if err := s.ctx.Append(message.NewUserMessage(mail.Message)); err != nil {
				return Result{}, errors.Wrap(err, "d-mail inject")
			}
		}

		if err := s.maybeCompact(ctx); err != nil {
			return Result{}, errors.Wrap(err, "compaction")
		}

		s.step++
		s.bus.Publish(wire.Event{Type: wire.EventStepBegin, StepNumber: s.step})

		if s.opts.MaxStepsPerRun > 0 && s.step > s.opts.MaxStepsPerRun {
			s.bus.Publish(wire.Event{Type: wire.EventStepInterrupted})
			return Result{Kind: MaxStepsReached}, nil
		}

		out, err := s.facade.Run(ctx, s.ctx.History(), s.reg.Catalog(), s.publishPart)
		if err != nil {
			return Result{Kind: ProviderError, Detail: err.Error()}, nil
		}

		if out.Interrupted {
			return s.handleInterruption(out)
		}

		assistantMsg := message.NewAssistantMessage(out.Parts)
		if err := s.ctx.Append(assistantMsg); err != nil {
			return Result{}, errors.Wrap(err, "append assistant message")
		}
		if err := s.ctx.UpdateTokenCount(out.TokenCount); err != nil {
			return Result{}, errors.Wrap(err, "update token count")
		}

		if !assistantMsg.HasToolCalls() {
			s.bus.Publish(wire.Event{Type: wire.EventStepEnd})
			if _, err := s.ctx.Checkpoint(true); err != nil {
				return Result{}, errors.Wrap(err, "checkpoint")
			}
			return Result{Kind: Completed, Message: assistantMsg}, nil
		}

		if err := s.dispatchToolCalls(ctx, assistantMsg.ToolCalls()); err != nil {
			return Result{}, err
		}
		// loop to STEP_BEGIN
	}
}

func (s *Soul) publishPart(p message.ContentPart) {
	switch p.Type {
	case message.PartText:
		s.bus.Publish(wire.Event{Type: wire.EventContentPart, Part: wire.ContentPartEvent{Part: p}})
	case message.PartToolCall:
		s.bus.Publish(wire.Event{Type: wire.EventToolCall, Call: wire.ToolCallEvent{
			ID: p.ToolCallID, Name: p.ToolName, Arguments: p.ToolArgsJSON,
		}})
	}
}

// dispatchToolCalls executes each tool call sequentially, in the order
// emitted by the model, and appends one tool-role message of results.
func (s *Soul) dispatchToolCalls(ctx context.Context, calls []message.ContentPart) error {
	results := make([]message.ContentPart, 0, len(calls))
	for _, call := range calls {
		result := s.reg.Dispatch(ctx, call)
		s.bus.Publish(wire.Event{Type: wire.EventToolResult, ToolCallID: call.ToolCallID, Result: result})
		results = append(results, result)
	}
	return s.ctx.Append(message.NewToolResultMessage(results))
}

// handleInterruption synthesizes ERROR results for any tool calls that
// were announced but not yet dispatched (invariant I5) and returns
// Interrupted, leaving History consistent.
func (s *Soul) handleInterruption(out llm.AssistantOutput) (Result, error) {
	s.bus.Publish(wire.Event{Type: wire.EventStepInterrupted})

	var unmatched []message.ContentPart
	for _, p := range out.Parts {
		if p.Type == message.PartToolCall {
			unmatched = append(unmatched, p)
		}
	}
	if len(out.Parts) > 0 {
		if err := s.ctx.Append(message.NewAssistantMessage(out.Parts)); err != nil {
			return Result{}, errors.Wrap(err, "append partial assistant message")
		}
	}
	if len(unmatched) > 0 {
		results := make([]message.ContentPart, 0, len(unmatched))
		for _, call := range unmatched {
			results = append(results, message.ToolResultPart(call.ToolCallID, message.StatusError, "interrupted", ""))
		}
		if err := s.ctx.Append(message.NewToolResultMessage(results)); err != nil {
			return Result{}, errors.Wrap(err, "append interrupted tool results")
		}
	}
	return Result{Kind: Interrupted}, nil
}

// maybeCompact implements §4.7's compaction policy: when TokenCount
// exceeds MaxContextSize*CompactionRatio, summarize the prefix preceding
// the most recent checkpoint and replace it in place.
func (s *Soul) maybeCompact(ctx context.Context) error {
	if s.compactor == nil || s.opts.MaxContextSize <= 0 || s.opts.CompactionRatio <= 0 {
		return nil
	}
	threshold := float64(s.opts.MaxContextSize) * s.opts.CompactionRatio
	if float64(s.ctx.TokenCount()) <= threshold {
		return nil
	}
	if s.ctx.CheckpointCount() == 0 {
		return nil
	}

	s.bus.Publish(wire.Event{Type: wire.EventCompactionBegin})

	prefix := s.ctx.PrefixBeforeLastCheckpoint()
	summary, err := s.compactor.Summarize(ctx, prefix)
	if err != nil {
		return errors.Wrap(err, "summarize")
	}
	if err := s.ctx.Compact(summary); err != nil {
		return errors.Wrap(err, "replace prefix")
	}

	s.bus.Publish(wire.Event{Type: wire.EventCompactionEnd})
	return nil
}

// SendDMail is a convenience forwarding to the mailbox with the driver's
// current checkpoint count, so tool bodies need only depend on *dmail.Box.
func (s *Soul) SendDMail(checkpointID int, msg string) bool {
	return s.mail.Send(checkpointID, msg, s.ctx.CheckpointCount())
}
