package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/eventsync/internal/config"
	"github.com/roach88/eventsync/internal/dispatch"
	"github.com/roach88/eventsync/internal/envelope"
	"github.com/roach88/eventsync/internal/ids"
	"github.com/roach88/eventsync/internal/journal"
	"github.com/roach88/eventsync/internal/state"
	"github.com/roach88/eventsync/internal/testutil"
)

// Harness is the test execution engine for one scenario run.
type Harness struct {
	store      *state.Store
	dispatcher *dispatch.Dispatcher
	journal    *journal.Journal
	clock      *testutil.ManualClock
	logger     *slog.Logger

	mu        sync.Mutex
	forwarded []envelope.Envelope

	// journaled is how many journal entries are already in the trace.
	journaled int
}

// Run executes a scenario and returns the result.
//
// Each run gets a fresh store and in-memory journal. Execution errors (a
// bad config overlay, a journal failure) are returned; failed assertions are
// reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with dispatcher logging sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	cfg, err := scenarioConfig(scenario)
	if err != nil {
		return nil, err
	}

	j, err := journal.Open(journal.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer j.Close()

	var gen ids.Generator = ids.NewSequence("tmp")
	if len(scenario.IDs) > 0 {
		gen = ids.NewFixed(scenario.IDs...)
	}

	h := &Harness{
		store:   state.New(state.WithLogger(logger)),
		journal: j,
		clock:   testutil.NewManualClock(),
		logger:  logger,
	}
	h.dispatcher = dispatch.New(h.store,
		dispatch.WithConfig(cfg),
		dispatch.WithLogger(logger),
		dispatch.WithJournal(j),
		dispatch.WithClock(h.clock),
		dispatch.WithScheduler(h.clock),
		dispatch.WithIDGenerator(gen),
		dispatch.WithNotifier(dispatch.NotifierFunc(h.collect)),
	)
	defer h.dispatcher.Close()

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	result.Stats = h.dispatcher.Stats()
	result.Snapshot = h.store.Snapshot()

	actx := &AssertionContext{
		Store:     h.store,
		Stats:     result.Stats,
		Forwarded: h.forwardedEnvelopes(),
	}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// scenarioConfig overlays the scenario's config block on the defaults.
func scenarioConfig(s *Scenario) (config.Config, error) {
	cfg := config.Default()
	if len(s.Config) == 0 {
		return cfg, nil
	}
	raw, err := yaml.Marshal(s.Config)
	if err != nil {
		return config.Config{}, fmt.Errorf("encode config overlay: %w", err)
	}
	cfg, err = config.Overlay(cfg, bytes.NewReader(raw))
	if err != nil {
		return config.Config{}, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (h *Harness) collect(_ context.Context, env envelope.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forwarded = append(h.forwarded, env)
	return nil
}

func (h *Harness) forwardedEnvelopes() []envelope.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]envelope.Envelope(nil), h.forwarded...)
}

// executeStep runs one step and appends its trace events.
func (h *Harness) executeStep(ctx context.Context, n int, step Step, result *Result) error {
	switch step.Kind() {
	case StepDeliver:
		env := h.buildEnvelope(n, step.Deliver)
		// Validation errors are journaled as malformed; nothing to do here.
		_ = h.dispatcher.Handle(ctx, env)

	case StepOptimisticMessage:
		in := step.OptimisticMessage
		msg, err := h.dispatcher.CreateOptimisticMessage(ctx, dispatch.OptimisticMessage{
			StreamID:  in.Stream,
			Role:      in.Role,
			ParentID:  in.Parent,
			Directory: in.Directory,
		})
		if err != nil {
			return err
		}
		result.AddTrace(TraceEvent{Step: n, Action: StepOptimisticMessage, Stream: in.Stream, ID: msg.ID})

	case StepOptimisticPart:
		in := step.OptimisticPart
		part, err := h.dispatcher.CreateOptimisticPart(ctx, dispatch.OptimisticPart{
			MessageID:   in.Message,
			Type:        in.Type,
			Text:        in.Text,
			ReasoningID: in.ReasoningID,
			Tool:        in.Tool,
			CallID:      in.CallID,
		})
		if err != nil {
			result.AddTrace(TraceEvent{Step: n, Action: StepOptimisticPart, Outcome: string(journal.OutcomeRejected), Detail: err.Error()})
			break
		}
		result.AddTrace(TraceEvent{Step: n, Action: StepOptimisticPart, Stream: part.StreamID, ID: part.ID})

	case StepAdvance:
		h.clock.Advance(time.Duration(step.AdvanceMS) * time.Millisecond)

	case StepResume:
		h.dispatcher.Resume(step.Resume.Stream, step.Resume.LastSeq)
		seq := step.Resume.LastSeq
		result.AddTrace(TraceEvent{Step: n, Action: StepResume, Stream: step.Resume.Stream, Seq: &seq})

	case StepSweep:
		res, err := h.dispatcher.SweepOrphans(ctx)
		if err != nil {
			return err
		}
		removed := append(res.Messages, res.Parts...)
		result.AddTrace(TraceEvent{Step: n, Action: StepSweep, Removed: removed})

	case StepCloseStream:
		h.dispatcher.CloseStream(step.CloseStream)
		result.AddTrace(TraceEvent{Step: n, Action: StepCloseStream, Stream: step.CloseStream})

	default:
		return fmt.Errorf("invalid step")
	}

	h.logger.Debug("scenario step executed", "step", n, "kind", step.Kind())
	return h.traceJournal(ctx, n, result)
}

// buildEnvelope fills in defaults for a deliver step.
func (h *Harness) buildEnvelope(n int, in *DeliverStep) envelope.Envelope {
	env := envelope.Envelope{
		Type:       in.Type,
		EventID:    in.EventID,
		StreamID:   in.Stream,
		Directory:  in.Directory,
		Properties: in.Properties,
		Timestamp:  h.clock.NowMS(),
	}
	if env.Properties == nil {
		env.Properties = map[string]any{}
	}
	if in.Seq != nil {
		env.Sequence = *in.Seq
		env.HasSequence = true
	}
	if in.Timestamp != nil {
		env.Timestamp = *in.Timestamp
	}
	if env.EventID == "" {
		if env.Ordered() {
			env.EventID = fmt.Sprintf("evt-%s-%d", env.StreamID, env.Sequence)
		} else {
			env.EventID = fmt.Sprintf("evt-step-%d", n)
		}
	}
	return env
}

// traceJournal appends journal entries written since the last step.
func (h *Harness) traceJournal(ctx context.Context, n int, result *Result) error {
	entries, err := h.journal.All(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries[h.journaled:] {
		result.AddTrace(TraceEvent{
			Step:    n,
			Action:  TraceEnvelope,
			EventID: e.EventID,
			Type:    e.Type,
			Stream:  e.StreamID,
			Seq:     e.Sequence,
			Outcome: string(e.Outcome),
			Detail:  e.Detail,
		})
	}
	h.journaled = len(entries)
	return nil
}
