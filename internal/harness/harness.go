package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/parley/internal/app"
	"github.com/roach88/parley/internal/compiler"
	"github.com/roach88/parley/internal/correlation"
	"github.com/roach88/parley/internal/engine"
	"github.com/roach88/parley/internal/ir"
	"github.com/roach88/parley/internal/store"
	"github.com/roach88/parley/internal/testutil"
)

// DefaultAgent is the agent id conversations use when none is given.
const DefaultAgent = "agent"

// Harness executes one scenario against its own store.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	app      *app.Application
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic ids and clock make the snapshot reproducible.
//
// Execution flow:
// 1. Store the existing guidelines
// 2. Apply each batch, recording its outcome
// 3. Hold the conversation, waiting for every processing run
// 4. Snapshot the store and evaluate assertions
//
// A returned error means the scenario could not be executed at all. Failed
// expectations are reported through Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:",
		store.WithIDGenerator(testutil.NewSequentialIDs("id")),
		store.WithClock(testutil.NewDeterministicClock(time.Second).Now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	var greeting string
	if scenario.Conversation != nil {
		greeting = scenario.Conversation.Greeting
	}
	eng := engine.NewAcknowledger(st.Sessions(),
		engine.WithGreeting(greeting),
		engine.WithEngineLogger(logger),
	)
	a := app.New(st, eng,
		app.WithLogger(logger),
		app.WithCorrelator(correlation.New(
			correlation.WithIDGenerator(testutil.NewSequentialIDs("corr")),
		)),
	)
	defer a.Shutdown(context.WithoutCancel(ctx))

	h := &Harness{scenario: scenario, store: st, app: a, logger: logger}
	result := NewResult(scenario.Name)

	if err := h.seed(ctx); err != nil {
		return nil, fmt.Errorf("failed to store existing guidelines: %w", err)
	}
	for i, step := range scenario.Batches {
		if err := h.applyBatch(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("batches[%d]: %w", i, err)
		}
	}

	var session *ir.Session
	if scenario.Conversation != nil {
		s, err := h.converse(ctx, scenario.Conversation)
		if err != nil {
			return nil, fmt.Errorf("conversation: %w", err)
		}
		session = &s
	}

	if err := h.snapshot(ctx, session, &result.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to snapshot store: %w", err)
	}

	for _, msg := range EvaluateAssertions(&result.Snapshot, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) seed(ctx context.Context) error {
	for _, content := range h.scenario.Existing {
		if _, err := h.store.Guidelines().CreateGuideline(ctx, content); err != nil {
			return err
		}
	}
	return nil
}

// applyBatch resolves and applies one batch. Validation and apply failures
// are outcomes, checked against the step's expect_error; only an
// unreadable batch aborts the run.
func (h *Harness) applyBatch(ctx context.Context, index int, step BatchStep, result *Result) error {
	b, err := h.loadBatch(index, step)
	if err != nil {
		return err
	}

	ids, err := h.apply(ctx, b)
	record := BatchRecord{Guidelines: []ir.GuidelineID{}}
	if err != nil {
		record.Error = err.Error()
	} else {
		record.Guidelines = append(record.Guidelines, ids...)
	}
	result.Snapshot.Batches = append(result.Snapshot.Batches, record)

	switch {
	case step.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("batches[%d]: unexpected error: %v", index, err))
	case step.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("batches[%d]: expected error containing %q, batch succeeded", index, step.ExpectError))
	case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
		result.AddError(fmt.Sprintf("batches[%d]: expected error containing %q, got: %v", index, step.ExpectError, err))
	}

	h.logger.Info("batch applied", "index", index, "guidelines", len(ids), "error", err)
	return nil
}

func (h *Harness) loadBatch(index int, step BatchStep) (*compiler.Batch, error) {
	if !step.inline() {
		return compiler.LoadBatchFile(h.scenario.resolve(step.File))
	}

	data, err := yaml.Marshal(map[string]*yaml.Node{"guidelines": &step.Guidelines})
	if err != nil {
		return nil, fmt.Errorf("encode inline batch: %w", err)
	}
	b, err := compiler.ParseBatchYAML(data)
	if err != nil {
		return nil, err
	}
	b.Source = fmt.Sprintf("%s#batches[%d]", h.scenario.Name, index)
	return b, nil
}

func (h *Harness) apply(ctx context.Context, b *compiler.Batch) ([]ir.GuidelineID, error) {
	invoices, err := compiler.ResolveInvoices(b)
	if err != nil {
		return nil, err
	}
	return h.app.CreateGuidelines(ctx, invoices)
}

// converse opens the session and posts each message, waiting for the
// agent to finish before moving on.
func (h *Harness) converse(ctx context.Context, c *Conversation) (ir.Session, error) {
	agent := c.Agent
	if agent == "" {
		agent = DefaultAgent
	}

	opts := []app.SessionOption{app.WithTitle(c.Title)}
	if c.Greeting != "" {
		opts = append(opts, app.WithGreeting())
	}
	session, err := h.app.CreateCustomerSession(ctx, ir.CustomerID(c.Customer), ir.AgentID(agent), opts...)
	if err != nil {
		return ir.Session{}, err
	}
	if err := h.app.AwaitProcessing(ctx, session.ID); err != nil {
		return ir.Session{}, err
	}

	for i, msg := range c.Messages {
		if _, err := h.app.PostEvent(ctx, session.ID, ir.EventKindMessage, map[string]any{"message": msg}); err != nil {
			return ir.Session{}, fmt.Errorf("messages[%d]: %w", i, err)
		}
		if err := h.app.AwaitProcessing(ctx, session.ID); err != nil {
			return ir.Session{}, fmt.Errorf("messages[%d]: %w", i, err)
		}
	}

	if len(c.Utter) > 0 {
		if _, err := h.app.Utter(ctx, session, c.Utter); err != nil {
			return ir.Session{}, err
		}
	}
	return session, nil
}

func (h *Harness) snapshot(ctx context.Context, session *ir.Session, snap *Snapshot) error {
	guidelines, err := h.store.Guidelines().ListGuidelines(ctx)
	if err != nil {
		return err
	}
	for _, g := range guidelines {
		snap.Guidelines = append(snap.Guidelines, GuidelineRecord{
			ID:        g.ID,
			Condition: g.Content.Condition,
			Action:    g.Content.Action,
			Enabled:   g.Enabled,
		})
	}

	relationships, err := h.store.Relationships().ListRelationships(ctx, store.RelationshipQuery{})
	if err != nil {
		return err
	}
	for _, r := range relationships {
		snap.Relationships = append(snap.Relationships, RelationshipRecord{
			ID:     r.ID,
			Source: r.Source.ID,
			Target: r.Target.ID,
			Kind:   r.Kind,
		})
	}

	if session == nil {
		return nil
	}
	events, err := h.store.Sessions().ListEvents(ctx, session.ID, store.EventFilter{})
	if err != nil {
		return err
	}
	for _, e := range events {
		snap.Events = append(snap.Events, EventRecord{
			Offset:        e.Offset,
			Source:        e.Source,
			Kind:          e.Kind,
			CorrelationID: e.CorrelationID,
			Data:          e.Data,
		})
	}
	return nil
}
