// Package app wires the stores, listener, task service and engine into the
// operations a front end calls: session lifecycle, event posting, agent
// dispatch and guideline batches.
//
// # Dispatch
//
// Posting a customer event dispatches processing for its session. Each
// session has one task tag, so a newer dispatch cancels the run in flight
// and waits for it to exit before the replacement starts. At most one
// Engine.Process call is active per session.
//
// Every dispatch runs under its own correlation scope. Events the engine
// emits carry that scope's id, which is also returned to the caller.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/parley/internal/correlation"
	"github.com/roach88/parley/internal/engine"
	"github.com/roach88/parley/internal/guideline"
	"github.com/roach88/parley/internal/ir"
	"github.com/roach88/parley/internal/listener"
	"github.com/roach88/parley/internal/store"
	"github.com/roach88/parley/internal/tasks"
)

// Application is the top-level orchestrator.
//
// Thread-safety: all methods are safe for concurrent use.
type Application struct {
	guidelines    *store.GuidelineStore
	relationships *store.RelationshipStore
	sessions      *store.SessionStore
	listener      *listener.Listener
	tasks         *tasks.Service
	correlator    *correlation.Correlator
	engine        engine.Engine
	emitters      engine.EmitterFactory
	builder       *guideline.Builder
	logger        *slog.Logger
}

// Option configures an Application.
type Option func(*Application)

// WithLogger sets the logger shared by the Application and the components
// it creates. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Application) {
		a.logger = l
	}
}

// WithCorrelator sets the correlator that names dispatch scopes.
func WithCorrelator(c *correlation.Correlator) Option {
	return func(a *Application) {
		a.correlator = c
	}
}

// WithEmitterFactory replaces the default store-backed emitter factory.
func WithEmitterFactory(f engine.EmitterFactory) Option {
	return func(a *Application) {
		a.emitters = f
	}
}

// New creates an Application over st that hands sessions to eng.
func New(st *store.Store, eng engine.Engine, opts ...Option) *Application {
	a := &Application{
		guidelines:    st.Guidelines(),
		relationships: st.Relationships(),
		sessions:      st.Sessions(),
		engine:        eng,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.correlator == nil {
		a.correlator = correlation.New()
	}
	a.listener = listener.New(st.Sessions(), listener.WithLogger(a.logger))
	a.tasks = tasks.New(tasks.WithLogger(a.logger))
	a.builder = guideline.NewBuilder(st.Guidelines(), st.Relationships(), guideline.WithLogger(a.logger))
	if a.emitters == nil {
		a.emitters = engine.NewSessionEmitterFactory(a.listener)
	}
	return a
}

// Listener returns the listener all events are appended through.
func (a *Application) Listener() *listener.Listener {
	return a.listener
}

// SessionOption configures CreateCustomerSession.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	title    string
	greeting bool
}

// WithTitle sets the new session's title.
func WithTitle(title string) SessionOption {
	return func(o *sessionOptions) {
		o.title = title
	}
}

// WithGreeting dispatches processing as soon as the session exists, so the
// agent may speak first.
func WithGreeting() SessionOption {
	return func(o *sessionOptions) {
		o.greeting = true
	}
}

// CreateCustomerSession creates a session between customerID and agentID.
func (a *Application) CreateCustomerSession(ctx context.Context, customerID ir.CustomerID, agentID ir.AgentID, opts ...SessionOption) (ir.Session, error) {
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}

	session, err := a.sessions.CreateSession(ctx, agentID, customerID, o.title)
	if err != nil {
		return ir.Session{}, fmt.Errorf("create customer session: %w", err)
	}
	a.logger.Info("session created",
		"session_id", session.ID,
		"agent_id", agentID,
		"customer_id", customerID,
	)

	if o.greeting {
		if _, err := a.DispatchProcessingTask(ctx, session); err != nil {
			return ir.Session{}, err
		}
	}
	return session, nil
}

// PostOption configures PostEvent.
type PostOption func(*postOptions)

type postOptions struct {
	source  ir.EventSource
	process bool
}

// WithSource sets the event's source. Default: customer.
func WithSource(source ir.EventSource) PostOption {
	return func(o *postOptions) {
		o.source = source
	}
}

// WithoutProcessing appends the event without dispatching the agent.
func WithoutProcessing() PostOption {
	return func(o *postOptions) {
		o.process = false
	}
}

// PostEvent appends an event to a session under a fresh correlation scope
// and, unless WithoutProcessing is given, dispatches processing for the
// session.
func (a *Application) PostEvent(ctx context.Context, sessionID ir.SessionID, kind ir.EventKind, data map[string]any, opts ...PostOption) (ir.Event, error) {
	o := postOptions{source: ir.EventSourceCustomer, process: true}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, end := a.correlator.Scope(ctx, a.correlator.NewID())
	defer end()

	event, err := a.listener.CreateEvent(ctx, sessionID, store.EventParams{
		Source:        o.source,
		Kind:          kind,
		CorrelationID: correlation.ID(ctx),
		Data:          data,
	})
	if err != nil {
		return ir.Event{}, fmt.Errorf("post event: %w", err)
	}
	correlation.Logger(ctx, a.logger).Debug("event posted",
		"session_id", sessionID,
		"offset", event.Offset,
		"source", event.Source,
		"kind", event.Kind,
	)

	if !o.process {
		return event, nil
	}

	session, err := a.sessions.ReadSession(ctx, sessionID)
	if err != nil {
		return ir.Event{}, fmt.Errorf("post event: %w", err)
	}
	if _, err := a.DispatchProcessingTask(ctx, session); err != nil {
		return ir.Event{}, err
	}
	return event, nil
}

// DispatchProcessingTask schedules Engine.Process for session, superseding
// any run already in flight for it. It returns the dispatch's correlation
// id without waiting for processing to finish.
func (a *Application) DispatchProcessingTask(ctx context.Context, session ir.Session) (string, error) {
	ctx, end := a.correlator.Scope(ctx, "process("+a.correlator.NewID()+")")
	id := correlation.ID(ctx)

	err := a.tasks.Restart(ctx, processingTag(session.ID), func(ctx context.Context) error {
		defer end()
		return a.processSession(ctx, session)
	})
	if err != nil {
		end()
		return "", fmt.Errorf("dispatch processing for session %s: %w", session.ID, err)
	}
	return id, nil
}

// Processing reports whether a processing run is registered for sessionID.
func (a *Application) Processing(sessionID ir.SessionID) bool {
	return a.tasks.Running(processingTag(sessionID))
}

// AwaitProcessing blocks until the processing run in flight for sessionID
// exits. Returns immediately if none is.
func (a *Application) AwaitProcessing(ctx context.Context, sessionID ir.SessionID) error {
	return a.tasks.Wait(ctx, processingTag(sessionID))
}

// processSession hands the session to the engine. A failure that is not
// the run's own cancellation is reported to the session as an error status.
func (a *Application) processSession(ctx context.Context, session ir.Session) error {
	emitter := a.emitters.CreateEventEmitter(session.AgentID, session.ID)
	c := engine.Context{SessionID: session.ID, AgentID: session.AgentID}

	err := a.engine.Process(ctx, c, emitter)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if _, emitErr := emitter.EmitStatus(ctx, engine.StatusError, map[string]any{
		"exception": err.Error(),
	}); emitErr != nil {
		correlation.Logger(ctx, a.logger).Warn("failed to report processing error",
			"session_id", session.ID,
			"error", emitErr,
		)
	}
	return err
}

// Utter runs Engine.Utter for session and waits for it to finish. It
// returns the correlation id the emitted events carry.
func (a *Application) Utter(ctx context.Context, session ir.Session, requests []engine.UtteranceRequest) (string, error) {
	ctx, end := a.correlator.Scope(ctx, "utter("+a.correlator.NewID()+")")
	defer end()

	emitter := a.emitters.CreateEventEmitter(session.AgentID, session.ID)
	c := engine.Context{SessionID: session.ID, AgentID: session.AgentID}
	if err := a.engine.Utter(ctx, c, emitter, requests); err != nil {
		return "", fmt.Errorf("utter in session %s: %w", session.ID, err)
	}
	return correlation.ID(ctx), nil
}

// CreateGuidelines applies an invoice batch. See guideline.Builder.
func (a *Application) CreateGuidelines(ctx context.Context, invoices []ir.Invoice) ([]ir.GuidelineID, error) {
	ids, err := a.builder.CreateGuidelines(ctx, invoices)
	if err != nil {
		return nil, fmt.Errorf("create guidelines: %w", err)
	}
	a.logger.Info("guidelines created", "count", len(ids))
	return ids, nil
}

// DeleteGuideline removes a guideline together with every relationship
// that starts or ends at it.
func (a *Application) DeleteGuideline(ctx context.Context, id ir.GuidelineID) error {
	if _, err := a.guidelines.ReadGuideline(ctx, id); err != nil {
		return fmt.Errorf("delete guideline: %w", err)
	}

	outgoing, err := a.relationships.ListRelationships(ctx, store.RelationshipQuery{Source: string(id)})
	if err != nil {
		return fmt.Errorf("delete guideline: %w", err)
	}
	incoming, err := a.relationships.ListRelationships(ctx, store.RelationshipQuery{Target: string(id)})
	if err != nil {
		return fmt.Errorf("delete guideline: %w", err)
	}

	seen := make(map[ir.RelationshipID]bool)
	for _, r := range append(outgoing, incoming...) {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		if err := a.relationships.DeleteRelationship(ctx, r.ID); err != nil {
			return fmt.Errorf("delete guideline: %w", err)
		}
	}

	if err := a.guidelines.DeleteGuideline(ctx, id); err != nil {
		return fmt.Errorf("delete guideline: %w", err)
	}
	a.logger.Info("guideline deleted", "guideline_id", id, "relationships", len(seen))
	return nil
}

// SetGuidelineEnabled enables or disables a guideline without touching its
// content or relationships.
func (a *Application) SetGuidelineEnabled(ctx context.Context, id ir.GuidelineID, enabled bool) (ir.Guideline, error) {
	g, err := a.guidelines.UpdateGuideline(ctx, id, store.GuidelineUpdateParams{Enabled: &enabled})
	if err != nil {
		return ir.Guideline{}, fmt.Errorf("set guideline enabled: %w", err)
	}
	return g, nil
}

// WaitForUpdate blocks until an event matching opts is in the session's
// log. See listener.Listener.WaitForEvents.
func (a *Application) WaitForUpdate(ctx context.Context, sessionID ir.SessionID, opts listener.WaitOptions) (bool, error) {
	return a.listener.WaitForEvents(ctx, sessionID, opts)
}

// Shutdown cancels every processing run and waits for them to exit.
func (a *Application) Shutdown(ctx context.Context) error {
	return a.tasks.Shutdown(ctx)
}

func processingTag(id ir.SessionID) string {
	return fmt.Sprintf("process-session(%s)", id)
}
