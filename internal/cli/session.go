package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/parley/internal/app"
	"github.com/roach88/parley/internal/correlation"
	"github.com/roach88/parley/internal/ir"
	"github.com/roach88/parley/internal/listener"
	"github.com/roach88/parley/internal/store"
)

// NewSessionCommand creates the session command group.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create sessions and talk to the agent",
	}

	cmd.AddCommand(newSessionCreateCommand(rootOpts))
	cmd.AddCommand(newSessionListCommand(rootOpts))
	cmd.AddCommand(newSessionPostCommand(rootOpts))
	cmd.AddCommand(newSessionEventsCommand(rootOpts))
	cmd.AddCommand(newSessionTraceCommand(rootOpts))
	cmd.AddCommand(newSessionChatCommand(rootOpts))

	return cmd
}

// SessionCreated is the output of session create.
type SessionCreated struct {
	Session ir.Session `json:"session"`
	Events  []ir.Event `json:"events"`
}

func newSessionCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		customer string
		agent    string
		title    string
		greeting bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a customer session",
		Long: `Create a session between a customer and the agent.

With --greeting the agent is dispatched immediately and may speak first;
the command waits for it to finish and prints what it emitted.

Examples:
  parley session create --customer c-1
  parley session create --customer c-1 --title "Weather" --greeting`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			ctx := cmd.Context()

			rt, err := rootOpts.open()
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
			}
			defer rt.Close(ctx)

			if agent == "" {
				agent = rt.config.Agent.ID
			}
			opts := []app.SessionOption{app.WithTitle(title)}
			if greeting {
				opts = append(opts, app.WithGreeting())
			}

			session, err := rt.app.CreateCustomerSession(ctx, ir.CustomerID(customer), ir.AgentID(agent), opts...)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to create session", err)
			}
			if err := rt.app.AwaitProcessing(ctx, session.ID); err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeGeneric, "agent did not finish", err)
			}

			events, err := rt.app.Listener().ListEvents(ctx, session.ID, store.EventFilter{})
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read events", err)
			}

			return formatter.Render(SessionCreated{Session: session, Events: events}, "", func(w io.Writer) {
				fmt.Fprintf(w, "✓ Created session %s\n", session.ID)
				printEvents(w, events)
			})
		},
	}

	cmd.Flags().StringVar(&customer, "customer", "", "customer id (required)")
	_ = cmd.MarkFlagRequired("customer")
	cmd.Flags().StringVar(&agent, "agent", "", "agent id (default: agent.id from the config)")
	cmd.Flags().StringVar(&title, "title", "", "session title")
	cmd.Flags().BoolVar(&greeting, "greeting", false, "let the agent speak first")

	return cmd
}

// SessionList is the output of session list.
type SessionList struct {
	Sessions []ir.Session `json:"sessions"`
}

func newSessionListCommand(rootOpts *RootOptions) *cobra.Command {
	var filter store.SessionFilter

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List sessions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			rt, err := rootOpts.open()
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
			}
			defer rt.Close(cmd.Context())

			sessions, err := rt.store.Sessions().ListSessions(cmd.Context(), filter)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to list sessions", err)
			}

			return formatter.Render(SessionList{Sessions: sessions}, "", func(w io.Writer) {
				if len(sessions) == 0 {
					fmt.Fprintln(w, "No sessions.")
					return
				}
				for _, s := range sessions {
					fmt.Fprintf(w, "%s  customer=%s agent=%s", s.ID, s.CustomerID, s.AgentID)
					if s.Title != "" {
						fmt.Fprintf(w, " %q", s.Title)
					}
					fmt.Fprintln(w)
				}
			})
		},
	}

	cmd.Flags().Var(newIDValue(&filter.CustomerID), "customer", "only sessions with this customer")
	cmd.Flags().Var(newIDValue(&filter.AgentID), "agent", "only sessions with this agent")

	return cmd
}

// PostResult is the output of session post.
type PostResult struct {
	Event    ir.Event   `json:"event"`
	Response []ir.Event `json:"response"`
}

func newSessionPostCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		source    string
		noProcess bool
	)

	cmd := &cobra.Command{
		Use:   "post <session-id> <message>",
		Short: "Post a message to a session",
		Long: `Append a message to a session's event log.

Unless --no-process is given the agent is dispatched, and the command waits
for it to finish and prints the events it emitted in response.

Examples:
  parley session post s-1 "is it raining?"
  parley session post s-1 "I'll take it from here" --source human_agent --no-process`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			ctx := cmd.Context()
			sessionID := ir.SessionID(args[0])

			src := ir.EventSource(source)
			if !ir.ValidEventSources[src] {
				return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, fmt.Sprintf("invalid source %q", source), nil)
			}

			rt, err := rootOpts.open()
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
			}
			defer rt.Close(ctx)

			opts := []app.PostOption{app.WithSource(src)}
			if noProcess {
				opts = append(opts, app.WithoutProcessing())
			}
			event, err := rt.app.PostEvent(ctx, sessionID, ir.EventKindMessage, map[string]any{"message": args[1]}, opts...)
			if err != nil {
				return storeFailure(formatter, "failed to post message", err)
			}
			if err := rt.app.AwaitProcessing(ctx, sessionID); err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeGeneric, "agent did not finish", err)
			}

			response, err := rt.app.Listener().ListEvents(ctx, sessionID, store.EventFilter{MinOffset: event.Offset + 1})
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read events", err)
			}
			response = withinScope(response, event.CorrelationID)

			return formatter.Render(PostResult{Event: event, Response: response}, event.CorrelationID, func(w io.Writer) {
				printEvent(w, event)
				printEvents(w, response)
			})
		},
	}

	cmd.Flags().StringVar(&source, "source", string(ir.EventSourceCustomer), "event source")
	cmd.Flags().BoolVar(&noProcess, "no-process", false, "do not dispatch the agent")

	return cmd
}

// EventList is the output of session events.
type EventList struct {
	SessionID ir.SessionID `json:"session_id"`
	Events    []ir.Event   `json:"events"`
}

func newSessionEventsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		filter store.EventFilter
		kinds  []string
		source string
	)

	cmd := &cobra.Command{
		Use:   "events <session-id>",
		Short: "List a session's events",
		Long: `List a session's events in offset order.

Examples:
  parley session events s-1
  parley session events s-1 --min-offset 4 --kinds message,status
  parley session events s-1 --source ai_agent --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			sessionID := ir.SessionID(args[0])

			for _, k := range kinds {
				kind := ir.EventKind(k)
				if !ir.ValidEventKinds[kind] {
					return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, fmt.Sprintf("invalid kind %q", k), nil)
				}
				filter.Kinds = append(filter.Kinds, kind)
			}
			if source != "" {
				filter.Source = ir.EventSource(source)
				if !ir.ValidEventSources[filter.Source] {
					return formatter.Fail(ExitCommandError, ErrCodeInvalidArgs, fmt.Sprintf("invalid source %q", source), nil)
				}
			}

			rt, err := rootOpts.open()
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
			}
			defer rt.Close(cmd.Context())

			events, err := rt.app.Listener().ListEvents(cmd.Context(), sessionID, filter)
			if err != nil {
				return storeFailure(formatter, "failed to list events", err)
			}

			return formatter.Render(EventList{SessionID: sessionID, Events: events}, "", func(w io.Writer) {
				if len(events) == 0 {
					fmt.Fprintln(w, "No events.")
					return
				}
				printEvents(w, events)
			})
		},
	}

	cmd.Flags().Int64Var(&filter.MinOffset, "min-offset", 0, "only events at or after this offset")
	cmd.Flags().StringSliceVar(&kinds, "kinds", nil, "only events of these kinds (message, tool, status, custom)")
	cmd.Flags().StringVar(&source, "source", "", "only events from this source")
	cmd.Flags().StringVar(&filter.CorrelationID, "correlation", "", "only events with exactly this correlation id")

	return cmd
}

// TraceResult holds the events produced under one correlation scope.
type TraceResult struct {
	SessionID     ir.SessionID `json:"session_id"`
	CorrelationID string       `json:"correlation_id"`
	Timeline      []ir.Event   `json:"timeline"`
	Stats         TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for a trace.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	Scopes      int            `json:"scopes"`
	ByKind      map[string]int `json:"by_kind"`
	ByStatus    map[string]int `json:"by_status"`
	IsReady     bool           `json:"is_ready"`
}

func newSessionTraceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <session-id> <correlation-id>",
		Short: "Show everything a correlation scope produced",
		Long: `Show the events recorded under a correlation id and every scope nested
inside it.

Posting a message opens a scope, and the agent run it dispatches opens a
nested one, so tracing the posted message's correlation id shows the
message followed by the agent's response.

Examples:
  parley session trace s-1 '<main>::<post-id>'
  parley session trace s-1 '<main>::<post-id>' --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			sessionID := ir.SessionID(args[0])
			prefix := args[1]

			rt, err := rootOpts.open()
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
			}
			defer rt.Close(cmd.Context())

			events, err := rt.app.Listener().ListEvents(cmd.Context(), sessionID, store.EventFilter{})
			if err != nil {
				return storeFailure(formatter, "failed to read events", err)
			}

			timeline := withinScope(events, prefix)
			result := TraceResult{
				SessionID:     sessionID,
				CorrelationID: prefix,
				Timeline:      timeline,
				Stats:         traceStats(timeline),
			}

			return formatter.Render(result, prefix, func(w io.Writer) {
				outputTraceText(w, result, rootOpts.Verbose)
			})
		},
	}
}

// withinScope keeps the events recorded under id or a scope nested in it.
func withinScope(events []ir.Event, id string) []ir.Event {
	out := []ir.Event{}
	for _, e := range events {
		if e.CorrelationID == id || strings.HasPrefix(e.CorrelationID, id+correlation.Separator) {
			out = append(out, e)
		}
	}
	return out
}

func traceStats(timeline []ir.Event) TraceStats {
	stats := TraceStats{
		TotalEvents: len(timeline),
		ByKind:      map[string]int{},
		ByStatus:    map[string]int{},
	}
	scopes := map[string]bool{}
	for _, e := range timeline {
		scopes[e.CorrelationID] = true
		stats.ByKind[string(e.Kind)]++
		if e.Kind == ir.EventKindStatus {
			status := fmt.Sprint(e.Data["status"])
			stats.ByStatus[status]++
			stats.IsReady = status == "ready"
		}
	}
	stats.Scopes = len(scopes)
	return stats
}

// outputTraceText outputs a trace as a timeline followed by its stats.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "Trace: %s (session %s)\n", result.CorrelationID, result.SessionID)
	fmt.Fprintln(w)

	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "No events found.")
		return
	}

	fmt.Fprintln(w, "Timeline:")
	for _, e := range result.Timeline {
		// Show the scope relative to the traced id.
		scope := strings.TrimPrefix(e.CorrelationID, result.CorrelationID)
		scope = strings.TrimPrefix(scope, correlation.Separator)
		if scope == "" {
			scope = "."
		}
		fmt.Fprintf(w, "  [%d] %-12s %-8s %s", e.Offset, e.Source, e.Kind, summarize(e))
		fmt.Fprintf(w, "  (%s)\n", scope)
		if verbose && len(e.Data) > 0 {
			data, _ := json.Marshal(e.Data)
			fmt.Fprintf(w, "       data: %s\n", data)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Stats:")
	fmt.Fprintf(w, "  Total events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Scopes: %d\n", result.Stats.Scopes)
	fmt.Fprintf(w, "  Messages: %d\n", result.Stats.ByKind[string(ir.EventKindMessage)])
	fmt.Fprintf(w, "  Ready: %v\n", result.Stats.IsReady)
}

func newSessionChatCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <session-id>",
		Short: "Talk to the agent line by line",
		Long: `Read customer messages from stdin, one per line, and print the agent's
replies as they arrive.

Each reply is waited for up to wait_timeout from the config file. Ends at
end of input.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			ctx := cmd.Context()
			sessionID := ir.SessionID(args[0])

			rt, err := rootOpts.open()
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to open database", err)
			}
			defer rt.Close(ctx)

			if _, err := rt.store.Sessions().ReadSession(ctx, sessionID); err != nil {
				return storeFailure(formatter, "failed to open session", err)
			}

			w := cmd.OutOrStdout()
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}

				event, err := rt.app.PostEvent(ctx, sessionID, ir.EventKindMessage, map[string]any{"message": line})
				if err != nil {
					return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to post message", err)
				}

				replies := listener.WaitOptions{
					MinOffset: event.Offset + 1,
					Kinds:     []ir.EventKind{ir.EventKindMessage},
					Source:    ir.EventSourceAIAgent,
					Timeout:   rt.config.WaitTimeout,
				}
				ok, err := rt.app.WaitForUpdate(ctx, sessionID, replies)
				if err != nil {
					return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed waiting for the agent", err)
				}
				if !ok {
					fmt.Fprintln(w, "(no reply)")
					continue
				}

				// Let the run finish so its remaining events land before the
				// next message supersedes it.
				if err := rt.app.AwaitProcessing(ctx, sessionID); err != nil {
					return formatter.Fail(ExitCommandError, ErrCodeGeneric, "agent did not finish", err)
				}

				messages, err := rt.app.Listener().ListEvents(ctx, sessionID, store.EventFilter{
					MinOffset: replies.MinOffset,
					Kinds:     replies.Kinds,
					Source:    replies.Source,
				})
				if err != nil {
					return formatter.Fail(ExitCommandError, ErrCodeStore, "failed to read replies", err)
				}
				for _, m := range messages {
					fmt.Fprintf(w, "agent: %v\n", m.Data["message"])
				}
			}
			if err := scanner.Err(); err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to read input", err)
			}
			return nil
		},
	}
}

func printEvents(w io.Writer, events []ir.Event) {
	for _, e := range events {
		printEvent(w, e)
	}
}

func printEvent(w io.Writer, e ir.Event) {
	fmt.Fprintf(w, "  [%d] %-12s %-8s %s\n", e.Offset, e.Source, e.Kind, summarize(e))
}

// summarize renders an event's payload in one line.
func summarize(e ir.Event) string {
	switch e.Kind {
	case ir.EventKindMessage:
		return fmt.Sprint(e.Data["message"])
	case ir.EventKindStatus:
		return fmt.Sprint(e.Data["status"])
	default:
		data, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Sprint(e.Data)
		}
		return string(data)
	}
}

// idValue is a pflag.Value over the string-typed ids in package ir.
type idValue[T ~string] struct {
	p *T
}

func newIDValue[T ~string](p *T) *idValue[T] {
	return &idValue[T]{p: p}
}

func (v *idValue[T]) String() string {
	if v.p == nil {
		return ""
	}
	return string(*v.p)
}

func (v *idValue[T]) Set(s string) error {
	*v.p = T(s)
	return nil
}

func (v *idValue[T]) Type() string {
	return "string"
}
