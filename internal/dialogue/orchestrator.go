// Package dialogue drives scenario conversations: it threads the learner's
// messages and the model's replies through the objective-reporting tool
// protocol and decides when a scenario is finished.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/scenario-coach/internal/convlog"
	"github.com/ashureev/scenario-coach/internal/domain"
	"github.com/ashureev/scenario-coach/internal/llm"
	"github.com/ashureev/scenario-coach/internal/scenario"
	"github.com/ashureev/scenario-coach/internal/session"
	"github.com/ashureev/scenario-coach/internal/store"
)

const defaultModelTimeout = 60 * time.Second

// Recorder receives the latest outcome of a session after every committed turn.
type Recorder interface {
	SaveOutcome(ctx context.Context, o *store.Outcome) error
}

// Result is what the learner sees after a turn.
type Result struct {
	SessionID  string
	ScenarioID string
	Text       string
	Progress   domain.Objectives
	Completed  bool
	Turns      int
}

// Orchestrator runs dialogues for any registered scenario.
type Orchestrator struct {
	store     session.Store
	provider  llm.Provider
	scenarios *scenario.Registry
	timeout   time.Duration
	model     string
	convLog   convlog.Logger
	recorder  Recorder
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithModelTimeout bounds every model call.
func WithModelTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithModel overrides the model named by each scenario.
func WithModel(model string) Option {
	return func(o *Orchestrator) { o.model = model }
}

// WithConversationLog sends dialogue events to l.
func WithConversationLog(l convlog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.convLog = l
		}
	}
}

// WithRecorder records outcomes after each committed turn.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator.
func New(store session.Store, provider llm.Provider, scenarios *scenario.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		provider:  provider,
		scenarios: scenarios,
		timeout:   defaultModelTimeout,
		convLog:   convlog.Nop{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start opens a new session for scenarioID. An empty ID selects the default
// scenario. Nothing is stored unless the model call succeeds.
func (o *Orchestrator) Start(ctx context.Context, scenarioID string) (*Result, error) {
	sc, err := o.scenarios.Get(scenarioID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, scenarioID)
	}

	sess := domain.NewSession(sc.ID, sc.ObjectiveKeys())
	seed := domain.LearnerTurn(sc.SeedMessage)

	reply, err := o.complete(ctx, "start", sc, []domain.Turn{seed})
	if err != nil {
		o.logger.Error("Failed to start session", "scenario", sc.ID, "error", err)
		return nil, err
	}

	sess.Append(seed, domain.PersonaTurn(reply.Segments))
	// Seed replies are answered but never merged: a new session starts with
	// every objective false.
	if results := o.answerToolUses(sc, "", reply, nil); len(results) > 0 {
		sess.Append(domain.ToolResultTurn(results))
	}

	id, err := o.store.Create(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	sess.ID = id

	o.logger.Info("Session started",
		"session_id", id,
		"scenario", sc.ID,
		"input_tokens", reply.Usage.InputTokens,
		"output_tokens", reply.Usage.OutputTokens,
	)
	text := reply.Text()
	o.convLog.Log(convlog.Event{
		ScenarioID: sc.ID,
		SessionID:  id,
		Channel:    "dialogue",
		Direction:  "outbound",
		EventType:  convlog.EventSessionStarted,
		ContentRaw: text,
		Meta:       map[string]any{"model": reply.Model, "stop_reason": reply.StopReason},
	})
	o.record(ctx, sess)

	return &Result{
		SessionID:  id,
		ScenarioID: sc.ID,
		Text:       text,
		Progress:   sess.Objectives.Clone(),
		Completed:  false,
		Turns:      len(sess.Transcript),
	}, nil
}

// SendMessage runs one learner turn. Calls on the same session are
// serialized. The session is only updated after the model call succeeds.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	unlock, err := o.store.Lock(ctx, sessionID)
	if err != nil {
		return nil, o.lookupError(sessionID, err)
	}
	defer unlock()

	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, o.lookupError(sessionID, err)
	}
	sc, err := o.scenarios.Get(sess.ScenarioID)
	if err != nil {
		return nil, fmt.Errorf("%w: session %s uses %q", ErrUnknownScenario, sessionID, sess.ScenarioID)
	}

	pending := sess.Clone()
	pending.Append(domain.LearnerTurn(text))
	o.convLog.Log(convlog.Event{
		ScenarioID: sc.ID,
		SessionID:  sessionID,
		Channel:    "dialogue",
		Direction:  "inbound",
		EventType:  convlog.EventLearnerMessage,
		ContentRaw: text,
	})

	turns := pending.Render()
	if err := domain.ValidateTranscript(turns); err != nil {
		o.logger.Error("Transcript has an unanswered tool invocation", "session_id", sessionID, "error", err)
		return nil, err
	}

	reply, err := o.complete(ctx, "message", sc, turns)
	if err != nil {
		o.logger.Error("Failed to process message", "session_id", sessionID, "scenario", sc.ID, "error", err)
		return nil, err
	}

	pending.Append(domain.PersonaTurn(reply.Segments))
	if results := o.answerToolUses(sc, sessionID, reply, pending.Objectives); len(results) > 0 {
		pending.Append(domain.ToolResultTurn(results))
	}

	if err := o.store.Update(ctx, pending); err != nil {
		return nil, o.lookupError(sessionID, err)
	}

	completed := pending.Completed()
	replyText := reply.Text()
	o.convLog.Log(convlog.Event{
		ScenarioID: sc.ID,
		SessionID:  sessionID,
		Channel:    "dialogue",
		Direction:  "outbound",
		EventType:  convlog.EventPersonaReply,
		ContentRaw: replyText,
		Meta: map[string]any{
			"stop_reason":   reply.StopReason,
			"tool_calls":    len(reply.ToolUses()),
			"input_tokens":  reply.Usage.InputTokens,
			"output_tokens": reply.Usage.OutputTokens,
		},
	})

	text = replyText
	if completed {
		text = sc.Feedback
		o.logger.Info("Scenario completed", "session_id", sessionID, "scenario", sc.ID, "turns", len(pending.Transcript))
		o.convLog.Log(convlog.Event{
			ScenarioID: sc.ID,
			SessionID:  sessionID,
			Channel:    "dialogue",
			Direction:  "outbound",
			EventType:  convlog.EventScenarioCompleted,
			Meta:       map[string]any{"objectives": pending.Objectives.Clone()},
		})
	}
	o.record(ctx, pending)

	return &Result{
		SessionID:  sessionID,
		ScenarioID: sc.ID,
		Text:       text,
		Progress:   pending.Objectives.Clone(),
		Completed:  completed,
		Turns:      len(pending.Transcript),
	}, nil
}

// Snapshot returns the current progress of a session without calling the model.
func (o *Orchestrator) Snapshot(ctx context.Context, sessionID string) (*Result, error) {
	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, o.lookupError(sessionID, err)
	}
	return &Result{
		SessionID:  sess.ID,
		ScenarioID: sess.ScenarioID,
		Progress:   sess.Objectives.Clone(),
		Completed:  sess.Completed(),
		Turns:      len(sess.Transcript),
	}, nil
}

// complete submits turns under the configured timeout.
func (o *Orchestrator) complete(ctx context.Context, op string, sc *scenario.Scenario, turns []domain.Turn) (*llm.Reply, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	model := sc.Model
	if o.model != "" {
		model = o.model
	}

	reply, err := o.provider.Complete(callCtx, llm.Request{
		Model:       model,
		System:      sc.SystemPrompt,
		Tools:       []llm.Tool{sc.ToolDefinition()},
		Turns:       turns,
		MaxTokens:   sc.MaxTokens,
		Temperature: sc.Temperature,
	})
	if err != nil {
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		return nil, &UpstreamError{Op: op, Err: err, Timeout: timedOut}
	}
	if reply == nil {
		return nil, &UpstreamError{Op: op, Err: errors.New("empty reply")}
	}
	return reply, nil
}

// answerToolUses builds exactly one result per tool invocation in reply, in
// order. Progress reports are merged into objectives when it is non-nil.
func (o *Orchestrator) answerToolUses(sc *scenario.Scenario, sessionID string, reply *llm.Reply, objectives domain.Objectives) []domain.ToolResultSegment {
	uses := reply.ToolUses()
	if len(uses) == 0 {
		return nil
	}

	results := make([]domain.ToolResultSegment, 0, len(uses))
	for _, use := range uses {
		if use.Name != sc.Tool.Name {
			o.logger.Warn("Model invoked an unknown tool", "scenario", sc.ID, "tool", use.Name, "tool_use_id", use.ID)
			results = append(results, domain.ToolResultSegment{
				ToolUseID: use.ID,
				Name:      use.Name,
				Content:   fmt.Sprintf("Unknown tool %q. Only %s is available.", use.Name, sc.Tool.Name),
				IsError:   true,
			})
			continue
		}

		if objectives != nil {
			update, dropped, err := domain.ParseObjectiveUpdate(use.Input, sc.ObjectiveKeys())
			if err != nil {
				o.logger.Warn("Ignoring malformed progress report", "scenario", sc.ID, "tool_use_id", use.ID, "error", err)
			}
			if len(dropped) > 0 {
				o.logger.Warn("Ignoring non-boolean objective values", "scenario", sc.ID, "keys", dropped)
			}
			objectives.Merge(update)
			if len(update) > 0 {
				o.convLog.Log(convlog.Event{
					ScenarioID: sc.ID,
					SessionID:  sessionID,
					Channel:    "dialogue",
					Direction:  "internal",
					EventType:  convlog.EventObjectiveUpdate,
					ContentRaw: string(use.Input),
					Meta:       map[string]any{"tool_use_id": use.ID},
				})
			}
		}

		results = append(results, domain.ToolResultSegment{
			ToolUseID: use.ID,
			Name:      use.Name,
			Content:   sc.ToolResultText(),
		})
	}
	return results
}

func (o *Orchestrator) record(ctx context.Context, sess *domain.Session) {
	if o.recorder == nil {
		return
	}
	outcome := &store.Outcome{
		SessionID:  sess.ID,
		ScenarioID: sess.ScenarioID,
		Objectives: sess.Objectives.Clone(),
		Completed:  sess.Completed(),
		Turns:      len(sess.Transcript),
		StartedAt:  sess.CreatedAt,
	}
	if err := o.recorder.SaveOutcome(ctx, outcome); err != nil {
		o.logger.Warn("Failed to record session outcome", "session_id", sess.ID, "error", err)
	}
}

func (o *Orchestrator) lookupError(sessionID string, err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return err
}
