package dialogue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/scenario-coach/internal/dialogue"
	"github.com/ashureev/scenario-coach/internal/domain"
	"github.com/ashureev/scenario-coach/internal/llm"
	"github.com/ashureev/scenario-coach/internal/llm/mock"
	"github.com/ashureev/scenario-coach/internal/scenario"
	"github.com/ashureev/scenario-coach/internal/session"
	"github.com/ashureev/scenario-coach/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	outcomes []store.Outcome
	err      error
}

func (r *recorder) SaveOutcome(_ context.Context, o *store.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, *o)
	return r.err
}

func (r *recorder) last() store.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[len(r.outcomes)-1]
}

func textReply(text string) *llm.Reply {
	return &llm.Reply{Segments: []domain.Segment{domain.TextSegment{Text: text}}, StopReason: "end_turn"}
}

func toolReply(text string, calls ...domain.ToolUseSegment) *llm.Reply {
	segs := []domain.Segment{}
	if text != "" {
		segs = append(segs, domain.TextSegment{Text: text})
	}
	for _, c := range calls {
		segs = append(segs, c)
	}
	return &llm.Reply{Segments: segs, StopReason: "tool_use"}
}

func progress(id, input string) domain.ToolUseSegment {
	return domain.ToolUseSegment{ID: id, Name: "update_progress", Input: json.RawMessage(input)}
}

// scripted replays replies in order and records every request it saw.
type scripted struct {
	mu       sync.Mutex
	replies  []*llm.Reply
	requests []llm.Request
}

func (s *scripted) provider() *mock.Provider {
	return &mock.Provider{
		CompleteFn: func(_ context.Context, req llm.Request) (*llm.Reply, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.requests = append(s.requests, req)
			if len(s.replies) == 0 {
				return nil, errors.New("no scripted reply left")
			}
			r := s.replies[0]
			s.replies = s.replies[1:]
			return r, nil
		},
	}
}

func (s *scripted) lastRequest() llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

type fixture struct {
	orch     *dialogue.Orchestrator
	sessions *session.MemoryStore
	rec      *recorder
}

func newFixture(t *testing.T, provider llm.Provider, opts ...dialogue.Option) fixture {
	t.Helper()

	registry, err := scenario.LoadBuiltin("consoling-colleague")
	require.NoError(t, err)

	var n atomic.Int64
	sessions := session.NewMemoryStore(session.WithIDGenerator(func() string {
		return fmt.Sprintf("sess-%d", n.Add(1))
	}))
	rec := &recorder{}
	opts = append([]dialogue.Option{dialogue.WithRecorder(rec)}, opts...)
	return fixture{
		orch:     dialogue.New(sessions, provider, registry, opts...),
		sessions: sessions,
		rec:      rec,
	}
}

func TestStart_DefaultScenario(t *testing.T) {
	t.Parallel()

	s := &scripted{replies: []*llm.Reply{textReply("Hey... do you have a minute?")}}
	f := newFixture(t, s.provider())

	res, err := f.orch.Start(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "sess-1", res.SessionID)
	assert.Equal(t, "consoling-colleague", res.ScenarioID)
	assert.Equal(t, "Hey... do you have a minute?", res.Text)
	assert.False(t, res.Completed)
	assert.Equal(t, domain.Objectives{
		"empathyShown":          false,
		"stressCauseIdentified": false,
		"techniqueUsed":         false,
		"planCreated":           false,
	}, res.Progress)

	req := s.lastRequest()
	assert.Equal(t, "claude-sonnet-4-20250514", req.Model)
	assert.Equal(t, 150, req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.5, *req.Temperature, 1e-9)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "update_progress", req.Tools[0].Name)
	require.Len(t, req.Turns, 1)
	assert.Equal(t, domain.SpeakerLearner, req.Turns[0].Speaker)
	assert.Equal(t, "Start the conversation", req.Turns[0].Text())

	sess, err := f.sessions.Get(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Transcript, 2)
	assert.Equal(t, domain.SpeakerPersona, sess.Transcript[1].Speaker)

	assert.Equal(t, "sess-1", f.rec.last().SessionID)
	assert.False(t, f.rec.last().Completed)
}

func TestStart_UnknownScenario(t *testing.T) {
	t.Parallel()

	s := &scripted{}
	f := newFixture(t, s.provider())

	_, err := f.orch.Start(context.Background(), "moon-landing")
	assert.ErrorIs(t, err, dialogue.ErrUnknownScenario)
	assert.Empty(t, s.requests)
	assert.Equal(t, 0, f.sessions.Len())
}

func TestStart_UpstreamFailureCreatesNothing(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteFn: func(context.Context, llm.Request) (*llm.Reply, error) {
			return nil, &llm.APIError{Provider: "anthropic", StatusCode: 529, Type: "overloaded_error", Message: "Overloaded"}
		},
	}
	f := newFixture(t, provider)

	_, err := f.orch.Start(context.Background(), "water-pipe")
	require.Error(t, err)

	var upErr *dialogue.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.True(t, upErr.Retryable())
	assert.False(t, upErr.Timeout)
	assert.Equal(t, 0, f.sessions.Len())
	assert.Empty(t, f.rec.outcomes)
}

func TestStart_SeedToolCallsAnsweredNotMerged(t *testing.T) {
	t.Parallel()

	s := &scripted{replies: []*llm.Reply{
		toolReply("The pipe burst!", progress("toolu_1", `{"waterTurnedOff":true}`)),
		textReply("What do I do?"),
	}}
	f := newFixture(t, s.provider())
	ctx := context.Background()

	res, err := f.orch.Start(ctx, "water-pipe")
	require.NoError(t, err)
	assert.False(t, res.Progress["waterTurnedOff"])

	sess, err := f.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Transcript, 3)
	assert.Equal(t, domain.SpeakerToolResult, sess.Transcript[2].Speaker)

	// The next submission must carry the answered invocation.
	_, err = f.orch.SendMessage(ctx, res.SessionID, "Stay calm")
	require.NoError(t, err)
	require.NoError(t, domain.ValidateTranscript(s.lastRequest().Turns))
}

func TestSendMessage_PlainReply(t *testing.T) {
	t.Parallel()

	s := &scripted{replies: []*llm.Reply{
		textReply("Hey..."),
		textReply("It's just a lot lately."),
	}}
	f := newFixture(t, s.provider())
	ctx := context.Background()

	start, err := f.orch.Start(ctx, "")
	require.NoError(t, err)

	res, err := f.orch.SendMessage(ctx, start.SessionID, "What's going on?")
	require.NoError(t, err)
	assert.Equal(t, "It's just a lot lately.", res.Text)
	assert.False(t, res.Completed)
	assert.Equal(t, 4, res.Turns)

	req := s.lastRequest()
	require.Len(t, req.Turns, 3)
	assert.Equal(t, "Start the conversation", req.Turns[0].Text())
	assert.Equal(t, "Hey...", req.Turns[1].Text())
	assert.Equal(t, "What's going on?", req.Turns[2].Text())
}

func TestSendMessage_MergesProgress(t *testing.T) {
	t.Parallel()

	s := &scripted{replies: []*llm.Reply{
		textReply("Hey..."),
		toolReply("Thanks for listening.",
			progress("toolu_1", `{"empathyShown":true}`),
			progress("toolu_2", `{"stressCauseIdentified":true,"bogus":true,"planCreated":"yes"}`),
		),
		textReply("Okay."),
	}}
	f := newFixture(t, s.provider())
	ctx := context.Background()

	start, err := f.orch.Start(ctx, "")
	require.NoError(t, err)

	res, err := f.orch.SendMessage(ctx, start.SessionID, "That sounds hard.")
	require.NoError(t, err)
	assert.Equal(t, "Thanks for listening.", res.Text)
	assert.Equal(t, domain.Objectives{
		"empathyShown":          true,
		"stressCauseIdentified": true,
		"techniqueUsed":         false,
		"planCreated":           false,
	}, res.Progress)
	assert.False(t, res.Completed)

	sess, err := f.sessions.Get(ctx, start.SessionID)
	require.NoError(t, err)
	last := sess.Transcript[len(sess.Transcript)-1]
	require.Equal(t, domain.SpeakerToolResult, last.Speaker)
	require.Len(t, last.Segments, 2)
	for i, id := range []string{"toolu_1", "toolu_2"} {
		tr, ok := last.Segments[i].(domain.ToolResultSegment)
		require.True(t, ok)
		assert.Equal(t, id, tr.ToolUseID)
		assert.Equal(t, scenario.DefaultToolResult, tr.Content)
		assert.False(t, tr.IsError)
	}

	// The persona reply is stored once even with two invocations.
	personaTurns := 0
	for _, turn := range sess.Transcript {
		if turn.Speaker == domain.SpeakerPersona {
			personaTurns++
		}
	}
	assert.Equal(t, 2, personaTurns)

	_, err = f.orch.SendMessage(ctx, start.SessionID, "Let's breathe.")
	require.NoError(t, err)
	require.NoError(t, domain.ValidateTranscript(s.lastRequest().Turns))
}

func TestSendMessage_ExplicitFalseOverwrites(t *testing.T) {
	t.Parallel()

	s := &scripted{replies: []*llm.Reply{
		textReply("Hey..."),
		toolReply("", progress("t1", `{"empathyShown":true}`)),
		toolReply("", progress("t2", `{"empathyShown":false}`)),
	}}
	f := newFixture(t, s.provider())
	ctx := context.Background()

	start, err := f.orch.Start(ctx, "")
	require.NoError(t, err)

	res, err := f.orch.SendMessage(ctx, start.SessionID, "one")
	require.NoError(t, err)
	assert.True(t, res.Progress["empathyShown"])
	assert.Empty(t, res.Text)

	res, err = f.orch.SendMessage(ctx, start.SessionID, "two")
	require.NoError(t, err)
	assert.False(t, res.Progress["empathyShown"], "an explicit false report overwrites")
}

func TestSendMessage_CompletionReturnsFeedback(t *testing.T) {
	t.Parallel()

	s := &scripted{replies: []*llm.Reply{
		textReply("Help! Water everywhere!"),
		toolReply("Okay, I called them.", progress("t1", `{"waterProviderCalled":true,"waterTurnedOff":true}`)),
		toolReply("Everything is up off the floor.", progress("t2", `{"itemsSecured":true}`)),
	}}
	f := newFixture(t, s.provider())
	ctx := context.Background()

	start, err := f.orch.Start(ctx, "water-pipe")
	require.NoError(t, err)

	res, err := f.orch.SendMessage(ctx, start.SessionID, "Call the water company")
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, "Okay, I called them.", res.Text)

	res, err = f.orch.SendMessage(ctx, start.SessionID, "Move your things")
	require.NoError(t, err)
	assert.True(t, res.Completed)

	registry, err := scenario.LoadBuiltin("water-pipe")
	require.NoError(t, err)
	sc, err := registry.Get("water-pipe")
	require.NoError(t, err)
	assert.Equal(t, sc.Feedback, res.Text)

	snap, err := f.orch.Snapshot(ctx, start.SessionID)
	require.NoError(t, err)
	assert.True(t, snap.Completed)

	assert.True(t, f.rec.last().Completed)
}

func TestSendMessage_UnknownToolAnsweredWithError(t *testing.T) {
	t.Parallel()

	s := &scripted{replies: []*llm.Reply{
		textReply("Hey..."),
		toolReply("Hmm.", domain.ToolUseSegment{ID: "t9", Name: "search_web", Input: json.RawMessage(`{}`)}),
		textReply("Sorry."),
	}}
	f := newFixture(t, s.provider())
	ctx := context.Background()

	start, err := f.orch.Start(ctx, "")
	require.NoError(t, err)

	res, err := f.orch.SendMessage(ctx, start.SessionID, "hi")
	require.NoError(t, err)
	assert.False(t, res.Progress["empathyShown"])

	sess, err := f.sessions.Get(ctx, start.SessionID)
	require.NoError(t, err)
	last := sess.Transcript[len(sess.Transcript)-1]
	tr, ok := last.Segments[0].(domain.ToolResultSegment)
	require.True(t, ok)
	assert.Equal(t, "t9", tr.ToolUseID)
	assert.True(t, tr.IsError)

	_, err = f.orch.SendMessage(ctx, start.SessionID, "hello?")
	require.NoError(t, err)
	require.NoError(t, domain.ValidateTranscript(s.lastRequest().Turns))
}

func TestSendMessage_MalformedReportIgnored(t *testing.T) {
	t.Parallel()

	s := &scripted{replies: []*llm.Reply{
		textReply("Hey..."),
		toolReply("Ok.", progress("t1", `not json`)),
	}}
	f := newFixture(t, s.provider())
	ctx := context.Background()

	start, err := f.orch.Start(ctx, "")
	require.NoError(t, err)

	res, err := f.orch.SendMessage(ctx, start.SessionID, "hi")
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Equal(t, "Ok.", res.Text)
}

func TestSendMessage_UnknownSession(t *testing.T) {
	t.Parallel()

	s := &scripted{}
	f := newFixture(t, s.provider())

	_, err := f.orch.SendMessage(context.Background(), "nope", "hello")
	assert.ErrorIs(t, err, dialogue.ErrSessionNotFound)
	assert.Empty(t, s.requests)

	_, err = f.orch.Snapshot(context.Background(), "nope")
	assert.ErrorIs(t, err, dialogue.ErrSessionNotFound)
}

func TestSendMessage_EmptyMessage(t *testing.T) {
	t.Parallel()

	s := &scripted{}
	f := newFixture(t, s.provider())

	_, err := f.orch.SendMessage(context.Background(), "sess-1", "   ")
	assert.ErrorIs(t, err, dialogue.ErrEmptyMessage)
}

func TestSendMessage_UpstreamFailureLeavesSessionUnchanged(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	provider := &mock.Provider{
		CompleteFn: func(context.Context, llm.Request) (*llm.Reply, error) {
			if calls.Add(1) == 1 {
				return textReply("Hey..."), nil
			}
			return nil, &llm.APIError{Provider: "anthropic", StatusCode: 400, Type: "invalid_request_error", Message: "bad"}
		},
	}
	f := newFixture(t, provider)
	ctx := context.Background()

	start, err := f.orch.Start(ctx, "")
	require.NoError(t, err)

	_, err = f.orch.SendMessage(ctx, start.SessionID, "hello")
	var upErr *dialogue.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.False(t, upErr.Retryable())

	sess, err := f.sessions.Get(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Transcript, 2, "failed turn must not be recorded")
}

func TestSendMessage_Timeout(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	provider := &mock.Provider{
		CompleteFn: func(ctx context.Context, _ llm.Request) (*llm.Reply, error) {
			if calls.Add(1) == 1 {
				return textReply("Hey..."), nil
			}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	f := newFixture(t, provider, dialogue.WithModelTimeout(20*time.Millisecond))
	ctx := context.Background()

	start, err := f.orch.Start(ctx, "")
	require.NoError(t, err)

	_, err = f.orch.SendMessage(ctx, start.SessionID, "hello")
	var upErr *dialogue.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.True(t, upErr.Timeout)
	assert.True(t, upErr.Retryable())
}

func TestSendMessage_SerializedPerSession(t *testing.T) {
	t.Parallel()

	var (
		inFlight atomic.Int64
		maxSeen  atomic.Int64
		calls    atomic.Int64
	)
	provider := &mock.Provider{
		CompleteFn: func(context.Context, llm.Request) (*llm.Reply, error) {
			if calls.Add(1) == 1 {
				return textReply("Hey..."), nil
			}
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return textReply("ok"), nil
		},
	}
	f := newFixture(t, provider)
	ctx := context.Background()

	start, err := f.orch.Start(ctx, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.SendMessage(ctx, start.SessionID, fmt.Sprintf("msg %d", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), maxSeen.Load())

	sess, err := f.sessions.Get(ctx, start.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Transcript, 2+5*2)
	require.NoError(t, domain.ValidateTranscript(sess.Render()))
}

func TestSendMessage_ModelOverride(t *testing.T) {
	t.Parallel()

	s := &scripted{replies: []*llm.Reply{textReply("Hey...")}}
	f := newFixture(t, s.provider(), dialogue.WithModel("gemini-2.5-flash"))

	_, err := f.orch.Start(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", s.lastRequest().Model)
}

func TestRecorderFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	s := &scripted{replies: []*llm.Reply{textReply("Hey...")}}
	f := newFixture(t, s.provider())
	f.rec.err = errors.New("disk full")

	res, err := f.orch.Start(context.Background(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID)
}
