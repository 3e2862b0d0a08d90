// Package session runs completion sessions: one request, its streamed
// answer, and any tool-call rounds that follow.
//
// Information Hiding:
// - Context window selection and message assembly hidden
// - Round loop, tool resumption and abort bookkeeping hidden
// - Journal writes hidden behind the optional storage.Journal
//
// A Session is safe for concurrent use; each Run owns its own state.

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/relay/assemble"
	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/model"
	"github.com/richinex/relay/params"
	"github.com/richinex/relay/storage"
	"github.com/richinex/relay/stream"
	"github.com/richinex/relay/tools"
)

// DefaultMaxRounds bounds tool-call rounds when Options.MaxRounds is zero.
const DefaultMaxRounds = 10

// ProgressEvent is one progress report: a stream delta, the single response
// of a non-streamed round, or an executed tool invocation.
type ProgressEvent = stream.Event

// ProgressSink receives every progress event of a session.
type ProgressSink = stream.Sink

// FilterHook receives the filtered context window once per session.
type FilterHook func([]model.Message)

// PauseToken stops the running round silently before its next delta.
type PauseToken = stream.PauseToken

// Options configures a Session.
type Options struct {
	// Transport sends completion requests. Required.
	Transport llm.Transport
	// DefaultModel is used when the assistant has no model.
	DefaultModel model.Model
	Builder      *params.Builder
	Assembler    *assemble.Assembler
	// Runner executes tool calls. Nil disables tool execution.
	Runner tools.Runner
	// Tools are described to the model in the system message.
	Tools   []tools.ToolMetadata
	Sink    ProgressSink
	Filter  FilterHook
	Aborts  *AbortRegistry
	Pause   *PauseToken
	Journal storage.Journal
	// MaxRounds caps the rounds of one session. Zero means DefaultMaxRounds;
	// negative means no cap.
	MaxRounds int
	Logger    *slog.Logger
	// Now and NewID override the clock and id source, for tests.
	Now   func() time.Time
	NewID func() string
}

// Request is one user turn to answer.
type Request struct {
	Assistant model.Assistant
	// Messages is the stored conversation, oldest first.
	Messages []model.Message
	// Log receives executed invocations. A fresh log is used when nil.
	Log *InvocationLog
}

// Result is the outcome of a session.
type Result struct {
	SessionID    string
	Text         string
	Reasoning    string
	FinishReason string
	// Rounds is the number of requests issued.
	Rounds      int
	Invocations []model.ToolInvocationRecord
	// Metrics spans every round; Usage describes the last one.
	Metrics stream.MetricsSnapshot
	Usage   *llm.Usage
	Paused  bool
}

// Session coordinates assembly, streaming and tool rounds.
type Session struct {
	opts      Options
	builder   *params.Builder
	assembler *assemble.Assembler
	aborts    *AbortRegistry
	sink      ProgressSink
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	maxRounds int
}

// New creates a session runner. Missing optional collaborators get defaults.
func New(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	s := &Session{
		opts:      opts,
		builder:   opts.Builder,
		assembler: opts.Assembler,
		aborts:    opts.Aborts,
		sink:      opts.Sink,
		logger:    opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
		maxRounds: opts.MaxRounds,
	}
	if s.builder == nil {
		s.builder = params.NewBuilder()
	}
	if s.assembler == nil {
		s.assembler = assemble.New(assemble.NewDiskReader(""))
	}
	if s.aborts == nil {
		s.aborts = NewAbortRegistry()
	}
	if s.sink == nil {
		s.sink = func(ProgressEvent) {}
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.maxRounds == 0 {
		s.maxRounds = DefaultMaxRounds
	}
	return s, nil
}

// Aborts returns the registry holding this runner's abort handles.
func (s *Session) Aborts() *AbortRegistry {
	return s.aborts
}

// Run answers the last user message of req.
//
// The abort handle is registered under that message's id for the duration
// of the call. If it fired, Run returns ErrAborted even when every round
// finished. Transport errors are returned wrapped with their round.
func (s *Session) Run(ctx context.Context, req Request) (result Result, err error) {
	m := s.opts.DefaultModel
	if req.Assistant.Model != nil {
		m = *req.Assistant.Model
	}
	if m.ID == "" {
		return result, errors.New("session: no model configured")
	}

	window := FilterDialog(Window(req.Messages, req.Assistant.Settings.ContextCount))
	if s.opts.Filter != nil {
		s.opts.Filter(window)
	}
	userID, ok := lastUserID(window)
	if !ok {
		return result, ErrNoUserMessage
	}

	base, err := s.request(ctx, req.Assistant, m, window)
	if err != nil {
		return result, err
	}

	log := req.Log
	if log == nil {
		log = NewInvocationLog()
	}
	result.SessionID = s.newID()

	runCtx, cancel := context.WithCancelCause(ctx)
	remove := s.aborts.Register(userID, cancel)
	s.begin(ctx, result.SessionID, req.Assistant, m)

	defer func() {
		remove()
		if errors.Is(context.Cause(runCtx), ErrAborted) && !errors.Is(err, ErrAborted) {
			s.logger.Info("session aborted", "session", result.SessionID, "rounds", result.Rounds)
			err = ErrAborted
		}
		cancel(nil)
		result.Invocations = log.Snapshot()
		s.finish(ctx, result, err)
	}()

	consumer := stream.NewConsumer(stream.Config{
		Sink:  s.sink,
		Pause: s.opts.Pause,
		Search: stream.SearchGate{
			Provider: m.Provider,
			Enabled:  req.Assistant.EnableWebSearch && m.Capabilities.WebSearch,
		},
		Invocations: log.Snapshot,
		Logger:      s.logger,
		Now:         s.now,
	})
	r := &resumer{
		runner:    s.opts.Runner,
		log:       log,
		sink:      s.sink,
		journal:   s.opts.Journal,
		sessionID: result.SessionID,
		logger:    s.logger,
		now:       s.now,
		newID:     s.newID,
	}

	err = s.loop(runCtx, consumer, r, base, &result)
	return result, err
}

// request builds the round 0 parameters.
func (s *Session) request(ctx context.Context, assistant model.Assistant, m model.Model, window []model.Message) (llm.Params, error) {
	assembled, err := s.assembler.AssembleAll(ctx, window, assemble.TargetFor(m))
	if err != nil {
		return llm.Params{}, fmt.Errorf("failed to assemble messages: %w", err)
	}

	messages := make([]llm.Message, 0, len(assembled)+1)
	if system := SystemMessage(assistant, m, s.opts.Tools); strings.TrimSpace(system.Content) != "" {
		messages = append(messages, system)
	}
	messages = append(messages, assembled...)

	p, err := llm.NewParams(m.ID, messages, s.builder.Build(assistant, m))
	if err != nil {
		return llm.Params{}, fmt.Errorf("failed to build request parameters: %w", err)
	}
	return p, nil
}

// loop issues rounds until the model stops calling tools.
func (s *Session) loop(ctx context.Context, consumer *stream.Consumer, r *resumer, p llm.Params, result *Result) error {
	for round := 0; ; round++ {
		out, err := consumer.Consume(ctx, s.opts.Transport, p, round)
		result.Rounds = round + 1
		result.Metrics = consumer.Metrics()
		if err == nil || out.Text != "" || out.Reasoning != "" {
			result.Text = out.Text
			result.Reasoning = out.Reasoning
			result.FinishReason = out.FinishReason
			result.Usage = out.Usage
		}
		if err != nil {
			return err
		}
		if out.Paused {
			result.Paused = true
			return nil
		}
		if s.opts.Runner == nil {
			return nil
		}

		invocations := tools.ParseInvocations(out.Text)
		if len(invocations) == 0 {
			return nil
		}
		followUp, err := r.resume(ctx, round, out, invocations)
		if err != nil {
			return err
		}

		if s.maxRounds > 0 && round+1 >= s.maxRounds {
			s.logger.Warn("tool round limit reached",
				"session", r.sessionID,
				"rounds", round+1,
				"pending_invocations", len(invocations))
			return fmt.Errorf("%w after %d rounds", ErrRoundLimitExceeded, round+1)
		}

		p = p.Clone()
		p.Messages = append(p.Messages, followUp...)
	}
}

func (s *Session) begin(ctx context.Context, id string, assistant model.Assistant, m model.Model) {
	s.logger.Debug("session started", "session", id, "model", m.ID, "provider", m.Provider)
	if s.opts.Journal == nil {
		return
	}
	err := s.opts.Journal.BeginSession(context.WithoutCancel(ctx), storage.SessionRecord{
		ID:          id,
		AssistantID: assistant.ID,
		Model:       m.ID,
		Provider:    m.Provider,
		Status:      storage.StatusRunning,
		StartedAt:   s.now(),
	})
	if err != nil {
		s.logger.Warn("failed to journal session start", "session", id, "error", err)
	}
}

func (s *Session) finish(ctx context.Context, result Result, err error) {
	status := outcomeStatus(result, err)
	s.logger.Debug("session finished",
		"session", result.SessionID,
		"status", status,
		"rounds", result.Rounds,
		"invocations", len(result.Invocations))
	if s.opts.Journal == nil {
		return
	}

	outcome := storage.SessionOutcome{
		Status: status,
		Rounds: result.Rounds,
		Timings: storage.Timings{
			TimeToFirstToken:   result.Metrics.TimeToFirstToken,
			TimeToFirstContent: result.Metrics.TimeToFirstContent,
			Elapsed:            result.Metrics.Elapsed,
			Thinking:           result.Metrics.Thinking,
			CompletionTokens:   result.Metrics.CompletionTokens,
		},
		FinishedAt: s.now(),
	}
	if err != nil {
		outcome.Error = err.Error()
	}
	if jerr := s.opts.Journal.FinishSession(context.WithoutCancel(ctx), result.SessionID, outcome); jerr != nil {
		s.logger.Warn("failed to journal session outcome", "session", result.SessionID, "error", jerr)
	}
}

func outcomeStatus(result Result, err error) storage.SessionStatus {
	switch {
	case errors.Is(err, ErrAborted):
		return storage.StatusAborted
	case errors.Is(err, ErrRoundLimitExceeded):
		return storage.StatusRoundLimit
	case err != nil:
		return storage.StatusFailed
	case result.Paused:
		return storage.StatusPaused
	default:
		return storage.StatusCompleted
	}
}
