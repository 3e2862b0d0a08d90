package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/model"
	"github.com/richinex/relay/storage"
	"github.com/richinex/relay/tools"
)

// fakeTransport replays one scripted round per request and records params.
type fakeTransport struct {
	mu      sync.Mutex
	rounds  [][]llm.StreamDelta
	openErr error
	calls   []llm.Params
	streams int
	// onDelta runs before each streamed delta is returned.
	onDelta func(round, i int)
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) next(p llm.Params) (int, []llm.StreamDelta) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.calls)
	f.calls = append(f.calls, p.Clone())
	if idx >= len(f.rounds) {
		return idx, f.rounds[len(f.rounds)-1]
	}
	return idx, f.rounds[idx]
}

func (f *fakeTransport) Complete(ctx context.Context, p llm.Params) (llm.Response, error) {
	_, deltas := f.next(p)
	var resp llm.Response
	for _, d := range deltas {
		resp.Text += d.Text
		resp.Reasoning += d.ReasoningText()
	}
	resp.FinishReason = "stop"
	return resp, nil
}

func (f *fakeTransport) Stream(ctx context.Context, p llm.Params) (llm.Stream, error) {
	round, deltas := f.next(p)
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.mu.Lock()
	f.streams++
	f.mu.Unlock()
	return &sliceStream{deltas: deltas, round: round, onDelta: f.onDelta}, nil
}

func (f *fakeTransport) requests() []llm.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Params(nil), f.calls...)
}

type sliceStream struct {
	deltas  []llm.StreamDelta
	round   int
	i       int
	onDelta func(round, i int)
}

func (s *sliceStream) Recv() (llm.StreamDelta, error) {
	if s.i >= len(s.deltas) {
		return llm.StreamDelta{}, io.EOF
	}
	if s.onDelta != nil {
		s.onDelta(s.round, s.i)
	}
	d := s.deltas[s.i]
	s.i++
	return d, nil
}

func (s *sliceStream) Close() error { return nil }

func text(parts ...string) []llm.StreamDelta {
	out := make([]llm.StreamDelta, len(parts))
	for i, p := range parts {
		out[i] = llm.StreamDelta{Text: p}
	}
	return out
}

const toolCall = `<tool_use><name>search</name><arguments>{"q":"go"}</arguments></tool_use>`

// recordingRunner answers every tool call with a fixed result.
type recordingRunner struct {
	mu     sync.Mutex
	calls  []string
	result tools.ToolResult
	err    error
}

func (r *recordingRunner) Run(ctx context.Context, name string, args json.RawMessage) (tools.ToolResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name+" "+string(args))
	if r.err != nil {
		return tools.ToolResult{}, r.err
	}
	return r.result, nil
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func testAssistant() model.Assistant {
	temp := 0.3
	return model.Assistant{
		ID:     "asst",
		Prompt: "Be helpful.",
		Model:  &model.Model{ID: "gpt-4o", Provider: "openai"},
		Settings: model.AssistantSettings{
			Temperature:  &temp,
			MaxTokens:    800,
			ContextCount: 4,
		},
	}
}

func newTestSession(t *testing.T, transport llm.Transport, mutate func(*Options)) *Session {
	t.Helper()
	opts := Options{Transport: transport, NewID: sequentialIDs()}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestRunWithoutToolMarkers(t *testing.T) {
	transport := &fakeTransport{rounds: [][]llm.StreamDelta{text("Hello", " there")}}
	runner := &recordingRunner{result: tools.SuccessResult("unused")}
	var events []ProgressEvent
	s := newTestSession(t, transport, func(o *Options) {
		o.Runner = runner
		o.Sink = func(e ProgressEvent) { events = append(events, e) }
	})

	result, err := s.Run(context.Background(), Request{Assistant: testAssistant(), Messages: pairs(1)[:1]})
	require.NoError(t, err)

	assert.Equal(t, "Hello there", result.Text)
	assert.Equal(t, 1, result.Rounds)
	assert.Empty(t, result.Invocations)
	assert.Empty(t, runner.calls)
	assert.Len(t, events, 2)

	reqs := transport.requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, llm.RoleSystem, reqs[0].Messages[0].Role)
	assert.Equal(t, "question 1", reqs[0].Messages[1].Content)
	assert.True(t, reqs[0].Stream)
}

func TestRunSingleToolRound(t *testing.T) {
	transport := &fakeTransport{rounds: [][]llm.StreamDelta{
		text("Let me look.\n", toolCall),
		text("Go has generics."),
	}}
	runner := &recordingRunner{result: tools.SuccessResult("3 hits")}
	var toolEvents []ProgressEvent
	s := newTestSession(t, transport, func(o *Options) {
		o.Runner = runner
		o.Sink = func(e ProgressEvent) {
			if e.Invocation != nil {
				toolEvents = append(toolEvents, e)
			}
		}
	})

	result, err := s.Run(context.Background(), Request{Assistant: testAssistant(), Messages: pairs(1)[:1]})
	require.NoError(t, err)

	assert.Equal(t, []string{`search {"q":"go"}`}, runner.calls)
	assert.Equal(t, 2, result.Rounds)
	assert.Equal(t, "Go has generics.", result.Text)

	reqs := transport.requests()
	require.Len(t, reqs, 2)
	first, second := reqs[0], reqs[1]
	require.Len(t, second.Messages, len(first.Messages)+2)

	assistantTurn := second.Messages[len(first.Messages)]
	assert.Equal(t, llm.RoleAssistant, assistantTurn.Role)
	assert.Equal(t, "Let me look.\n"+toolCall, assistantTurn.Content)

	toolTurn := second.Messages[len(first.Messages)+1]
	assert.Equal(t, llm.RoleTool, toolTurn.Role)
	assert.Contains(t, toolTurn.Content, "<result>3 hits</result>")

	// Sampling parameters carry over unchanged.
	assert.Equal(t, first.Temperature, second.Temperature)
	assert.Equal(t, first.MaxTokens, second.MaxTokens)
	assert.Equal(t, first.Stream, second.Stream)

	require.Len(t, result.Invocations, 1)
	record := result.Invocations[0]
	assert.Equal(t, toolTurn.ToolCallID, record.ID)
	assert.Equal(t, model.InvocationDone, record.Status)
	assert.Equal(t, 0, record.Round)

	require.Len(t, toolEvents, 1)
	assert.Len(t, toolEvents[0].Invocations, 1)
}

func TestRunToolFailureIsRecorded(t *testing.T) {
	transport := &fakeTransport{rounds: [][]llm.StreamDelta{
		text(toolCall + `<tool_use><name>read_file</name><arguments>not json</arguments></tool_use>`),
		text("Sorry, both failed."),
	}}
	runner := &recordingRunner{result: tools.FailureResult(errors.New("quota exceeded"))}
	s := newTestSession(t, transport, func(o *Options) { o.Runner = runner })

	result, err := s.Run(context.Background(), Request{Assistant: testAssistant(), Messages: pairs(1)[:1]})
	require.NoError(t, err)

	// Invalid arguments never reach the runner.
	assert.Len(t, runner.calls, 1)
	require.Len(t, result.Invocations, 2)
	assert.True(t, result.Invocations[0].Failed())
	assert.Equal(t, "quota exceeded", result.Invocations[0].Error)
	assert.True(t, result.Invocations[1].Failed())
	assert.Contains(t, result.Invocations[1].Error, "invalid arguments")

	followUp := transport.requests()[1].Messages
	assert.Contains(t, followUp[len(followUp)-2].Content, "<error>quota exceeded</error>")
}

func TestRunRoundLimit(t *testing.T) {
	transport := &fakeTransport{rounds: [][]llm.StreamDelta{text(toolCall)}}
	runner := &recordingRunner{result: tools.SuccessResult("again")}
	s := newTestSession(t, transport, func(o *Options) {
		o.Runner = runner
		o.MaxRounds = 2
	})

	result, err := s.Run(context.Background(), Request{Assistant: testAssistant(), Messages: pairs(1)[:1]})
	require.ErrorIs(t, err, ErrRoundLimitExceeded)

	assert.Equal(t, 2, result.Rounds)
	assert.Len(t, transport.requests(), 2)
	assert.Len(t, result.Invocations, 2)
	assert.Equal(t, toolCall, result.Text)
}

func TestRunWithoutRunnerSkipsTools(t *testing.T) {
	transport := &fakeTransport{rounds: [][]llm.StreamDelta{text(toolCall)}}
	s := newTestSession(t, transport, nil)

	result, err := s.Run(context.Background(), Request{Assistant: testAssistant(), Messages: pairs(1)[:1]})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rounds)
	assert.Empty(t, result.Invocations)
}

func TestRunPauseEndsSession(t *testing.T) {
	pause := &PauseToken{}
	transport := &fakeTransport{
		rounds:  [][]llm.StreamDelta{text("partial ", toolCall, " more")},
		onDelta: func(round, i int) {
			if i == 0 {
				pause.Pause()
			}
		},
	}
	runner := &recordingRunner{result: tools.SuccessResult("unused")}
	s := newTestSession(t, transport, func(o *Options) {
		o.Runner = runner
		o.Pause = pause
	})

	result, err := s.Run(context.Background(), Request{Assistant: testAssistant(), Messages: pairs(1)[:1]})
	require.NoError(t, err)
	assert.True(t, result.Paused)
	assert.Equal(t, "partial ", result.Text)
	assert.Empty(t, runner.calls)
}

func TestRunAbortIsReraisedAfterCompletion(t *testing.T) {
	aborts := NewAbortRegistry()
	transport := &fakeTransport{rounds: [][]llm.StreamDelta{text("done")}}
	transport.onDelta = func(round, i int) {
		// The scripted stream ignores cancellation, so the round completes.
		aborts.Abort("u1")
	}
	journal := storage.NewMemoryJournal()
	s := newTestSession(t, transport, func(o *Options) {
		o.Aborts = aborts
		o.Journal = journal
	})

	result, err := s.Run(context.Background(), Request{Assistant: testAssistant(), Messages: pairs(1)[:1]})
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, "done", result.Text)
	assert.Equal(t, 0, aborts.Len())

	sessions, jerr := journal.Sessions(context.Background(), 0)
	require.NoError(t, jerr)
	require.Len(t, sessions, 1)
	assert.Equal(t, storage.StatusAborted, sessions[0].Status)
}

func TestRunAbortDuringToolRound(t *testing.T) {
	aborts := NewAbortRegistry()
	transport := &fakeTransport{rounds: [][]llm.StreamDelta{text(toolCall), text("never")}}
	runner := tools.RunnerFunc(func(ctx context.Context, name string, args json.RawMessage) (tools.ToolResult, error) {
		aborts.Abort("u1")
		<-ctx.Done()
		return tools.ToolResult{}, ctx.Err()
	})
	s := newTestSession(t, transport, func(o *Options) {
		o.Aborts = aborts
		o.Runner = runner
	})

	_, err := s.Run(context.Background(), Request{Assistant: testAssistant(), Messages: pairs(1)[:1]})
	require.ErrorIs(t, err, ErrAborted)
	assert.Len(t, transport.requests(), 1)
	assert.Equal(t, 0, aborts.Len())
}

func TestRunTransportErrorCleansUp(t *testing.T) {
	aborts := NewAbortRegistry()
	transport := &fakeTransport{
		rounds:  [][]llm.StreamDelta{text("x")},
		openErr: errors.New("503 service unavailable"),
	}
	journal := storage.NewMemoryJournal()
	s := newTestSession(t, transport, func(o *Options) {
		o.Aborts = aborts
		o.Journal = journal
	})

	_, err := s.Run(context.Background(), Request{Assistant: testAssistant(), Messages: pairs(1)[:1]})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "round 0: stream open failed")
	assert.NotErrorIs(t, err, ErrAborted)
	assert.Equal(t, 0, aborts.Len())

	sessions, jerr := journal.Sessions(context.Background(), 0)
	require.NoError(t, jerr)
	require.Len(t, sessions, 1)
	assert.Equal(t, storage.StatusFailed, sessions[0].Status)
	assert.Contains(t, sessions[0].Error, "503")
}

func TestRunParentCancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	transport := &fakeTransport{rounds: [][]llm.StreamDelta{text(toolCall)}}
	runner := tools.RunnerFunc(func(ctx context.Context, name string, args json.RawMessage) (tools.ToolResult, error) {
		cancel()
		return tools.ToolResult{}, ctx.Err()
	})
	s := newTestSession(t, transport, func(o *Options) { o.Runner = runner })

	_, err := s.Run(ctx, Request{Assistant: testAssistant(), Messages: pairs(1)[:1]})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrAborted)
}

func TestRunNonStreamingResumesTools(t *testing.T) {
	off := false
	assistant := testAssistant()
	assistant.Settings.StreamOutput = &off

	transport := &fakeTransport{rounds: [][]llm.StreamDelta{text(toolCall), text("final")}}
	runner := &recordingRunner{result: tools.SuccessResult("ok")}
	s := newTestSession(t, transport, func(o *Options) { o.Runner = runner })

	result, err := s.Run(context.Background(), Request{Assistant: assistant, Messages: pairs(1)[:1]})
	require.NoError(t, err)
	assert.Equal(t, "final", result.Text)
	assert.Equal(t, 2, result.Rounds)
	assert.Equal(t, 0, transport.streams)
	assert.False(t, transport.requests()[0].Stream)
}

func TestRunJournalsInvocations(t *testing.T) {
	journal := storage.NewMemoryJournal()
	transport := &fakeTransport{rounds: [][]llm.StreamDelta{text(toolCall), text("final")}}
	s := newTestSession(t, transport, func(o *Options) {
		o.Runner = &recordingRunner{result: tools.SuccessResult("ok")}
		o.Journal = journal
	})

	result, err := s.Run(context.Background(), Request{Assistant: testAssistant(), Messages: pairs(1)[:1]})
	require.NoError(t, err)

	sessions, err := journal.Sessions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, result.SessionID, sessions[0].ID)
	assert.Equal(t, storage.StatusCompleted, sessions[0].Status)
	assert.Equal(t, 2, sessions[0].Rounds)
	assert.Equal(t, "gpt-4o", sessions[0].Model)

	invocations, err := journal.Invocations(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, result.Invocations, invocations)
}

func TestRunFiltersContextWindow(t *testing.T) {
	assistant := testAssistant()
	assistant.Settings.ContextCount = 2

	var filtered []model.Message
	transport := &fakeTransport{rounds: [][]llm.StreamDelta{text("ok")}}
	s := newTestSession(t, transport, func(o *Options) {
		o.Filter = func(m []model.Message) { filtered = m }
	})

	history := append(pairs(4), model.Message{ID: "u5", Role: model.RoleUser, Content: "question 5"})
	_, err := s.Run(context.Background(), Request{Assistant: assistant, Messages: history})
	require.NoError(t, err)

	assert.Equal(t, []string{"u4", "a4", "u5"}, ids(filtered))
	assert.Len(t, transport.requests()[0].Messages, 4)
}

func TestRunNoUserMessage(t *testing.T) {
	transport := &fakeTransport{rounds: [][]llm.StreamDelta{text("x")}}
	s := newTestSession(t, transport, nil)

	_, err := s.Run(context.Background(), Request{
		Assistant: testAssistant(),
		Messages:  []model.Message{{ID: "a", Role: model.RoleAssistant, Content: "hi"}},
	})
	require.ErrorIs(t, err, ErrNoUserMessage)
	assert.Empty(t, transport.requests())
}

func TestRunUsesDefaultModelAndDeveloperRole(t *testing.T) {
	transport := &fakeTransport{rounds: [][]llm.StreamDelta{text("ok")}}
	s := newTestSession(t, transport, func(o *Options) {
		o.DefaultModel = model.Model{ID: "o3-mini", Provider: "openai", Capabilities: model.Capabilities{Reasoning: true}}
	})

	assistant := testAssistant()
	assistant.Model = nil
	assistant.Settings.ReasoningEffort = "low"

	_, err := s.Run(context.Background(), Request{Assistant: assistant, Messages: pairs(1)[:1]})
	require.NoError(t, err)

	req := transport.requests()[0]
	assert.Equal(t, "o3-mini", req.Model)
	assert.Equal(t, llm.RoleDeveloper, req.Messages[0].Role)
	assert.True(t, strings.HasPrefix(req.Messages[0].Content, FormattingDirective))
	assert.Nil(t, req.Temperature)
	assert.Nil(t, req.MaxTokens)
	require.NotNil(t, req.MaxCompletionTokens)
	assert.Equal(t, 800, *req.MaxCompletionTokens)
}

func TestRunSharesInvocationLog(t *testing.T) {
	log := NewInvocationLog()
	log.Append(model.ToolInvocationRecord{ID: "earlier", Tool: "now", Status: model.InvocationDone})

	transport := &fakeTransport{rounds: [][]llm.StreamDelta{text(toolCall), text("final")}}
	s := newTestSession(t, transport, func(o *Options) {
		o.Runner = &recordingRunner{result: tools.SuccessResult("ok")}
	})

	result, err := s.Run(context.Background(), Request{Assistant: testAssistant(), Messages: pairs(1)[:1], Log: log})
	require.NoError(t, err)
	assert.Equal(t, 2, log.Len())
	assert.Equal(t, "earlier", result.Invocations[0].ID)
}

func TestRunMetricsSurviveToolRounds(t *testing.T) {
	transport := &fakeTransport{rounds: [][]llm.StreamDelta{
		{{ReasoningContent: "plan"}, {Text: toolCall}},
		text("done"),
	}}
	clock := time.Unix(1700000000, 0)
	var streamed []ProgressEvent
	s := newTestSession(t, transport, func(o *Options) {
		o.Runner = &recordingRunner{result: tools.SuccessResult("ok")}
		o.Now = func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}
		o.Sink = func(e ProgressEvent) {
			if e.Invocation == nil {
				streamed = append(streamed, e)
			}
		}
	})

	result, err := s.Run(context.Background(), Request{Assistant: testAssistant(), Messages: pairs(1)[:1]})
	require.NoError(t, err)
	require.Equal(t, 2, result.Rounds)
	require.Len(t, streamed, 3)

	ttft := streamed[0].Metrics.TimeToFirstToken
	ttfc := streamed[1].Metrics.TimeToFirstContent
	require.Positive(t, ttft)
	require.GreaterOrEqual(t, ttfc, ttft)
	for i, e := range streamed {
		assert.Equal(t, ttft, e.Metrics.TimeToFirstToken, "event %d", i)
		if i > 0 {
			assert.Equal(t, ttfc, e.Metrics.TimeToFirstContent, "event %d", i)
			assert.Greater(t, e.Metrics.Elapsed, streamed[i-1].Metrics.Elapsed, "event %d", i)
		}
	}
	assert.Equal(t, 1, streamed[2].Round)
	assert.Equal(t, ttft, result.Metrics.TimeToFirstToken)
	assert.Equal(t, ttfc, result.Metrics.TimeToFirstContent)
	assert.Equal(t, streamed[2].Metrics.Elapsed, result.Metrics.Elapsed)
}
