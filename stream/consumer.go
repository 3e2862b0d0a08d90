package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/model"
)

// PauseToken is a cooperative stop signal checked before each delta.
// A nil token is never paused.
type PauseToken struct {
	paused atomic.Bool
}

// Pause asks the running round to stop after the current delta.
func (p *PauseToken) Pause() {
	p.paused.Store(true)
}

// Resume clears the pause signal.
func (p *PauseToken) Resume() {
	p.paused.Store(false)
}

// Paused reports whether a pause was requested.
func (p *PauseToken) Paused() bool {
	return p != nil && p.paused.Load()
}

// Event is one progress report. Stream events carry one delta's fragments;
// tool events carry the executed Invocation.
type Event struct {
	Round       int                          `json:"round"`
	Text        string                       `json:"text,omitempty"`
	Reasoning   string                       `json:"reasoning,omitempty"`
	Usage       *llm.Usage                   `json:"usage,omitempty"`
	Metrics     MetricsSnapshot              `json:"metrics"`
	Side        SidePayloads                 `json:"side"`
	Invocation  *model.ToolInvocationRecord  `json:"invocation,omitempty"`
	Invocations []model.ToolInvocationRecord `json:"invocations"`
}

// Sink receives progress events.
type Sink func(Event)

// Output is the result of one consumed round.
type Output struct {
	Text         string
	Reasoning    string
	FinishReason string
	Usage        *llm.Usage
	Metrics      MetricsSnapshot
	// Paused is true when the round stopped early on the pause token.
	Paused bool
}

// Config configures a Consumer.
type Config struct {
	Sink   Sink
	Pause  *PauseToken
	Search SearchGate
	// Invocations returns a snapshot of the session's invocation log.
	Invocations func() []model.ToolInvocationRecord
	Logger      *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Consumer drives the rounds of one session and reports progress.
// Metrics and the phase tracker span every round, so milestones written in
// an early round survive the tool rounds after it.
type Consumer struct {
	sink        Sink
	pause       *PauseToken
	search      SearchGate
	invocations func() []model.ToolInvocationRecord
	logger      *slog.Logger
	now         func() time.Time

	metrics *Metrics
	tracker Tracker
}

// NewConsumer creates a consumer. Missing collaborators get no-op defaults.
func NewConsumer(cfg Config) *Consumer {
	c := &Consumer{
		sink:        cfg.Sink,
		pause:       cfg.Pause,
		search:      cfg.Search,
		invocations: cfg.Invocations,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if c.sink == nil {
		c.sink = func(Event) {}
	}
	if c.invocations == nil {
		c.invocations = func() []model.ToolInvocationRecord { return nil }
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.metrics = NewMetrics(c.now())
	return c
}

// Metrics returns a snapshot of the session metrics so far.
func (c *Consumer) Metrics() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// Consume runs one round against the transport. The mode is chosen once by
// params.Stream.
func (c *Consumer) Consume(ctx context.Context, transport llm.Transport, params llm.Params, round int) (Output, error) {
	c.logger.Debug("round started",
		"round", round,
		"model", params.Model,
		"stream", params.Stream,
		"messages", len(params.Messages))

	var (
		out Output
		err error
	)
	defer c.metrics.NextRound()
	if params.Stream {
		out, err = c.consumeStream(ctx, transport, params, round)
	} else {
		out, err = c.consumeOnce(ctx, transport, params, round)
	}
	if err != nil {
		return out, err
	}

	c.logger.Debug("round finished",
		"round", round,
		"paused", out.Paused,
		"text_len", len(out.Text),
		"elapsed", out.Metrics.Elapsed)
	return out, nil
}

func (c *Consumer) consumeOnce(ctx context.Context, transport llm.Transport, params llm.Params, round int) (Output, error) {
	metrics := c.metrics

	resp, err := transport.Complete(ctx, params)
	if err != nil {
		return Output{}, fmt.Errorf("round %d: completion failed: %w", round, err)
	}

	metrics.TimeToFirstToken.Set(0)
	completion := 0
	if resp.Usage != nil {
		completion = resp.Usage.CompletionTokens
	}
	metrics.Update(c.now(), resp.Reasoning != "", completion)

	out := Output{
		Text:         resp.Text,
		Reasoning:    resp.Reasoning,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
		Metrics:      metrics.Snapshot(),
	}
	c.sink(Event{
		Round:       round,
		Text:        resp.Text,
		Reasoning:   resp.Reasoning,
		Usage:       resp.Usage,
		Metrics:     out.Metrics,
		Side:        ExtractSidePayloads(resp.Raw, c.search, true),
		Invocations: c.invocations(),
	})
	return out, nil
}

func (c *Consumer) consumeStream(ctx context.Context, transport llm.Transport, params llm.Params, round int) (Output, error) {
	metrics := c.metrics
	tracker := &c.tracker

	stream, err := transport.Stream(ctx, params)
	if err != nil {
		return Output{}, fmt.Errorf("round %d: stream open failed: %w", round, err)
	}
	defer stream.Close()

	var (
		text      strings.Builder
		reasoning strings.Builder
		out       Output
		first     = true
	)
	finish := func() Output {
		out.Text = text.String()
		out.Reasoning = reasoning.String()
		out.Metrics = metrics.Snapshot()
		return out
	}

	for {
		if c.pause.Paused() {
			c.logger.Debug("round paused", "round", round)
			out.Paused = true
			return finish(), nil
		}

		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return finish(), nil
		}
		if err != nil {
			return finish(), fmt.Errorf("round %d: stream recv failed: %w", round, err)
		}

		now := c.now()
		text.WriteString(delta.Text)
		reasoning.WriteString(delta.ReasoningText())
		tracker.Observe(delta)
		metrics.FirstToken(now)
		if tracker.JustEnded(delta) {
			metrics.FirstContent(now)
		}
		completion := 0
		if delta.Usage != nil {
			completion = delta.Usage.CompletionTokens
			out.Usage = delta.Usage
		}
		if delta.FinishReason != "" {
			out.FinishReason = delta.FinishReason
		}
		metrics.Update(now, delta.HasReasoning(), completion)

		c.sink(Event{
			Round:       round,
			Text:        delta.Text,
			Reasoning:   delta.ReasoningText(),
			Usage:       delta.Usage,
			Metrics:     metrics.Snapshot(),
			Side:        ExtractSidePayloads(delta.Raw, c.search, first),
			Invocations: c.invocations(),
		})
		first = false
	}
}
