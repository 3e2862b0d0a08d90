// Tool-call resumption between rounds.
//
// Information Hiding:
// - Invocation execution order and record construction hidden
// - Result envelope and follow-up message shape hidden
// - Journal writes are best-effort and never fail a round

package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/model"
	"github.com/richinex/relay/storage"
	"github.com/richinex/relay/stream"
	"github.com/richinex/relay/tools"
)

// resumer executes the tool calls of one round and builds the messages
// that carry their results into the next round.
type resumer struct {
	runner    tools.Runner
	log       *InvocationLog
	sink      ProgressSink
	journal   storage.Journal
	sessionID string
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// resume runs invocations in order and returns the follow-up messages:
// the assistant's text, then one tool message per invocation.
// Tool failures become failed records. Only cancellation of ctx is an error.
func (r *resumer) resume(ctx context.Context, round int, out stream.Output, invocations []tools.Invocation) ([]llm.Message, error) {
	followUp := make([]llm.Message, 0, len(invocations)+1)
	followUp = append(followUp, llm.AssistantMessage(out.Text))

	for _, inv := range invocations {
		record, result, err := r.execute(ctx, round, inv)
		if err != nil {
			return nil, fmt.Errorf("round %d: tool %s interrupted: %w", round, inv.Name, err)
		}

		r.log.Append(record)
		r.persist(ctx, record)
		r.sink(ProgressEvent{
			Round:       round,
			Metrics:     out.Metrics,
			Invocation:  &record,
			Invocations: r.log.Snapshot(),
		})

		followUp = append(followUp, llm.ToolMessage(record.ID, tools.FormatResult(inv.Name, result)))
	}
	return followUp, nil
}

func (r *resumer) execute(ctx context.Context, round int, inv tools.Invocation) (model.ToolInvocationRecord, tools.ToolResult, error) {
	record := model.ToolInvocationRecord{
		ID:        r.newID(),
		Tool:      inv.Name,
		Arguments: inv.Arguments,
		Round:     round,
	}
	start := r.now()

	var result tools.ToolResult
	if inv.ArgumentsErr != nil {
		result = tools.FailureResultf("invalid arguments: %w", inv.ArgumentsErr)
	} else {
		var err error
		result, err = r.runner.Run(ctx, inv.Name, inv.Arguments)
		if err != nil {
			return record, result, err
		}
	}
	record.Duration = r.now().Sub(start)

	if result.Success() {
		record.Status = model.InvocationDone
		record.Result = result.Output
	} else {
		record.Status = model.InvocationError
		record.Error = result.Error.Error()
		r.logger.Warn("tool failed",
			"tool", inv.Name,
			"round", round,
			"error", record.Error)
	}
	r.logger.Debug("tool executed",
		"tool", inv.Name,
		"round", round,
		"status", record.Status,
		"duration", record.Duration)
	return record, result, nil
}

func (r *resumer) persist(ctx context.Context, record model.ToolInvocationRecord) {
	if r.journal == nil {
		return
	}
	if err := r.journal.RecordInvocation(context.WithoutCancel(ctx), r.sessionID, record); err != nil {
		r.logger.Warn("failed to journal invocation",
			"session", r.sessionID,
			"tool", record.Tool,
			"error", err)
	}
}
