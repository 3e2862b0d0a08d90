// Terminal rendering of session progress.
//
// Information Hiding:
// - ANSI styling hidden
// - Stream/reasoning/tool event routing hidden

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/richinex/relay/session"
	"github.com/richinex/relay/storage"
)

const (
	ansiDim   = "\033[2m"
	ansiReset = "\033[0m"
)

// printer writes answer text to out and reasoning and tool activity to errOut.
type printer struct {
	mu        sync.Mutex
	out       io.Writer
	errOut    io.Writer
	color     bool
	reasoning bool
}

func newPrinter(out, errOut io.Writer, color bool) *printer {
	return &printer{out: out, errOut: errOut, color: color}
}

// sink is the session.ProgressSink of the printer.
func (p *printer) sink(e session.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.Invocation != nil {
		p.endReasoning()
		status := "ok"
		if e.Invocation.Failed() {
			status = "error: " + truncateString(e.Invocation.Error, 80)
		}
		fmt.Fprintf(p.errOut, "\n[tool] %s %s (%s, %s)\n",
			e.Invocation.Tool, truncateString(string(e.Invocation.Arguments), 60),
			status, e.Invocation.Duration.Round(time.Millisecond))
		return
	}

	if e.Reasoning != "" {
		if !p.reasoning {
			p.reasoning = true
			if p.color {
				fmt.Fprint(p.errOut, ansiDim)
			}
		}
		fmt.Fprint(p.errOut, e.Reasoning)
	}
	if e.Text != "" {
		p.endReasoning()
		fmt.Fprint(p.out, e.Text)
	}
}

func (p *printer) endReasoning() {
	if !p.reasoning {
		return
	}
	p.reasoning = false
	if p.color {
		fmt.Fprint(p.errOut, ansiReset)
	}
	fmt.Fprintln(p.errOut)
}

// summary prints the metrics line after an answer.
func (p *printer) summary(result session.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endReasoning()

	m := result.Metrics
	line := fmt.Sprintf("%d round(s), first token %s, thinking %s, total %s",
		result.Rounds,
		m.TimeToFirstToken.Round(time.Millisecond),
		m.Thinking.Round(time.Millisecond),
		m.Elapsed.Round(time.Millisecond))
	if m.CompletionTokens > 0 {
		line += fmt.Sprintf(", %d tokens", m.CompletionTokens)
	}
	if result.Paused {
		line += ", paused"
	}
	fmt.Fprintf(p.out, "\n\n")
	if p.color {
		line = ansiDim + line + ansiReset
	}
	fmt.Fprintln(p.errOut, line)
}

func printSessions(w io.Writer, sessions []storage.SessionRecord) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions recorded.")
		return
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s  %s  %-11s %s/%s rounds=%d ttft=%s elapsed=%s\n",
			s.StartedAt.Format(time.DateTime),
			s.ID,
			s.Status,
			s.Provider,
			s.Model,
			s.Rounds,
			s.Timings.TimeToFirstToken.Round(time.Millisecond),
			s.Timings.Elapsed.Round(time.Millisecond))
		if s.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", truncateString(s.Error, 120))
		}
	}
}

// truncateString shortens s to maxLen runes, marking the cut.
func truncateString(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
