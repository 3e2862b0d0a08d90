// Command execution for CLI commands.
//
// Information Hiding:
// - Transport, tool registry and journal setup hidden
// - Profile resolution and hot reload hidden
// - Interrupt handling (pause, then abort) hidden

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/richinex/relay/assemble"
	"github.com/richinex/relay/config"
	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/mcp"
	"github.com/richinex/relay/model"
	"github.com/richinex/relay/session"
	"github.com/richinex/relay/storage"
	"github.com/richinex/relay/tools"
)

const (
	// defaultJournalPath is used when neither flag nor environment names one.
	defaultJournalPath = ".relay/journal.db"
	defaultMaxFileSize = 1024 * 1024 // 1MB
	defaultAssistantID = "default"
	defaultPrompt      = "You are a helpful assistant. Answer concisely and use tools when they help."
)

// Options holds CLI execution options.
type Options struct {
	Provider        string
	ProfilePath     string
	Assistant       string
	ReasoningEffort string
	HistoryPath     string
	JournalPath     string
	MCPConfigPath   string
	AttachmentRoot  string
	// MaxRounds overrides SESSION_MAX_ROUNDS when non-zero.
	MaxRounds int
	// ToolRetries overrides TOOL_MAX_RETRIES when non-zero.
	ToolRetries uint32
	Verbose     bool
	Color       bool
	Logger      *slog.Logger

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultOptions returns default CLI options.
func DefaultOptions() Options {
	return Options{
		Color:  true,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func (o *Options) normalize() {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// environment is everything one chat needs.
type environment struct {
	session  *session.Session
	pause    *session.PauseToken
	printer  *printer
	journal  *storage.SqliteJournal
	toolset  *mcp.Toolset
	profiles *config.Profiles
	logger   *slog.Logger
	tools    []string

	mu        sync.RWMutex
	assistant model.Assistant
}

func (e *environment) currentAssistant() model.Assistant {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.assistant
}

func (e *environment) setAssistant(a model.Assistant) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.assistant = a
}

// Close releases the journal and MCP servers.
func (e *environment) Close() {
	if e.toolset != nil {
		if err := e.toolset.Close(); err != nil {
			e.logger.Warn("failed to stop MCP servers", "error", err)
		}
	}
	if e.journal != nil {
		_ = e.journal.Close()
	}
}

func newEnvironment(ctx context.Context, opts Options) (*environment, error) {
	env := &environment{pause: &session.PauseToken{}, logger: opts.Logger}

	assistant := model.Assistant{ID: defaultAssistantID, Name: "Relay", Prompt: defaultPrompt}
	fromProfile := opts.ProfilePath != ""
	if fromProfile {
		profiles, err := config.LoadProfiles(opts.ProfilePath)
		if err != nil {
			return nil, err
		}
		profiles.WithLogger(opts.Logger)
		assistant, err = profiles.Get().Assistant(opts.Assistant)
		if err != nil {
			return nil, err
		}
		env.profiles = profiles
	} else if opts.Assistant != "" {
		return nil, fmt.Errorf("--assistant %q requires --profile", opts.Assistant)
	}

	provider := opts.Provider
	if provider == "" && assistant.Model != nil {
		provider = assistant.Model.Provider
	}
	if provider == "" {
		return nil, errors.New("--provider is required for this command")
	}

	settings, err := config.New(provider)
	if err != nil {
		return nil, err
	}
	if !fromProfile {
		assistant.Settings.MaxTokens = settings.LLM.MaxTokens
		assistant.Settings.ContextCount = settings.Session.ContextCount
	}
	if opts.ReasoningEffort != "" {
		assistant.Settings.ReasoningEffort = opts.ReasoningEffort
	}
	env.assistant = assistant

	transport, err := newTransport(provider, settings)
	if err != nil {
		return nil, err
	}

	executor, err := env.executor(ctx, opts, settings)
	if err != nil {
		env.Close()
		return nil, err
	}

	journalPath := firstNonEmpty(opts.JournalPath, settings.Session.JournalPath, defaultJournalPath)
	env.journal, err = storage.OpenSqlite(journalPath)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	env.tools = executor.Registry().Names()

	maxRounds := settings.Session.MaxRounds
	if opts.MaxRounds != 0 {
		maxRounds = opts.MaxRounds
	}

	env.printer = newPrinter(opts.Stdout, opts.Stderr, opts.Color)
	env.session, err = session.New(session.Options{
		Transport: transport,
		DefaultModel: model.Model{
			ID:           settings.LLM.Model,
			Provider:     settings.LLM.Provider,
			Capabilities: model.Capabilities{Reasoning: opts.ReasoningEffort != ""},
		},
		Assembler: assemble.New(assemble.NewDiskReader(opts.AttachmentRoot)),
		Runner:    executor,
		Tools:     executor.Registry().List(),
		Sink:      env.printer.sink,
		Pause:     env.pause,
		Journal:   env.journal,
		MaxRounds: maxRounds,
		Logger:    opts.Logger,
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func newTransport(provider string, settings config.Settings) (llm.Transport, error) {
	providerType, err := llm.ParseProviderType(provider)
	if err != nil {
		return nil, err
	}
	apiKey, err := config.APIKeyFor(provider)
	if err != nil {
		return nil, err
	}
	client, err := providerType.Builder().
		BaseURL(settings.LLM.BaseURL).
		Timeout(settings.LLM.Timeout).
		APIKey(apiKey)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// executor builds the tool executor over the built-in tools and any MCP servers.
func (e *environment) executor(ctx context.Context, opts Options, settings config.Settings) (*tools.Executor, error) {
	registry, err := builtinRegistry(settings)
	if err != nil {
		return nil, err
	}

	if opts.MCPConfigPath != "" {
		cfg, err := mcp.LoadConfig(opts.MCPConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load MCP config: %w", err)
		}
		e.toolset, err = mcp.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		added := mergeTools(registry, e.toolset.Tools(), e.logger)
		e.logger.Debug("connected MCP servers", "servers", len(cfg.MCPServers), "tools", added)
	}

	retries := settings.Tools.MaxRetries
	if opts.ToolRetries != 0 {
		retries = opts.ToolRetries
	}
	return tools.NewExecutor(registry, tools.ToolConfig{
		TimeoutSecs: settings.Tools.TimeoutSecs,
		MaxRetries:  retries,
	}), nil
}

func builtinRegistry(settings config.Settings) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	err := registry.RegisterAll(
		tools.NewReadFileTool(defaultMaxFileSize),
		tools.NewListFilesTool(tools.DefaultListMaxResults),
		tools.NewFetchTool(settings.LLM.Timeout),
	)
	if err != nil {
		return nil, err
	}
	return registry, nil
}

// mergeTools registers MCP tools, skipping names a built-in tool already owns.
// Returns the names actually added.
func mergeTools(registry *tools.Registry, remote []tools.Tool, logger *slog.Logger) []string {
	var added []string
	for _, t := range remote {
		name := t.Metadata().Name
		if err := registry.Register(t); err != nil {
			logger.Warn("skipping MCP tool", "tool", name, "error", err)
			continue
		}
		added = append(added, name)
	}
	return added
}

// Chat answers prompt once, or runs an interactive loop when prompt is empty.
// History is loaded from and saved to opts.HistoryPath.
func Chat(ctx context.Context, prompt string, opts Options) error {
	opts.normalize()
	env, err := newEnvironment(ctx, opts)
	if err != nil {
		return err
	}
	defer env.Close()

	history, err := loadHistory(opts.HistoryPath)
	if err != nil {
		return err
	}

	if opts.Verbose {
		fmt.Fprintf(opts.Stderr, "Tools: %s\n", strings.Join(env.tools, ", "))
	}

	if prompt != "" {
		_, err := env.turn(ctx, history, prompt, opts)
		return err
	}

	if env.profiles != nil {
		env.profiles.OnChange(func(_, updated config.ProfileSet) {
			a, err := updated.Assistant(opts.Assistant)
			if err != nil {
				env.logger.Warn("profile reload ignored", "error", err)
				return
			}
			if opts.ReasoningEffort != "" {
				a.Settings.ReasoningEffort = opts.ReasoningEffort
			}
			env.setAssistant(a)
			fmt.Fprintf(opts.Stderr, "\n[profile reloaded: %s]\n", a.Name)
		})
		env.profiles.Watch()
	}

	assistant := env.currentAssistant()
	if len(history) > 0 {
		fmt.Fprintf(opts.Stdout, "Resuming %s (%d messages)\n", opts.HistoryPath, len(history))
	}
	fmt.Fprintf(opts.Stdout, "Chat with %s. Type 'exit' to quit, '/clear' to reset context.\n\n", assistant.Name)

	scanner := bufio.NewScanner(opts.Stdin)
	for {
		fmt.Fprint(opts.Stdout, "> ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		if input == "/clear" {
			history = append(history, model.Message{ID: uuid.NewString(), Role: model.RoleUser, Type: model.MessageClear})
			if err := saveHistory(opts.HistoryPath, history); err != nil {
				fmt.Fprintf(opts.Stderr, "Warning: %v\n", err)
			}
			fmt.Fprintln(opts.Stdout, "Context cleared.")
			continue
		}

		history, err = env.turn(ctx, history, input, opts)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			fmt.Fprintf(opts.Stderr, "\nError: %v\n\n", err)
		}
	}

	return scanner.Err()
}

// turn runs one session for input and returns the extended history.
// The first interrupt pauses the answer; a second one aborts it.
func (e *environment) turn(ctx context.Context, history []model.Message, input string, opts Options) ([]model.Message, error) {
	user := model.Message{
		ID:          uuid.NewString(),
		Role:        model.RoleUser,
		Content:     input,
		Attachments: attachmentsFromPrompt(input, opts.AttachmentRoot),
	}
	messages := make([]model.Message, 0, len(history)+2)
	messages = append(messages, history...)
	messages = append(messages, user)

	stop := watchInterrupts(e.pause, e.session.Aborts(), user.ID, opts.Stderr)
	result, err := e.session.Run(ctx, session.Request{Assistant: e.currentAssistant(), Messages: messages})
	stop()
	e.pause.Resume()

	if result.Rounds > 0 {
		e.printer.summary(result)
	}
	if errors.Is(err, session.ErrAborted) {
		fmt.Fprintln(opts.Stderr, "[aborted]")
		err = nil
	}
	if result.Text == "" {
		return history, err
	}

	messages = append(messages, model.Message{
		ID:      uuid.NewString(),
		Role:    model.RoleAssistant,
		Content: result.Text,
	})
	if saveErr := saveHistory(opts.HistoryPath, messages); saveErr != nil {
		fmt.Fprintf(opts.Stderr, "Warning: %v\n", saveErr)
	}
	return messages, err
}

// watchInterrupts pauses on the first SIGINT and aborts id on the next.
// The returned function stops watching.
func watchInterrupts(pause *session.PauseToken, aborts *session.AbortRegistry, id string, errOut io.Writer) func() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)
	done := make(chan struct{})

	go func() {
		interrupts := 0
		for {
			select {
			case <-done:
				return
			case <-signals:
				interrupts++
				if interrupts == 1 {
					pause.Pause()
					fmt.Fprintln(errOut, "\n[pausing, interrupt again to abort]")
					continue
				}
				aborts.Abort(id)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(signals)
			close(done)
		})
	}
}

// attachmentsFromPrompt attaches files named in the prompt with an @ prefix.
// Paths that do not name a regular file are left as plain text.
func attachmentsFromPrompt(prompt, root string) []model.Attachment {
	var attachments []model.Attachment
	seen := make(map[string]bool)
	for _, word := range strings.Fields(prompt) {
		if !strings.HasPrefix(word, "@") || len(word) < 2 {
			continue
		}
		path := strings.TrimRight(word[1:], "\"',;:()[]{}")
		if seen[path] {
			continue
		}
		resolved := path
		if !filepath.IsAbs(path) && root != "" {
			resolved = filepath.Join(root, path)
		}
		info, err := os.Stat(resolved)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		seen[path] = true
		attachments = append(attachments, model.Attachment{
			ID:   uuid.NewString(),
			Name: filepath.Base(path),
			Path: path,
			Kind: attachmentKind(path),
		})
	}
	return attachments
}

func attachmentKind(path string) model.AttachmentKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return model.AttachmentImage
	case ".pdf", ".docx":
		return model.AttachmentDocument
	case ".exe", ".zip", ".tar", ".gz", ".bin":
		return model.AttachmentOther
	default:
		return model.AttachmentText
	}
}

// ListTools prints the built-in tools plus those of configured MCP servers.
func ListTools(ctx context.Context, mcpConfigPath string, verbose bool, w io.Writer) error {
	settings, err := config.New("openai")
	if err != nil {
		return err
	}
	registry, err := builtinRegistry(settings)
	if err != nil {
		return err
	}
	if mcpConfigPath != "" {
		cfg, err := mcp.LoadConfig(mcpConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load MCP config: %w", err)
		}
		set, err := mcp.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer set.Close()
		mergeTools(registry, set.Tools(), slog.New(slog.NewTextHandler(w, nil)))
	}

	fmt.Fprintln(w, "Available tools:")
	fmt.Fprintln(w)
	for _, meta := range registry.List() {
		fmt.Fprintf(w, "  %s\n", meta.Name)
		fmt.Fprintf(w, "    %s\n", meta.Description)

		if verbose && len(meta.Parameters) > 0 {
			fmt.Fprintln(w, "    Parameters:")
			for _, param := range meta.Parameters {
				req := ""
				if param.Required {
					req = "*"
				}
				fmt.Fprintf(w, "      %s%s: %s - %s\n", param.Name, req, param.ParamType, param.Description)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

// ListAssistants prints the assistants of a profile file.
func ListAssistants(profilePath string, w io.Writer) error {
	profiles, err := config.LoadProfiles(profilePath)
	if err != nil {
		return err
	}
	set := profiles.Get()
	fmt.Fprintln(w, "Available assistants:")
	fmt.Fprintln(w)
	for _, a := range set.Assistants {
		marker := " "
		if a.ID == set.Default {
			marker = "*"
		}
		modelID := "(provider default)"
		if a.Model != nil {
			modelID = a.Model.Provider + "/" + a.Model.ID
		}
		fmt.Fprintf(w, "%s %-12s %-20s %s\n", marker, a.ID, a.Name, modelID)
	}
	return nil
}

// ListSessions prints journaled sessions, most recent first.
func ListSessions(ctx context.Context, journalPath string, limit int, showInvocations bool, w io.Writer) error {
	journal, err := storage.OpenSqlite(firstNonEmpty(journalPath, os.Getenv("SESSION_JOURNAL_PATH"), defaultJournalPath))
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer journal.Close()
	return printJournal(ctx, journal, limit, showInvocations, w)
}

func printJournal(ctx context.Context, journal storage.Journal, limit int, showInvocations bool, w io.Writer) error {
	sessions, err := journal.Sessions(ctx, limit)
	if err != nil {
		return err
	}
	printSessions(w, sessions)
	if !showInvocations {
		return nil
	}
	for _, s := range sessions {
		invocations, err := journal.Invocations(ctx, s.ID)
		if err != nil {
			return err
		}
		for _, inv := range invocations {
			fmt.Fprintf(w, "    [%d] %s %s -> %s (%s)\n",
				inv.Round, inv.Tool, truncateString(string(inv.Arguments), 60),
				inv.Status, inv.Duration)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
