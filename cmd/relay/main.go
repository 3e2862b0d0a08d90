// Package main provides the relay CLI entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/relay/cli"
	"github.com/richinex/relay/config"
)

var (
	// Global flags
	provider    string
	profilePath string
	journalPath string
	toolRetries uint32
	verbose     bool
	noColor     bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Stream chat completions with markup tool calls",
		Long: `A CLI for streaming chat completions across LLM providers.

The model calls tools through <tool_use> markup in its answer. Each call is
executed, its result appended to the conversation, and the request resumed
until the answer contains no more tool calls.

Sessions and tool invocations are journaled to SQLite.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider ("+strings.Join(config.SupportedProviders(), ", ")+")")
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "Path to assistant profile file (YAML, JSON or TOML)")
	rootCmd.PersistentFlags().StringVar(&journalPath, "journal", "", "Session journal database path (default .relay/journal.db)")
	rootCmd.PersistentFlags().Uint32Var(&toolRetries, "tool-retries", 0, "Maximum retries for tool execution (default TOOL_MAX_RETRIES)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable ANSI styling")

	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(assistantsCmd())
	rootCmd.AddCommand(journalCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func chatCmd() *cobra.Command {
	var assistant string
	var historyPath string
	var mcpConfigPath string
	var attachmentRoot string
	var reasoningEffort string
	var maxRounds int

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Answer a prompt, or start an interactive chat",
		Long: `Answer a single prompt, or start an interactive chat when no prompt is given.

Files named with an @ prefix (@notes.md, @chart.png) are attached to the message.
Press Ctrl-C once to pause the answer, twice to abort it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.DefaultOptions()
			opts.Provider = provider
			opts.ProfilePath = profilePath
			opts.JournalPath = journalPath
			opts.ToolRetries = toolRetries
			opts.Verbose = verbose
			opts.Color = !noColor
			opts.Logger = newLogger()
			opts.Assistant = assistant
			opts.HistoryPath = historyPath
			opts.MCPConfigPath = mcpConfigPath
			opts.AttachmentRoot = attachmentRoot
			opts.ReasoningEffort = reasoningEffort
			opts.MaxRounds = maxRounds

			prompt := ""
			if len(args) == 1 {
				prompt = args[0]
			}
			return cli.Chat(context.Background(), prompt, opts)
		},
	}

	cmd.Flags().StringVarP(&assistant, "assistant", "a", "", "Assistant id from the profile file (default: the profile default)")
	cmd.Flags().StringVar(&historyPath, "history", "", "Conversation history file to resume and update")
	cmd.Flags().StringVar(&mcpConfigPath, "mcp-config", "", "Path to MCP config file")
	cmd.Flags().StringVar(&attachmentRoot, "attachments", "", "Directory relative attachment paths resolve against")
	cmd.Flags().StringVar(&reasoningEffort, "reasoning-effort", "", "Reasoning effort (low, medium, high)")
	cmd.Flags().IntVarP(&maxRounds, "max-rounds", "m", 0, "Maximum tool rounds; negative for unbounded (default SESSION_MAX_ROUNDS)")

	return cmd
}

func toolsCmd() *cobra.Command {
	var mcpConfigPath string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTools(context.Background(), mcpConfigPath, verbose, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&mcpConfigPath, "mcp-config", "", "Path to MCP config file")

	return cmd
}

func assistantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assistants",
		Short: "List assistants of the profile file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if profilePath == "" {
				return fmt.Errorf("--profile is required for this command")
			}
			return cli.ListAssistants(profilePath, os.Stdout)
		},
	}
}

func journalCmd() *cobra.Command {
	var limit int
	var invocations bool

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List journaled sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListSessions(context.Background(), journalPath, limit, invocations, os.Stdout)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of sessions to show (0 for all)")
	cmd.Flags().BoolVar(&invocations, "invocations", false, "Show tool invocations of each session")

	return cmd
}
