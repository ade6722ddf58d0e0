package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/mcp"
	"github.com/parleyhq/parley/internal/session"
)

var (
	flagSessionID     string
	flagNoSave        bool
	flagShowReasoning bool
	flagSystemPrompt  string
	flagInteractive   bool
)

func init() {
	askCmd.Flags().StringVar(&flagSessionID, "session", "", "Resume an existing session by id")
	askCmd.Flags().BoolVar(&flagNoSave, "no-save", false, "Do not persist this conversation")
	askCmd.Flags().BoolVar(&flagShowReasoning, "show-reasoning", false, "Print model reasoning to stderr")
	askCmd.Flags().StringVar(&flagSystemPrompt, "system", "", "System prompt for new sessions")
	askCmd.Flags().BoolVarP(&flagInteractive, "interactive", "i", false, "Keep the conversation open for follow-up messages")
	rootCmd.AddCommand(askCmd)
}

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send a message and stream the reply",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !flagInteractive {
			return fmt.Errorf("provide a message or use --interactive")
		}

		ctx := cmd.Context()
		log := newLogger()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		provider, err := llm.NewProvider(cfg)
		if err != nil {
			return err
		}

		dbPath, err := cfg.SessionDBPath()
		if err != nil {
			return err
		}
		store, err := session.NewStore(cfg.Session.Enabled && !flagNoSave, dbPath)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer store.Close()

		mcpPath, err := cfg.MCPConfigPath()
		if err != nil {
			return err
		}
		mcpCfg, err := mcp.LoadConfigFromPath(mcpPath)
		if err != nil {
			return fmt.Errorf("load MCP config: %w", err)
		}

		opts := chat.Options{
			Provider:     provider,
			Store:        store,
			MCPConfig:    mcpCfg,
			Log:          log,
			SystemPrompt: flagSystemPrompt,
			Model:        flagModel,
			MaxTurns:     cfg.MaxTurns,
		}

		var sess *chat.Session
		if flagSessionID != "" {
			sess, err = chat.Open(ctx, flagSessionID, opts)
		} else {
			sess, err = chat.Create(ctx, opts)
		}
		if err != nil {
			return err
		}
		defer sess.Close()

		if len(args) == 1 {
			if err := runExchange(ctx, sess, args[0]); err != nil {
				return err
			}
		}

		if flagInteractive {
			return runInteractive(ctx, sess)
		}
		return nil
	},
}

// runExchange submits one message and renders the resulting stream.
func runExchange(ctx context.Context, sess *chat.Session, message string) error {
	stream, err := sess.SubmitMessage(ctx, message)
	if err != nil {
		return err
	}
	defer stream.Close()
	return renderStream(stream)
}

// renderStream prints visible reply text to stdout. Reasoning is hidden
// unless requested; tool activity is narrated on stderr.
func renderStream(stream llm.Stream) error {
	needNewline := false
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		switch event.Type {
		case llm.EventTextDelta:
			fmt.Print(event.Text)
			needNewline = !strings.HasSuffix(event.Text, "\n")
		case llm.EventReasoningDelta:
			if flagShowReasoning {
				fmt.Fprint(os.Stderr, event.Text)
			}
		case llm.EventReasoningEnd:
			if flagShowReasoning {
				fmt.Fprintln(os.Stderr)
			}
		case llm.EventToolStart:
			fmt.Fprintf(os.Stderr, "• running tool %s\n", event.ToolName)
		case llm.EventToolResult:
			if event.Message != nil {
				for _, part := range event.Message.Parts {
					if part.Type == llm.PartToolResult && part.ToolResult != nil && part.ToolResult.IsError {
						fmt.Fprintf(os.Stderr, "• tool %s failed: %s\n", part.ToolResult.Name, part.ToolResult.Content)
					}
				}
			}
		}
	}
	if needNewline {
		fmt.Println()
	}
	return nil
}

// runInteractive reads follow-up messages from stdin until EOF.
func runInteractive(ctx context.Context, sess *chat.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprintf(os.Stderr, "session %s — empty line or Ctrl-D to exit\n", sess.ID())
	for {
		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		if err := runExchange(ctx, sess, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
