package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/session"
)

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored conversations",
}

func openStore() (session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dbPath, err := cfg.SessionDBPath()
	if err != nil {
		return nil, err
	}
	return session.NewStore(true, dbPath)
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		summaries, err := store.List(cmd.Context(), 50, 0)
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("no sessions")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUPDATED\tMSGS\tPROVIDER\tSUMMARY")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				s.ID[:8], s.UpdatedAt.Format("2006-01-02 15:04"),
				s.MessageCount, s.Provider, s.Summary)
		}
		return w.Flush()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a session's messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveSessionID(cmd, store, args[0])
		if err != nil {
			return err
		}

		messages, err := store.GetMessages(cmd.Context(), id)
		if err != nil {
			return err
		}
		for _, msg := range messages {
			fmt.Printf("[%s]\n", msg.Role)
			for _, part := range msg.Parts {
				switch part.Type {
				case llm.PartText:
					fmt.Println(part.Text)
				case llm.PartReasoning:
					fmt.Printf("(reasoning) %s\n", part.Text)
				case llm.PartToolCall:
					if part.ToolCall != nil {
						fmt.Printf("(tool call) %s %s\n", part.ToolCall.Name, string(part.ToolCall.Arguments))
					}
				case llm.PartToolResult:
					if part.ToolResult != nil {
						fmt.Printf("(tool result) %s: %s\n", part.ToolResult.Name, part.ToolResult.Content)
					}
				}
			}
			fmt.Println()
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveSessionID(cmd, store, args[0])
		if err != nil {
			return err
		}
		if err := store.Delete(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", id)
		return nil
	},
}

// resolveSessionID accepts a full id or an unambiguous prefix.
func resolveSessionID(cmd *cobra.Command, store session.Store, arg string) (string, error) {
	summaries, err := store.List(cmd.Context(), 0, 0)
	if err != nil {
		return "", err
	}
	var match string
	for _, s := range summaries {
		if s.ID == arg {
			return s.ID, nil
		}
		if len(arg) >= 4 && len(s.ID) >= len(arg) && s.ID[:len(arg)] == arg {
			if match != "" {
				return "", fmt.Errorf("ambiguous session id prefix: %s", arg)
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("session not found: %s", arg)
	}
	return match, nil
}
