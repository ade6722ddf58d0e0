package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/config"
)

var (
	flagProvider string
	flagModel    string
	flagVerbose  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "Override the configured provider (anthropic, ollama, lmstudio, openai-compat)")
	rootCmd.PersistentFlags().StringVarP(&flagModel, "model", "m", "", "Override the model for the active provider")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
}

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Multi-turn streaming LLM conversations with tools",
	Long: `parley drives multi-turn conversations against streaming LLM backends,
with tool execution routed to MCP servers and sessions persisted locally.

Examples:
  parley ask "what changed in go 1.24?"
  parley ask --session 3f2a... "and what about modules?"
  parley sessions list
  parley mcp tools`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger. Warnings and errors always show;
// debug detail is opt-in.
func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// loadConfig loads configuration with CLI overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyOverrides(flagProvider, flagModel)
	return cfg, nil
}
