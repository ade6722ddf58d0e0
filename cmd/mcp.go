package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/mcp"
)

var (
	flagMCPURL     string
	flagMCPCommand string
	flagMCPArgs    []string
)

func init() {
	mcpAddCmd.Flags().StringVar(&flagMCPURL, "url", "", "HTTP endpoint URL")
	mcpAddCmd.Flags().StringVar(&flagMCPCommand, "command", "", "Command to launch a stdio server")
	mcpAddCmd.Flags().StringArrayVar(&flagMCPArgs, "arg", nil, "Argument for the stdio command (repeatable)")

	mcpCmd.AddCommand(mcpListCmd)
	mcpCmd.AddCommand(mcpToolsCmd)
	mcpCmd.AddCommand(mcpAddCmd)
	mcpCmd.AddCommand(mcpRemoveCmd)
	mcpCmd.AddCommand(mcpCallCmd)
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Manage MCP tool servers",
}

func loadMCPConfig() (*mcp.Config, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	path, err := cfg.MCPConfigPath()
	if err != nil {
		return nil, "", err
	}
	mcpCfg, err := mcp.LoadConfigFromPath(path)
	if err != nil {
		return nil, "", err
	}
	return mcpCfg, path, nil
}

var mcpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured MCP servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadMCPConfig()
		if err != nil {
			return err
		}
		if len(cfg.Servers) == 0 {
			fmt.Printf("no servers configured in %s\n", path)
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTRANSPORT\tTARGET")
		for _, name := range cfg.ServerNames() {
			server := cfg.Servers[name]
			target := server.URL
			if server.TransportType() == "stdio" {
				target = server.Command
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, server.TransportType(), target)
		}
		return w.Flush()
	},
}

var mcpToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Connect to all servers and print the aggregated tool catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadMCPConfig()
		if err != nil {
			return err
		}

		router := mcp.NewRouter(newLogger())
		if err := router.Connect(cmd.Context(), cfg); err != nil {
			return err
		}
		defer router.Close()

		catalog := router.Catalog()
		if len(catalog) == 0 {
			fmt.Println("no tools available")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TOOL\tDESCRIPTION")
		for _, tool := range catalog {
			fmt.Fprintf(w, "%s\t%s\n", tool.Name, tool.Description)
		}
		return w.Flush()
	},
}

var mcpAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or update a server definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadMCPConfig()
		if err != nil {
			return err
		}

		server := mcp.ServerConfig{
			URL:     flagMCPURL,
			Command: flagMCPCommand,
			Args:    flagMCPArgs,
		}
		if err := server.Validate(); err != nil {
			return err
		}
		cfg.AddServer(args[0], server)
		if err := cfg.SaveToPath(path); err != nil {
			return err
		}
		fmt.Printf("added %s to %s\n", args[0], path)
		return nil
	},
}

var mcpRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a server definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadMCPConfig()
		if err != nil {
			return err
		}
		if !cfg.RemoveServer(args[0]) {
			return fmt.Errorf("unknown server: %s", args[0])
		}
		if err := cfg.SaveToPath(path); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", args[0])
		return nil
	},
}

var mcpCallCmd = &cobra.Command{
	Use:   "call <tool> [json-args]",
	Short: "Invoke one tool directly",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadMCPConfig()
		if err != nil {
			return err
		}

		router := mcp.NewRouter(newLogger())
		if err := router.Connect(cmd.Context(), cfg); err != nil {
			return err
		}
		defer router.Close()

		toolArgs := json.RawMessage("{}")
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("arguments are not valid JSON")
			}
			toolArgs = json.RawMessage(args[1])
		}

		result, err := router.Invoke(cmd.Context(), args[0], toolArgs)
		if err != nil {
			return err
		}
		if result.IsError {
			return fmt.Errorf("%s", result.Content)
		}
		fmt.Println(result.Content)
		return nil
	},
}
