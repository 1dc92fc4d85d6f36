package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rickchristie/mssql-mcp/internal/meta"
)

const (
	configPathEnv     = "GOMSSQLMCP_CONFIG_PATH"
	defaultConfigPath = ".gomssqlmcp/config.json"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gomssqlmcp",
		Short: "gomssqlmcp: SQL Server MCP Server",
		Long: `gomssqlmcp exposes a single SQL Server session to AI agents over the
Model Context Protocol. Agents connect at runtime with the connect tool,
then run queries and browse databases, schemas and tables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gomssqlmcp %s\n", meta.Version)
		},
	}

	rootCmd.AddCommand(newServeCmd(), newConfigureCmd(), newDoctorCmd(), versionCmd)
	return rootCmd
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
