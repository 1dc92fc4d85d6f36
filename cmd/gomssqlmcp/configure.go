package main

import (
	"github.com/spf13/cobra"

	"github.com/rickchristie/mssql-mcp/internal/configure"
)

func newConfigureCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Run the interactive configuration wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return configure.Run(resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file (default $"+configPathEnv+" or "+defaultConfigPath+")")
	return cmd
}
