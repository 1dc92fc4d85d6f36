package main

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/spf13/cobra"

	mssqlmcp "github.com/rickchristie/mssql-mcp"
	"github.com/rickchristie/mssql-mcp/internal/meta"
)

func newDoctorCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate the configuration and print agent connection snippets",
		RunE: func(cmd *cobra.Command, args []string) error {
			useColor := isTTY(os.Stderr.Fd())
			return doctor(cmd.ErrOrStderr(), useColor, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file (default $"+configPathEnv+" or "+defaultConfigPath+")")
	return cmd
}

func doctor(w io.Writer, useColor bool, configPath string) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "gomssqlmcp %s\n\n", meta.Version)

	config, ok := doctorValidateConfig(w, useColor, configPath)
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'gomssqlmcp doctor' again.")
		return nil
	}

	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, config)
	return nil
}

// doctorValidateConfig loads and validates the config file, printing check results.
// Returns the parsed config and true if all checks passed.
func doctorValidateConfig(w io.Writer, useColor bool, configPath string) (*mssqlmcp.ServerConfig, bool) {
	allPassed := true

	if _, err := os.Stat(configPath); err != nil {
		printCheck(w, useColor, true, fmt.Sprintf("No config file at %s, using defaults", configPath))
	}
	config, err := loadServerConfig(configPath)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Config file parses: %v", err))
		return nil, false
	}
	printCheck(w, useColor, true, fmt.Sprintf("Config loaded (%s)", configPath))

	if err := validateServerSettings(config.Server); err != nil {
		printCheck(w, useColor, false, err.Error())
		allPassed = false
	} else if config.Server.Transport == "http" {
		printCheck(w, useColor, true, fmt.Sprintf("server settings valid (http, port %d)", config.Server.Port))
	} else {
		printCheck(w, useColor, true, "server settings valid (stdio)")
	}

	if config.Pool.MaxConns < 0 {
		printCheck(w, useColor, false, "pool.max_conns is >= 0")
		allPassed = false
	}
	for _, d := range []struct{ field, value string }{
		{"pool.conn_max_lifetime", config.Pool.ConnMaxLifetime},
		{"pool.conn_max_idle_time", config.Pool.ConnMaxIdleTime},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("%s is a valid duration: %v", d.field, err))
			allPassed = false
		}
	}

	regexOK := true
	checkRegex := func(label, pattern string) {
		if pattern == "" {
			return
		}
		if _, err := regexp.Compile(pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("%s regex compiles: %v", label, err))
			regexOK = false
			allPassed = false
		}
	}
	for i, rule := range config.ErrorPrompts {
		checkRegex(fmt.Sprintf("error_prompts[%d]", i), rule.Pattern)
	}
	for i, rule := range config.Sanitization {
		checkRegex(fmt.Sprintf("sanitization[%d]", i), rule.Pattern)
		checkRegex(fmt.Sprintf("sanitization[%d].column", i), rule.Column)
	}
	for i, rule := range config.Query.TimeoutRules {
		checkRegex(fmt.Sprintf("timeout_rules[%d]", i), rule.Pattern)
	}
	for i, hook := range config.ServerHooks.BeforeQuery {
		checkRegex(fmt.Sprintf("server_hooks.before_query[%d]", i), hook.Pattern)
	}
	for i, hook := range config.ServerHooks.AfterQuery {
		checkRegex(fmt.Sprintf("server_hooks.after_query[%d]", i), hook.Pattern)
	}
	if regexOK {
		printCheck(w, useColor, true, "All regex patterns compile")
	}

	return config, allPassed
}

// printCheck prints a colored ✓ or ✗ check line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	mark, color := "✓", "\033[32m"
	if !pass {
		mark, color = "✗", "\033[31m"
	}
	if useColor {
		fmt.Fprintf(w, "  %s%s\033[0m %s\n", color, mark, msg)
	} else {
		fmt.Fprintf(w, "  %s %s\n", mark, msg)
	}
}

// printAgentSnippets prints MCP connection config snippets for various AI agents.
func printAgentSnippets(w io.Writer, useColor bool, config *mssqlmcp.ServerConfig) {
	heading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "\033[1;36m%s\033[0m\n", title)
		} else {
			fmt.Fprintln(w, title)
		}
	}
	subheading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "  \033[1m%s\033[0m\n", title)
		} else {
			fmt.Fprintf(w, "  %s\n", title)
		}
	}

	heading("Agent Connection Snippets")
	fmt.Fprintln(w)

	if config.Server.Transport != "http" {
		subheading("Claude Code")
		fmt.Fprintf(w, "  Run this command to add the server:\n\n")
		fmt.Fprintf(w, "    claude mcp add mssql -- gomssqlmcp serve\n\n")
		fmt.Fprintf(w, "  Or add to .mcp.json (project scope):\n\n")
		fmt.Fprint(w, `  {
    "mcpServers": {
      "mssql": {
        "command": "gomssqlmcp",
        "args": ["serve"]
      }
    }
  }
`)
		fmt.Fprintln(w)

		subheading("Cursor (.cursor/mcp.json)")
		fmt.Fprint(w, `  {
    "mcpServers": {
      "mssql": {
        "command": "gomssqlmcp",
        "args": ["serve"]
      }
    }
  }
`)
		return
	}

	url := fmt.Sprintf("http://localhost:%d/mcp", config.Server.Port)

	subheading("Claude Code")
	fmt.Fprintf(w, "  Run this command to add the server:\n\n")
	fmt.Fprintf(w, "    claude mcp add --transport http mssql %s\n\n", url)
	fmt.Fprintf(w, "  Or add to .mcp.json (project scope):\n\n")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "mssql": {
        "type": "http",
        "url": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	subheading("Gemini CLI (~/.gemini/settings.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "mssql": {
        "httpUrl": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	subheading("Cursor (.cursor/mcp.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "mssql": {
        "url": "%s"
      }
    }
  }
`, url)
}
