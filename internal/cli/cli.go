// Package cli wires the dicengine commands.
package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"dicengine/internal/config"
	"dicengine/internal/field"
)

// Root carries the shared command dependencies.
type Root struct {
	cfg *config.Config
	log *slog.Logger
}

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger) *cobra.Command {
	root := &Root{cfg: cfg, log: log}

	rootCmd := &cobra.Command{
		Use:   "dicengine",
		Short: "dicengine is a digital image correlation engine",
		Long: `dicengine correlates subsets between a reference image and a sequence of
deformed images, producing full-field or tracked displacement, rotation, and
strain results.`,
	}

	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newFieldsCmd(root))
	rootCmd.AddCommand(newParamsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newFieldsCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List the per-point result fields",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range field.Names() {
				cmd.Println(name)
			}
		},
	}
}

func newParamsCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "List the accepted correlation parameter keys",
		Run: func(cmd *cobra.Command, args []string) {
			for _, key := range config.ValidParams() {
				cmd.Println(key)
			}
		},
	}
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate dicengine configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Configuration:\n\n")
			fmt.Printf("Database Path: %s\n", root.cfg.Paths.DatabasePath)
			fmt.Printf("Default Output: %s\n", root.cfg.Paths.DefaultOutput)
			fmt.Printf("Workers: %d\n", root.cfg.Processing.Workers)
			fmt.Printf("Log Level: %s\n", root.cfg.Logging.Level)
			fmt.Printf("Log Format: %s\n", root.cfg.Logging.Format)
			fmt.Printf("Log Directory: %s\n", root.cfg.Logging.LogDir)
			fmt.Printf("Monitor Enabled: %v\n", root.cfg.Monitor.Enabled)
			fmt.Printf("Monitor Port: %d\n", root.cfg.Monitor.Port)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.cfg.Processing.Workers < 0 {
				return fmt.Errorf("workers must be non-negative, got %d", root.cfg.Processing.Workers)
			}
			level := strings.ToLower(root.cfg.Logging.Level)
			switch level {
			case "", "debug", "info", "warn", "warning", "error":
			default:
				return fmt.Errorf("unknown log level %q", root.cfg.Logging.Level)
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Println("Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("dicengine v1.0.0")
		},
	}
}
