// Package cli implements the lessond command line.
package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/shsh-lessons/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "lessond",
		Short:         "Lesson tooling server: hot reload, lesson navigation and tests",
		Long:          "lessond watches a learner's workspace, keeps the lesson client in sync over a websocket, and runs the current lesson's tests when files change.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("workspace", ".", "learner workspace root")
	flags.String("config-dir", ".lessond", "directory holding state, projects and run history")
	_ = v.BindPFlag("workspace_root", flags.Lookup("workspace"))
	_ = v.BindPFlag("config_dir", flags.Lookup("config-dir"))

	rootCmd.AddCommand(
		newServeCmd(v),
		newSeedCmd(v),
		newRejigCmd(v),
		newStateCmd(v),
	)

	return rootCmd
}

func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
