package cli

import (
	"fmt"
	"log/slog"

	"github.com/ashureev/shsh-lessons/internal/domain"
	"github.com/ashureev/shsh-lessons/internal/state"
	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type stateView struct {
	State   domain.WorkspaceState `json:"state"`
	Project *domain.ProjectConfig `json:"project"`
}

func newStateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the workspace state and the current project's config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: parseLevel(cfg.LogLevel),
			}))
			store := state.NewStore(cfg.StateFile, cfg.ProjectsFile, cfg.DefaultLocale, logger)

			view := stateView{State: store.GetState(cmd.Context())}
			if view.State.HasProject() {
				pc := store.GetProjectConfig(cmd.Context(), view.State.Project())
				view.Project = &pc
			}

			out, err := sonic.ConfigStd.MarshalIndent(view, "", "  ")
			if err != nil {
				return fmt.Errorf("encode state: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}
