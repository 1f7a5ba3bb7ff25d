package cli

import (
	"fmt"
	"os"

	"github.com/ashureev/shsh-lessons/internal/curriculum"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRejigCmd(v *viper.Viper) *cobra.Command {
	var locale string

	cmd := &cobra.Command{
		Use:   "rejig <project>",
		Short: "Renumber a project's lessons 1..N in file order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if locale == "" {
				locale = cfg.DefaultLocale
			}

			loader := &curriculum.Loader{Dir: cfg.CurriculumDir, DefaultLocale: cfg.DefaultLocale}
			path := loader.Path(locale, args[0])
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read curriculum: %w", err)
			}

			out := curriculum.Renumber(string(data))
			c, err := curriculum.Parse(out)
			if err != nil {
				return fmt.Errorf("parse renumbered curriculum: %w", err)
			}
			if out != string(data) {
				if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
					return fmt.Errorf("write curriculum: %w", err)
				}
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d lessons\n", path, c.Len())
			return err
		},
	}
	cmd.Flags().StringVar(&locale, "locale", "", "curriculum locale (default: configured default locale)")
	return cmd
}
