package cli

import (
	"fmt"
	"strconv"

	"github.com/ashureev/shsh-lessons/internal/curriculum"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newSeedCmd(v *viper.Viper) *cobra.Command {
	var locale string

	cmd := &cobra.Command{
		Use:   "seed <project> <lesson> <file>",
		Short: "Print the latest seed of a file written before a lesson",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("lesson must be a positive number, got %q", args[1])
			}
			if locale == "" {
				locale = cfg.DefaultLocale
			}

			loader := &curriculum.Loader{Dir: cfg.CurriculumDir, DefaultLocale: cfg.DefaultLocale}
			c, err := loader.Load(locale, args[0])
			if err != nil {
				return err
			}
			contents, from, err := curriculum.FindSeed(c, n, args[2])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "seed for %s from lesson %d\n", args[2], from)
			_, err = fmt.Fprint(cmd.OutOrStdout(), contents)
			return err
		},
	}
	cmd.Flags().StringVar(&locale, "locale", "", "curriculum locale (default: configured default locale)")
	return cmd
}
