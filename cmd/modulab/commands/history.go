package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/modulab/modulab/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		module string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent lifecycle runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := stores.Open(cmd.Context(), viper.GetString("db"))
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), module, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, run := range runs {
				line := fmt.Sprintf("%s  %-9s %-20s %-9s changed=%v",
					run.StartedAt.Local().Format(time.DateTime),
					run.Action, run.Module, run.Status, run.Changed)
				if run.Error != nil {
					line += "  " + *run.Error
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&module, "module", "m", "", "only show runs for this module")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show")

	return cmd
}
