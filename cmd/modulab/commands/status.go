package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/modulab/modulab/pkg/config"
	"github.com/modulab/modulab/pkg/engine"
	"github.com/modulab/modulab/pkg/plugins"
	"github.com/modulab/modulab/pkg/provision"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <module>",
		Short: "Show a module's resource state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			module, err := lookupModule(args[0])
			if err != nil {
				return err
			}

			api, err := plugins.NewDockerClient()
			if err != nil {
				return err
			}

			env := engine.DetectEnv()
			prov, err := provision.New(module, nil, provision.NewHostRuntime(env), api)
			if err != nil {
				return err
			}

			state, err := prov.Status(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", module.Name, state)
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := config.LoadCatalog(viper.GetString("modules-dir"))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, name := range catalog.Names() {
				mod, _ := catalog.Get(name)
				line := name
				if mod.Hosting != nil {
					line += "\t" + mod.Hosting.Domain
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}
