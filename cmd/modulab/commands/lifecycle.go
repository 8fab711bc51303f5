package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/modulab/modulab/pkg/config"
	"github.com/modulab/modulab/pkg/engine"
	"github.com/modulab/modulab/pkg/plugins"
	"github.com/modulab/modulab/pkg/provision"
	"github.com/modulab/modulab/pkg/stores"
	"github.com/modulab/modulab/pkg/telemetry"
)

func newInstallCommand() *cobra.Command {
	return newLifecycleCommand("install", "Install a module",
		func(ctx context.Context, p provision.Provisioner) (*engine.Report, error) {
			return p.Install(ctx)
		})
}

func newRemoveCommand() *cobra.Command {
	return newLifecycleCommand("remove", "Remove an installed module",
		func(ctx context.Context, p provision.Provisioner) (*engine.Report, error) {
			return p.Remove(ctx)
		})
}

func newStartCommand() *cobra.Command {
	return newLifecycleCommand("start", "Start a module's workload",
		func(ctx context.Context, p provision.Provisioner) (*engine.Report, error) {
			return p.Start(ctx)
		})
}

func newStopCommand() *cobra.Command {
	return newLifecycleCommand("stop", "Stop a module's workload",
		func(ctx context.Context, p provision.Provisioner) (*engine.Report, error) {
			return p.Stop(ctx)
		})
}

// newLifecycleCommand builds one of the four lifecycle subcommands. They
// share all their wiring and differ only in the provisioner method run.
func newLifecycleCommand(use, short string, run func(context.Context, provision.Provisioner) (*engine.Report, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <module>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			logger, err := newLogger()
			if err != nil {
				return err
			}
			log := logger.NewComponentLogger("cli").Zerolog()

			metrics := telemetry.NewMetrics()
			serveMetrics(metrics, log)

			module, err := lookupModule(args[0])
			if err != nil {
				return err
			}

			env := engine.DetectEnv()

			api, err := plugins.NewDockerClient()
			if err != nil {
				return err
			}

			opts := []engine.RunnerOption{
				engine.WithLogger(logger.NewComponentLogger("runner").Zerolog()),
				engine.WithMetrics(metrics),
			}

			// History is best effort: a broken database never blocks a run.
			store, err := stores.Open(ctx, viper.GetString("db"))
			if err != nil {
				log.Warn().Err(err).Msg("Run history unavailable")
			} else {
				defer store.Close()
				opts = append(opts, engine.WithRecorder(stores.NewRunRecorder(store)))
			}

			runner := engine.NewRunner(plugins.NewRegistry(api), env, opts...)
			prov, err := provision.New(module, runner, provision.NewHostRuntime(env), api)
			if err != nil {
				return err
			}

			report, runErr := run(ctx, prov)
			printReport(cmd, report)
			return runErr
		},
	}
}

// lookupModule loads the catalog and resolves one descriptor.
func lookupModule(name string) (*config.Module, error) {
	catalog, err := config.LoadCatalog(viper.GetString("modules-dir"))
	if err != nil {
		return nil, err
	}
	return catalog.Get(name)
}

// printReport writes the per-task outcome table to stdout.
func printReport(cmd *cobra.Command, report *engine.Report) {
	if report == nil {
		return
	}

	out := cmd.OutOrStdout()
	for _, res := range report.Results {
		marker := "ok"
		switch {
		case res.Err != nil:
			marker = "failed"
		case res.Changed:
			marker = "changed"
		}

		line := fmt.Sprintf("%-8s %s", marker, res.Label)
		if res.Message != "" {
			line += ": " + res.Message
		}
		if res.Err != nil {
			line += ": " + res.Err.Error()
		}
		fmt.Fprintln(out, line)
	}

	status := "succeeded"
	if report.Err() != nil {
		status = "failed"
	}
	fmt.Fprintf(out, "\n%s %s %s (changed: %v)\n", report.Action, report.Module, status, report.Changed())
}
