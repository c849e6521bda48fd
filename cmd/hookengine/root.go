package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hypersim/hookengine/internal/logging"
	"github.com/hypersim/hookengine/pkg/config"
)

const appName = "hookengine"

// rootOptions is shared by every subcommand. PersistentPreRunE fills cfg.
type rootOptions struct {
	configFile string

	loader *config.Loader
	cfg    *config.Config
}

// NewRootCmd creates the root command for the hookengine CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Run and inspect the hook-based plugin engine",
		Long: `hookengine drives the plugin engine from the command line. It lists the
built-in plugins and their hook bindings, runs simulations through the
BEFORE, AFTER and ON_ERROR phases, and prints the merged configuration.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file path (default searches for hookengine.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: json or human")

	cmd.AddCommand(newPluginsCmd(opts))
	cmd.AddCommand(newSimulateCmd(opts))
	cmd.AddCommand(newRPCCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))

	return cmd
}

// load reads the configuration, applies flag overrides and sets up logging.
func (o *rootOptions) load(cmd *cobra.Command) error {
	o.loader = config.NewLoader(o.configFile)

	v := o.loader.Viper()
	flags := cmd.Root().PersistentFlags()
	for key, flag := range map[string]string{"log.level": "log-level", "log.format": "log-format"} {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("binding --%s: %w", flag, err)
			}
		}
	}

	cfg, err := o.loader.Load()
	if err != nil {
		return err
	}
	o.cfg = cfg

	logging.InitLoggerTo(cmd.ErrOrStderr(), cfg.Log.Level, logging.IsHuman(cfg.Log.Format))
	return nil
}
