package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hypersim/hookengine/pkg/config"
	"github.com/hypersim/hookengine/pkg/hooks"
	"github.com/hypersim/hookengine/pkg/plugin"
)

func newPluginsCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect the built-in plugins",
	}
	cmd.AddCommand(newPluginsListCmd(o))
	return cmd
}

// pluginListing is the JSON form of plugins list.
type pluginListing struct {
	Plugins []plugin.Info       `json:"plugins"`
	Hooks   map[string][]string `json:"hooks,omitempty"`
}

func newPluginsListCmd(o *rootOptions) *cobra.Command {
	var (
		format    string
		showHooks bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the configured plugins",
		Long: `List the built-in plugins as the configuration registers them, with
their effective priority and enabled state. --hooks adds the handler order
of every hook type.`,
		Example: `  hookengine plugins list
  hookengine plugins list --hooks --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			engine := plugin.NewEngine(plugin.WithLogger(log.Logger))
			built, err := o.cfg.RegisterPlugins(ctx, engine, config.BuildOptions{Logger: &log.Logger})
			if err != nil {
				return fmt.Errorf("failed to register plugins: %w", err)
			}
			defer func() {
				_ = engine.Shutdown(context.WithoutCancel(ctx))
				_ = built.Close()
			}()

			listing := pluginListing{Plugins: engine.ListPlugins()}
			if showHooks {
				listing.Hooks = make(map[string][]string)
				for _, hookType := range hooks.AllHookTypes() {
					if order := engine.HandlerOrder(hookType); len(order) > 0 {
						listing.Hooks[string(hookType)] = order
					}
				}
			}

			switch format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(listing)
			case "table":
				return writePluginTable(cmd, listing)
			default:
				return fmt.Errorf("unknown format %q (want table or json)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table/json)")
	cmd.Flags().BoolVar(&showHooks, "hooks", false, "show the handler order of every hook")
	return cmd
}

func writePluginTable(cmd *cobra.Command, listing pluginListing) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)

	fmt.Fprintf(w, "NAME\tVERSION\tPRIORITY\tENABLED\tHOOKS\tDESCRIPTION\n")
	for _, p := range listing.Plugins {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%d\t%s\n", p.Name, p.Version, p.Priority, p.Enabled, p.Hooks, p.Description)
	}

	if len(listing.Hooks) > 0 {
		fmt.Fprintf(w, "\nHOOK\tHANDLERS\n")
		for _, hookType := range hooks.AllHookTypes() {
			if order, ok := listing.Hooks[string(hookType)]; ok {
				fmt.Fprintf(w, "%s\t%s\n", hookType, strings.Join(order, " > "))
			}
		}
	}
	return w.Flush()
}
