package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or validate the configuration",
	}
	cmd.AddCommand(newConfigShowCmd(o), newConfigValidateCmd(o))
	return cmd
}

func newConfigShowCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration as JSON",
		Long: `Print the configuration after defaults, the config file and HOOKENGINE_*
environment variables have been merged.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(o.loader.Settings())
		},
	}
}

func newConfigValidateCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and report which file was used",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// PersistentPreRunE already validated.
			source := o.loader.ConfigFile()
			if source == "" {
				source = "defaults and environment"
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid (%s)\n", source)
			return err
		},
	}
}
