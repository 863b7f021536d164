package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/aware-sync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			out := cmd.OutOrStdout()

			if cc.Flags.JSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")

				return enc.Encode(cc.Cfg)
			}

			return config.RenderEffective(cc.Cfg, config.ResolvePath(cc.Env, cc.CLI), out)
		},
	}
}
