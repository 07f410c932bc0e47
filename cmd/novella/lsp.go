package main

import (
	"github.com/spf13/cobra"

	"github.com/chazu/novella/dryrun"
	"github.com/chazu/novella/server"
)

func lspCmd(opts *globalOptions) *cobra.Command {
	var policyName string
	cmd := &cobra.Command{
		Use:   "lsp",
		Short: "Start the language server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(opts)
			if err != nil {
				return err
			}
			choices, err := dryrun.ParsePolicy(policyName)
			if err != nil {
				return err
			}
			cfg := server.DefaultConfig()
			cfg.Policy = p.policy
			cfg.Limits = p.limits
			cfg.Choices = choices
			return server.NewLSP(cfg).Run()
		},
	}
	cmd.Flags().StringVar(&policyName, "policy", "first", "Choice policy used for dry-run diagnostics")
	return cmd
}
