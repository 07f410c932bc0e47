// Novella CLI - compile, check, inspect and dry-run visual novel scripts
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/novella/pkg/vnerr"
)

var log = commonlog.GetLogger("novella.cli")

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps diagnostic codes to process exit statuses: 2 for problems
// with the script itself, 1 for everything else.
func exitCode(err error) int {
	switch vnerr.CodeOf(err) {
	case vnerr.CodeInvalidScript, vnerr.CodeSerialization, vnerr.CodeResourceLimit, vnerr.CodeSecurityPolicy:
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	var opts globalOptions
	root := &cobra.Command{
		Use:           "novella",
		Short:         "Visual novel script compiler and engine tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var path *string
			if opts.logFile != "" {
				path = &opts.logFile
			}
			commonlog.Configure(opts.verbosity, path)
		},
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")

	flags := root.PersistentFlags()
	flags.CountVarP(&opts.verbosity, "verbose", "v", "Increase log verbosity (repeatable)")
	flags.StringVar(&opts.logFile, "log", "", "Write logs to this file instead of stderr")
	flags.StringVarP(&opts.projectDir, "project", "C", "", "Project directory (default: search upward for novella.toml)")

	root.AddCommand(compileCmd(&opts))
	root.AddCommand(checkCmd(&opts))
	root.AddCommand(migrateCmd())
	root.AddCommand(graphCmd(&opts))
	root.AddCommand(dryrunCmd(&opts))
	root.AddCommand(saveCmd(&opts))
	root.AddCommand(catalogCmd(&opts))
	root.AddCommand(lspCmd(&opts))
	root.AddCommand(initCmd())
	return root
}
