package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chazu/novella/graph"
)

func graphCmd(opts *globalOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "graph [script.json|script.vnbc]",
		Short: "Print the control-flow graph of a script",
		Long: `Print the story graph of a script.

Formats: dot (Graphviz), json (nodes and edges), stats (summary counts).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(opts)
			if err != nil {
				return err
			}
			path, err := p.scriptArg(args)
			if err != nil {
				return err
			}
			cs, err := p.loadCompiled(path)
			if err != nil {
				return err
			}
			g := graph.Build(cs)

			out := cmd.OutOrStdout()
			switch format {
			case "dot":
				fmt.Fprint(out, g.DOT())
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(g)
			case "stats":
				st := g.Stats()
				fmt.Fprintf(out, "nodes:       %d (%d reachable, %d unreachable)\n", st.TotalNodes, st.ReachableNodes, st.UnreachableNodes)
				fmt.Fprintf(out, "edges:       %d\n", st.EdgeCount)
				fmt.Fprintf(out, "dialogue:    %d\n", st.DialogueCount)
				fmt.Fprintf(out, "choices:     %d\n", st.ChoiceCount)
				fmt.Fprintf(out, "branches:    %d\n", st.BranchCount)
				for _, id := range g.UnreachableNodes() {
					fmt.Fprintf(out, "unreachable: %d\n", id)
				}
			default:
				return fmt.Errorf("unknown format %q (want dot, json or stats)", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "dot", "Output format: dot, json or stats")
	return cmd
}
