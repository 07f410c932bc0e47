package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chazu/novella/catalog"
)

func catalogCmd(opts *globalOptions) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the store of compiled scripts",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "Catalog database (default: from novella.toml or .novella/catalog.db)")

	open := func() (*catalog.Catalog, error) {
		if dbPath == "" {
			p, err := loadProject(opts)
			if err != nil {
				return nil, err
			}
			dbPath = p.catalogPath()
		}
		return catalog.Open(dbPath)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored scripts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer c.Close()
			entries, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tEVENTS\tSIZE\tCREATED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", e.ID[:12], e.Name, e.Events, e.Size, e.Created().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	})

	var output string
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a compiled script, verifying its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer c.Close()
			cs, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" {
				fmt.Fprint(cmd.OutOrStdout(), cs.DisassembleWithName(args[0]))
				return nil
			}
			data, err := cs.Serialize()
			if err != nil {
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	get.Flags().StringVarP(&output, "output", "o", "", "Write the binary here instead of printing a disassembly")
	cmd.AddCommand(get)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a script from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Delete(cmd.Context(), args[0])
		},
	})
	return cmd
}
