package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/novella/catalog"
	"github.com/chazu/novella/pkg/bytecode"
)

func compileCmd(opts *globalOptions) *cobra.Command {
	var (
		output    string
		toCatalog bool
		disasm    bool
	)
	cmd := &cobra.Command{
		Use:   "compile [script.json]",
		Short: "Compile a script to its binary form",
		Long: `Compile a script JSON file into the compiled binary format.

With no argument the project entry point from novella.toml is compiled.
The output defaults to the input path with a .vnbc extension.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(opts)
			if err != nil {
				return err
			}
			in, err := p.scriptArg(args)
			if err != nil {
				return err
			}
			cs, err := p.loadCompiled(in)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if disasm {
				fmt.Fprint(out, cs.DisassembleWithName(filepath.Base(in)))
				return nil
			}

			data, err := cs.Serialize()
			if err != nil {
				return err
			}
			if output == "" {
				output = strings.TrimSuffix(in, filepath.Ext(in)) + binaryExt
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			id := bytecode.IDHex(bytecode.IDOf(data))
			log.Infof("compiled %s -> %s", in, output)
			fmt.Fprintf(out, "%s: %d events, %d bytes, id %s\n", output, cs.Len(), len(data), id)

			if toCatalog {
				c, err := catalog.Open(p.catalogPath())
				if err != nil {
					return err
				}
				defer c.Close()
				if _, err := c.Put(cmd.Context(), filepath.Base(in), cs); err != nil {
					return err
				}
				fmt.Fprintf(out, "stored in %s\n", c.Path())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file")
	cmd.Flags().BoolVar(&toCatalog, "catalog", false, "Also store the compiled script in the project catalog")
	cmd.Flags().BoolVar(&disasm, "disasm", false, "Print a disassembly instead of writing a binary")
	return cmd
}
