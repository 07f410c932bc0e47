package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/novella/manifest"
	"github.com/chazu/novella/schema"
)

func migrateCmd() *cobra.Command {
	var (
		write  bool
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "migrate <script.json|novella.toml>",
		Short: "Upgrade a script or manifest to the current schema version",
		Long: `Upgrade a script JSON file or a project manifest to the current schema.

The migrated document is printed to stdout unless --write is given, in
which case the file is rewritten in place. Current documents are left
untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			input, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			var (
				output []byte
				report schema.Report
			)
			if strings.EqualFold(filepath.Ext(path), ".toml") {
				output, report, err = manifest.MigrateTOML(input)
			} else {
				output, report, err = schema.MigrateScriptJSON(input)
				if err == nil {
					var buf bytes.Buffer
					if err = json.Indent(&buf, output, "", "  "); err == nil {
						buf.WriteByte('\n')
						output = buf.Bytes()
					}
				}
			}
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			errOut := cmd.ErrOrStderr()
			if !report.Changed() {
				fmt.Fprintf(errOut, "%s is already at schema %s\n", path, report.To)
				if !write && !dryRun {
					_, err = cmd.OutOrStdout().Write(input)
				}
				return err
			}
			for _, e := range report.Entries {
				fmt.Fprintf(errOut, "  %s: %s -> %s\n", e.StepID, e.FromVersion, e.ToVersion)
			}

			switch {
			case dryRun:
				return nil
			case write:
				if err := os.WriteFile(path, output, 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", path, err)
				}
				log.Infof("migrated %s from %s to %s", path, report.From, report.To)
				fmt.Fprintf(errOut, "wrote %s\n", path)
				return nil
			default:
				_, err := cmd.OutOrStdout().Write(output)
				return err
			}
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "Rewrite the file in place")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Only report the steps that would be applied")
	return cmd
}
