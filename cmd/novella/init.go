package main

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/novella/manifest"
)

//go:embed templates/main.json
var starterScript []byte

func initCmd() *cobra.Command {
	var (
		name   string
		author string
	)
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold a new project with a manifest and a starter script",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			if strings.TrimSpace(name) == "" {
				abs, err := filepath.Abs(dir)
				if err != nil {
					return err
				}
				name = filepath.Base(abs)
			}
			return runInit(cmd, dir, name, author)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Project name (default: directory name)")
	cmd.Flags().StringVar(&author, "author", os.Getenv("USER"), "Project author")
	return cmd
}

func runInit(cmd *cobra.Command, dir, name, author string) error {
	manifestPath := filepath.Join(dir, manifest.FileName)
	if _, err := os.Stat(manifestPath); err == nil {
		return fmt.Errorf("%s already exists", manifestPath)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	m := manifest.New(name, author)
	if err := m.Validate(); err != nil {
		return err
	}
	if err := m.Save(manifestPath); err != nil {
		return err
	}

	entry := filepath.Join(dir, m.Settings.EntryPoint)
	if _, err := os.Stat(entry); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "kept existing %s\n", entry)
	} else if err := os.WriteFile(entry, starterScript, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", entry, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", manifestPath)
	return nil
}
