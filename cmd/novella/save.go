package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chazu/novella/catalog"
	"github.com/chazu/novella/dryrun"
	"github.com/chazu/novella/pkg/bytecode"
	"github.com/chazu/novella/save"
	"github.com/chazu/novella/vm"
)

func saveCmd(opts *globalOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "List, inspect and manage save slots",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Save directory (default: from novella.toml or .novella/saves)")

	open := func() (*project, *save.SlotStore, error) {
		p, err := loadProject(opts)
		if err != nil {
			return nil, nil, err
		}
		key, err := p.saveKey()
		if err != nil {
			return nil, nil, err
		}
		if dir == "" {
			dir = p.savePath()
		}
		store, err := save.NewSlotStore(dir, key)
		if err != nil {
			return nil, nil, err
		}
		return p, store, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List save slots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := open()
			if err != nil {
				return err
			}
			metas, err := store.List()
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No saves.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLOT\tUPDATED\tPOSITION\tCHAPTER\tSUMMARY")
			for _, m := range metas {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", slotOf(m), m.Updated().Format("2006-01-02 15:04"), m.Position, m.ChapterLabel, m.SummaryLine)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect <slot>",
		Short: "Decode a save slot and print its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, store, err := open()
			if err != nil {
				return err
			}
			slot, err := save.ParseSlot(args[0])
			if err != nil {
				return err
			}
			d, err := store.Load(slot)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			id := bytecode.IDHex(d.ScriptID)
			fmt.Fprintf(out, "slot:     %s\n", slot)
			fmt.Fprintf(out, "script:   %s", id)
			if name := scriptName(cmd, p, id); name != "" {
				fmt.Fprintf(out, " (%s)", name)
			}
			fmt.Fprintln(out)
			if m, err := store.Metadata(slot); err == nil {
				fmt.Fprintf(out, "updated:  %s\n", m.Updated().Format("2006-01-02 15:04:05"))
				if m.SaveID != "" {
					fmt.Fprintf(out, "save id:  %s\n", m.SaveID)
				}
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(d.State)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <slot>",
		Short: "Delete a save slot and its backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := open()
			if err != nil {
				return err
			}
			slot, err := save.ParseSlot(args[0])
			if err != nil {
				return err
			}
			return store.Delete(slot)
		},
	})

	var (
		steps      int
		policyName string
	)
	create := &cobra.Command{
		Use:   "create <slot> [script.json]",
		Short: "Run a script headless and save the state it reaches",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, store, err := open()
			if err != nil {
				return err
			}
			slot, err := save.ParseSlot(args[0])
			if err != nil {
				return err
			}
			path, err := p.scriptArg(args[1:])
			if err != nil {
				return err
			}
			choices, err := dryrun.ParsePolicy(policyName)
			if err != nil {
				return err
			}
			raw, err := p.readScript(path)
			if err != nil {
				return err
			}
			e, err := vm.New(raw, p.policy, p.limits, p.options...)
			if err != nil {
				return err
			}
			report := dryrun.RunWithLimit(e, choices, steps)
			if report.StopReason == dryrun.RuntimeError {
				return fmt.Errorf("%s: %s", path, report.StopMessage)
			}
			id, err := e.Script().ID()
			if err != nil {
				return err
			}
			meta, err := store.Save(slot, &save.Data{ScriptID: id, State: e.State()})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s at position %d\n", slot, meta.Position)
			return nil
		},
	}
	create.Flags().IntVar(&steps, "steps", 1, "Number of events to run before saving")
	create.Flags().StringVar(&policyName, "policy", "first", "Choice policy: first, last, alternating or fixed:0,1,0")
	cmd.AddCommand(create)

	return cmd
}

func slotOf(m save.Metadata) save.Slot {
	if m.Quick {
		return save.QuickSlot
	}
	return save.Slot(m.SlotID)
}

// scriptName looks id up in the project catalog without creating one.
func scriptName(cmd *cobra.Command, p *project, id string) string {
	path := p.catalogPath()
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	c, err := catalog.Open(path)
	if err != nil {
		log.Warningf("opening catalog: %v", err)
		return ""
	}
	defer c.Close()
	e, err := c.Lookup(cmd.Context(), id)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			log.Warningf("catalog lookup %s: %v", id, err)
		}
		return ""
	}
	return e.Name
}
