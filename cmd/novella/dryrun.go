package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/chazu/novella/dryrun"
	"github.com/chazu/novella/vm"
)

func dryrunCmd(opts *globalOptions) *cobra.Command {
	var (
		policyName string
		maxSteps   int
		format     string
		reproOut   string
		title      string
	)
	cmd := &cobra.Command{
		Use:   "dryrun [script.json]",
		Short: "Run a script headless under a choice policy and print the trace",
		Long: `Run a script without a host, resolving choices by a fixed policy and
resuming external calls immediately. The compiled run is compared against
a simulation of the raw script; any divergence is reported.

--repro writes the script, policy and trace as a repro case that
"novella dryrun verify" can replay later.`,
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
				return fmt.Errorf("%s: %w", path, err)
			}
			report := dryrun.RunWithLimit(e, choices, maxSteps)
			mismatches := dryrun.CheckParity(raw, report, choices, p.limits)

			if err := writeReport(cmd.OutOrStdout(), format, report, mismatches); err != nil {
				return err
			}

			if reproOut != "" {
				if title == "" {
					title = filepath.Base(path)
				}
				rc := dryrun.NewReproCase(title, raw, choices, report)
				if err := writeRepro(reproOut, rc); err != nil {
					return err
				}
				log.Infof("wrote repro case %s to %s", rc.ID, reproOut)
			}
			if len(mismatches) > 0 {
				return fmt.Errorf("%d parity mismatch(es)", len(mismatches))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&policyName, "policy", "first", "Choice policy: first, last, alternating or fixed:0,1,0")
	cmd.Flags().IntVar(&maxSteps, "max-steps", dryrun.DefaultMaxSteps, "Stop after this many steps")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json or yaml")
	cmd.Flags().StringVar(&reproOut, "repro", "", "Write a repro case to this file (.json or .yaml)")
	cmd.Flags().StringVar(&title, "title", "", "Title of the repro case")
	cmd.AddCommand(dryrunVerifyCmd(opts))
	return cmd
}

func dryrunVerifyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <repro.json|repro.yaml>",
		Short: "Replay a repro case and compare against its recorded trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(opts)
			if err != nil {
				return err
			}
			rc, err := readRepro(args[0])
			if err != nil {
				return err
			}
			_, mismatches, err := rc.Verify(p.policy, p.limits)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(mismatches) == 0 {
				fmt.Fprintf(out, "ok   %s (%s, %d steps)\n", rc.Title, rc.Policy.Label(), len(rc.Expected))
				return nil
			}
			fmt.Fprintf(out, "FAIL %s\n", rc.Title)
			for _, m := range mismatches {
				fmt.Fprintf(out, "  %s\n", m)
			}
			return fmt.Errorf("repro %s diverged", rc.ID)
		},
	}
}

func writeReport(w io.Writer, format string, report dryrun.Report, mismatches []dryrun.Mismatch) error {
	doc := struct {
		dryrun.Report `yaml:",inline"`
		Mismatches    []dryrun.Mismatch `json:"mismatches" yaml:"mismatches"`
	}{report, mismatches}
	if doc.Mismatches == nil {
		doc.Mismatches = []dryrun.Mismatch{}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(doc)
	case "text":
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}

	for _, st := range report.Steps {
		fmt.Fprintf(w, "%4d  %04d  %-10s %s\n", st.Step, st.EventIP, st.EventKind, st.EventSignature)
	}
	for _, c := range report.Choices {
		fmt.Fprintf(w, "choice at %04d: option %d %q -> %04d\n", c.EventIP, c.OptionIndex, c.OptionText, c.TargetIP)
	}
	fmt.Fprintf(w, "%s after %d step(s) under %s", report.StopReason, report.ExecutedSteps, report.Policy)
	if report.StopMessage != "" {
		fmt.Fprintf(w, ": %s", report.StopMessage)
	}
	fmt.Fprintln(w)
	for _, m := range mismatches {
		fmt.Fprintf(w, "mismatch: %s\n", m)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func writeRepro(path string, rc *dryrun.ReproCase) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = rc.ToYAML()
	} else {
		data, err = rc.ToJSON()
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readRepro(path string) (*dryrun.ReproCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if isYAML(path) {
		return dryrun.ParseReproYAML(data)
	}
	return dryrun.ParseReproJSON(data)
}
