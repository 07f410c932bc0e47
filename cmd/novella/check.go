package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/novella/compiler"
	"github.com/chazu/novella/dryrun"
	"github.com/chazu/novella/graph"
)

// checkResult is the outcome of checking one file.
type checkResult struct {
	path        string
	err         error
	events      int
	unreachable []uint32
	mismatches  []dryrun.Mismatch
}

func checkCmd(opts *globalOptions) *cobra.Command {
	var (
		policyName string
		jobs       int
	)
	cmd := &cobra.Command{
		Use:   "check [script.json|dir ...]",
		Short: "Validate scripts: parse, compile and dry-run each one",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(opts)
			if err != nil {
				return err
			}
			choices, err := dryrun.ParsePolicy(policyName)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				entry, err := p.scriptArg(nil)
				if err != nil {
					return err
				}
				args = []string{entry}
			}
			paths, err := expandScripts(args)
			if err != nil {
				return err
			}

			results := make([]checkResult, len(paths))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(jobs)
			for i, path := range paths {
				g.Go(func() error {
					if err := ctx.Err(); err != nil {
						return err
					}
					results[i] = p.check(path, choices)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				switch {
				case r.err != nil:
					failed++
					fmt.Fprintf(out, "FAIL %v\n", r.err)
				case len(r.mismatches) > 0:
					failed++
					fmt.Fprintf(out, "FAIL %s: %d parity mismatch(es)\n", r.path, len(r.mismatches))
					for _, m := range r.mismatches {
						fmt.Fprintf(out, "  %s\n", m)
					}
				default:
					fmt.Fprintf(out, "ok   %s (%d events)\n", r.path, r.events)
				}
				for _, id := range r.unreachable {
					fmt.Fprintf(out, "  warning: event %d is unreachable\n", id)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d script(s) failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&policyName, "policy", "first", "Choice policy for the dry run: first, last, alternating or fixed:0,1,0")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.GOMAXPROCS(0), "Number of scripts checked concurrently")
	return cmd
}

func (p *project) check(path string, choices dryrun.Policy) checkResult {
	r := checkResult{path: path}
	raw, err := p.readScript(path)
	if err != nil {
		r.err = err
		return r
	}
	cs, err := compiler.Compile(raw, p.policy, p.limits)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", path, err)
		return r
	}
	r.events = cs.Len()
	r.unreachable = graph.Build(cs).UnreachableNodes()

	report, mismatches, err := dryrun.Verify(raw, p.policy, p.limits, choices)
	if err != nil {
		r.err = fmt.Errorf("%s: %w", path, err)
		return r
	}
	if report.StopReason == dryrun.RuntimeError {
		r.err = fmt.Errorf("%s: dry run failed at event %d: %s", path, derefIP(report.FailingIP), report.StopMessage)
		if report.Err != nil {
			r.err = fmt.Errorf("%s: dry run failed at event %d: %w", path, derefIP(report.FailingIP), report.Err)
		}
	}
	r.mismatches = mismatches
	return r
}

func derefIP(ip *uint32) uint32 {
	if ip == nil {
		return 0
	}
	return *ip
}

// expandScripts replaces directories with the .json files beneath them.
func expandScripts(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && path != arg && len(d.Name()) > 1 && d.Name()[0] == '.' {
				return filepath.SkipDir
			}
			if !d.IsDir() && filepath.Ext(path) == ".json" {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(paths)
	return paths, nil
}
