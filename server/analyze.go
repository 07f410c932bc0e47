package server

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/novella/compiler"
	"github.com/chazu/novella/dryrun"
	"github.com/chazu/novella/graph"
	"github.com/chazu/novella/pkg/bytecode"
	"github.com/chazu/novella/pkg/vnerr"
	"github.com/chazu/novella/schema"
	"github.com/chazu/novella/script"
)

// Config is the project configuration diagnostics are computed under.
type Config struct {
	Policy  compiler.Policy
	Limits  script.ResourceLimits
	Choices dryrun.Policy
}

// DefaultConfig checks scripts under the stock policy and limits and
// dry-runs them choosing the first option.
func DefaultConfig() Config {
	return Config{
		Policy:  compiler.DefaultPolicy(),
		Limits:  script.DefaultLimits(),
		Choices: dryrun.Of(dryrun.First),
	}
}

// Analysis is everything known about one version of a document.
type Analysis struct {
	Text        []byte
	Script      *script.Script
	Compiled    *bytecode.Script
	Diagnostics []protocol.Diagnostic

	outline *outline
}

var eventIndexPattern = regexp.MustCompile(`event (\d+)`)

// Analyze migrates, parses, compiles and dry-runs text, collecting every
// problem as a diagnostic. Only the first failing stage is reported;
// later stages need its output.
func Analyze(text []byte, cfg Config) *Analysis {
	a := &Analysis{Text: text, Diagnostics: []protocol.Diagnostic{}}
	if o, err := scanOutline(text); err == nil {
		a.outline = o
	}

	migrated, report, err := schema.MigrateScriptJSON(text)
	if err != nil {
		a.report(err, protocol.DiagnosticSeverityError)
		return a
	}
	source := text
	if len(report.Entries) > 0 {
		a.add(span{}, protocol.DiagnosticSeverityWarning, "vn.legacy_schema",
			fmt.Sprintf("script schema %s is out of date; run `novella migrate` to upgrade to %s", report.From, report.To))
		source = migrated
	}

	raw, err := script.FromJSONWithLimits(source, cfg.Limits)
	if err != nil {
		a.report(err, protocol.DiagnosticSeverityError)
		return a
	}
	a.Script = raw

	cs, err := compiler.Compile(raw, cfg.Policy, cfg.Limits)
	if err != nil {
		a.report(err, protocol.DiagnosticSeverityError)
		return a
	}
	a.Compiled = cs

	g := graph.Build(cs)
	for _, id := range g.UnreachableNodes() {
		n, _ := g.Node(id)
		a.add(a.outline.eventSpan(int(id)), protocol.DiagnosticSeverityHint, "vn.unreachable",
			fmt.Sprintf("event %d (%s) is unreachable from the start label", id, n.Kind))
	}

	run, mismatches, err := dryrun.Verify(raw, cfg.Policy, cfg.Limits, cfg.Choices)
	if err != nil {
		a.report(err, protocol.DiagnosticSeverityError)
		return a
	}
	if run.StopReason == dryrun.RuntimeError && run.FailingIP != nil {
		a.add(a.outline.eventSpan(int(*run.FailingIP)), protocol.DiagnosticSeverityWarning,
			string(vnerr.CodeOf(run.Err)), run.StopMessage)
	}
	for _, m := range mismatches {
		sp := span{}
		if m.EventIP != nil {
			sp = a.outline.eventSpan(int(*m.EventIP))
		}
		a.add(sp, protocol.DiagnosticSeverityWarning, "vn.parity", m.Message)
	}
	return a
}

// report turns an error into a diagnostic placed at its span, or at the
// event it names, or at the top of the document.
func (a *Analysis) report(err error, severity protocol.DiagnosticSeverity) {
	sp := span{}
	var verr *vnerr.Error
	switch {
	case errors.As(err, &verr) && verr.Span != nil:
		sp = span{verr.Span.Offset, verr.Span.Offset}
	default:
		if m := eventIndexPattern.FindStringSubmatch(err.Error()); m != nil {
			if i, convErr := strconv.Atoi(m[1]); convErr == nil {
				sp = a.outline.eventSpan(i)
			}
		}
	}
	a.add(sp, severity, string(vnerr.CodeOf(err)), err.Error())
}

func (a *Analysis) add(sp span, severity protocol.DiagnosticSeverity, code, msg string) {
	source := lspName
	a.Diagnostics = append(a.Diagnostics, protocol.Diagnostic{
		Range:    rangeOf(a.Text, sp),
		Severity: &severity,
		Code:     &protocol.IntegerOrString{Value: code},
		Source:   &source,
		Message:  msg,
	})
}

// Symbols lists the document's labels, each spanning the event it names.
func (a *Analysis) Symbols() []protocol.DocumentSymbol {
	if a.Script == nil || a.outline == nil {
		return nil
	}
	symbols := []protocol.DocumentSymbol{}
	for _, name := range a.Script.LabelNames() {
		decl, ok := a.outline.labels[name]
		if !ok {
			continue
		}
		idx := a.Script.Labels[name]
		detail := fmt.Sprintf("event %d", idx)
		if idx >= 0 && idx < len(a.Script.Events) {
			detail = fmt.Sprintf("event %d (%s)", idx, a.Script.Events[idx].Kind())
		}
		symbols = append(symbols, protocol.DocumentSymbol{
			Name:           name,
			Detail:         &detail,
			Kind:           protocol.SymbolKindKey,
			Range:          rangeOf(a.Text, decl),
			SelectionRange: rangeOf(a.Text, decl),
		})
	}
	return symbols
}

// Definition resolves the label under pos, either a target reference or
// a label declaration, to the range of the event it names.
func (a *Analysis) Definition(pos protocol.Position) (protocol.Range, bool) {
	if a.Script == nil || a.outline == nil {
		return protocol.Range{}, false
	}
	name, ok := a.nameAt(pos)
	if !ok {
		return protocol.Range{}, false
	}
	idx, ok := a.Script.Labels[name]
	if !ok || idx < 0 || idx >= len(a.outline.events) {
		return protocol.Range{}, false
	}
	return rangeOf(a.Text, a.outline.events[idx]), true
}

// References returns every target range naming the label under pos.
func (a *Analysis) References(pos protocol.Position) []protocol.Range {
	if a.outline == nil {
		return nil
	}
	name, ok := a.nameAt(pos)
	if !ok {
		return nil
	}
	var out []protocol.Range
	for _, t := range a.outline.targets {
		if t.name == name {
			out = append(out, rangeOf(a.Text, t.span))
		}
	}
	return out
}

// nameAt returns the label named at pos, by declaration or by target.
func (a *Analysis) nameAt(pos protocol.Position) (string, bool) {
	off := offset(a.Text, pos)
	if t, ok := a.outline.targetAt(off); ok {
		return t.name, true
	}
	return a.outline.labelAt(off)
}

// Hover describes the event a label under pos points at.
func (a *Analysis) Hover(pos protocol.Position) (string, bool) {
	if a.Script == nil || a.outline == nil {
		return "", false
	}
	name, ok := a.nameAt(pos)
	if !ok {
		return "", false
	}
	idx, ok := a.Script.Labels[name]
	if !ok {
		return fmt.Sprintf("**%s**\n\nundefined label", name), true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s** → event %d", name, idx)
	if idx >= 0 && idx < len(a.Script.Events) {
		ev := a.Script.Events[idx]
		fmt.Fprintf(&b, " (%s)", ev.Kind())
		if a.Compiled != nil {
			if cev := a.Compiled.Event(uint32(idx)); cev != nil {
				fmt.Fprintf(&b, "\n\n`%s %s`", cev.Kind(), bytecode.Operands(cev))
			}
		}
	}
	if refs := a.References(pos); len(refs) > 0 {
		fmt.Fprintf(&b, "\n\n%d reference(s)", len(refs))
	}
	return b.String(), true
}
