package graph

import (
	"fmt"
	"strings"
)

// DOT renders the graph for Graphviz. Unreachable nodes are red and the
// start node green; choices and conditionals are diamonds, jumps ellipses.
func (g *StoryGraph) DOT() string {
	var sb strings.Builder
	sb.WriteString("digraph StoryGraph {\n")
	sb.WriteString("    rankdir=TB;\n")
	sb.WriteString("    node [shape=box];\n\n")

	for _, n := range g.Nodes {
		color := "black"
		switch {
		case !n.Reachable:
			color = "red"
		case n.ID == g.StartID:
			color = "green"
		}
		fmt.Fprintf(&sb, "    n%d [label=\"%s\" shape=%s color=%s];\n", n.ID, dotEscape(nodeLabel(n)), nodeShape(n.Kind), color)
	}
	sb.WriteString("\n")

	for _, e := range g.Edges {
		label := ""
		if e.Label != "" {
			label = fmt.Sprintf(" label=\"%s\"", dotEscape(e.Label))
		}
		fmt.Fprintf(&sb, "    n%d -> n%d [style=%s%s];\n", e.From, e.To, edgeStyle(e.Kind), label)
	}
	sb.WriteString("}\n")
	return sb.String()
}

func nodeLabel(n Node) string {
	switch n.Kind {
	case NodeDialogue:
		return fmt.Sprintf("[%d] %s: %s", n.ID, n.Speaker, n.TextPreview)
	case NodeChoice:
		return fmt.Sprintf("[%d] Choice: %s (%d options)", n.ID, n.Prompt, n.OptionCount)
	case NodeScene:
		bg := "none"
		if n.Background != nil {
			bg = *n.Background
		}
		return fmt.Sprintf("[%d] Scene: %s", n.ID, bg)
	case NodeJump:
		return fmt.Sprintf("[%d] Jump", n.ID)
	case NodeConditionalJump:
		return fmt.Sprintf("[%d] If: %s", n.ID, n.Condition)
	case NodeStateChange:
		return fmt.Sprintf("[%d] %s", n.ID, n.Description)
	case NodePatch:
		return fmt.Sprintf("[%d] Patch", n.ID)
	case NodeExtCall:
		return fmt.Sprintf("[%d] Call: %s", n.ID, n.Command)
	}
	return fmt.Sprintf("[%d]", n.ID)
}

func nodeShape(k NodeKind) string {
	switch k {
	case NodeChoice, NodeConditionalJump:
		return "diamond"
	case NodeJump:
		return "ellipse"
	}
	return "box"
}

func edgeStyle(k EdgeKind) string {
	switch k {
	case EdgeJump:
		return "dashed"
	case EdgeConditionalTrue:
		return "bold"
	case EdgeConditionalFalse:
		return "dotted"
	}
	return "solid"
}

func dotEscape(s string) string {
	return strings.NewReplacer(`"`, "'", "\n", `\n`, `\`, `\\`).Replace(s)
}
