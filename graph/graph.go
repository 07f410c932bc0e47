// Package graph derives a story graph from a compiled script: one node per
// event, edges for every possible transfer of control, and reachability
// from the start position. The graph is a read-only view and never holds
// engine state.
package graph

import (
	"fmt"

	"github.com/chazu/novella/pkg/bytecode"
)

// NodeKind classifies a node by the event it came from.
type NodeKind string

const (
	NodeDialogue        NodeKind = "dialogue"
	NodeChoice          NodeKind = "choice"
	NodeScene           NodeKind = "scene"
	NodeJump            NodeKind = "jump"
	NodeConditionalJump NodeKind = "conditional_jump"
	NodeStateChange     NodeKind = "state_change"
	NodePatch           NodeKind = "patch"
	NodeExtCall         NodeKind = "ext_call"
)

// EdgeKind classifies a transfer of control.
type EdgeKind string

const (
	EdgeSequential       EdgeKind = "sequential"
	EdgeJump             EdgeKind = "jump"
	EdgeConditionalTrue  EdgeKind = "conditional_true"
	EdgeConditionalFalse EdgeKind = "conditional_false"
	EdgeChoice           EdgeKind = "choice"
)

// previewLimit is the longest dialogue text kept verbatim in a node.
const previewLimit = 50

// Node is one event of the script. ID is its instruction pointer.
type Node struct {
	ID        uint32   `json:"id"`
	Kind      NodeKind `json:"kind"`
	Labels    []string `json:"labels,omitempty"`
	Reachable bool     `json:"reachable"`

	Speaker     string  `json:"speaker,omitempty"`
	TextPreview string  `json:"text_preview,omitempty"`
	Prompt      string  `json:"prompt,omitempty"`
	OptionCount int     `json:"option_count,omitempty"`
	Background  *string `json:"background,omitempty"`
	Condition   string  `json:"condition,omitempty"`
	Description string  `json:"description,omitempty"`
	Command     string  `json:"command,omitempty"`
}

// Edge is a directed transfer of control. OptionIndex and Label are set
// for choice edges.
type Edge struct {
	From        uint32   `json:"from"`
	To          uint32   `json:"to"`
	Kind        EdgeKind `json:"kind"`
	OptionIndex int      `json:"option_index,omitempty"`
	Label       string   `json:"label,omitempty"`
}

// StoryGraph is the control-flow graph of a compiled script.
type StoryGraph struct {
	Nodes   []Node            `json:"nodes"`
	Edges   []Edge            `json:"edges"`
	StartID uint32            `json:"start_id"`
	Labels  map[string]uint32 `json:"labels"`
}

// Stats summarizes a graph.
type Stats struct {
	TotalNodes       int `json:"total_nodes"`
	ReachableNodes   int `json:"reachable_nodes"`
	UnreachableNodes int `json:"unreachable_nodes"`
	DialogueCount    int `json:"dialogue_count"`
	ChoiceCount      int `json:"choice_count"`
	BranchCount      int `json:"branch_count"`
	EdgeCount        int `json:"edge_count"`
}

// Build derives the graph of s.
func Build(s *bytecode.Script) *StoryGraph {
	g := &StoryGraph{
		Nodes:   make([]Node, len(s.Events)),
		Edges:   []Edge{},
		StartID: s.StartIP,
		Labels:  make(map[string]uint32, len(s.Labels)),
	}
	for name, ip := range s.Labels {
		g.Labels[name] = ip
	}

	n := uint32(len(s.Events))
	for i, ev := range s.Events {
		ip := uint32(i)
		g.Nodes[i] = newNode(ip, ev)
		g.Nodes[i].Labels = s.LabelsAt(ip)

		next := func(kind EdgeKind) {
			if ip+1 < n {
				g.Edges = append(g.Edges, Edge{From: ip, To: ip + 1, Kind: kind})
			}
		}
		switch ev := ev.(type) {
		case *bytecode.Jump:
			g.Edges = append(g.Edges, Edge{From: ip, To: ev.Target, Kind: EdgeJump})
		case *bytecode.JumpIf:
			g.Edges = append(g.Edges, Edge{From: ip, To: ev.Target, Kind: EdgeConditionalTrue})
			next(EdgeConditionalFalse)
		case *bytecode.Choice:
			for idx, opt := range ev.Options {
				g.Edges = append(g.Edges, Edge{From: ip, To: opt.Target, Kind: EdgeChoice, OptionIndex: idx, Label: opt.Text})
			}
		default:
			next(EdgeSequential)
		}
	}
	g.markReachable()
	return g
}

func newNode(ip uint32, ev bytecode.Event) Node {
	node := Node{ID: ip}
	switch ev := ev.(type) {
	case *bytecode.Dialogue:
		node.Kind = NodeDialogue
		node.Speaker = ev.Speaker
		node.TextPreview = preview(ev.Text)
	case *bytecode.Choice:
		node.Kind = NodeChoice
		node.Prompt = ev.Prompt
		node.OptionCount = len(ev.Options)
	case *bytecode.Scene:
		node.Kind = NodeScene
		node.Background = ev.Background
	case *bytecode.Jump:
		node.Kind = NodeJump
	case *bytecode.JumpIf:
		node.Kind = NodeConditionalJump
		node.Condition = bytecode.CondString(ev.Cond)
	case *bytecode.SetFlag:
		node.Kind = NodeStateChange
		node.Description = fmt.Sprintf("flag[%d] = %t", ev.Flag, ev.Value)
	case *bytecode.SetVar:
		node.Kind = NodeStateChange
		node.Description = fmt.Sprintf("var[%d] = %d", ev.Var, ev.Value)
	case *bytecode.Patch:
		node.Kind = NodePatch
	case *bytecode.ExtCall:
		node.Kind = NodeExtCall
		node.Command = ev.Command
	}
	return node
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLimit {
		return text
	}
	return string(r[:previewLimit-3]) + "..."
}

// markReachable runs a breadth-first search from StartID.
func (g *StoryGraph) markReachable() {
	if int(g.StartID) >= len(g.Nodes) {
		return
	}
	out := make([][]uint32, len(g.Nodes))
	for _, e := range g.Edges {
		out[e.From] = append(out[e.From], e.To)
	}
	visited := make([]bool, len(g.Nodes))
	queue := []uint32{g.StartID}
	visited[g.StartID] = true
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, to := range out[id] {
			if int(to) < len(visited) && !visited[to] {
				visited[to] = true
				queue = append(queue, to)
			}
		}
	}
	for i := range g.Nodes {
		g.Nodes[i].Reachable = visited[i]
	}
}

// Stats returns node, edge and branch counts.
func (g *StoryGraph) Stats() Stats {
	st := Stats{TotalNodes: len(g.Nodes), EdgeCount: len(g.Edges)}
	conditionals := 0
	for _, n := range g.Nodes {
		if n.Reachable {
			st.ReachableNodes++
		}
		switch n.Kind {
		case NodeDialogue:
			st.DialogueCount++
		case NodeChoice:
			st.ChoiceCount++
		case NodeConditionalJump:
			conditionals++
		}
	}
	st.UnreachableNodes = st.TotalNodes - st.ReachableNodes
	st.BranchCount = st.ChoiceCount + conditionals
	return st
}

// UnreachableNodes returns the ids of nodes not reachable from the start.
func (g *StoryGraph) UnreachableNodes() []uint32 {
	var ids []uint32
	for _, n := range g.Nodes {
		if !n.Reachable {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// Node returns the node with id.
func (g *StoryGraph) Node(id uint32) (*Node, bool) {
	if int(id) >= len(g.Nodes) {
		return nil, false
	}
	return &g.Nodes[id], true
}

// Outgoing returns the edges leaving id.
func (g *StoryGraph) Outgoing(id uint32) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// Incoming returns the edges entering id.
func (g *StoryGraph) Incoming(id uint32) []Edge {
	var in []Edge
	for _, e := range g.Edges {
		if e.To == id {
			in = append(in, e)
		}
	}
	return in
}

// FindByLabel returns the node a label points at.
func (g *StoryGraph) FindByLabel(label string) (uint32, bool) {
	id, ok := g.Labels[label]
	return id, ok
}
