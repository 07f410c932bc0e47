package vm

import (
	"github.com/chazu/novella/assets"
	"github.com/chazu/novella/pkg/bytecode"
)

// PeekNextAssets walks up to depth events from the instruction pointer in
// file order and returns the ids of every asset they reference:
// backgrounds, music, character names and expressions. Ids are distinct
// and in discovery order.
func (e *Engine) PeekNextAssets(depth int) []assets.ID {
	var out []assets.ID
	seen := make(map[assets.ID]struct{})
	add := func(s string) {
		id := assets.IDOf(s)
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	e.walkAhead(depth, func(ev bytecode.Event) {
		for _, ref := range assetRefs(ev, true) {
			add(ref)
		}
	})
	return out
}

// PeekNextAssetPaths is PeekNextAssets restricted to loadable paths
// (background, music, character expression) and returning the paths.
func (e *Engine) PeekNextAssetPaths(depth int) []string {
	var out []string
	seen := make(map[string]struct{})
	e.walkAhead(depth, func(ev bytecode.Event) {
		for _, ref := range assetRefs(ev, false) {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			out = append(out, ref)
		}
	})
	return out
}

func (e *Engine) walkAhead(depth int, fn func(bytecode.Event)) {
	for ip := e.state.Position; depth > 0; ip, depth = ip+1, depth-1 {
		ev := e.script.Event(ip)
		if ev == nil {
			return
		}
		fn(ev)
	}
}

func assetRefs(ev bytecode.Event, names bool) []string {
	var refs []string
	opt := func(s *string) {
		if s != nil && *s != "" {
			refs = append(refs, *s)
		}
	}
	switch ev := ev.(type) {
	case *bytecode.Scene:
		opt(ev.Background)
		opt(ev.Music)
		for _, c := range ev.Characters {
			if names {
				refs = append(refs, c.Name)
			}
			opt(c.Expression)
		}
	case *bytecode.Patch:
		opt(ev.Background)
		opt(ev.Music)
		for _, c := range ev.Add {
			if names {
				refs = append(refs, c.Name)
			}
			opt(c.Expression)
		}
		for _, u := range ev.Update {
			opt(u.Expression)
		}
	}
	return refs
}
