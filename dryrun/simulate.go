package dryrun

import (
	"slices"

	"github.com/chazu/novella/script"
)

// simState is the raw simulator's view of the story: keys stay strings
// and characters are tracked by name only.
type simState struct {
	flags      map[string]bool
	vars       map[string]int32
	background *string
	music      *string
	characters []string
}

func newSimState() *simState {
	return &simState{flags: map[string]bool{}, vars: map[string]int32{}}
}

func (s *simState) clone() *simState {
	out := &simState{
		flags:      make(map[string]bool, len(s.flags)),
		vars:       make(map[string]int32, len(s.vars)),
		background: s.background,
		music:      s.music,
		characters: slices.Clone(s.characters),
	}
	for k, v := range s.flags {
		out.flags[k] = v
	}
	for k, v := range s.vars {
		out.vars[k] = v
	}
	return out
}

func (s *simState) apply(ev script.Event) {
	switch e := ev.(type) {
	case *script.Scene:
		if e.Background != nil {
			s.background = e.Background
		}
		if e.Music != nil {
			s.music = e.Music
		}
		s.characters = s.characters[:0]
		for _, c := range e.Characters {
			if !slices.Contains(s.characters, c.Name) {
				s.characters = append(s.characters, c.Name)
			}
		}
	case *script.Patch:
		if e.Background != nil {
			s.background = e.Background
		}
		if e.Music != nil {
			s.music = e.Music
		}
		for _, name := range e.Remove {
			if i := slices.Index(s.characters, name); i >= 0 {
				s.characters = slices.Delete(s.characters, i, i+1)
			}
		}
		for _, c := range e.Add {
			if !slices.Contains(s.characters, c.Name) {
				s.characters = append(s.characters, c.Name)
			}
		}
	case *script.SetFlag:
		s.flags[e.Key] = e.Value
	case *script.SetVar:
		s.vars[e.Key] = e.Value
	}
}

func (s *simState) eval(c script.Cond) bool {
	switch c.Kind {
	case script.CondFlag:
		return s.flags[c.Key] == c.IsSet
	case script.CondVarCmp:
		return c.Op.Eval(s.vars[c.Key], c.Value)
	}
	return false
}

// overCap reports whether the visible characters exceed the runtime cap.
func (s *simState) overCap(limits script.ResourceLimits) bool {
	return limits.MaxCharacters > 0 && len(s.characters) > limits.MaxCharacters
}

// Simulate walks raw directly, without compiling it, under policy and
// returns a trace shaped like the one Run records for the compiled script.
// The walk stops at the end of the script, after maxSteps steps, at a
// transfer it cannot resolve (unknown label or empty choice), or on the
// step where a scene or patch pushes the characters past
// limits.MaxCharacters.
func Simulate(raw *script.Script, maxSteps int, policy Policy, limits script.ResourceLimits) []StepTrace {
	out := []StepTrace{}
	st := newSimState()
	cursor := 0
	ip := raw.StartIndex()

	for step := 0; ip >= 0 && ip < len(raw.Events) && step < maxSteps; step++ {
		ev := raw.Events[ip]
		out = append(out, StepTrace{
			Step:             step,
			EventIP:          uint32(ip),
			EventKind:        ev.Kind().String(),
			EventSignature:   RawSignature(ev),
			VisualBackground: st.background,
			VisualMusic:      st.music,
			CharacterCount:   len(st.characters),
		})

		st.apply(ev)
		if st.overCap(limits) {
			return out
		}
		next := ip + 1
		switch e := ev.(type) {
		case *script.Jump:
			target, ok := raw.Labels[e.Target]
			if !ok {
				return out
			}
			next = target
		case *script.JumpIf:
			if st.eval(e.Cond) {
				target, ok := raw.Labels[e.Target]
				if !ok {
					return out
				}
				next = target
			}
		case *script.Choice:
			idx := policy.Select(step, len(e.Options), cursor)
			cursor++
			if idx >= len(e.Options) {
				return out
			}
			target, ok := raw.Labels[e.Options[idx].Target]
			if !ok {
				return out
			}
			next = target
		}
		ip = next
	}
	return out
}

// EnumerateRoutes explores every choice branch of raw depth-first and
// returns the distinct option paths, sorted, each usable as a Fixed policy.
// Exploration of a route stops at the end of the script, after maxSteps
// steps or after maxDepth choices.
func EnumerateRoutes(raw *script.Script, maxSteps, maxRoutes, maxDepth int) [][]int {
	type frame struct {
		ip      int
		steps   int
		choices []int
		state   *simState
	}

	var routes [][]int
	stack := []frame{{ip: raw.StartIndex(), state: newSimState()}}
	for len(stack) > 0 && len(routes) < maxRoutes {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.steps >= maxSteps || f.ip < 0 || f.ip >= len(raw.Events) {
			routes = append(routes, f.choices)
			continue
		}

		ev := raw.Events[f.ip]
		if choice, ok := ev.(*script.Choice); ok {
			if len(choice.Options) == 0 || len(f.choices) >= maxDepth {
				routes = append(routes, f.choices)
				continue
			}
			pushed := false
			for idx := len(choice.Options) - 1; idx >= 0; idx-- {
				target, ok := raw.Labels[choice.Options[idx].Target]
				if !ok {
					continue
				}
				stack = append(stack, frame{
					ip:      target,
					steps:   f.steps + 1,
					choices: append(slices.Clone(f.choices), idx),
					state:   f.state.clone(),
				})
				pushed = true
			}
			if !pushed {
				routes = append(routes, f.choices)
			}
			continue
		}

		f.state.apply(ev)
		next := f.ip + 1
		switch e := ev.(type) {
		case *script.Jump:
			target, ok := raw.Labels[e.Target]
			if !ok {
				routes = append(routes, f.choices)
				continue
			}
			next = target
		case *script.JumpIf:
			if f.state.eval(e.Cond) {
				target, ok := raw.Labels[e.Target]
				if !ok {
					routes = append(routes, f.choices)
					continue
				}
				next = target
			}
		}
		f.ip = next
		f.steps++
		stack = append(stack, f)
	}

	if len(routes) == 0 {
		routes = append(routes, nil)
	}
	for i, r := range routes {
		if r == nil {
			routes[i] = []int{}
		}
	}
	slices.SortFunc(routes, slices.Compare[[]int])
	routes = slices.CompactFunc(routes, slices.Equal[[]int])
	if len(routes) > maxRoutes {
		routes = routes[:maxRoutes]
	}
	return routes
}
