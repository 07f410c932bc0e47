package compiler

// interner keeps one copy of each distinct string. Equal strings returned
// by intern share a backing array.
type interner struct {
	index map[string]string
	order []string
}

func newInterner() *interner {
	return &interner{index: make(map[string]string)}
}

func (in *interner) intern(s string) string {
	if v, ok := in.index[s]; ok {
		return v
	}
	in.index[s] = s
	in.order = append(in.order, s)
	return s
}

func (in *interner) opt(s *string) *string {
	if s == nil {
		return nil
	}
	v := in.intern(*s)
	return &v
}

// Len returns the number of distinct strings.
func (in *interner) Len() int { return len(in.order) }

// symbols assigns dense ids to keys in discovery order.
type symbols struct {
	ids   map[string]uint32
	names []string
}

func newSymbols() *symbols {
	return &symbols{ids: make(map[string]uint32)}
}

func (s *symbols) id(key string) uint32 {
	if id, ok := s.ids[key]; ok {
		return id
	}
	id := uint32(len(s.names))
	s.ids[key] = id
	s.names = append(s.names, key)
	return id
}

func (s *symbols) count() uint32 { return uint32(len(s.names)) }
