package utils

// StringSet is an insertion-ordered set of strings. It is not safe for
// concurrent use.
type StringSet struct {
	seen  map[string]struct{}
	order []string
}

// NewStringSet creates a set holding items, first occurrence first.
func NewStringSet(items ...string) *StringSet {
	s := &StringSet{seen: make(map[string]struct{}, len(items))}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// Add returns true if item was newly added, false if already present.
func (s *StringSet) Add(item string) bool {
	if _, exists := s.seen[item]; exists {
		return false
	}
	s.seen[item] = struct{}{}
	s.order = append(s.order, item)
	return true
}

// Contains returns true if item is in the set.
func (s *StringSet) Contains(item string) bool {
	_, exists := s.seen[item]
	return exists
}

// Size returns the number of unique items tracked.
func (s *StringSet) Size() int {
	return len(s.order)
}

// Items returns the items in insertion order.
func (s *StringSet) Items() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
