package schema

import "sort"

// Set is a collection of classes keyed by name. A Set is not safe for
// concurrent mutation; owners guard it.
type Set struct {
	classes map[string]*Class
}

// NewSet returns a Set holding the system classes and then extra.
func NewSet(extra ...*Class) *Set {
	s := &Set{classes: make(map[string]*Class)}
	for _, c := range SystemClasses() {
		s.Put(c)
	}
	for _, c := range extra {
		s.Put(c)
	}
	return s
}

// Put adds or replaces a class.
func (s *Set) Put(c *Class) {
	s.classes[c.Name] = c
}

// Get returns the class named name.
func (s *Set) Get(name string) (*Class, bool) {
	c, ok := s.classes[name]
	return c, ok
}

// Has reports whether a class named name exists.
func (s *Set) Has(name string) bool {
	_, ok := s.classes[name]
	return ok
}

// Names returns the class names in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.classes))
	for name := range s.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the set.
func (s *Set) Clone() *Set {
	out := &Set{classes: make(map[string]*Class, len(s.classes))}
	for name, c := range s.classes {
		out.classes[name] = c.Clone()
	}
	return out
}
