package permission

import "sort"

// Set holds permission names.
type Set map[string]struct{}

// NewSet builds a set from the given permission names.
func NewSet(perms ...string) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// Add inserts a permission.
func (s Set) Add(p string) {
	s[p] = struct{}{}
}

// Has reports whether the permission is present.
func (s Set) Has(p string) bool {
	_, ok := s[p]
	return ok
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// Names returns the permissions sorted, for stable logs and tests.
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
