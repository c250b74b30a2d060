package models

import "strings"

// Scopes is an ordered set of scope values. Order is first appearance.
type Scopes []string

// ParseScopes splits a space-delimited scope parameter, dropping duplicates.
func ParseScopes(s string) Scopes {
	return union(nil, strings.Fields(s))
}

func (s Scopes) String() string {
	return strings.Join(s, " ")
}

// Contains reports whether v is in the set.
func (s Scopes) Contains(v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every value of o is in s.
func (s Scopes) ContainsAll(o Scopes) bool {
	for _, v := range o {
		if !s.Contains(v) {
			return false
		}
	}
	return true
}

// Union keeps every value of s, in order, followed by the new values of o.
func (s Scopes) Union(o Scopes) Scopes {
	return union(s, o)
}

// Remove returns s without the values of o.
func (s Scopes) Remove(o Scopes) Scopes {
	out := make(Scopes, 0, len(s))
	for _, v := range s {
		if !o.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

// Intersect returns the values of s that are also in o, in the order of s.
func (s Scopes) Intersect(o Scopes) Scopes {
	out := make(Scopes, 0, len(s))
	for _, v := range s {
		if o.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

// HasOpenID reports whether the openid scope was requested.
func (s Scopes) HasOpenID() bool {
	return s.Contains(ScopeOpenID)
}

// ScopeOpenID marks an OpenID Connect request.
const ScopeOpenID = "openid"

func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
