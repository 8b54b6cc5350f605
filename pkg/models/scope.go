package models

// Scope is a permission level granted to a connection and, independently, to
// an agent's use of that connection. Scopes are totally ordered:
// read < write < admin.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
	ScopeAdmin Scope = "admin"
)

var scopeRank = map[Scope]int{
	ScopeRead:  1,
	ScopeWrite: 2,
	ScopeAdmin: 3,
}

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	_, ok := scopeRank[s]
	return ok
}

// Includes reports whether holding s satisfies a requirement for other.
// A higher scope covers every lower one.
func (s Scope) Includes(other Scope) bool {
	sr, ok1 := scopeRank[s]
	or, ok2 := scopeRank[other]
	return ok1 && ok2 && sr >= or
}

// ScopesInclude reports whether any granted scope satisfies required.
func ScopesInclude(granted []Scope, required Scope) bool {
	for _, s := range granted {
		if s.Includes(required) {
			return true
		}
	}
	return false
}

// ScopeSubset reports whether every scope in sub is covered by some scope in
// super. Used to enforce that an agent link's permissions never exceed the
// connection's granted scopes.
func ScopeSubset(sub, super []Scope) bool {
	for _, s := range sub {
		if !ScopesInclude(super, s) {
			return false
		}
	}
	return true
}
