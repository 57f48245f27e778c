package authctx

import (
	"fmt"
	"strings"
)

// Strategy is one way a caller may authenticate for an operation.
type Strategy int

const (
	Public Strategy = iota + 1
	User
	Private
)

func (s Strategy) String() string {
	switch s {
	case Public:
		return "public"
	case User:
		return "user"
	case Private:
		return "private"
	}
	return "unknown"
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return Public, nil
	case "user":
		return User, nil
	case "private":
		return Private, nil
	}
	return 0, fmt.Errorf("unknown auth strategy %q", s)
}

// AllowSet is the ordered, non-empty list of strategies an operation accepts.
// The zero value is invalid and resolves nothing.
type AllowSet struct {
	strategies []Strategy
}

// NewAllowSet validates names in order; unknown names, duplicates and empty sets are rejected.
func NewAllowSet(names ...string) (AllowSet, error) {
	if len(names) == 0 {
		return AllowSet{}, fmt.Errorf("allow set: empty")
	}
	seen := map[Strategy]bool{}
	out := make([]Strategy, 0, len(names))
	for _, n := range names {
		s, err := ParseStrategy(n)
		if err != nil {
			return AllowSet{}, fmt.Errorf("allow set: %w", err)
		}
		if seen[s] {
			return AllowSet{}, fmt.Errorf("allow set: duplicate strategy %q", s)
		}
		seen[s] = true
		out = append(out, s)
	}
	return AllowSet{strategies: out}, nil
}

// MustAllowSet is for route declarations; it panics on invalid input.
func MustAllowSet(names ...string) AllowSet {
	a, err := NewAllowSet(names...)
	if err != nil {
		panic(err)
	}
	return a
}

func (a AllowSet) Contains(s Strategy) bool {
	for _, x := range a.strategies {
		if x == s {
			return true
		}
	}
	return false
}

// Strategies returns a copy in declared order.
func (a AllowSet) Strategies() []Strategy {
	return append([]Strategy(nil), a.strategies...)
}

func (a AllowSet) Names() []string {
	out := make([]string, len(a.strategies))
	for i, s := range a.strategies {
		out[i] = s.String()
	}
	return out
}

func (a AllowSet) Len() int { return len(a.strategies) }
