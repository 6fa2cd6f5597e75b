package hub

import (
	"fmt"
	"sort"
	"strings"
)

const (
	segmentSep = ":"
	callSep    = ","
)

// Key scopes a live subscription or a broadcast. Scope holds the ordered
// hierarchy segments (for example project then agent). Calls, when set, is a
// final segment naming specific calls.
type Key struct {
	Scope []string
	Calls []string
}

// ParseKey parses the string form "P:A" or "P:A:C1,C2". A final segment
// containing a comma is a call set. A single call ("P:A:C1") parses as a
// plain segment, which Overlaps treats the same as a one-call set.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Key{}, fmt.Errorf("hub: empty subscription key")
	}

	parts := strings.Split(s, segmentSep)
	var k Key
	for i, p := range parts {
		last := i == len(parts)-1
		if last && strings.Contains(p, callSep) {
			calls, err := parseCalls(p)
			if err != nil {
				return Key{}, err
			}
			k.Calls = calls
			continue
		}
		if p == "" {
			return Key{}, fmt.Errorf("hub: empty segment in key %q", s)
		}
		k.Scope = append(k.Scope, p)
	}
	return k, nil
}

func parseCalls(seg string) ([]string, error) {
	var calls []string
	for _, c := range strings.Split(seg, callSep) {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		calls = append(calls, c)
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("hub: empty call set")
	}
	return calls, nil
}

// NewKey builds a key from scope segments.
func NewKey(scope ...string) Key {
	return Key{Scope: append([]string(nil), scope...)}
}

// WithCalls returns a copy of k scoped to the given calls.
func (k Key) WithCalls(calls ...string) Key {
	return Key{
		Scope: append([]string(nil), k.Scope...),
		Calls: append([]string(nil), calls...),
	}
}

// IsZero reports whether the key has no segments at all.
func (k Key) IsZero() bool {
	return len(k.Scope) == 0 && len(k.Calls) == 0
}

// String renders the canonical form with call IDs sorted and deduplicated.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(strings.Join(k.Scope, segmentSep))
	if len(k.Calls) > 0 {
		if len(k.Scope) > 0 {
			b.WriteString(segmentSep)
		}
		b.WriteString(strings.Join(normalizeCalls(k.Calls), callSep))
	}
	return b.String()
}

func normalizeCalls(calls []string) []string {
	seen := make(map[string]struct{}, len(calls))
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Overlaps reports whether a broadcast at scope should reach a subscriber
// registered under k. Keys are hierarchical: they overlap when one key's
// segments are a prefix of the other's. A call set occupies the level below
// the last scope segment, so it is matched against the other key's segment
// at that depth, or intersected with the other key's call set. A key without
// a call set covers every call under its scope.
func (k Key) Overlaps(scope Key) bool {
	n := len(k.Scope)
	if len(scope.Scope) < n {
		n = len(scope.Scope)
	}
	for i := 0; i < n; i++ {
		if k.Scope[i] != scope.Scope[i] {
			return false
		}
	}

	switch {
	case len(k.Scope) > n:
		return len(scope.Calls) == 0 || contains(scope.Calls, k.Scope[n])
	case len(scope.Scope) > n:
		return len(k.Calls) == 0 || contains(k.Calls, scope.Scope[n])
	}
	if len(k.Calls) == 0 || len(scope.Calls) == 0 {
		return true
	}
	return intersects(k.Calls, scope.Calls)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, c := range a {
		set[c] = struct{}{}
	}
	for _, c := range b {
		if _, ok := set[c]; ok {
			return true
		}
	}
	return false
}
