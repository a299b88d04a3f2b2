package arim

import (
	"strings"
)

// AccessList decides which stations may reach this one. Entries are call
// signs, optionally ending in '*' to match every call with that prefix.
//
// A call matching the allow list is always permitted. Otherwise a call
// matching the deny list is refused. Calls matching neither are permitted
// unless an allow list is configured.
type AccessList struct {
	allow []string
	deny  []string
}

// NewAccessList builds an access list. Entries are matched
// case-insensitively; empty entries are ignored.
func NewAccessList(allow, deny []string) *AccessList {
	return &AccessList{
		allow: normalizePatterns(allow),
		deny:  normalizePatterns(deny),
	}
}

func normalizePatterns(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

// Permit reports whether call may deliver messages and queries or hold an
// ARQ session with this station.
func (a *AccessList) Permit(call Call) bool {
	if a == nil {
		return true
	}

	if matchAny(a.allow, string(call)) {
		return true
	}
	if matchAny(a.deny, string(call)) {
		return false
	}

	return len(a.allow) == 0
}

func matchAny(patterns []string, call string) bool {
	for _, p := range patterns {
		if match(p, call) {
			return true
		}
	}

	return false
}

func match(pattern, call string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(call, prefix)
	}

	return pattern == call
}
