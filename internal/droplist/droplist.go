// Package droplist holds the per-token distinct id drop list consulted
// before any pipeline stage runs. The list is parsed once at startup and is
// read-only afterwards, so it is safe to share across concurrent pipeline
// invocations.
package droplist

import "strings"

// Wildcard drops every distinct id for a token.
const Wildcard = "*"

// List maps a token (or stringified team id) to the distinct ids whose
// events should be dropped.
type List struct {
	entries map[string]map[string]struct{}
}

// Parse builds a List from its configuration form:
// "token1:id1,id2;token2:*". Malformed segments are skipped.
func Parse(spec string) *List {
	l := &List{entries: make(map[string]map[string]struct{})}
	if spec == "" {
		return l
	}

	for _, segment := range strings.Split(spec, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		key, ids, ok := strings.Cut(segment, ":")
		if !ok || key == "" {
			continue
		}
		set := l.entries[key]
		if set == nil {
			set = make(map[string]struct{})
			l.entries[key] = set
		}
		for _, id := range strings.Split(ids, ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				set[id] = struct{}{}
			}
		}
	}
	return l
}

// ShouldDrop reports whether events for the given key and distinct id must
// be dropped. An unknown key never drops.
func (l *List) ShouldDrop(key, distinctID string) bool {
	if l == nil || key == "" {
		return false
	}
	set, ok := l.entries[key]
	if !ok {
		return false
	}
	if _, ok := set[Wildcard]; ok {
		return true
	}
	_, ok = set[distinctID]
	return ok
}

// Empty reports whether the list has no entries.
func (l *List) Empty() bool {
	return l == nil || len(l.entries) == 0
}
