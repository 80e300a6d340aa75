// Package mapping resolves a document owner to the name of its owner-tag.
//
// Operators may pin specific owners to existing tags with an override
// mapping; every other owner gets a tag derived by prefixing the username.
package mapping

import (
	"maps"
	"strings"
)

// Source says how an owner-tag name was derived.
type Source int

const (
	// SourceNone means no owner-tag applies.
	SourceNone Source = iota
	// SourcePrefix means the name is prefix + owner and may be created.
	SourcePrefix
	// SourceMapping means the name came from the override mapping and must
	// already exist in the document service.
	SourceMapping
)

// String returns the source label used in logs.
func (s Source) String() string {
	switch s {
	case SourcePrefix:
		return "prefix"
	case SourceMapping:
		return "mapping"
	default:
		return "none"
	}
}

// Resolver maps owners to owner-tag names. It is immutable after New and
// safe for concurrent use.
type Resolver struct {
	prefix    string
	overrides map[string]string
	mapped    map[string]struct{}
}

// New creates a resolver for prefix and an optional override mapping.
// The mapping is copied.
func New(prefix string, overrides map[string]string) *Resolver {
	r := &Resolver{
		prefix:    prefix,
		overrides: maps.Clone(overrides),
		mapped:    make(map[string]struct{}, len(overrides)),
	}
	if r.overrides == nil {
		r.overrides = map[string]string{}
	}
	for _, tag := range r.overrides {
		r.mapped[strings.ToLower(tag)] = struct{}{}
	}
	return r
}

// Prefix returns the owner-tag prefix.
func (r *Resolver) Prefix() string {
	return r.prefix
}

// Overrides returns a copy of the override mapping.
func (r *Resolver) Overrides() map[string]string {
	return maps.Clone(r.overrides)
}

// Resolve returns the owner-tag name for owner and how it was derived.
// Names are used verbatim: no case folding or trimming.
func (r *Resolver) Resolve(owner string) (string, Source) {
	if owner == "" {
		return "", SourceNone
	}
	if tag, ok := r.overrides[owner]; ok {
		return tag, SourceMapping
	}
	return r.prefix + owner, SourcePrefix
}

// IsOwnerTag reports whether a tag name belongs to the owner-tag namespace:
// it carries the prefix or is the target of an override. Matching ignores
// case, as the document service does for tag names.
func (r *Resolver) IsOwnerTag(name string) bool {
	if n := len(r.prefix); n > 0 && len(name) >= n && strings.EqualFold(name[:n], r.prefix) {
		return true
	}
	_, ok := r.mapped[strings.ToLower(name)]
	return ok
}
