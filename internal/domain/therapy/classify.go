package therapy

import "strings"

// RefKind is the classifier's verdict for a namespaced identifier.
type RefKind int

const (
	// RefOtherIdentifier marks an identifier that resolves to a concept
	// within this normalized space.
	RefOtherIdentifier RefKind = iota
	// RefXref marks an identifier from a source the normalizer does not
	// itself ingest. Informational only.
	RefXref
)

// Registry is the set of namespace prefixes belonging to normalizer-native
// sources. Prefixes are stored lowercased.
type Registry map[string]struct{}

// NativeRegistry derives the registry from the enumerated source list. It is
// rebuilt from SourceNames on every call so the registry follows the
// enumeration, never a hard-coded copy.
func NativeRegistry() Registry {
	reg := make(Registry)
	for _, src := range SourceNames() {
		if p := NamespacePrefixFor(src); p != "" {
			reg[p] = struct{}{}
		}
	}
	return reg
}

// Contains reports whether namespace is a native prefix.
func (reg Registry) Contains(namespace string) bool {
	_, ok := reg[strings.ToLower(namespace)]
	return ok
}

// Classify decides whether an identifier in the given namespace is an
// other_identifier or an xref. It is deterministic and total: any namespace
// not present in the registry is an xref. Both the initial-load adapters and
// the backfill job call this one implementation.
func Classify(namespace string, reg Registry) RefKind {
	if reg.Contains(namespace) {
		return RefOtherIdentifier
	}
	return RefXref
}

// SplitNamespace splits a namespaced identifier into its namespace prefix and
// local id at the first colon. An identifier with no colon is all namespace.
func SplitNamespace(id string) (namespace, localID string) {
	if i := strings.Index(id, ":"); i >= 0 {
		return id[:i], id[i+1:]
	}
	return id, ""
}
