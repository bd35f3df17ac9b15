package bytecode

import "github.com/thinksystem/sleet/value"

// ReadOnlyState is the read-only view of scoped state passed to foreign
// functions, per spec §4.3 "Foreign functions are pure from the VM's
// perspective: they receive a read-only state view".
type ReadOnlyState interface {
	Get(path string) (value.Value, error)
}

// ForeignFunction is the signature every registered handler implements.
type ForeignFunction func(args []value.Value, state ReadOnlyState) (value.Value, error)

// ForeignEntry is one row of the foreign function registry (spec §6).
type ForeignEntry struct {
	Arity              int
	CapabilityRequired string
	Handler            ForeignFunction
}

// Registry maps a foreign function name to its registered entry.
type Registry struct {
	entries map[string]ForeignEntry
}

// NewRegistry returns an empty foreign function registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]ForeignEntry{}}
}

// Register adds or replaces a foreign function entry.
func (r *Registry) Register(name string, entry ForeignEntry) {
	r.entries = cloneEntries(r.entries)
	r.entries[name] = entry
}

func cloneEntries(m map[string]ForeignEntry) map[string]ForeignEntry {
	out := make(map[string]ForeignEntry, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (ForeignEntry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// PermissionSet is the set of capability names a contract has been
// granted; foreign calls are checked against it at the call site.
type PermissionSet map[string]bool

// NewPermissionSet builds a PermissionSet from a list of granted
// capability names.
func NewPermissionSet(granted ...string) PermissionSet {
	s := make(PermissionSet, len(granted))
	for _, g := range granted {
		s[g] = true
	}
	return s
}

// Allows reports whether capability is present in the set. An entry with
// an empty CapabilityRequired needs no permission.
func (p PermissionSet) Allows(capability string) bool {
	if capability == "" {
		return true
	}
	return p[capability]
}
