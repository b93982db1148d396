package routes

// Table is an immutable snapshot of all currently known routes. A new
// generation is built on every reload and swapped in atomically; readers
// never observe a partially-replaced table.
type Table struct {
	Generation uint64
	Routes     []RouteDescriptor

	byKey map[string]int
}

// NewTable builds a snapshot from the given descriptors. The slice is copied
// so later mutations by the caller cannot leak into the snapshot.
func NewTable(generation uint64, descriptors []RouteDescriptor) *Table {
	rts := make([]RouteDescriptor, len(descriptors))
	copy(rts, descriptors)

	byKey := make(map[string]int, len(rts))
	for i, r := range rts {
		if _, exists := byKey[r.Key()]; exists {
			continue // first occurrence wins
		}
		byKey[r.Key()] = i
	}

	return &Table{
		Generation: generation,
		Routes:     rts,
		byKey:      byKey,
	}
}

// EmptyTable returns a generation-zero table with no routes.
func EmptyTable() *Table {
	return NewTable(0, nil)
}

// Find returns the route registered for (method, path).
func (t *Table) Find(method, path string) (RouteDescriptor, bool) {
	idx, ok := t.byKey[method+" "+path]
	if !ok {
		return RouteDescriptor{}, false
	}
	return t.Routes[idx], true
}

// Len returns the number of routes in the snapshot.
func (t *Table) Len() int {
	return len(t.Routes)
}
