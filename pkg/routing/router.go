package routing

import "sync/atomic"

// Router publishes the active table. Readers load the pointer once per
// order so an in-flight routing never observes two tables.
type Router struct {
	current atomic.Pointer[Table]
}

func NewRouter(t *Table) *Router {
	if t == nil {
		t = DefaultTable()
	}
	r := &Router{}
	r.current.Store(t)
	return r
}

// Current returns the active table.
func (r *Router) Current() *Table {
	return r.current.Load()
}

// Swap installs t and returns the previous table. A nil table is ignored.
func (r *Router) Swap(t *Table) *Table {
	if t == nil {
		return r.current.Load()
	}
	return r.current.Swap(t)
}

// StationIDs lists the stations of the active table.
func (r *Router) StationIDs() []string {
	return r.Current().StationIDs()
}

// Resolve routes a single category against the active table.
func (r *Router) Resolve(category string) []string {
	return r.Current().Resolve(category)
}
