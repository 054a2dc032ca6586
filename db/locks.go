package db

import (
	"sort"
	"sync"
)

// pathLocks is a lock table keyed by document name. Entries are never
// removed; the table is bounded by the number of distinct names touched.
type pathLocks struct {
	enabled bool
	m       sync.Map // name -> *sync.RWMutex
}

func (p *pathLocks) get(name string) *sync.RWMutex {
	mu, _ := p.m.LoadOrStore(name, &sync.RWMutex{})
	return mu.(*sync.RWMutex)
}

// acquire takes shared locks on reads and exclusive locks on writes, in
// name order so concurrent multi-document operations cannot deadlock. A name
// in both sets is locked exclusively. The returned func releases everything.
func (p *pathLocks) acquire(reads, writes []string) func() {
	if !p.enabled {
		return func() {}
	}
	exclusive := make(map[string]bool, len(reads)+len(writes))
	for _, name := range reads {
		if _, ok := exclusive[name]; !ok {
			exclusive[name] = false
		}
	}
	for _, name := range writes {
		exclusive[name] = true
	}
	names := make([]string, 0, len(exclusive))
	for name := range exclusive {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if exclusive[name] {
			p.get(name).Lock()
		} else {
			p.get(name).RLock()
		}
	}
	return func() {
		for i := len(names) - 1; i >= 0; i-- {
			if exclusive[names[i]] {
				p.get(names[i]).Unlock()
			} else {
				p.get(names[i]).RUnlock()
			}
		}
	}
}
