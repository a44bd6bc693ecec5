package capability

import "fmt"

// DependencyTree returns the transitive dependencies of id followed by id
// itself, in dependency-before-dependent order. The traversal is depth-first
// with a visited-set guard: a node is marked visited before its dependencies
// are walked, so a dependency graph containing a cycle back to an ancestor is
// silently treated as already visited rather than looping. Each identifier
// appears exactly once. Dependencies that are not registered are included by
// identifier so callers can surface the gap.
//
// Use DetectCycle when the caller needs to report cycles instead of
// tolerating them.
func (r *Registry) DependencyTree(id ID) ([]ID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.byID[id]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	visited := make(map[ID]bool)
	var order []ID
	var walk func(ID)
	walk = func(cur ID) {
		if visited[cur] {
			return
		}
		visited[cur] = true
		if e, ok := r.byID[cur]; ok {
			for _, dep := range e.def.Metadata.Dependencies {
				walk(dep)
			}
		}
		order = append(order, cur)
	}
	walk(id)
	return order, nil
}

// DetectCycle reports whether the dependency graph reachable from id contains
// a cycle and, when it does, returns the identifiers along the cycle path.
func (r *Registry) DetectCycle(id ID) ([]ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	onPath := make(map[ID]bool)
	done := make(map[ID]bool)
	var path []ID
	var walk func(ID) ([]ID, bool)
	walk = func(cur ID) ([]ID, bool) {
		if onPath[cur] {
			// Close the loop at the first repeated node.
			start := 0
			for i, n := range path {
				if n == cur {
					start = i
					break
				}
			}
			cycle := append([]ID(nil), path[start:]...)
			return append(cycle, cur), true
		}
		if done[cur] {
			return nil, false
		}
		onPath[cur] = true
		path = append(path, cur)
		if e, ok := r.byID[cur]; ok {
			for _, dep := range e.def.Metadata.Dependencies {
				if cycle, found := walk(dep); found {
					return cycle, true
				}
			}
		}
		onPath[cur] = false
		path = path[:len(path)-1]
		done[cur] = true
		return nil, false
	}
	return walk(id)
}
