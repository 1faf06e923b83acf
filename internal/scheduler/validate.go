package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCyclicDependency marks a dependency graph containing a cycle.
	ErrCyclicDependency = errors.New("cyclic dependency")
	// ErrUnknownDependency marks a dependency on a task ID outside the graph.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrSelfReference marks a task depending on itself.
	ErrSelfReference = errors.New("self-referencing dependency")
)

// ValidateGraph checks a dependency graph and returns a topological order
// over ids. deps maps a task ID to the IDs it depends on. Self-references
// and references to unknown IDs are rejected before the cycle check; on a
// cycle the error names the cycle path.
func ValidateGraph(ids []string, deps map[string][]string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	for id, depIDs := range deps {
		for _, dep := range depIDs {
			if dep == id {
				return nil, fmt.Errorf("%w: task %q depends on itself", ErrSelfReference, id)
			}
			if !idSet[dep] {
				return nil, fmt.Errorf("%w: task %q depends on %q", ErrUnknownDependency, id, dep)
			}
		}
	}

	return topoSort(ids, deps)
}

// topoSort runs Kahn's algorithm. On cycle detection it uses DFS to find
// and report the cycle path.
func topoSort(ids []string, deps map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(ids))
	forward := make(map[string][]string) // dependency → dependents
	for _, id := range ids {
		inDegree[id] = 0
	}
	for id, depIDs := range deps {
		for _, dep := range depIDs {
			inDegree[id]++
			forward[dep] = append(forward[dep], id)
		}
	}

	var queue []string
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var sorted []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		for _, dependent := range forward[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) == len(ids) {
		return sorted, nil
	}

	cyclePath := findCyclePath(ids, deps, inDegree)
	return nil, fmt.Errorf("%w: %s", ErrCyclicDependency, strings.Join(cyclePath, " -> "))
}

// findCyclePath finds a cycle among nodes with non-zero in-degree.
func findCyclePath(ids []string, deps map[string][]string, inDegree map[string]int) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // in current path
		black = 2 // finished
	)

	color := make(map[string]int)
	parent := make(map[string]string)

	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		for _, dep := range deps[id] {
			if color[dep] == gray {
				// Found cycle: reconstruct path back to dep
				cyclePath = []string{dep}
				current := id
				for current != dep {
					cyclePath = append(cyclePath, current)
					current = parent[current]
				}
				cyclePath = append(cyclePath, dep)
				for i, j := 0, len(cyclePath)-1; i < j; i, j = i+1, j-1 {
					cyclePath[i], cyclePath[j] = cyclePath[j], cyclePath[i]
				}
				return true
			}
			if color[dep] == white {
				parent[dep] = id
				if dfs(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, id := range ids {
		if inDegree[id] > 0 && color[id] == white {
			if dfs(id) {
				return cyclePath
			}
		}
	}

	return []string{"(cycle detected)"}
}
