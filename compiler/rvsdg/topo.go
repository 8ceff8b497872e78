package rvsdg

import (
	"nikand.dev/go/heap"
)

// sortNodesByDepth orders list producers-first, stable on the original
// region order for nodes at the same depth.
func sortNodesByDepth(list []*Node, depth map[*Node]int) {
	pos := map[*Node]int{}

	for i, n := range list {
		pos[n] = i
	}

	h := heap.Heap[*Node]{
		Less: func(d []*Node, i, j int) bool {
			a, b := d[i], d[j]

			if depth[a] != depth[b] {
				return depth[a] < depth[b]
			}

			return pos[a] < pos[b]
		},
	}

	for _, n := range list {
		h.Push(n)
	}

	for i := 0; i < len(list); i++ {
		list[i] = h.Pop()
	}
}
