// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package dedupe

// unionFind is a classic disjoint-set structure over element indexes, with
// path compression and union by size.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(count int) *unionFind {
	u := &unionFind{
		parent: make([]int, count),
		size:   make([]int, count),
	}
	for idx := range u.parent {
		u.parent[idx] = idx
		u.size[idx] = 1
	}
	return u
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	rootA, rootB := u.find(a), u.find(b)
	if rootA == rootB {
		return
	}
	if u.size[rootA] < u.size[rootB] {
		rootA, rootB = rootB, rootA
	}
	u.parent[rootB] = rootA
	u.size[rootA] += u.size[rootB]
}
