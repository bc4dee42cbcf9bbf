// Copyright 2026 Howso Incorporated
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package node

import (
	"golang.org/x/sync/errgroup"
)

// RootsFunc supplies additional GC roots beyond the entity root and the
// explicit nodesCurrentlyReferenced set: the scope/opcode/construction
// stacks of every interpreter currently running against this manager, per
// spec.md §4.2 step 3. Each call returns one slice of root nodes per live
// stack; GC must observe every interpreter's stacks, which is why this is a
// callback registered by whatever owns the interpreters rather than state
// Manager tracks itself.
type RootsFunc func() [][]*Node

// CollectGarbage runs one concurrent-aware mark-and-sweep pass, per
// spec.md §4.2's GC algorithm. If another goroutine is already collecting,
// it returns immediately with freed=0 rather than blocking, matching
// "spin-check until collection is no longer recommended; exit" - the caller
// is expected to have already consulted RecommendGarbageCollection and can
// simply proceed without a GC this cycle.
func (m *Manager) CollectGarbage(extraRoots RootsFunc) (freed int) {
	if !m.gcInProgress.CompareAndSwap(false, true) {
		return 0
	}
	defer m.gcInProgress.Store(false)

	m.memoryModificationMutex.Lock()
	defer m.memoryModificationMutex.Unlock()

	m.managerAttributesMutex.Lock()
	curFirstUnused := m.firstUnusedNodeIndex.Load()
	m.firstUnusedNodeIndex.Store(0)
	nodes := m.nodes
	m.managerAttributesMutex.Unlock()

	// Entries still cached in a TLAB were never handed out: they are dropped
	// with the caches and not counted as freed garbage.
	m.tlabMu.Lock()
	cached := int64(0)
	for _, buf := range m.tlabs {
		cached += int64(len(buf))
	}
	m.tlabs = make(map[int64][]*Node)
	m.tlabMu.Unlock()

	marked := make(map[*Node]bool, curFirstUnused/2+1)
	markReachable(marked, m.root)

	m.referencedMu.Lock()
	for n := range m.nodesCurrentlyReferenced {
		markReachable(marked, n)
	}
	m.referencedMu.Unlock()

	if extraRoots != nil {
		markStacksConcurrently(marked, extraRoots())
	}

	live := int64(0)
	for i := int64(0); i < curFirstUnused; i++ {
		n := nodes[i]
		if n == nil {
			continue
		}
		if marked[n] {
			n.SetFlag(AttrKnownToBeInUse, false)
			n.index = int(live)
			nodes[live] = n
			live++
		} else {
			n.Invalidate(m.pool)
			n.index = -1
		}
	}
	freed = int(curFirstUnused - live - cached)

	m.managerAttributesMutex.Lock()
	m.nodes = nodes
	m.firstUnusedNodeIndex.Store(live)
	m.managerAttributesMutex.Unlock()

	m.executionCyclesSinceLastGC.Store(0)
	m.updateGCThreshold(live, int64(len(nodes)))

	return freed
}

// markReachable marks every node reachable from root into marked and sets
// its GC mark bit, using an explicit worklist (rather than recursion) so
// that deep or cyclic trees never blow the goroutine stack; the visited
// set doubles as the cycle guard. Only safe when marked is not being
// written by another goroutine concurrently - see markReachableInto for
// the parallel-safe variant.
func markReachable(marked map[*Node]bool, root *Node) {
	markReachableInto(marked, root)
	for n := range marked {
		n.SetFlag(AttrKnownToBeInUse, true)
	}
}

// markReachableInto walks the subtree rooted at root into marked without
// touching node flags, so concurrent callers with disjoint (goroutine-
// local) marked maps never race on a shared node's Attrs byte even when
// their traversals both reach that node.
func markReachableInto(marked map[*Node]bool, root *Node) {
	if root == nil || marked[root] {
		return
	}
	stack := []*Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil || marked[n] {
			continue
		}
		marked[n] = true
		stack = append(stack, n.Children()...)
	}
}

// parallelMarkThreshold is the number of live interpreter stacks above
// which marking fans out across goroutines instead of walking each stack
// in the calling goroutine, per spec.md §4.2 step 3 ("Marking is
// parallelizable when the root set is large").
const parallelMarkThreshold = 4

// markStacksConcurrently marks every node reachable from each stack in
// stacks. With few stacks the fan-out overhead isn't worth it, so it walks
// them inline; with many, it bounds concurrency with errgroup.SetLimit so a
// GC pass with hundreds of live interpreters doesn't spawn hundreds of
// goroutines all contending on the same node. Each goroutine accumulates
// into its own local map (no shared-node flag writes during the parallel
// phase); flags are set and maps merged serially afterward.
func markStacksConcurrently(marked map[*Node]bool, stacks [][]*Node) {
	if len(stacks) < parallelMarkThreshold {
		for _, stack := range stacks {
			for _, n := range stack {
				markReachableInto(marked, n)
			}
		}
		for n := range marked {
			n.SetFlag(AttrKnownToBeInUse, true)
		}
		return
	}

	locals := make([]map[*Node]bool, len(stacks))
	g := new(errgroup.Group)
	g.SetLimit(maxMarkWorkers())
	for i, stack := range stacks {
		i, stack := i, stack
		g.Go(func() error {
			local := make(map[*Node]bool)
			for _, n := range stack {
				markReachableInto(local, n)
			}
			locals[i] = local
			return nil
		})
	}
	_ = g.Wait()

	for _, local := range locals {
		for n := range local {
			if !marked[n] {
				marked[n] = true
				n.SetFlag(AttrKnownToBeInUse, true)
			}
		}
	}
}

func maxMarkWorkers() int {
	return 8
}

// updateGCThreshold adjusts the next trigger point from the surviving
// population, per spec.md §4.2 step 5: a denser live region after sweep
// means the next collection should be recommended sooner.
func (m *Manager) updateGCThreshold(live, capacity int64) {
	if capacity == 0 {
		m.gcThreshold.Store(defaultGCInterval)
		return
	}
	occupancy := float64(live) / float64(capacity)
	switch {
	case occupancy > 0.5:
		m.gcThreshold.Store(defaultGCInterval / 2)
	default:
		m.gcThreshold.Store(defaultGCInterval)
	}
}

// FreeNodeTreeIfPossible implements spec.md §4.2's single-interpreter fast
// free path: a subtree is walked and invalidated only when ref is both
// unique (no other holder) and does not need a cycle check; otherwise it is
// a no-op and the sweep will reclaim it later.
func (m *Manager) FreeNodeTreeIfPossible(ref Reference) {
	if ref.Node == nil || !ref.Unique || ref.Node.NeedCycleCheck() {
		return
	}
	m.freeNodeTreeRecurse(ref.Node)
}

func (m *Manager) freeNodeTreeRecurse(n *Node) {
	if n == nil {
		return
	}
	for _, c := range n.Children() {
		m.freeNodeTreeRecurse(c)
	}
	n.Invalidate(m.pool)
}

// FreeNodeTreeWithCyclesRecurse frees a subtree that may contain cycles by
// detaching children before invalidating the node itself, preventing
// re-entry into an already-invalidated node (spec.md §4.2).
func (m *Manager) FreeNodeTreeWithCyclesRecurse(n *Node, visited map[*Node]bool) {
	if n == nil || visited[n] {
		return
	}
	visited[n] = true
	children := n.Children()
	n.Ordered = nil
	n.Assoc = nil
	for _, c := range children {
		m.FreeNodeTreeWithCyclesRecurse(c, visited)
	}
	n.Invalidate(m.pool)
}
