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
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/howsoai/amalgam-sub001/pkg/metrics"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
)

// Reference is the sole external handle onto a node, per spec.md §9: a
// pointer plus a unique bit (this reference is the only holder) rather than
// a raw *Node passed around uncounted. It mirrors EvaluableNodeReference.
type Reference struct {
	Node   *Node
	Unique bool
	// UniqueUnreferencedTopNode marks that the top node itself (not just the
	// reference) may be safely rewritten in place.
	UniqueUnreferencedTopNode bool
}

// NullRef is the canonical empty reference.
func NullRef() Reference { return Reference{Unique: true} }

// UpdatePropertiesBasedOnAttachedNode implements
// EvaluableNodeReference::UpdatePropertiesBasedOnAttachedNode from
// spec.md §4.4: invoked whenever a subtree is grafted into r's node,
// ORing needCycleCheck and ANDing isIdempotent up, and clearing r's own
// unique bit if the attached subtree was not unique.
func (r *Reference) UpdatePropertiesBasedOnAttachedNode(attached Reference) {
	if attached.Node == nil || r.Node == nil {
		return
	}
	if !attached.Unique {
		r.Unique = false
		r.Node.SetNeedCycleCheck(true)
	} else if attached.Node.NeedCycleCheck() {
		r.Node.SetNeedCycleCheck(true)
	}
	if !attached.Node.IsIdempotent() {
		r.Node.SetIsIdempotent(false)
	}
}

const (
	expansionFactor   = 1.5
	tlabBatchSize     = 64
	defaultGCInterval = 4096
)

// Manager is the arena-based node manager with concurrent mark-and-sweep GC
// from spec.md §4.2.
type Manager struct {
	pool   *strpool.Pool
	logger *slog.Logger

	// managerAttributesMutex protects nodes/firstUnusedNodeIndex.
	managerAttributesMutex sync.RWMutex
	nodes                  []*Node
	firstUnusedNodeIndex   atomic.Int64

	// memoryModificationMutex distinguishes the mutation phase (many
	// shared holders during normal execution) from the GC phase (one
	// exclusive holder during sweep).
	memoryModificationMutex sync.RWMutex

	// referencedMu guards nodesCurrentlyReferenced, the extra GC-root
	// refcount map for nodes held by opcodes outside any stack.
	referencedMu sync.Mutex
	nodesCurrentlyReferenced map[*Node]int

	tlabMu sync.Mutex
	tlabs  map[int64][]*Node // goroutine-local pools keyed by a caller-supplied worker id

	executionCyclesSinceLastGC atomic.Int64
	gcThreshold                atomic.Int64
	gcInProgress                atomic.Bool

	root *Node // entity root; index 0 is always a GC root
}

// NewManager creates an empty manager. root, once set via SetRoot, is
// always included in the GC root set regardless of nodesCurrentlyReferenced
// or stack contents.
func NewManager(pool *strpool.Pool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		pool:                     pool,
		logger:                   logger,
		nodesCurrentlyReferenced: make(map[*Node]int),
		tlabs:                    make(map[int64][]*Node),
	}
	m.gcThreshold.Store(defaultGCInterval)
	return m
}

// SetRoot designates n (already allocated from m) as the entity root, an
// implicit GC root independent of any stack or explicit reference.
func (m *Manager) SetRoot(n *Node) { m.root = n }

// Pool exposes the string pool this manager's nodes intern into.
func (m *Manager) Pool() *strpool.Pool { return m.pool }

// NumAllocatedNodes reports the size of the live region, for constraint
// checks and diagnostics.
func (m *Manager) NumAllocatedNodes() int {
	return int(m.firstUnusedNodeIndex.Load())
}

// Capacity reports the backing arena's current node capacity, including
// not-yet-allocated slack past firstUnusedNodeIndex - `system
// est_mem_reserved`'s view of reserved (as opposed to used) memory.
func (m *Manager) Capacity() int {
	m.managerAttributesMutex.RLock()
	defer m.managerAttributesMutex.RUnlock()
	return len(m.nodes)
}

// AllocUninitializedNode returns a node pointer from workerID's TLAB,
// refilling it from the shared arena on the slow path. Contents are
// undefined (whatever the previous occupant left behind after Invalidate).
//
// workerID distinguishes per-goroutine TLABs; callers outside a pool worker
// should pass 0.
func (m *Manager) AllocUninitializedNode(workerID int64) *Node {
	m.tlabMu.Lock()
	buf := m.tlabs[workerID]
	if len(buf) > 0 {
		n := buf[len(buf)-1]
		m.tlabs[workerID] = buf[:len(buf)-1]
		m.tlabMu.Unlock()
		return n
	}
	m.tlabMu.Unlock()

	return m.refillAndTake(workerID)
}

func (m *Manager) refillAndTake(workerID int64) *Node {
	m.managerAttributesMutex.RLock()
	start := m.firstUnusedNodeIndex.Add(tlabBatchSize) - tlabBatchSize
	capNodes := int64(len(m.nodes))
	if start+tlabBatchSize <= capNodes {
		batch := make([]*Node, 0, tlabBatchSize)
		for i := start; i < start+tlabBatchSize; i++ {
			if m.nodes[i] == nil {
				m.nodes[i] = &Node{index: int(i)}
			}
			batch = append(batch, m.nodes[i])
		}
		m.managerAttributesMutex.RUnlock()
		metrics.NodesAllocated.Add(tlabBatchSize)

		m.tlabMu.Lock()
		taken := batch[len(batch)-1]
		m.tlabs[workerID] = append(m.tlabs[workerID], batch[:len(batch)-1]...)
		m.tlabMu.Unlock()
		return taken
	}
	m.managerAttributesMutex.RUnlock()

	// Expansion path: give back the optimistic fetch-add and grow under the
	// exclusive lock.
	m.firstUnusedNodeIndex.Add(-tlabBatchSize)
	m.growLocked(start + tlabBatchSize)
	return m.refillAndTake(workerID)
}

func (m *Manager) growLocked(minCapacity int64) {
	m.managerAttributesMutex.Lock()
	defer m.managerAttributesMutex.Unlock()

	newCap := int64(len(m.nodes))
	if newCap == 0 {
		newCap = tlabBatchSize
	}
	for newCap < minCapacity {
		newCap = int64(float64(newCap) * expansionFactor)
	}
	grown := make([]*Node, newCap)
	copy(grown, m.nodes)
	m.nodes = grown
}

// ClearTLAB discards workerID's ring back to unallocated-available state;
// per spec.md §5's TLAB discipline, a worker must clear its TLAB on
// descheduling and before acquiring the manager's exclusive lock, because
// un-returned TLAB entries would otherwise be invisible garbage during GC.
// Since our TLAB entries are still reachable through m.nodes, "clearing"
// only needs to drop the goroutine-local fast-path cache; the nodes
// themselves remain valid arena slots.
func (m *Manager) ClearTLAB(workerID int64) {
	m.tlabMu.Lock()
	delete(m.tlabs, workerID)
	m.tlabMu.Unlock()
}

// AllocNumberNode allocates and fully initializes an immediate number node.
func (m *Manager) AllocNumberNode(v float64, workerID int64) *Node {
	n := m.AllocUninitializedNode(workerID)
	n.Type = TypeNumber
	n.Kind = ValueNumber
	n.Number = v
	n.Attrs = AttrIsIdempotent
	return n
}

// AllocStringNode allocates a node carrying a string-pool reference.
func (m *Manager) AllocStringNode(id strpool.StringID, workerID int64) *Node {
	n := m.AllocUninitializedNode(workerID)
	n.Type = TypeString
	n.Kind = ValueString
	n.StringID = id
	n.Attrs = AttrIsIdempotent
	return n
}

// AllocOpNode allocates a node of the given opcode type with ordered
// children.
func (m *Manager) AllocOpNode(t Type, children []*Node, workerID int64) *Node {
	n := m.AllocUninitializedNode(workerID)
	n.Type = t
	n.Kind = ValueOrdered
	n.Ordered = children
	n.Attrs = 0
	return n
}

// AddReference registers n as an explicit GC root in
// nodesCurrentlyReferenced, beyond the entity root and the interpreter
// stacks - used by opcodes that hold a result across a potential GC point
// without it being reachable from any stack.
func (m *Manager) AddReference(n *Node) {
	if n == nil {
		return
	}
	m.referencedMu.Lock()
	m.nodesCurrentlyReferenced[n]++
	m.referencedMu.Unlock()
}

// RemoveReference reverses AddReference.
func (m *Manager) RemoveReference(n *Node) {
	if n == nil {
		return
	}
	m.referencedMu.Lock()
	if c := m.nodesCurrentlyReferenced[n]; c <= 1 {
		delete(m.nodesCurrentlyReferenced, n)
	} else {
		m.nodesCurrentlyReferenced[n] = c - 1
	}
	m.referencedMu.Unlock()
}

// NumCurrentlyReferenced reports the size of the explicit-reference root
// set, used by GC reclaim tests to confirm it is unaffected by collection.
func (m *Manager) NumCurrentlyReferenced() int {
	m.referencedMu.Lock()
	defer m.referencedMu.Unlock()
	return len(m.nodesCurrentlyReferenced)
}

// LockShared acquires the mutation-phase shared lock; interpreters hold
// this while dereferencing node pointers during normal execution.
func (m *Manager) LockShared()   { m.memoryModificationMutex.RLock() }
func (m *Manager) UnlockShared() { m.memoryModificationMutex.RUnlock() }

// RecommendGarbageCollection implements spec.md §4.2's GC policy: true when
// the cycle counter exceeds a threshold derived from thread count AND the
// live region approaches backing capacity.
func (m *Manager) RecommendGarbageCollection(activeThreads int) bool {
	cycles := m.executionCyclesSinceLastGC.Load()
	threshold := m.gcThreshold.Load()
	if activeThreads > 0 {
		threshold = threshold / int64(activeThreads)
		if threshold < 64 {
			threshold = 64
		}
	}
	if cycles < threshold {
		return false
	}

	m.managerAttributesMutex.RLock()
	live := m.firstUnusedNodeIndex.Load()
	capNodes := int64(len(m.nodes))
	m.managerAttributesMutex.RUnlock()

	if capNodes == 0 {
		return false
	}
	return float64(live)/float64(capNodes) > 0.75
}

// NoteExecutionCycle increments the cycle counter consulted by
// RecommendGarbageCollection; interpreters call this once per opcode
// dispatched.
func (m *Manager) NoteExecutionCycle() {
	m.executionCyclesSinceLastGC.Add(1)
}
