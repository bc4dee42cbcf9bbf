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

// Package entity implements the named, hierarchical container described in
// spec.md §4.7: a node tree, a PRNG, a label index, permissions, and child
// entities.
package entity

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/howsoai/amalgam-sub001/pkg/asset"
	"github.com/howsoai/amalgam-sub001/pkg/constraints"
	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/randstream"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
)

// WriteListener is the external collaborator sink for mutation events
// (spec.md §6): write-to-entity, write-value-to-entity, create-entity,
// destroy-entity, set-random-seed, system-call. The interpreter core
// iterates listeners synchronously on every mutation; it never depends on
// what a listener does with the event.
type WriteListener interface {
	LogCreateEntity(e *Entity)
	LogDestroyEntity(e *Entity)
	LogWriteValueToEntity(e *Entity, labelID strpool.StringID, value *node.Node, direct bool)
	LogSetRandomSeed(e *Entity, state string)
}

// Entity is the named, hierarchical container from spec.md §4.7.
type Entity struct {
	id   strpool.StringID
	pool *strpool.Pool

	mu sync.RWMutex

	manager *node.Manager
	root    *node.Node
	labels  map[strpool.StringID]*node.Node

	rng *randstream.Stream

	container *Entity

	children       []*Entity
	childIDToIndex map[strpool.StringID]int

	permissions constraints.Set

	// assetManager backs load/store/load_entity/store_entity for code
	// executed against this entity (spec.md §6); nil if the host never
	// wired one via SetAssetManager. Propagated to contained entities
	// created after it is set, so a subtree created under an entity that
	// already has a store keeps using it.
	assetManager asset.Manager
}

// SetAssetManager installs the out-of-scope asset-loader collaborator for
// this entity and its future contained entities.
func (e *Entity) SetAssetManager(am asset.Manager) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.assetManager = am
}

// AssetManager returns the asset manager installed via SetAssetManager, or
// nil.
func (e *Entity) AssetManager() asset.Manager {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.assetManager
}

// New creates a detached entity (no container) owning a fresh node
// manager, rooted at root (which must already have been allocated from
// manager).
func New(pool *strpool.Pool, manager *node.Manager, root *node.Node, id strpool.StringID, seed string) *Entity {
	e := &Entity{
		id:      id,
		pool:    pool,
		manager: manager,
		root:    root,
		rng:     randstream.NewFromString(seed),
	}
	manager.SetRoot(root)
	e.rebuildLabelIndex()
	return e
}

// ID returns the entity's interned identifier.
func (e *Entity) ID() strpool.StringID { return e.id }

// Manager exposes the entity's owning node arena.
func (e *Entity) Manager() *node.Manager { return e.manager }

// Root returns the entity's root node.
func (e *Entity) Root() *node.Node {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.root
}

// Permissions returns the entity's current permission set.
func (e *Entity) Permissions() constraints.Set {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.permissions
}

// SetPermissions grants/revokes permission bits. Per spec.md §4.9,
// SetEntityPermissions is itself permission-gated: callerPerms must already
// hold every bit being newly granted, or the call is a no-op and reports
// false.
func (e *Entity) SetPermissions(callerPerms constraints.Set, newPerms constraints.Set) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	grantedBits := newPerms &^ e.permissions
	for bit := constraints.Permission(1); bit != 0; bit <<= 1 {
		if grantedBits.Has(bit) && !callerPerms.CanGrant(bit) {
			return false
		}
	}
	e.permissions = newPerms
	return true
}

func (e *Entity) rebuildLabelIndex() {
	e.labels = make(map[strpool.StringID]*node.Node)
	if e.root == nil {
		return
	}
	var walk func(n *node.Node)
	walk = func(n *node.Node) {
		if n == nil {
			return
		}
		for _, l := range n.Labels {
			e.labels[l] = n
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(e.root)
}

// isPrivateLabel reports whether a label (by its string form) begins with
// `#`, making it invisible to outside entities per spec.md §4.7.
func isPrivateLabel(s string) bool {
	return len(s) > 0 && s[0] == '#'
}

// GetValueAtLabel implements spec.md §4.7's label read: if destManager is
// non-nil, the subtree is deep-copied into it so the caller's lifetime is
// independent of this entity's arena, unless direct and onSelf are both
// true, in which case the raw subtree pointer is returned (direct
// same-entity access needs no copy). With destManager nil the raw subtree
// pointer is always returned.
func (e *Entity) GetValueAtLabel(labelID strpool.StringID, destManager *node.Manager, direct bool, onSelf bool) (*node.Node, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n, ok := e.labels[labelID]
	if !ok {
		return nil, false
	}

	if s, found := e.pool.GetStringFromID(labelID); found && isPrivateLabel(s) && !onSelf {
		return nil, false
	}

	if destManager == nil || (direct && onSelf) {
		return n, true
	}
	return DeepCopy(n, e.manager, destManager, e.pool), true
}

// SetValueAtLabel implements spec.md §4.7's label write. If direct is
// true, the label's subtree is replaced wholesale and the label index is
// rebuilt; otherwise only a scalar is copied into place. Every write is
// broadcast to listeners.
func (e *Entity) SetValueAtLabel(labelID strpool.StringID, newValue *node.Node, direct bool, listeners []WriteListener) bool {
	e.mu.Lock()

	target, ok := e.labels[labelID]
	if !ok {
		e.mu.Unlock()
		return false
	}

	if direct {
		replacement := DeepCopy(newValue, nil, e.manager, e.pool)
		replacement.Labels = target.Labels
		if target == e.root {
			e.root = replacement
			e.manager.SetRoot(e.root)
		} else {
			replaceChildInParent(e.root, target, replacement)
		}
		e.rebuildLabelIndex()
	} else {
		target.Kind = newValue.Kind
		target.Number = newValue.Number
		target.StringID = e.pool.CreateStringReference(newValue.StringID)
		target.Type = newValue.Type
	}
	e.mu.Unlock()

	for _, l := range listeners {
		l.LogWriteValueToEntity(e, labelID, newValue, direct)
	}
	return true
}

func replaceChildInParent(root, oldNode, newNode *node.Node) bool {
	if root == nil {
		return false
	}
	switch root.Kind {
	case node.ValueOrdered:
		for i, c := range root.Ordered {
			if c == oldNode {
				root.Ordered[i] = newNode
				return true
			}
			if replaceChildInParent(c, oldNode, newNode) {
				return true
			}
		}
	case node.ValueAssoc:
		for k, c := range root.Assoc {
			if c == oldNode {
				root.Assoc[k] = newNode
				return true
			}
			if replaceChildInParent(c, oldNode, newNode) {
				return true
			}
		}
	}
	return false
}

// DeepCopy copies n (allocated from srcManager, or unmanaged if srcManager
// is nil) into destManager, returning a node with entirely independent
// storage - the mechanism behind every cross-entity data transfer, which is
// always by copy and never by aliasing (spec.md §4.7, §5).
func DeepCopy(n *node.Node, srcManager, destManager *node.Manager, pool *strpool.Pool) *node.Node {
	if n == nil {
		return nil
	}
	out := destManager.AllocUninitializedNode(0)
	out.Type = n.Type
	out.Attrs = n.Attrs
	out.Kind = n.Kind
	out.Number = n.Number
	out.Comment = pool.CreateStringReference(n.Comment)
	if n.StringID != strpool.NotAStringID {
		out.StringID = pool.CreateStringReference(n.StringID)
	}
	if n.LabelID != strpool.NotAStringID {
		out.LabelID = pool.CreateStringReference(n.LabelID)
	}
	for _, l := range n.Labels {
		out.Labels = append(out.Labels, pool.CreateStringReference(l))
	}
	switch n.Kind {
	case node.ValueOrdered:
		out.Ordered = make([]*node.Node, len(n.Ordered))
		for i, c := range n.Ordered {
			out.Ordered[i] = DeepCopy(c, srcManager, destManager, pool)
		}
	case node.ValueAssoc:
		out.Assoc = make(map[strpool.StringID]*node.Node, len(n.Assoc))
		for k, c := range n.Assoc {
			out.Assoc[pool.CreateStringReference(k)] = DeepCopy(c, srcManager, destManager, pool)
		}
	}
	return out
}

// AddContainedEntity inserts child as a contained entity keyed by idSID,
// auto-generating `_<rand>` until unique if idSID is NotAStringID. This
// overload inserts into the id-index lookup before creating the string
// reference for the child's final ID - preserved exactly as one of the two
// orderings original_source exposes (see SPEC_FULL.md §C.3), since an
// external write listener observing the create event mid-call could in
// principle see the difference.
func (e *Entity) AddContainedEntity(child *Entity, idSID strpool.StringID, listeners []WriteListener) strpool.StringID {
	if child == nil {
		return strpool.NotAStringID
	}
	e.mu.Lock()
	if e.childIDToIndex == nil {
		e.childIDToIndex = make(map[strpool.StringID]int)
	}
	idx := len(e.children)

	var finalID strpool.StringID
	if idSID == strpool.NotAStringID {
		for {
			candidate := "_" + strconv.FormatUint(uint64(e.rng.RandUInt32()), 10)
			cid := e.pool.CreateStringReferenceFromString(candidate)
			if _, exists := e.childIDToIndex[cid]; !exists {
				e.childIDToIndex[cid] = idx
				finalID = cid
				break
			}
			e.pool.DestroyStringReference(cid)
		}
	} else {
		if _, exists := e.childIDToIndex[idSID]; exists {
			e.mu.Unlock()
			return strpool.NotAStringID
		}
		e.childIDToIndex[idSID] = idx
		finalID = e.pool.CreateStringReference(idSID)
	}

	child.id = finalID
	child.container = e
	e.children = append(e.children, child)
	e.mu.Unlock()

	for _, l := range listeners {
		l.LogCreateEntity(child)
	}
	return finalID
}

// AddContainedEntityWithReferenceFirst is the second original_source
// overload: it creates the string reference for the requested ID *before*
// attempting to insert into the id-index lookup, and rolls the reference
// back if the insert fails. Functionally equivalent when the ID is unique;
// observably different (for a listener watching string-pool refcounts)
// on a collision.
func (e *Entity) AddContainedEntityWithReferenceFirst(child *Entity, idString string, listeners []WriteListener) strpool.StringID {
	if child == nil {
		return strpool.NotAStringID
	}
	e.mu.Lock()
	if e.childIDToIndex == nil {
		e.childIDToIndex = make(map[strpool.StringID]int)
	}
	idx := len(e.children)

	var finalID strpool.StringID
	if idString == "" {
		for {
			candidate := "_" + strconv.FormatUint(uint64(e.rng.RandUInt32()), 10)
			cid := e.pool.CreateStringReferenceFromString(candidate)
			if _, exists := e.childIDToIndex[cid]; !exists {
				e.childIDToIndex[cid] = idx
				finalID = cid
				break
			}
			e.pool.DestroyStringReference(cid)
		}
	} else {
		cid := e.pool.CreateStringReferenceFromString(idString)
		if _, exists := e.childIDToIndex[cid]; exists {
			e.pool.DestroyStringReference(cid)
			e.mu.Unlock()
			return strpool.NotAStringID
		}
		e.childIDToIndex[cid] = idx
		finalID = cid
	}

	child.id = finalID
	child.container = e
	e.children = append(e.children, child)
	e.mu.Unlock()

	for _, l := range listeners {
		l.LogCreateEntity(child)
	}
	return finalID
}

// NewUniqueEntityID generates an RFC 4122 UUID-based string prefixed with
// `_`. cmd/amalgam uses it as the PRNG seed of a freshly bootstrapped root
// entity. The `_<rand>` id loops in AddContainedEntity and
// AddContainedEntityWithReferenceFirst do not fall back to it; they retry
// PRNG-derived ids until one is unique.
func NewUniqueEntityID() string {
	return "_" + uuid.NewString()
}

// RemoveContainedEntity swap-removes the entity with the given id,
// updating the displaced entity's index in the lookup (spec.md §4.7).
func (e *Entity) RemoveContainedEntity(id strpool.StringID, listeners []WriteListener) bool {
	e.mu.Lock()

	idx, ok := e.childIDToIndex[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	removed := e.children[idx]
	last := len(e.children) - 1
	e.children[idx] = e.children[last]
	e.children = e.children[:last]
	if idx != last {
		e.childIDToIndex[e.children[idx].id] = idx
	}
	delete(e.childIDToIndex, id)
	removed.container = nil
	e.mu.Unlock()

	e.pool.DestroyStringReference(id)
	for _, l := range listeners {
		l.LogDestroyEntity(removed)
	}
	return true
}

// ContainedEntities returns a snapshot of the entity's direct children.
func (e *Entity) ContainedEntities() []*Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Entity, len(e.children))
	copy(out, e.children)
	return out
}

// ContainedEntityByID looks up a direct child by id.
func (e *Entity) ContainedEntityByID(id strpool.StringID) (*Entity, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, ok := e.childIDToIndex[id]
	if !ok {
		return nil, false
	}
	return e.children[idx], true
}

// Container returns the parent entity, or nil if this is a root entity.
func (e *Entity) Container() *Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.container
}

// GetRandomState serializes the entity's PRNG state.
func (e *Entity) GetRandomState() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rng.GetState()
}

// SetRandomState restores the entity's PRNG state. If deep is true, every
// contained entity (recursively) is reseeded deterministically from this
// entity's stream and its own id, per spec.md §4.7 and original_source's
// Entity::SetRandomState.
func (e *Entity) SetRandomState(state string, deep bool, listeners []WriteListener) {
	e.mu.Lock()
	e.rng.SetState(state)
	children := append([]*Entity(nil), e.children...)
	e.mu.Unlock()

	for _, l := range listeners {
		l.LogSetRandomSeed(e, state)
	}

	if !deep {
		return
	}
	for _, c := range children {
		idStr, _ := e.pool.GetStringFromID(c.ID())
		childState := e.rng.CreateOtherStreamStateViaString(idStr)
		c.SetRandomState(childState.GetState(), true, listeners)
	}
}

// RandomStream exposes the entity's PRNG for opcodes needing direct access
// (entity creation, sampling).
func (e *Entity) RandomStream() *randstream.Stream {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rng
}

// Clone allocates a new entity and deep-copies this entity's tree and all
// contained entities, per spec.md §4.7's cloning-never-aliases rule.
func (e *Entity) Clone(destManager *node.Manager) *Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rootCopy := DeepCopy(e.root, e.manager, destManager, e.pool)
	clone := New(e.pool, destManager, rootCopy, strpool.NotAStringID, e.rng.GetState())
	for _, c := range e.children {
		childClone := c.Clone(node.NewManager(e.pool, nil))
		clone.AddContainedEntity(childClone, strpool.NotAStringID, nil)
	}
	return clone
}

// Depth returns this entity's nesting depth below its outermost ancestor,
// used to enforce constraints.Constraints.MaxContainedDepth.
func (e *Entity) Depth() int {
	depth := 0
	for cur := e.Container(); cur != nil; cur = cur.Container() {
		depth++
	}
	return depth
}

// String is a debugging aid.
func (e *Entity) String() string {
	idStr, _ := e.pool.GetStringFromID(e.id)
	return fmt.Sprintf("Entity(%s)", idStr)
}
