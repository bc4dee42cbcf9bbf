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

package interp

import (
	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
)

// Entity ops, per spec.md §4.5 ("Entity ops: see §4.7") and §4.7's
// operation list. Since the textual parser is out of scope, these opcodes
// use a fixed node-tree shape documented per handler rather than the
// original's string-path argument sugar; every target entity is resolved
// relative to it.Entity (the entity this interpreter is rooted at), one
// level of containment only; deeper entity paths are not resolved.

// targetEntity resolves an (optional) entity-id argument to a contained
// entity, falling back to it.Entity itself when idNode is null/absent -
// this lets every entity op run either "on self" or "on a named child".
func targetEntity(it *Interp, idNode *node.Node) (EntityAccess, bool) {
	if idNode == nil || idNode.Type == node.TypeNull {
		return it.Entity, true
	}
	if idNode.Type != node.TypeString {
		return nil, false
	}
	return it.Entity.ContainedEntityAccess(idNode.StringID)
}

// evalCreateEntities implements `create_entities id root [id root ...]`:
// each pair evaluates root (a node tree) and deep-copies it into a freshly
// allocated entity inserted under the given id. Returns a list of the new
// entities' ids (string nodes), or null at that position on failure -
// mirroring original_source's InterpretNode_ENT_CREATE_ENTITIES's
// per-pair id-or-null result list.
func evalCreateEntities(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 || len(n.Ordered)%2 != 0 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	ids := make([]*node.Node, 0, len(n.Ordered)/2)
	for i := 0; i+1 < len(n.Ordered); i += 2 {
		idNode, sig := it.InterpretNode(n.Ordered[i], false)
		if sig != SignalNone {
			return idNode, sig
		}
		rootNode, sig := it.InterpretNode(n.Ordered[i+1], false)
		if sig != SignalNone {
			return rootNode, sig
		}
		if idNode.Type != node.TypeString {
			ids = append(ids, nullNode(it.Manager, it.workerID))
			continue
		}
		if !it.Constraints.CheckContainedEntitiesDepth(1) {
			ids = append(ids, nullNode(it.Manager, it.workerID))
			continue
		}
		_, finalID := it.Entity.CreateContainedEntityAccess(rootNode, idNode.StringID)
		if finalID == strpool.NotAStringID {
			ids = append(ids, nullNode(it.Manager, it.workerID))
			continue
		}
		idResult := it.Manager.AllocUninitializedNode(it.workerID)
		idResult.Type = node.TypeString
		idResult.Kind = node.ValueString
		idResult.StringID = finalID
		ids = append(ids, idResult)
	}
	it.markSideEffect()
	return it.Manager.AllocOpNode(node.TypeList, ids, it.workerID), SignalNone
}

// evalDestroyEntities implements `destroy_entities id [id ...]`: removes
// each named contained entity, returning a list of booleans recording
// success per id.
func evalDestroyEntities(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	results := make([]*node.Node, 0, len(n.Ordered))
	for _, child := range n.Ordered {
		idNode, sig := it.InterpretNode(child, false)
		if sig != SignalNone {
			return idNode, sig
		}
		ok := idNode.Type == node.TypeString && it.Entity.RemoveContainedEntityAccess(idNode.StringID)
		results = append(results, boolNode(it.Manager, it.workerID, ok))
	}
	it.markSideEffect()
	return it.Manager.AllocOpNode(node.TypeList, results, it.workerID), SignalNone
}

// evalCloneEntities implements `clone_entities src_id new_id [src_id new_id ...]`:
// each pair clones the named contained source entity into a new contained
// entity under new_id, per spec.md §4.7's "cloning allocates a new entity
// and deep-copies the tree and all contained entities".
func evalCloneEntities(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 || len(n.Ordered)%2 != 0 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	ids := make([]*node.Node, 0, len(n.Ordered)/2)
	for i := 0; i+1 < len(n.Ordered); i += 2 {
		srcIDNode, sig := it.InterpretNode(n.Ordered[i], false)
		if sig != SignalNone {
			return srcIDNode, sig
		}
		newIDNode, sig := it.InterpretNode(n.Ordered[i+1], false)
		if sig != SignalNone {
			return newIDNode, sig
		}
		src, ok := targetEntity(it, srcIDNode)
		if !ok || newIDNode.Type != node.TypeString {
			ids = append(ids, nullNode(it.Manager, it.workerID))
			continue
		}
		_, finalID := it.Entity.CloneContainedEntityAccess(src, newIDNode.StringID)
		if finalID == strpool.NotAStringID {
			ids = append(ids, nullNode(it.Manager, it.workerID))
			continue
		}
		idResult := it.Manager.AllocUninitializedNode(it.workerID)
		idResult.Type = node.TypeString
		idResult.Kind = node.ValueString
		idResult.StringID = finalID
		ids = append(ids, idResult)
	}
	it.markSideEffect()
	return it.Manager.AllocOpNode(node.TypeList, ids, it.workerID), SignalNone
}

// evalContainedEntities implements `contained_entities [id]`: lists the
// ids of the direct children of the target entity (self, if id is
// omitted).
func evalContainedEntities(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	var idNode *node.Node
	if len(n.Ordered) > 0 {
		var sig Signal
		idNode, sig = it.InterpretNode(n.Ordered[0], false)
		if sig != SignalNone {
			return idNode, sig
		}
	}
	target, ok := targetEntity(it, idNode)
	if !ok {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	kids := target.ContainedEntitiesAccess()
	out := make([]*node.Node, len(kids))
	for i, k := range kids {
		idResult := it.Manager.AllocUninitializedNode(it.workerID)
		idResult.Type = node.TypeString
		idResult.Kind = node.ValueString
		idResult.StringID = k.ID()
		out[i] = idResult
	}
	return it.Manager.AllocOpNode(node.TypeList, out, it.workerID), SignalNone
}

// evalRetrieveFromEntity implements `retrieve_from_entity entity_id label`:
// reads the named label out of the target entity, deep-copying the result
// into it.Manager so its lifetime is independent, per spec.md §4.7's
// GetValueAtLabel.
func evalRetrieveFromEntity(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	idNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return idNode, sig
	}
	labelNode, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return labelNode, sig
	}
	target, ok := targetEntity(it, idNode)
	if !ok || labelNode.Type != node.TypeString {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	onSelf := target == it.Entity
	value, found := target.GetValueAtLabel(labelNode.StringID, it.Manager, false, onSelf)
	if !found {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	return value, SignalNone
}

// evalAssignToEntity implements `assign_to_entity entity_id label value`:
// writes value (scalar copy, not a subtree replacement) into the target
// entity's label, per spec.md §4.7's SetValueAtLabel with direct=false.
func evalAssignToEntity(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 3 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	idNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return idNode, sig
	}
	labelNode, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return labelNode, sig
	}
	value, sig := it.InterpretNode(n.Ordered[2], false)
	if sig != SignalNone {
		return value, sig
	}
	target, ok := targetEntity(it, idNode)
	if !ok || labelNode.Type != node.TypeString {
		return boolNode(it.Manager, it.workerID, false), SignalNone
	}
	ok = target.SetValueAtLabelDirect(labelNode.StringID, value, false)
	it.markSideEffect()
	return boolNode(it.Manager, it.workerID, ok), SignalNone
}

// evalAccumToEntity implements `accum_to_entity entity_id label delta`:
// reads the label's current value, applies the same accum combination
// rules as evalAccum (list append / assoc merge / string concat / numeric
// add), and writes the result back.
func evalAccumToEntity(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 3 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	idNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return idNode, sig
	}
	labelNode, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return labelNode, sig
	}
	delta, sig := it.InterpretNode(n.Ordered[2], false)
	if sig != SignalNone {
		return delta, sig
	}
	target, ok := targetEntity(it, idNode)
	if !ok || labelNode.Type != node.TypeString {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	onSelf := target == it.Entity
	cur, found := target.GetValueAtLabel(labelNode.StringID, it.Manager, false, onSelf)
	if !found {
		cur = nullNode(it.Manager, it.workerID)
	}

	var result *node.Node
	switch {
	case cur.Kind == node.ValueOrdered:
		cur.Ordered = append(cur.Ordered, delta)
		result = cur
	case cur.Kind == node.ValueAssoc && delta.Kind == node.ValueAssoc:
		for k, v := range delta.Assoc {
			cur.Assoc[k] = v
		}
		result = cur
	case cur.Type == node.TypeString && delta.Type == node.TypeString:
		a, _ := it.Pool.GetStringFromID(cur.StringID)
		b, _ := it.Pool.GetStringFromID(delta.StringID)
		cur.StringID = it.Pool.CreateStringReferenceFromString(a + b)
		result = cur
	case cur.Type == node.TypeNumber:
		cur.Number = node.ToNumber(cur, it.Pool, 0) + node.ToNumber(delta, it.Pool, 0)
		cur.Kind = node.ValueNumber
		result = cur
	default:
		cur.Kind = node.ValueOrdered
		cur.Type = node.TypeList
		cur.Ordered = []*node.Node{delta}
		result = cur
	}

	// Container results replace the stored subtree; scalars are copied in place.
	target.SetValueAtLabelDirect(labelNode.StringID, result, result.Kind == node.ValueOrdered || result.Kind == node.ValueAssoc)
	it.markSideEffect()
	return result, SignalNone
}
