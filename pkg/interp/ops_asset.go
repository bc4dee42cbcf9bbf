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
	"github.com/howsoai/amalgam-sub001/pkg/asset"
	"github.com/howsoai/amalgam-sub001/pkg/constraints"
	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
)

// assetParams evaluates the `(path [file_type])` argument shape used by
// load and load_entity into an asset.Parameters, per spec.md §6's
// AssetParameters: it reads the path and an optional file type; any further
// arguments (such as an options map) are not read. Returns ok=false on a
// type mismatch in path.
func assetParams(it *Interp, args []*node.Node) (asset.Parameters, bool, Signal) {
	var p asset.Parameters
	if len(args) < 1 {
		return p, false, SignalNone
	}
	pathNode, sig := it.InterpretNode(args[0], false)
	if sig != SignalNone {
		return p, false, sig
	}
	if pathNode.Type != node.TypeString {
		return p, false, SignalNone
	}
	p.Path, _ = it.Pool.GetStringFromID(pathNode.StringID)
	if len(args) >= 2 {
		ftNode, sig := it.InterpretNode(args[1], false)
		if sig != SignalNone {
			return p, false, sig
		}
		if ftNode.Type == node.TypeString {
			p.FileType, _ = it.Pool.GetStringFromID(ftNode.StringID)
		}
	}
	return p, true, SignalNone
}

// evalLoad implements `load path [file_type]`: reads a node tree back from
// the asset manager, per spec.md §6, and returns the tree as the asset
// manager allocated it; it is not copied into it.Manager, so it.Manager's
// GC and node counts do not cover it.
// Returns null on missing permission, a nil AssetManager, or load failure -
// the core never surfaces asset I/O errors to the caller beyond that,
// matching spec.md §7's "external I/O failure -> null return".
func evalLoad(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if !it.Entity.Permissions().Has(constraints.PermLoad) || it.AssetManager == nil {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	params, ok, sig := assetParams(it, n.Ordered)
	if sig != SignalNone {
		return nullNode(it.Manager, it.workerID), sig
	}
	if !ok {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	root, _, err := it.AssetManager.LoadResource(params)
	if err != nil || root == nil {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	return root, SignalNone
}

// evalStore implements `store path value [file_type]`: evaluates value and
// hands it to the asset manager for persistence, per spec.md §6.
func evalStore(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if !it.Entity.Permissions().Has(constraints.PermStore) || it.AssetManager == nil || len(n.Ordered) < 2 {
		return boolNode(it.Manager, it.workerID, false), SignalNone
	}
	pathNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return pathNode, sig
	}
	value, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return value, sig
	}
	if pathNode.Type != node.TypeString {
		return boolNode(it.Manager, it.workerID, false), SignalNone
	}
	path, _ := it.Pool.GetStringFromID(pathNode.StringID)
	params := asset.Parameters{Path: path}
	if len(n.Ordered) >= 3 {
		ftNode, sig := it.InterpretNode(n.Ordered[2], false)
		if sig != SignalNone {
			return ftNode, sig
		}
		if ftNode.Type == node.TypeString {
			params.FileType, _ = it.Pool.GetStringFromID(ftNode.StringID)
		}
	}
	err := it.AssetManager.StoreResource(params, value)
	it.markSideEffect()
	return boolNode(it.Manager, it.workerID, err == nil), SignalNone
}

// evalLoadEntity implements `load_entity path [id]`: asks the asset
// manager for a fully-constructed entity's root tree, then inserts it as a
// contained entity of it.Entity under id (or the manager-suggested id),
// mirroring LoadEntityFromResource from spec.md §6.
func evalLoadEntity(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if !it.Entity.Permissions().Has(constraints.PermLoad) || it.AssetManager == nil {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	params, ok, sig := assetParams(it, n.Ordered)
	if sig != SignalNone {
		return nullNode(it.Manager, it.workerID), sig
	}
	if !ok {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	root, suggestedID, err := it.AssetManager.LoadEntityResource(params)
	if err != nil || root == nil {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	idHint := it.Pool.CreateStringReferenceFromString(suggestedID)
	if len(n.Ordered) >= 2 {
		idNode, sig := it.InterpretNode(n.Ordered[1], false)
		if sig != SignalNone {
			return idNode, sig
		}
		if idNode.Type == node.TypeString {
			idHint = idNode.StringID
		}
	}
	_, finalID := it.Entity.CreateContainedEntityAccess(root, idHint)
	if finalID == strpool.NotAStringID {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	it.markSideEffect()
	idResult := it.Manager.AllocUninitializedNode(it.workerID)
	idResult.Type = node.TypeString
	idResult.Kind = node.ValueString
	idResult.StringID = finalID
	return idResult, SignalNone
}

// evalStoreEntity implements `store_entity path [entity_id]`: persists the
// target entity (self, or the named contained entity) through the asset
// manager.
func evalStoreEntity(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if !it.Entity.Permissions().Has(constraints.PermStore) || it.AssetManager == nil || len(n.Ordered) < 1 {
		return boolNode(it.Manager, it.workerID, false), SignalNone
	}
	pathNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return pathNode, sig
	}
	if pathNode.Type != node.TypeString {
		return boolNode(it.Manager, it.workerID, false), SignalNone
	}
	var idNode *node.Node
	if len(n.Ordered) >= 2 {
		idNode, sig = it.InterpretNode(n.Ordered[1], false)
		if sig != SignalNone {
			return idNode, sig
		}
	}
	target, ok := targetEntity(it, idNode)
	if !ok {
		return boolNode(it.Manager, it.workerID, false), SignalNone
	}
	path, _ := it.Pool.GetStringFromID(pathNode.StringID)
	params := asset.Parameters{Path: path}
	err := it.AssetManager.StoreEntityResource(params, entityHandle{target, it.Pool})
	return boolNode(it.Manager, it.workerID, err == nil), SignalNone
}

// entityHandle adapts EntityAccess to asset.EntityHandle so ops_asset.go
// can hand store_entity's target to an asset.Manager without that package
// depending on EntityAccess.
type entityHandle struct {
	e    EntityAccess
	pool *strpool.Pool
}

func (h entityHandle) Root() *node.Node { return h.e.Root() }

func (h entityHandle) IDString() string {
	s, _ := h.pool.GetStringFromID(h.e.ID())
	return s
}
