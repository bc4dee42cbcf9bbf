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

package entity

import (
	"log/slog"

	"github.com/howsoai/amalgam-sub001/pkg/constraints"
	"github.com/howsoai/amalgam-sub001/pkg/interp"
	"github.com/howsoai/amalgam-sub001/pkg/metrics"
	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
	"github.com/howsoai/amalgam-sub001/pkg/threadpool"
)

// Execute implements spec.md §4.7's top-level evaluation entry: it creates
// an interpreter rooted at this entity and evaluates n, which may be a
// label's subtree retrieved earlier via GetValueAtLabel. c may be nil, in
// which case the interpreter runs under constraints.Unlimited(). Once
// evaluation completes, it consults the manager's GC policy and - if
// recommended - runs one collection pass rooted at this interpreter's own
// stacks, per spec.md §4.2's "check after a batch of work, not on every
// allocation" cadence.
func (e *Entity) Execute(n *node.Node, c *constraints.Constraints, pool *threadpool.Pool, logger *slog.Logger) *node.Node {
	it := interp.New(e, e.manager, e.pool, c, pool, logger)
	it.AssetManager = e.assetManager
	result, _ := it.InterpretNode(n, false)

	activeThreads := 1
	if pool != nil {
		activeThreads = pool.NumActive()
	}
	if e.manager.RecommendGarbageCollection(activeThreads) {
		freed := e.manager.CollectGarbage(func() [][]*node.Node {
			return [][]*node.Node{it.Stacks()}
		})
		label, _ := e.pool.GetStringFromID(e.ID())
		if label == "" {
			label = "(root)"
		}
		metrics.GCCycles.WithLabelValues(label).Inc()
		metrics.GCReclaimedNodes.WithLabelValues(label).Add(float64(freed))
	}
	return result
}

// SetValueAtLabelDirect is interp.EntityAccess's listener-free adapter over
// SetValueAtLabel: opcode-driven writes originating from the interpreter
// are not broadcast to WriteListeners; SetValueAtLabel itself takes the
// listener list.
func (e *Entity) SetValueAtLabelDirect(labelID strpool.StringID, newValue *node.Node, direct bool) bool {
	return e.SetValueAtLabel(labelID, newValue, direct, nil)
}

// ContainedEntityAccess is interp.EntityAccess's view of ContainedEntityByID.
func (e *Entity) ContainedEntityAccess(id strpool.StringID) (interp.EntityAccess, bool) {
	c, ok := e.ContainedEntityByID(id)
	if !ok {
		return nil, false
	}
	return c, true
}

// ContainedEntitiesAccess is interp.EntityAccess's view of ContainedEntities.
func (e *Entity) ContainedEntitiesAccess() []interp.EntityAccess {
	kids := e.ContainedEntities()
	out := make([]interp.EntityAccess, len(kids))
	for i, k := range kids {
		out[i] = k
	}
	return out
}

// CreateContainedEntityAccess deep-copies root into a new node manager,
// allocates a new entity seeded deterministically from this entity's
// stream and the requested id, and inserts it as a contained entity -
// spec.md §4.7's CreateEntities path, grounded on original_source's
// InterpretNode_ENT_CREATE_ENTITIES (evaluate the code argument, then
// construct a new Entity from the result under a freshly derived seed).
func (e *Entity) CreateContainedEntityAccess(root *node.Node, idHint strpool.StringID) (interp.EntityAccess, strpool.StringID) {
	mgr := node.NewManager(e.pool, nil)
	rootCopy := DeepCopy(root, e.manager, mgr, e.pool)

	idStr, _ := e.pool.GetStringFromID(idHint)
	seed := e.rng.CreateOtherStreamStateViaString(idStr).GetState()
	child := New(e.pool, mgr, rootCopy, strpool.NotAStringID, seed)
	child.assetManager = e.assetManager

	finalID := e.AddContainedEntity(child, idHint, nil)
	if finalID == strpool.NotAStringID {
		return nil, strpool.NotAStringID
	}
	return child, finalID
}

// RemoveContainedEntityAccess is interp.EntityAccess's view of
// RemoveContainedEntity, without listener notification.
func (e *Entity) RemoveContainedEntityAccess(id strpool.StringID) bool {
	return e.RemoveContainedEntity(id, nil)
}

// CloneContainedEntityAccess deep-copies src (which must be a concrete
// *Entity under the hood - the only implementation of interp.EntityAccess
// in this codebase) and inserts the clone under idHint, per spec.md
// §4.7's "cloning allocates a new entity and deep-copies the tree and all
// contained entities" rule.
func (e *Entity) CloneContainedEntityAccess(src interp.EntityAccess, idHint strpool.StringID) (interp.EntityAccess, strpool.StringID) {
	srcEnt, ok := src.(*Entity)
	if !ok {
		return nil, strpool.NotAStringID
	}
	clone := srcEnt.Clone(node.NewManager(e.pool, nil))
	clone.assetManager = e.assetManager
	finalID := e.AddContainedEntity(clone, idHint, nil)
	if finalID == strpool.NotAStringID {
		return nil, strpool.NotAStringID
	}
	return clone, finalID
}
