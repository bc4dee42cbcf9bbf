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
	"testing"

	"github.com/howsoai/amalgam-sub001/pkg/strpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocAndGCReclaimsUnreferenced(t *testing.T) {
	pool := strpool.New()
	m := NewManager(pool, nil)

	before := m.NumAllocatedNodes()
	beforeRefs := m.NumCurrentlyReferenced()

	root := m.AllocNumberNode(1, 0)
	m.SetRoot(root)

	for i := 0; i < 200; i++ {
		m.AllocNumberNode(float64(i), 0)
	}
	require.Greater(t, m.NumAllocatedNodes(), before)

	// Drop the root reference (simulate the entity root changing) so
	// nothing external references any of the allocated nodes.
	m.SetRoot(nil)

	freed := m.CollectGarbage(nil)
	assert.Greater(t, freed, 0)
	assert.Equal(t, 0, m.NumAllocatedNodes())
	assert.Equal(t, beforeRefs, m.NumCurrentlyReferenced())
}

func TestGCReclaimsCyclicStructure(t *testing.T) {
	pool := strpool.New()
	m := NewManager(pool, nil)

	a := m.AllocOpNode(OpSequence, nil, 0)
	a.Ordered = []*Node{a} // self-cycle
	a.SetNeedCycleCheck(true)
	m.SetRoot(a)

	// Drop all external references.
	m.SetRoot(nil)

	freed := m.CollectGarbage(nil)
	assert.GreaterOrEqual(t, freed, 1)
	assert.Equal(t, 0, m.NumAllocatedNodes())
}

func TestGCPreservesReferencedAndStackRoots(t *testing.T) {
	pool := strpool.New()
	m := NewManager(pool, nil)

	kept := m.AllocNumberNode(1, 0)
	m.AddReference(kept)

	stackKept := m.AllocNumberNode(2, 0)

	unreferenced := m.AllocNumberNode(3, 0)
	_ = unreferenced

	freed := m.CollectGarbage(func() [][]*Node {
		return [][]*Node{{stackKept}}
	})

	assert.Equal(t, 1, freed) // only `unreferenced` is reclaimed
	assert.Equal(t, 2, m.NumAllocatedNodes())
}

func TestUpdateFlagsDetectsCycle(t *testing.T) {
	pool := strpool.New()
	m := NewManager(pool, nil)

	a := m.AllocOpNode(OpSequence, nil, 0)
	b := m.AllocOpNode(OpSequence, []*Node{a}, 0)
	a.Ordered = []*Node{b}

	UpdateFlagsForNodeTree(a)
	assert.True(t, a.NeedCycleCheck())
	assert.True(t, b.NeedCycleCheck())
}

func TestUpdateFlagsSharedChildNeedsCycleCheck(t *testing.T) {
	pool := strpool.New()
	m := NewManager(pool, nil)

	shared := m.AllocNumberNode(1, 0)
	parent := m.AllocOpNode(TypeList, []*Node{shared, shared}, 0)

	UpdateFlagsForNodeTree(parent)
	assert.True(t, parent.NeedCycleCheck())
}

func TestUpdateFlagsIdempotence(t *testing.T) {
	pool := strpool.New()
	m := NewManager(pool, nil)

	a := m.AllocNumberNode(2, 0)
	b := m.AllocNumberNode(3, 0)
	add := m.AllocOpNode(OpAdd, []*Node{a, b}, 0)

	UpdateFlagsForNodeTree(add)
	assert.True(t, add.IsIdempotent())

	assign := m.AllocOpNode(OpAssign, []*Node{a, b}, 0)
	UpdateFlagsForNodeTree(assign)
	assert.False(t, assign.IsIdempotent())
}

func TestAreDeepEqual(t *testing.T) {
	pool := strpool.New()
	m := NewManager(pool, nil)

	a := m.AllocNumberNode(1, 0)
	b := m.AllocNumberNode(1, 0)
	assert.True(t, AreDeepEqual(a, b, pool))

	c := m.AllocNumberNode(2, 0)
	assert.False(t, AreDeepEqual(a, c, pool))
}

func TestToNumber(t *testing.T) {
	pool := strpool.New()
	m := NewManager(pool, nil)

	n := m.AllocStringNode(pool.CreateStringReferenceFromString("3.5"), 0)
	assert.Equal(t, 3.5, ToNumber(n, pool, -1))

	nullNode := m.AllocUninitializedNode(0)
	nullNode.Type = TypeNull
	assert.Equal(t, -1.0, ToNumber(nullNode, pool, -1))
}
