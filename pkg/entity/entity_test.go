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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howsoai/amalgam-sub001/pkg/constraints"
	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
)

type recordingListener struct {
	created  []string
	destroyed []string
}

func (r *recordingListener) LogCreateEntity(e *Entity)  { r.created = append(r.created, e.String()) }
func (r *recordingListener) LogDestroyEntity(e *Entity) { r.destroyed = append(r.destroyed, e.String()) }
func (r *recordingListener) LogWriteValueToEntity(e *Entity, labelID strpool.StringID, value *node.Node, direct bool) {
}
func (r *recordingListener) LogSetRandomSeed(e *Entity, state string) {}

func newTestEntity(t *testing.T) (*Entity, *strpool.Pool) {
	pool := strpool.New()
	m := node.NewManager(pool, nil)
	root := m.AllocNumberNode(42, 0)
	e := New(pool, m, root, pool.CreateStringReferenceFromString("root"), "seed")
	require.NotNil(t, e)
	return e, pool
}

func TestGetValueAtLabelRespectsPrivacy(t *testing.T) {
	e, pool := newTestEntity(t)

	publicLabel := pool.CreateStringReferenceFromString("pub")
	privateLabel := pool.CreateStringReferenceFromString("#priv")
	e.root.Labels = []strpool.StringID{publicLabel, privateLabel}
	e.labels[publicLabel] = e.root
	e.labels[privateLabel] = e.root

	_, ok := e.GetValueAtLabel(publicLabel, nil, true, false)
	assert.True(t, ok)

	_, ok = e.GetValueAtLabel(privateLabel, nil, true, false)
	assert.False(t, ok, "private label must not be visible from outside")

	_, ok = e.GetValueAtLabel(privateLabel, nil, true, true)
	assert.True(t, ok, "private label is visible to the entity itself")
}

func TestAddContainedEntityBothOrderings(t *testing.T) {
	parent, pool := newTestEntity(t)
	listener := &recordingListener{}

	child1, _ := newTestEntity(t)
	id1 := pool.CreateStringReferenceFromString("child-a")
	got1 := parent.AddContainedEntity(child1, id1, []WriteListener{listener})
	assert.Equal(t, id1, got1)

	child2, _ := newTestEntity(t)
	got2 := parent.AddContainedEntityWithReferenceFirst(child2, "child-b", []WriteListener{listener})
	assert.NotEqual(t, strpool.NotAStringID, got2)

	assert.Len(t, listener.created, 2)
	assert.Len(t, parent.ContainedEntities(), 2)

	// Colliding id on the first ordering is rejected.
	child3, _ := newTestEntity(t)
	dup := parent.AddContainedEntity(child3, id1, nil)
	assert.Equal(t, strpool.NotAStringID, dup)

	// Colliding id on the second ordering is rejected too.
	child4, _ := newTestEntity(t)
	dup2 := parent.AddContainedEntityWithReferenceFirst(child4, "child-b", nil)
	assert.Equal(t, strpool.NotAStringID, dup2)
}

func TestRemoveContainedEntitySwapRemove(t *testing.T) {
	parent, pool := newTestEntity(t)

	a, _ := newTestEntity(t)
	b, _ := newTestEntity(t)
	c, _ := newTestEntity(t)
	idA := parent.AddContainedEntity(a, pool.CreateStringReferenceFromString("a"), nil)
	idB := parent.AddContainedEntity(b, pool.CreateStringReferenceFromString("b"), nil)
	idC := parent.AddContainedEntity(c, pool.CreateStringReferenceFromString("c"), nil)

	ok := parent.RemoveContainedEntity(idA, nil)
	assert.True(t, ok)
	assert.Len(t, parent.ContainedEntities(), 2)

	_, stillThereB := parent.ContainedEntityByID(idB)
	_, stillThereC := parent.ContainedEntityByID(idC)
	assert.True(t, stillThereB)
	assert.True(t, stillThereC)

	assert.Nil(t, a.Container())
}

func TestSetRandomStateDeepReseedsChildren(t *testing.T) {
	parent, pool := newTestEntity(t)
	child, _ := newTestEntity(t)
	parent.AddContainedEntity(child, pool.CreateStringReferenceFromString("kid"), nil)

	originalChildState := child.GetRandomState()
	parent.SetRandomState(parent.GetRandomState(), true, nil)
	// A deep reseed derives a new deterministic state for the child from the
	// parent's (possibly unchanged) stream and the child's own id - it need
	// not differ from the original in this contrived same-state case, but it
	// must remain deterministic and well-formed.
	assert.NotEmpty(t, child.GetRandomState())
	_ = originalChildState
}

func TestSetPermissionsRequiresHolderPermission(t *testing.T) {
	e, _ := newTestEntity(t)

	ok := e.SetPermissions(constraints.Set(0), constraints.Set(0).Grant(constraints.PermSystem))
	assert.False(t, ok, "cannot grant a permission the caller does not hold")

	callerPerms := constraints.Set(0).Grant(constraints.PermLoad)
	ok = e.SetPermissions(callerPerms, callerPerms)
	assert.True(t, ok)
	assert.True(t, e.Permissions().Has(constraints.PermLoad))
}

func TestCloneIsIndependentCopy(t *testing.T) {
	e, pool := newTestEntity(t)
	destManager := node.NewManager(pool, nil)

	clone := e.Clone(destManager)
	assert.NotSame(t, e.Root(), clone.Root())
	assert.True(t, node.AreDeepEqual(e.Root(), clone.Root(), pool))
}
