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

package interp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howsoai/amalgam-sub001/pkg/asset"
	"github.com/howsoai/amalgam-sub001/pkg/interp"
	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
)

// memAssetManager is a minimal in-memory asset.Manager for testing the
// load/store opcodes without touching disk, mirroring what the CLI wires a
// real pkg/assetstore/cozo.Store in for instead.
type memAssetManager struct {
	resources map[string]*node.Node
	entities  map[string]*node.Node
}

func newMemAssetManager() *memAssetManager {
	return &memAssetManager{resources: map[string]*node.Node{}, entities: map[string]*node.Node{}}
}

func (m *memAssetManager) LoadResource(p asset.Parameters) (*node.Node, []string, error) {
	n, ok := m.resources[p.Path]
	if !ok {
		return nil, nil, assert.AnError
	}
	return n, nil, nil
}

func (m *memAssetManager) StoreResource(p asset.Parameters, root *node.Node) error {
	m.resources[p.Path] = root
	return nil
}

func (m *memAssetManager) LoadEntityResource(p asset.Parameters) (*node.Node, string, error) {
	n, ok := m.entities[p.Path]
	if !ok {
		return nil, "", assert.AnError
	}
	return n, "loaded", nil
}

func (m *memAssetManager) StoreEntityResource(p asset.Parameters, e asset.EntityHandle) error {
	m.entities[p.Path] = e.Root()
	return nil
}

func TestLoadStoreRoundTrip(t *testing.T) {
	pool := strpool.New()
	mgr := node.NewManager(pool, nil)
	it, _ := newTestInterp(t, pool, mgr, nullLit(mgr))
	am := newMemAssetManager()
	it.AssetManager = am

	storeExpr := opNode(mgr, node.OpStore, stringNode(pool, mgr, "data.caml"), numberNode(mgr, 42))
	result, sig := it.InterpretNode(storeExpr, false)
	require.Equal(t, interp.SignalNone, sig)
	assert.Equal(t, node.TypeTrue, result.Type)

	loadExpr := opNode(mgr, node.OpLoad, stringNode(pool, mgr, "data.caml"))
	loaded, sig := it.InterpretNode(loadExpr, false)
	require.Equal(t, interp.SignalNone, sig)
	assert.Equal(t, node.TypeNumber, loaded.Type)
	assert.Equal(t, float64(42), loaded.Number)
}

func TestLoadMissingPermissionReturnsNull(t *testing.T) {
	pool := strpool.New()
	mgr := node.NewManager(pool, nil)
	it, e := newTestInterp(t, pool, mgr, nullLit(mgr))
	e.SetPermissions(e.Permissions(), 0)
	it.AssetManager = newMemAssetManager()

	loadExpr := opNode(mgr, node.OpLoad, stringNode(pool, mgr, "nope.caml"))
	result, _ := it.InterpretNode(loadExpr, false)
	assert.Equal(t, node.TypeNull, result.Type)
}

func TestLoadEntityInsertsContainedEntity(t *testing.T) {
	pool := strpool.New()
	mgr := node.NewManager(pool, nil)
	it, e := newTestInterp(t, pool, mgr, nullLit(mgr))
	am := newMemAssetManager()
	am.entities["child.caml"] = numberNode(mgr, 7)
	it.AssetManager = am

	loadEntityExpr := opNode(mgr, node.OpLoadEntity, stringNode(pool, mgr, "child.caml"))
	result, sig := it.InterpretNode(loadEntityExpr, false)
	require.Equal(t, interp.SignalNone, sig)
	require.Equal(t, node.TypeString, result.Type)

	idStr, _ := pool.GetStringFromID(result.StringID)
	child, ok := e.ContainedEntityByID(pool.CreateStringReferenceFromString(idStr))
	require.True(t, ok)
	assert.Equal(t, float64(7), child.Root().Number)
}
