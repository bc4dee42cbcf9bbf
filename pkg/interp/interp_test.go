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

	"github.com/howsoai/amalgam-sub001/pkg/constraints"
	"github.com/howsoai/amalgam-sub001/pkg/entity"
	"github.com/howsoai/amalgam-sub001/pkg/interp"
	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
	"github.com/howsoai/amalgam-sub001/pkg/threadpool"
)

// newTestInterp builds a fresh entity rooted at root and an interpreter
// ready to evaluate node trees against it, with every permission bit
// granted and an unlimited execution budget.
func newTestInterp(t *testing.T, pool *strpool.Pool, mgr *node.Manager, root *node.Node) (*interp.Interp, *entity.Entity) {
	t.Helper()
	e := entity.New(pool, mgr, root, strpool.NotAStringID, "seed")
	fullPerms := constraints.Set(0).Grant(constraints.PermStdOutAndStdErr).
		Grant(constraints.PermStdIn).Grant(constraints.PermEnvironment).
		Grant(constraints.PermSystem).Grant(constraints.PermAlterPerformance).
		Grant(constraints.PermLoad).Grant(constraints.PermStore)
	e.SetPermissions(fullPerms, fullPerms)
	pool2 := threadpool.New(2, nil)
	t.Cleanup(pool2.Shutdown)
	it := interp.New(e, mgr, pool, constraints.Unlimited(), pool2, nil)
	return it, e
}

func numberNode(mgr *node.Manager, v float64) *node.Node {
	return mgr.AllocNumberNode(v, 0)
}

func stringNode(pool *strpool.Pool, mgr *node.Manager, s string) *node.Node {
	return mgr.AllocStringNode(pool.CreateStringReferenceFromString(s), 0)
}

func listNode(mgr *node.Manager, kids ...*node.Node) *node.Node {
	return mgr.AllocOpNode(node.TypeList, kids, 0)
}

func opNode(mgr *node.Manager, t node.Type, kids ...*node.Node) *node.Node {
	return mgr.AllocOpNode(t, kids, 0)
}

func nullLit(mgr *node.Manager) *node.Node {
	n := mgr.AllocUninitializedNode(0)
	n.Type = node.TypeNull
	n.Kind = node.ValueNone
	return n
}

func trueLit(mgr *node.Manager) *node.Node {
	n := mgr.AllocUninitializedNode(0)
	n.Type = node.TypeTrue
	n.Kind = node.ValueNone
	return n
}

func TestEvalAssociateAndValues(t *testing.T) {
	pool := strpool.New()
	mgr := node.NewManager(pool, nil)
	it, _ := newTestInterp(t, pool, mgr, mgr.AllocNumberNode(0, 0))

	associate := opNode(mgr, node.OpAssociate,
		stringNode(pool, mgr, "a"), numberNode(mgr, 1),
		stringNode(pool, mgr, "b"), numberNode(mgr, 2),
	)
	result, sig := it.InterpretNode(associate, false)
	require.Equal(t, interp.SignalNone, sig)
	require.Equal(t, node.ValueAssoc, result.Kind)
	require.Len(t, result.Assoc, 2)

	values := opNode(mgr, node.OpValues, result)
	vresult, sig := it.InterpretNode(values, false)
	require.Equal(t, interp.SignalNone, sig)
	require.Len(t, vresult.Ordered, 2)
}

func TestEvalZipCombinesWithDefaultLastWins(t *testing.T) {
	pool := strpool.New()
	mgr := node.NewManager(pool, nil)
	it, _ := newTestInterp(t, pool, mgr, mgr.AllocNumberNode(0, 0))

	keys := listNode(mgr, stringNode(pool, mgr, "x"), stringNode(pool, mgr, "x"))
	vals := listNode(mgr, numberNode(mgr, 1), numberNode(mgr, 2))
	zip := opNode(mgr, node.OpZip, keys, vals)

	result, sig := it.InterpretNode(zip, false)
	require.Equal(t, interp.SignalNone, sig)
	require.Len(t, result.Assoc, 1)
	for _, v := range result.Assoc {
		assert.Equal(t, 2.0, v.Number)
	}
}

func TestEvalRemoveAndKeepOnList(t *testing.T) {
	pool := strpool.New()
	mgr := node.NewManager(pool, nil)
	it, _ := newTestInterp(t, pool, mgr, mgr.AllocNumberNode(0, 0))

	xs := listNode(mgr, numberNode(mgr, 10), numberNode(mgr, 20), numberNode(mgr, 30))
	keys := listNode(mgr, numberNode(mgr, 1))

	removed, sig := it.InterpretNode(opNode(mgr, node.OpRemove, xs, keys), false)
	require.Equal(t, interp.SignalNone, sig)
	require.Len(t, removed.Ordered, 2)
	assert.Equal(t, 10.0, removed.Ordered[0].Number)
	assert.Equal(t, 30.0, removed.Ordered[1].Number)

	xs2 := listNode(mgr, numberNode(mgr, 10), numberNode(mgr, 20), numberNode(mgr, 30))
	kept, sig := it.InterpretNode(opNode(mgr, node.OpKeep, xs2, keys), false)
	require.Equal(t, interp.SignalNone, sig)
	require.Len(t, kept.Ordered, 1)
	assert.Equal(t, 20.0, kept.Ordered[0].Number)
}

func TestEvalCreateAndRetrieveFromEntity(t *testing.T) {
	pool := strpool.New()
	mgr := node.NewManager(pool, nil)
	it, _ := newTestInterp(t, pool, mgr, mgr.AllocNumberNode(0, 0))

	childRoot := numberNode(mgr, 7)
	childRoot.Labels = []strpool.StringID{pool.CreateStringReferenceFromString("val")}

	create := opNode(mgr, node.OpCreateEntities, stringNode(pool, mgr, "kid"), childRoot)
	ids, sig := it.InterpretNode(create, false)
	require.Equal(t, interp.SignalNone, sig)
	require.Len(t, ids.Ordered, 1)
	require.Equal(t, node.TypeString, ids.Ordered[0].Type)

	retrieve := opNode(mgr, node.OpRetrieveFromEntity, stringNode(pool, mgr, "kid"), stringNode(pool, mgr, "val"))
	value, sig := it.InterpretNode(retrieve, false)
	require.Equal(t, interp.SignalNone, sig)
	assert.Equal(t, 7.0, value.Number)
}

func TestEvalQueryBetweenAndSortedList(t *testing.T) {
	pool := strpool.New()
	mgr := node.NewManager(pool, nil)
	it, _ := newTestInterp(t, pool, mgr, mgr.AllocNumberNode(0, 0))

	xLabel := pool.CreateStringReferenceFromString("x")
	for i, v := range []float64{1, 5, 9} {
		root := numberNode(mgr, v)
		root.Labels = []strpool.StringID{xLabel}
		create := opNode(mgr, node.OpCreateEntities, stringNode(pool, mgr, "e"+string(rune('0'+i))), root)
		_, sig := it.InterpretNode(create, false)
		require.Equal(t, interp.SignalNone, sig)
	}

	// Build a "between" condition assoc by hand since TypeAssoc literal
	// nodes aren't constructible via opNode (it carries Ordered children,
	// not an Assoc map); use the assoc helper directly.
	between := mgr.AllocUninitializedNode(0)
	between.Type = node.TypeAssoc
	between.Kind = node.ValueAssoc
	between.Assoc = map[strpool.StringID]*node.Node{
		pool.CreateStringReferenceFromString("kind"):  stringNode(pool, mgr, "between"),
		pool.CreateStringReferenceFromString("labels"): listNode(mgr, stringNode(pool, mgr, "x")),
		pool.CreateStringReferenceFromString("low"):    numberNode(mgr, 4),
		pool.CreateStringReferenceFromString("high"):   numberNode(mgr, 10),
	}
	conditions := listNode(mgr, between)

	query := opNode(mgr, node.OpQuery, nullLit(mgr), conditions)
	result, sig := it.InterpretNode(query, false)
	require.Equal(t, interp.SignalNone, sig)
	require.Equal(t, node.ValueAssoc, result.Kind)
	assert.Len(t, result.Assoc, 2)

	between.Assoc[pool.CreateStringReferenceFromString("sorted_list")] = trueLit(mgr)
	sortedConditions := listNode(mgr, between)
	sortedQuery := opNode(mgr, node.OpQuery, nullLit(mgr), sortedConditions)
	sortedResult, sig := it.InterpretNode(sortedQuery, false)
	require.Equal(t, interp.SignalNone, sig)
	require.Equal(t, node.ValueOrdered, sortedResult.Kind)
	require.Len(t, sortedResult.Ordered, 2)
	ids, values := sortedResult.Ordered[0], sortedResult.Ordered[1]
	assert.Len(t, ids.Ordered, 2)
	assert.Len(t, values.Ordered, 2)
}

func TestEvalSystemVersionAndOS(t *testing.T) {
	pool := strpool.New()
	mgr := node.NewManager(pool, nil)
	it, _ := newTestInterp(t, pool, mgr, mgr.AllocNumberNode(0, 0))

	version, sig := it.InterpretNode(opNode(mgr, node.OpSystem, stringNode(pool, mgr, "version")), false)
	require.Equal(t, interp.SignalNone, sig)
	s, _ := pool.GetStringFromID(version.StringID)
	assert.Equal(t, interp.Version, s)

	osResult, sig := it.InterpretNode(opNode(mgr, node.OpSystem, stringNode(pool, mgr, "os")), false)
	require.Equal(t, interp.SignalNone, sig)
	osStr, _ := pool.GetStringFromID(osResult.StringID)
	assert.NotEmpty(t, osStr)
}

func TestEvalSystemPrintlineDeniedWithoutPermission(t *testing.T) {
	pool := strpool.New()
	mgr := node.NewManager(pool, nil)
	root := mgr.AllocNumberNode(0, 0)
	e := entity.New(pool, mgr, root, strpool.NotAStringID, "seed")
	// No permissions granted.
	pool2 := threadpool.New(1, nil)
	t.Cleanup(pool2.Shutdown)
	it := interp.New(e, mgr, pool, constraints.Unlimited(), pool2, nil)

	printline := opNode(mgr, node.OpSystem, stringNode(pool, mgr, "printline"), stringNode(pool, mgr, "hi"))
	result, sig := it.InterpretNode(printline, false)
	require.Equal(t, interp.SignalNone, sig)
	assert.Equal(t, node.TypeNull, result.Type)
}

// TestEvalScenarios covers spec.md §8's literal end-to-end properties not
// already exercised elsewhere: assign/retrieve/accum arithmetic at the
// bare top level (no enclosing let/call), call_sandboxed surfacing a
// budget violation onto the outer interpreter, and concurrent map
// preserving element order.
func TestEvalScenarios(t *testing.T) {
	t.Run("sequential assign and retrieve accumulate across statements", func(t *testing.T) {
		pool := strpool.New()
		mgr := node.NewManager(pool, nil)
		it, _ := newTestInterp(t, pool, mgr, mgr.AllocNumberNode(0, 0))

		seq := opNode(mgr, node.OpSequence,
			opNode(mgr, node.OpAssign, stringNode(pool, mgr, "x"), numberNode(mgr, 3)),
			opNode(mgr, node.OpAssign, stringNode(pool, mgr, "x"),
				opNode(mgr, node.OpAdd,
					opNode(mgr, node.OpRetrieve, stringNode(pool, mgr, "x")),
					numberNode(mgr, 4),
				),
			),
			opNode(mgr, node.OpRetrieve, stringNode(pool, mgr, "x")),
		)

		result, sig := it.InterpretNode(seq, false)
		require.Equal(t, interp.SignalNone, sig)
		assert.Equal(t, 7.0, result.Number)
	})

	t.Run("call_sandboxed surfaces a budget violation on the outer interpreter", func(t *testing.T) {
		pool := strpool.New()
		mgr := node.NewManager(pool, nil)
		it, _ := newTestInterp(t, pool, mgr, mgr.AllocNumberNode(0, 0))

		infiniteLoop := opNode(mgr, node.OpLambda,
			opNode(mgr, node.OpWhile, trueLit(mgr), opNode(mgr, node.OpSequence)),
		)
		callSandboxed := opNode(mgr, node.OpCallSandboxed, infiniteLoop, nullLit(mgr), numberNode(mgr, 1000))

		result, sig := it.InterpretNode(callSandboxed, false)
		require.Equal(t, interp.SignalNone, sig)
		assert.Equal(t, node.TypeNull, result.Type)
		assert.True(t, it.Constraints.Exceeded)
		assert.Equal(t, constraints.ViolationExecutionStep, it.Constraints.Violation)
	})

	t.Run("concurrent map preserves element order", func(t *testing.T) {
		pool := strpool.New()
		mgr := node.NewManager(pool, nil)
		it, _ := newTestInterp(t, pool, mgr, mgr.AllocNumberNode(0, 0))

		xs := make([]*node.Node, 8)
		for i := range xs {
			xs[i] = numberNode(mgr, float64(i))
		}
		identity := opNode(mgr, node.OpLambda, opNode(mgr, node.OpCurrentValue))
		mapNode := opNode(mgr, node.OpMap, identity, listNode(mgr, xs...))
		mapNode.SetFlag(node.AttrConcurrent, true)

		result, sig := it.InterpretNode(mapNode, false)
		require.Equal(t, interp.SignalNone, sig)
		require.Len(t, result.Ordered, 8)
		for i, v := range result.Ordered {
			assert.Equal(t, float64(i), v.Number)
		}
	})
}

func TestEvalSystemSetAndGetMaxNumThreads(t *testing.T) {
	pool := strpool.New()
	mgr := node.NewManager(pool, nil)
	it, _ := newTestInterp(t, pool, mgr, mgr.AllocNumberNode(0, 0))

	set := opNode(mgr, node.OpSystem, stringNode(pool, mgr, "set_max_num_threads"), numberNode(mgr, 3))
	ok, sig := it.InterpretNode(set, false)
	require.Equal(t, interp.SignalNone, sig)
	assert.Equal(t, node.TypeTrue, ok.Type)

	get := opNode(mgr, node.OpSystem, stringNode(pool, mgr, "get_max_num_threads"))
	got, sig := it.InterpretNode(get, false)
	require.Equal(t, interp.SignalNone, sig)
	assert.Equal(t, 3.0, got.Number)
}
