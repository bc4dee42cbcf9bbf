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
	"sort"

	"github.com/howsoai/amalgam-sub001/pkg/constraints"
	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/randstream"
)

// lambdaBody unwraps a lambda node to its body, or returns f itself if f
// is bare code - Amalgam's homoiconicity means both are valid "functions".
func lambdaBody(f *node.Node) *node.Node {
	if f != nil && f.Type == node.OpLambda && len(f.Ordered) > 0 {
		return f.Ordered[0]
	}
	return f
}

// withConstructionFrame runs fn with cf pushed onto the construction stack,
// used by map/filter/sort, replace, weave, zip and rewrite to expose
// current_index/
// current_value/previous_result/target to the body being evaluated.
func (it *Interp) withConstructionFrame(cf *constructionFrame, fn func() (*node.Node, Signal)) (*node.Node, Signal) {
	it.constructionStack = append(it.constructionStack, cf)
	defer func() { it.constructionStack = it.constructionStack[:len(it.constructionStack)-1] }()
	return fn()
}

func (it *Interp) forkForTask(rng *randstream.Stream, workerID int64) *Interp {
	child := &Interp{
		Entity: it.Entity,
		Manager: it.Manager,
		Pool:    it.Pool,
		Logger:  it.Logger,
		Constraints: &constraints.Constraints{
			MaxExecutionSteps:    it.Constraints.MaxExecutionSteps,
			MaxAllocatedNodes:    it.Constraints.MaxAllocatedNodes,
			MaxOpcodeDepth:       it.Constraints.MaxOpcodeDepth,
			MaxContainedEntities: it.Constraints.MaxContainedEntities,
			MaxContainedDepth:    it.Constraints.MaxContainedDepth,
			MaxEntityIDLength:    it.Constraints.MaxEntityIDLength,
		},
		ThreadPool: it.ThreadPool,
		rng:        rng,
		workerID:   workerID,
	}
	child.scopeStack = make([]*Frame, len(it.scopeStack))
	for i, f := range it.scopeStack {
		nf := newFrame()
		for k, v := range f.vars {
			nf.vars[k] = v
		}
		child.scopeStack[i] = nf
	}
	return child
}

// evalMap implements spec.md §4.5's `map f xs`. When n carries the
// concurrent attribute and a thread pool is attached, per-element tasks are
// fanned out via ConcurrencyManager; otherwise elements are evaluated
// sequentially in order. Either way the output is index-aligned with the
// input, satisfying the "concurrent map output is index-equal to
// sequential map output for deterministic f" property from spec.md §8.
func evalMap(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	fNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return fNode, sig
	}
	xsNode, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return xsNode, sig
	}
	elems := xsNode.Ordered
	body := lambdaBody(fNode)

	if n.HasFlag(node.AttrConcurrent) && it.ThreadPool != nil && len(elems) > 1 {
		return it.concurrentElementwise(xsNode, elems, body)
	}

	results := make([]*node.Node, len(elems))
	for i, e := range elems {
		cf := &constructionFrame{target: xsNode, currentIndex: it.Manager.AllocNumberNode(float64(i), it.workerID), currentValue: e}
		res, _ := it.withConstructionFrame(cf, func() (*node.Node, Signal) { return it.InterpretNode(body, false) })
		results[i] = res
	}
	return it.Manager.AllocOpNode(node.TypeList, results, it.workerID), SignalNone
}

// concurrentElementwise is the ConcurrencyManager dispatch path shared by
// map/filter: per spec.md §4.5, each task gets its own PRNG split off the
// parent stream and a deep copy of the scope stack, and the dispatcher
// tracks completion via a CountableTaskSet rather than blocking a worker
// slot. It runs every element through body and returns the raw per-index
// results; map keeps them all, filter keeps only the truthy ones.
func (it *Interp) concurrentElementwise(target *node.Node, elems []*node.Node, body *node.Node) (*node.Node, Signal) {
	results := make([]*node.Node, len(elems))
	ts := it.ThreadPool.NewTaskSet(len(elems))
	for i, e := range elems {
		i, e := i, e
		childRNG := it.rng.CreateOtherStreamViaRand()
		it.ThreadPool.EnqueueTask(func() {
			child := it.forkForTask(childRNG, int64(i)+1)
			cf := &constructionFrame{target: target, currentIndex: child.Manager.AllocNumberNode(float64(i), child.workerID), currentValue: e}
			res, _ := child.withConstructionFrame(cf, func() (*node.Node, Signal) { return child.InterpretNode(body, false) })
			results[i] = res
			ts.MarkTaskCompleted()
		})
	}
	ts.WaitForTasks()
	return it.Manager.AllocOpNode(node.TypeList, results, it.workerID), SignalNone
}

// evalFilter implements `filter f? xs`: keeps elements for which f is
// truthy (or the element itself is truthy, when f is omitted).
func evalFilter(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 1 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	var fNode, xsNode *node.Node
	var sig Signal
	if len(n.Ordered) >= 2 {
		fNode, sig = it.InterpretNode(n.Ordered[0], false)
		if sig != SignalNone {
			return fNode, sig
		}
		xsNode, sig = it.InterpretNode(n.Ordered[1], false)
	} else {
		xsNode, sig = it.InterpretNode(n.Ordered[0], false)
	}
	if sig != SignalNone {
		return xsNode, sig
	}
	elems := xsNode.Ordered

	var predicated []*node.Node
	if fNode != nil {
		body := lambdaBody(fNode)
		if n.HasFlag(node.AttrConcurrent) && it.ThreadPool != nil && len(elems) > 1 {
			results, _ := it.concurrentElementwise(xsNode, elems, body)
			predicated = results.Ordered
		} else {
			predicated = make([]*node.Node, len(elems))
			for i, e := range elems {
				cf := &constructionFrame{target: xsNode, currentIndex: it.Manager.AllocNumberNode(float64(i), it.workerID), currentValue: e}
				predicated[i], _ = it.withConstructionFrame(cf, func() (*node.Node, Signal) { return it.InterpretNode(body, false) })
			}
		}
	} else {
		predicated = elems
	}

	out := make([]*node.Node, 0, len(elems))
	for i, e := range elems {
		if isTruthy(predicated[i]) {
			out = append(out, e)
		}
	}
	return it.Manager.AllocOpNode(node.TypeList, out, it.workerID), SignalNone
}

// evalReduce implements `reduce f xs`: left-fold with the running
// accumulator exposed as previous_result and the current element as
// current_value, per spec.md §4.5.
func evalReduce(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	fNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return fNode, sig
	}
	xsNode, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return xsNode, sig
	}
	elems := xsNode.Ordered
	if len(elems) == 0 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	body := lambdaBody(fNode)

	acc := elems[0]
	cf := &constructionFrame{target: xsNode, previousResult: acc}
	it.constructionStack = append(it.constructionStack, cf)
	defer func() { it.constructionStack = it.constructionStack[:len(it.constructionStack)-1] }()

	for i := 1; i < len(elems); i++ {
		cf.currentValue = elems[i]
		cf.currentIndex = it.Manager.AllocNumberNode(float64(i), it.workerID)
		res, sig := it.InterpretNode(body, false)
		if sig == SignalReturn {
			return res, SignalReturn
		}
		acc = res
		cf.previousResult = acc
	}
	return acc, SignalNone
}

// evalSort implements `sort xs [cmp]`: ascending by node.Compare when no
// comparator is given, else by evaluating cmp with current_value/
// previous_result bound to the pair under comparison.
func evalSort(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 1 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	xsNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return xsNode, sig
	}
	out := append([]*node.Node(nil), xsNode.Ordered...)

	if len(n.Ordered) >= 2 {
		cmpNode, _ := it.InterpretNode(n.Ordered[1], false)
		body := lambdaBody(cmpNode)
		sort.SliceStable(out, func(i, j int) bool {
			cf := &constructionFrame{currentValue: out[i], previousResult: out[j]}
			res, _ := it.withConstructionFrame(cf, func() (*node.Node, Signal) { return it.InterpretNode(body, false) })
			return isTruthy(res)
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool {
			return node.Compare(out[i], out[j], it.Pool) == node.Less
		})
	}
	return it.Manager.AllocOpNode(node.TypeList, out, it.workerID), SignalNone
}

// evalReverse implements `reverse xs`.
func evalReverse(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 1 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	xsNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return xsNode, sig
	}
	out := make([]*node.Node, len(xsNode.Ordered))
	for i, e := range xsNode.Ordered {
		out[len(out)-1-i] = e
	}
	return it.Manager.AllocOpNode(node.TypeList, out, it.workerID), SignalNone
}
