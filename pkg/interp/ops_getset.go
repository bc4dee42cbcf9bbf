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

// pathSteps normalizes a path expression into a flat sequence of steps:
// a TypeList node is taken as multiple steps, anything else as one step,
// per spec.md §4.5's "path is a single key/index or a list thereof".
func pathSteps(pathNode *node.Node) []*node.Node {
	if pathNode == nil {
		return nil
	}
	if pathNode.Type == node.TypeList {
		return pathNode.Ordered
	}
	return []*node.Node{pathNode}
}

// resolveIndex turns a numeric path step into a concrete, non-negative
// slice index against a collection of length n, honoring "negative
// indices index from end" (spec.md §4.5). Returns ok=false for NaN/
// out-of-range indices, which spec.md says must fail the traversal.
func resolveIndex(step *node.Node, n int) (int, bool) {
	if step == nil || step.Type != node.TypeNumber {
		return 0, false
	}
	f := step.Number
	if f != f { // NaN
		return 0, false
	}
	i := int(f)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

func evalGet(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	container, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return container, sig
	}
	pathNode, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return pathNode, sig
	}

	cur := container
	for _, step := range pathSteps(pathNode) {
		if cur == nil {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		if step.Type == node.TypeNumber {
			if cur.Kind != node.ValueOrdered {
				return nullNode(it.Manager, it.workerID), SignalNone
			}
			idx, ok := resolveIndex(step, len(cur.Ordered))
			if !ok {
				return nullNode(it.Manager, it.workerID), SignalNone
			}
			cur = cur.Ordered[idx]
		} else {
			if cur.Kind != node.ValueAssoc {
				return nullNode(it.Manager, it.workerID), SignalNone
			}
			v, ok := cur.Assoc[step.StringID]
			if !ok {
				return nullNode(it.Manager, it.workerID), SignalNone
			}
			cur = v
		}
	}
	if cur == nil {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	return cur, SignalNone
}

// evalSet implements `set container path value`: traverses (creating
// missing assoc keys and extending lists as needed) and writes value at
// the final step, per spec.md §4.5.
func evalSet(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 3 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	container, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return container, sig
	}
	pathNode, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return pathNode, sig
	}
	value, sig := it.InterpretNode(n.Ordered[2], false)
	if sig != SignalNone {
		return value, sig
	}

	steps := pathSteps(pathNode)
	if len(steps) == 0 || container == nil {
		return container, SignalNone
	}
	it.writeAtPath(container, steps, value)
	it.markSideEffect()
	return container, SignalNone
}

// writeAtPath descends steps[:-1], extending containers as needed, then
// writes value at the final step.
func (it *Interp) writeAtPath(container *node.Node, steps []*node.Node, value *node.Node) {
	cur := container
	for i, step := range steps {
		last := i == len(steps)-1
		if step.Type == node.TypeNumber {
			if cur.Kind != node.ValueOrdered {
				cur.Kind = node.ValueOrdered
				cur.Type = node.TypeList
				cur.Ordered = nil
			}
			idx, ok := resolveIndex(step, len(cur.Ordered)+1)
			if !ok {
				return
			}
			for idx >= len(cur.Ordered) {
				cur.Ordered = append(cur.Ordered, nullNode(it.Manager, it.workerID))
			}
			if last {
				cur.Ordered[idx] = value
				return
			}
			if cur.Ordered[idx] == nil || (cur.Ordered[idx].Kind != node.ValueOrdered && cur.Ordered[idx].Kind != node.ValueAssoc) {
				cur.Ordered[idx] = it.Manager.AllocOpNode(node.TypeAssoc, nil, it.workerID)
				cur.Ordered[idx].Kind = node.ValueAssoc
				cur.Ordered[idx].Assoc = make(map[strpool.StringID]*node.Node)
			}
			cur = cur.Ordered[idx]
		} else {
			if cur.Kind != node.ValueAssoc {
				cur.Kind = node.ValueAssoc
				cur.Type = node.TypeAssoc
				cur.Assoc = make(map[strpool.StringID]*node.Node)
			}
			if cur.Assoc == nil {
				cur.Assoc = make(map[strpool.StringID]*node.Node)
			}
			if last {
				cur.Assoc[step.StringID] = value
				return
			}
			next, ok := cur.Assoc[step.StringID]
			if !ok || (next.Kind != node.ValueOrdered && next.Kind != node.ValueAssoc) {
				next = it.Manager.AllocUninitializedNode(it.workerID)
				next.Type = node.TypeAssoc
				next.Kind = node.ValueAssoc
				next.Assoc = make(map[strpool.StringID]*node.Node)
				cur.Assoc[step.StringID] = next
			}
			cur = next
		}
	}
}

// evalReplace implements `replace container path f`: reads the current
// value at path, applies f to it, and writes the result back.
func evalReplace(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 3 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	current, sig := evalGet(it, n, false)
	if sig != SignalNone {
		return current, sig
	}
	fNode, sig := it.InterpretNode(n.Ordered[2], false)
	if sig != SignalNone {
		return fNode, sig
	}
	body := lambdaBody(fNode)
	cf := &constructionFrame{currentValue: current}
	newValue, sig := it.withConstructionFrame(cf, func() (*node.Node, Signal) { return it.InterpretNode(body, false) })
	if sig != SignalNone {
		return newValue, sig
	}

	container, _ := it.InterpretNode(n.Ordered[0], false)
	pathNode, _ := it.InterpretNode(n.Ordered[1], false)
	steps := pathSteps(pathNode)
	if len(steps) > 0 && container != nil {
		it.writeAtPath(container, steps, newValue)
		it.markSideEffect()
	}
	return newValue, SignalNone
}
