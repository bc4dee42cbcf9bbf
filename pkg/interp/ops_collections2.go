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

// evalWeave implements `weave f? xss...`: interleaves multiple lists
// element-by-element, optionally applying f to each tuple of
// simultaneous elements (current_value bound to the tuple as a list) -
// spec.md §4.5's collection-transform catalog.
func evalWeave(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 1 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	var fNode *node.Node
	listsStart := 0
	first, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return first, sig
	}
	if first != nil && (first.Type == node.OpLambda || first.Kind != node.ValueOrdered) {
		fNode = first
		listsStart = 1
	}

	var lists [][]*node.Node
	maxLen := 0
	for i := listsStart; i < len(n.Ordered); i++ {
		var ln *node.Node
		if i == 0 {
			ln = first
		} else {
			ln, sig = it.InterpretNode(n.Ordered[i], false)
			if sig != SignalNone {
				return ln, sig
			}
		}
		lists = append(lists, ln.Ordered)
		if len(ln.Ordered) > maxLen {
			maxLen = len(ln.Ordered)
		}
	}

	out := make([]*node.Node, 0, maxLen*len(lists))
	for i := 0; i < maxLen; i++ {
		tuple := make([]*node.Node, 0, len(lists))
		for _, l := range lists {
			if i < len(l) {
				tuple = append(tuple, l[i])
			}
		}
		tupleNode := it.Manager.AllocOpNode(node.TypeList, tuple, it.workerID)
		if fNode == nil {
			out = append(out, tuple...)
			continue
		}
		body := lambdaBody(fNode)
		cf := &constructionFrame{currentValue: tupleNode, currentIndex: it.Manager.AllocNumberNode(float64(i), it.workerID)}
		res, _ := it.withConstructionFrame(cf, func() (*node.Node, Signal) { return it.InterpretNode(body, false) })
		out = append(out, res)
	}
	return it.Manager.AllocOpNode(node.TypeList, out, it.workerID), SignalNone
}

// evalZip implements `zip [f] keys values`: pairs keys with values into an
// assoc, applying f to combine a value with any existing entry for the
// same key (default: last value wins).
func evalZip(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	var fNode *node.Node
	idx := 0
	if len(n.Ordered) >= 3 {
		var sig Signal
		fNode, sig = it.InterpretNode(n.Ordered[0], false)
		if sig != SignalNone {
			return fNode, sig
		}
		idx = 1
	}
	keysNode, sig := it.InterpretNode(n.Ordered[idx], false)
	if sig != SignalNone {
		return keysNode, sig
	}
	valuesNode, sig := it.InterpretNode(n.Ordered[idx+1], false)
	if sig != SignalNone {
		return valuesNode, sig
	}

	out := it.Manager.AllocUninitializedNode(it.workerID)
	out.Type = node.TypeAssoc
	out.Kind = node.ValueAssoc
	out.Assoc = make(map[strpool.StringID]*node.Node, len(keysNode.Ordered))
	for i, k := range keysNode.Ordered {
		sid := node.ToStringIDWithReference(k, it.Pool, true)
		var v *node.Node
		if i < len(valuesNode.Ordered) {
			v = valuesNode.Ordered[i]
		} else {
			v = nullNode(it.Manager, it.workerID)
		}
		if existing, ok := out.Assoc[sid]; ok && fNode != nil {
			body := lambdaBody(fNode)
			cf := &constructionFrame{currentValue: v, previousResult: existing}
			v, _ = it.withConstructionFrame(cf, func() (*node.Node, Signal) { return it.InterpretNode(body, false) })
		}
		out.Assoc[sid] = v
	}
	return out, SignalNone
}

// evalUnzip implements `unzip assoc keys`: projects the named keys out of
// an assoc into a parallel values list, in key order.
func evalUnzip(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	assocVal, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return assocVal, sig
	}
	keysNode, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return keysNode, sig
	}
	out := make([]*node.Node, len(keysNode.Ordered))
	for i, k := range keysNode.Ordered {
		sid := node.ToStringIDWithReference(k, it.Pool, true)
		if v, ok := assocVal.Assoc[sid]; ok {
			out[i] = v
		} else {
			out[i] = nullNode(it.Manager, it.workerID)
		}
	}
	return it.Manager.AllocOpNode(node.TypeList, out, it.workerID), SignalNone
}

// evalAssociate implements `associate k1 v1 k2 v2 ...`: builds a fresh
// assoc node from key/value pairs.
func evalAssociate(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	out := it.Manager.AllocUninitializedNode(it.workerID)
	out.Type = node.TypeAssoc
	out.Kind = node.ValueAssoc
	out.Assoc = make(map[strpool.StringID]*node.Node, len(n.Ordered)/2)
	for i := 0; i+1 < len(n.Ordered); i += 2 {
		kNode, sig := it.InterpretNode(n.Ordered[i], false)
		if sig != SignalNone {
			return kNode, sig
		}
		vNode, sig := it.InterpretNode(n.Ordered[i+1], false)
		if sig != SignalNone {
			return vNode, sig
		}
		sid := node.ToStringIDWithReference(kNode, it.Pool, true)
		out.Assoc[sid] = vNode
	}
	return out, SignalNone
}

// evalIndices implements `indices xs`: for a list, the numeric positions;
// for an assoc, the keys as string nodes.
func evalIndices(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 1 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	xsNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return xsNode, sig
	}
	var out []*node.Node
	switch xsNode.Kind {
	case node.ValueOrdered:
		out = make([]*node.Node, len(xsNode.Ordered))
		for i := range xsNode.Ordered {
			out[i] = it.Manager.AllocNumberNode(float64(i), it.workerID)
		}
	case node.ValueAssoc:
		out = make([]*node.Node, 0, len(xsNode.Assoc))
		for k := range xsNode.Assoc {
			s := it.Manager.AllocStringNode(it.Pool.CreateStringReference(k), it.workerID)
			out = append(out, s)
		}
	}
	return it.Manager.AllocOpNode(node.TypeList, out, it.workerID), SignalNone
}

// evalValues implements `values xs [unique?]`: for an assoc, the mapped
// values; for a list, the elements themselves; unique optionally
// deduplicates by deep equality.
func evalValues(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 1 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	xsNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return xsNode, sig
	}
	unique := false
	if len(n.Ordered) >= 2 {
		u, _ := it.InterpretNode(n.Ordered[1], false)
		unique = isTruthy(u)
	}

	var out []*node.Node
	switch xsNode.Kind {
	case node.ValueAssoc:
		out = make([]*node.Node, 0, len(xsNode.Assoc))
		for _, v := range xsNode.Assoc {
			out = append(out, v)
		}
	default:
		out = append([]*node.Node(nil), xsNode.Ordered...)
	}

	if unique {
		dedup := out[:0]
		for _, v := range out {
			seen := false
			for _, d := range dedup {
				if node.AreDeepEqual(v, d, it.Pool) {
					seen = true
					break
				}
			}
			if !seen {
				dedup = append(dedup, v)
			}
		}
		out = dedup
	}
	return it.Manager.AllocOpNode(node.TypeList, out, it.workerID), SignalNone
}

// evalContainsIndex implements `contains_index xs i`.
func evalContainsIndex(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return boolNode(it.Manager, it.workerID, false), SignalNone
	}
	xsNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return xsNode, sig
	}
	keyNode, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return keyNode, sig
	}
	switch xsNode.Kind {
	case node.ValueOrdered:
		_, ok := resolveIndex(keyNode, len(xsNode.Ordered))
		return boolNode(it.Manager, it.workerID, ok), SignalNone
	case node.ValueAssoc:
		sid := node.ToStringIDWithReference(keyNode, it.Pool, true)
		_, ok := xsNode.Assoc[sid]
		return boolNode(it.Manager, it.workerID, ok), SignalNone
	}
	return boolNode(it.Manager, it.workerID, false), SignalNone
}

// evalContainsValue implements `contains_value xs v`, comparing by deep
// equality.
func evalContainsValue(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return boolNode(it.Manager, it.workerID, false), SignalNone
	}
	xsNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return xsNode, sig
	}
	vNode, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return vNode, sig
	}
	switch xsNode.Kind {
	case node.ValueOrdered:
		for _, c := range xsNode.Ordered {
			if node.AreDeepEqual(c, vNode, it.Pool) {
				return boolNode(it.Manager, it.workerID, true), SignalNone
			}
		}
	case node.ValueAssoc:
		for _, c := range xsNode.Assoc {
			if node.AreDeepEqual(c, vNode, it.Pool) {
				return boolNode(it.Manager, it.workerID, true), SignalNone
			}
		}
	}
	return boolNode(it.Manager, it.workerID, false), SignalNone
}

// evalRemove implements `remove xs keys`: returns xs with the named
// indices/keys dropped.
func evalRemove(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	return removeOrKeep(it, n, false)
}

// evalKeep implements `keep xs keys`: returns xs restricted to the named
// indices/keys.
func evalKeep(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	return removeOrKeep(it, n, true)
}

func removeOrKeep(it *Interp, n *node.Node, keep bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	xsNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return xsNode, sig
	}
	keysNode, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return keysNode, sig
	}
	keys := pathSteps(keysNode)

	switch xsNode.Kind {
	case node.ValueAssoc:
		named := make(map[strpool.StringID]bool, len(keys))
		for _, k := range keys {
			named[node.ToStringIDWithReference(k, it.Pool, true)] = true
		}
		out := it.Manager.AllocUninitializedNode(it.workerID)
		out.Type = node.TypeAssoc
		out.Kind = node.ValueAssoc
		out.Assoc = make(map[strpool.StringID]*node.Node)
		for k, v := range xsNode.Assoc {
			if named[k] == keep {
				out.Assoc[k] = v
			}
		}
		return out, SignalNone
	case node.ValueOrdered:
		named := make(map[int]bool, len(keys))
		for _, k := range keys {
			if idx, ok := resolveIndex(k, len(xsNode.Ordered)); ok {
				named[idx] = true
			}
		}
		var out []*node.Node
		for i, v := range xsNode.Ordered {
			if named[i] == keep {
				out = append(out, v)
			}
		}
		return it.Manager.AllocOpNode(node.TypeList, out, it.workerID), SignalNone
	}
	return xsNode, SignalNone
}

// evalApply implements `apply type xs`: reinterprets a list's elements (or
// an assoc's values) as a new container of the given type ("list" or
// "assoc", by the type string's contents); xs must already be shaped
// correctly for assoc targets (list of [key value] pairs).
func evalApply(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	typeNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return typeNode, sig
	}
	xsNode, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return xsNode, sig
	}
	typeStr, _ := it.Pool.GetStringFromID(typeNode.StringID)

	if typeStr == "assoc" {
		out := it.Manager.AllocUninitializedNode(it.workerID)
		out.Type = node.TypeAssoc
		out.Kind = node.ValueAssoc
		out.Assoc = make(map[strpool.StringID]*node.Node, len(xsNode.Ordered))
		for _, pair := range xsNode.Ordered {
			if len(pair.Ordered) < 2 {
				continue
			}
			sid := node.ToStringIDWithReference(pair.Ordered[0], it.Pool, true)
			out.Assoc[sid] = pair.Ordered[1]
		}
		return out, SignalNone
	}

	var elems []*node.Node
	if xsNode.Kind == node.ValueAssoc {
		for _, v := range xsNode.Assoc {
			elems = append(elems, v)
		}
	} else {
		elems = xsNode.Ordered
	}
	return it.Manager.AllocOpNode(node.TypeList, elems, it.workerID), SignalNone
}

// evalRewrite implements `rewrite f tree`: applies f to every node of
// tree bottom-up, with current_value bound to the node under rewrite,
// building a new tree from f's results - spec.md §4.5 and §9's "model as
// sentinel node types" guidance extended to a generic tree transform.
func evalRewrite(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	fNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return fNode, sig
	}
	treeNode, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return treeNode, sig
	}
	body := lambdaBody(fNode)

	var rewriteRec func(cur *node.Node) *node.Node
	rewriteRec = func(cur *node.Node) *node.Node {
		if cur == nil {
			return nullNode(it.Manager, it.workerID)
		}
		rewritten := cur
		switch cur.Kind {
		case node.ValueOrdered:
			newChildren := make([]*node.Node, len(cur.Ordered))
			for i, c := range cur.Ordered {
				newChildren[i] = rewriteRec(c)
			}
			rewritten = it.Manager.AllocOpNode(cur.Type, newChildren, it.workerID)
		case node.ValueAssoc:
			newAssoc := make(map[strpool.StringID]*node.Node, len(cur.Assoc))
			for k, c := range cur.Assoc {
				newAssoc[k] = rewriteRec(c)
			}
			rewritten = it.Manager.AllocUninitializedNode(it.workerID)
			rewritten.Type = cur.Type
			rewritten.Kind = node.ValueAssoc
			rewritten.Assoc = newAssoc
		}
		cf := &constructionFrame{currentValue: rewritten}
		res, _ := it.withConstructionFrame(cf, func() (*node.Node, Signal) { return it.InterpretNode(body, false) })
		return res
	}
	return rewriteRec(treeNode), SignalNone
}
