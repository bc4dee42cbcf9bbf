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

import "github.com/howsoai/amalgam-sub001/pkg/node"

// evalArith builds a binary-fold arithmetic opcode from a combining
// function, per spec.md §4.5's `+`/`-`/`*`/`/`: evaluates every child left
// to right and folds, so `(+ a b c)` works the same as `(+ (+ a b) c)`.
func evalArith(combine func(a, b float64) float64) opcodeFunc {
	return func(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
		if len(n.Ordered) == 0 {
			return it.Manager.AllocNumberNode(0, it.workerID), SignalNone
		}
		first, sig := it.InterpretNode(n.Ordered[0], false)
		if sig != SignalNone {
			return first, sig
		}
		acc := node.ToNumber(first, it.Pool, 0)
		for _, child := range n.Ordered[1:] {
			val, sig := it.InterpretNode(child, false)
			if sig != SignalNone {
				return val, sig
			}
			acc = combine(acc, node.ToNumber(val, it.Pool, 0))
		}
		return it.Manager.AllocNumberNode(acc, it.workerID), SignalNone
	}
}

func evalEqual(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	return compareBinary(it, n, func(a, b *node.Node) bool { return node.AreDeepEqual(a, b, it.Pool) })
}

func evalNotEqual(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	return compareBinary(it, n, func(a, b *node.Node) bool { return !node.AreDeepEqual(a, b, it.Pool) })
}

// evalCompare builds `<`/`>` from spec.md §4.4's tri-state Compare, true
// only when Compare returns exactly the requested ordering (Unordered
// pairs - e.g. comparing a number to a string - are always false).
func evalCompare(want node.Ordering) opcodeFunc {
	return func(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
		return compareBinary(it, n, func(a, b *node.Node) bool { return node.Compare(a, b, it.Pool) == want })
	}
}

func compareBinary(it *Interp, n *node.Node, pred func(a, b *node.Node) bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return boolNode(it.Manager, it.workerID, false), SignalNone
	}
	a, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return a, sig
	}
	b, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return b, sig
	}
	return boolNode(it.Manager, it.workerID, pred(a, b)), SignalNone
}

// evalAnd short-circuits on the first falsy child, per standard boolean
// logic; spec.md does not call out short-circuiting explicitly but it is
// the only sensible reading alongside `if`'s lazy branch evaluation.
func evalAnd(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	for _, child := range n.Ordered {
		v, sig := it.InterpretNode(child, false)
		if sig != SignalNone {
			return v, sig
		}
		if !isTruthy(v) {
			return boolNode(it.Manager, it.workerID, false), SignalNone
		}
	}
	return boolNode(it.Manager, it.workerID, true), SignalNone
}

func evalOr(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	for _, child := range n.Ordered {
		v, sig := it.InterpretNode(child, false)
		if sig != SignalNone {
			return v, sig
		}
		if isTruthy(v) {
			return boolNode(it.Manager, it.workerID, true), SignalNone
		}
	}
	return boolNode(it.Manager, it.workerID, false), SignalNone
}

func evalNot(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) == 0 {
		return boolNode(it.Manager, it.workerID, true), SignalNone
	}
	v, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return v, sig
	}
	return boolNode(it.Manager, it.workerID, !isTruthy(v)), SignalNone
}
