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

// depthArg evaluates n's first child (if present) as a stack depth,
// defaulting to 0 (innermost).
func depthArg(it *Interp, n *node.Node) int {
	if len(n.Ordered) == 0 {
		return 0
	}
	d, _ := it.InterpretNode(n.Ordered[0], false)
	return int(node.ToNumber(d, it.Pool, 0))
}

func (it *Interp) constructionFrameAt(depth int) *constructionFrame {
	idx := len(it.constructionStack) - 1 - depth
	if idx < 0 || idx >= len(it.constructionStack) {
		return nil
	}
	return it.constructionStack[idx]
}

// evalTarget reads the container being iterated at the given construction
// depth (spec.md §4.5's reflection group).
func evalTarget(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	cf := it.constructionFrameAt(depthArg(it, n))
	if cf == nil || cf.target == nil {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	return cf.target, SignalNone
}

func evalCurrentIndex(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	cf := it.constructionFrameAt(depthArg(it, n))
	if cf == nil || cf.currentIndex == nil {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	return cf.currentIndex, SignalNone
}

func evalCurrentValue(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	cf := it.constructionFrameAt(depthArg(it, n))
	if cf == nil || cf.currentValue == nil {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	return cf.currentValue, SignalNone
}

func evalPreviousResult(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	cf := it.constructionFrameAt(depthArg(it, n))
	if cf == nil || cf.previousResult == nil {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	return cf.previousResult, SignalNone
}

// evalOpcodeStack materializes the current opcode stack as a list, for
// introspective opcodes.
func evalOpcodeStack(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	out := it.Manager.AllocOpNode(node.TypeList, append([]*node.Node(nil), it.opcodeStack...), it.workerID)
	return out, SignalNone
}

// evalStack materializes the scope stack as a list of assoc frames, for
// introspective opcodes.
func evalStack(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	frames := make([]*node.Node, 0, len(it.scopeStack))
	for _, f := range it.scopeStack {
		assoc := it.Manager.AllocUninitializedNode(it.workerID)
		assoc.Type = node.TypeAssoc
		assoc.Kind = node.ValueAssoc
		assoc.Assoc = make(map[strpool.StringID]*node.Node, len(f.vars))
		for k, v := range f.vars {
			assoc.Assoc[k] = v
		}
		frames = append(frames, assoc)
	}
	return it.Manager.AllocOpNode(node.TypeList, frames, it.workerID), SignalNone
}

// evalArgs returns the scope frame at the given depth as an assoc, or null
// if no such frame exists.
func evalArgs(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	depth := depthArg(it, n)
	idx := len(it.scopeStack) - 1 - depth
	if idx < 0 || idx >= len(it.scopeStack) {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	f := it.scopeStack[idx]
	assoc := it.Manager.AllocUninitializedNode(it.workerID)
	assoc.Type = node.TypeAssoc
	assoc.Kind = node.ValueAssoc
	assoc.Assoc = make(map[strpool.StringID]*node.Node, len(f.vars))
	for k, v := range f.vars {
		assoc.Assoc[k] = v
	}
	return assoc, SignalNone
}
