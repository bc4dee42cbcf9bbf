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
	"github.com/howsoai/amalgam-sub001/pkg/constraints"
	"github.com/howsoai/amalgam-sub001/pkg/node"
)

// evalCall implements spec.md §4.5's `call f args`: evaluate f (typically
// a lambda or bare code block - Amalgam is homoiconic, so "a function" is
// just a node of code), bind args (an assoc) into a fresh scope frame, run
// the body, and unwrap any `return` signal at this boundary (a `return`
// crosses sequences but stops at the first enclosing call).
func evalCall(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 1 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	fNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return fNode, sig
	}

	var argsNode *node.Node
	if len(n.Ordered) > 1 {
		argsNode, sig = it.InterpretNode(n.Ordered[1], false)
		if sig != SignalNone {
			return argsNode, sig
		}
	}

	body := fNode
	if fNode != nil && fNode.Type == node.OpLambda && len(fNode.Ordered) > 0 {
		body = fNode.Ordered[0]
	}

	it.pushScope()
	defer it.popScope()
	if argsNode != nil && argsNode.Kind == node.ValueAssoc {
		top := it.scopeStack[len(it.scopeStack)-1]
		for k, v := range argsNode.Assoc {
			top.vars[k] = v
		}
	}

	result, _ := it.InterpretNode(body, immediateResult)
	return result, SignalNone
}

// evalCallSandboxed implements `call_sandboxed f args max_steps`: runs f
// under a fresh, independent InterpreterConstraints and a nested
// interpreter sharing this one's node manager and entity but isolated
// scope/opcode/construction stacks, per spec.md §4.5. On exhaustion, the
// violation is also surfaced on the enclosing interpreter's own
// constraints so a top-level caller can observe it without needing a
// handle to the discarded sandbox.
func evalCallSandboxed(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 1 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	fNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return fNode, sig
	}

	var argsNode *node.Node
	if len(n.Ordered) > 1 {
		argsNode, _ = it.InterpretNode(n.Ordered[1], false)
	}

	sandboxConstraints := constraints.Unlimited()
	if len(n.Ordered) > 2 {
		stepsNode, _ := it.InterpretNode(n.Ordered[2], false)
		sandboxConstraints.MaxExecutionSteps = int64(node.ToNumber(stepsNode, it.Pool, 0))
	}

	sandbox := &Interp{
		Entity:      it.Entity,
		Manager:     it.Manager,
		Pool:        it.Pool,
		Logger:      it.Logger,
		Constraints: sandboxConstraints,
		ThreadPool:  it.ThreadPool,
		rng:         it.rng.CreateOtherStreamViaRand(),
		workerID:    it.workerID,
	}

	body := fNode
	if fNode != nil && fNode.Type == node.OpLambda && len(fNode.Ordered) > 0 {
		body = fNode.Ordered[0]
	}

	sandbox.pushScope()
	if argsNode != nil && argsNode.Kind == node.ValueAssoc {
		top := sandbox.scopeStack[0]
		for k, v := range argsNode.Assoc {
			top.vars[k] = v
		}
	}

	result, _ := sandbox.InterpretNode(body, immediateResult)

	if sandboxConstraints.Exceeded {
		it.Constraints.Exceeded = true
		it.Constraints.Violation = sandboxConstraints.Violation
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	return result, SignalNone
}
