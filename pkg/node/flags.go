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

// pureOpcodes is the set of opcode types with no side effects, used by
// UpdateFlagsForNodeTree to decide isIdempotent. Side-effecting opcodes
// (assignment, entity mutation, I/O) are deliberately excluded.
var pureOpcodes = map[Type]bool{
	TypeNull: true, TypeTrue: true, TypeFalse: true,
	TypeNumber: true, TypeString: true, TypeList: true, TypeAssoc: true,
	OpIf: true, OpAdd: true, OpSubtract: true, OpMultiply: true, OpDivide: true,
	OpEqual: true, OpNotEqual: true, OpLess: true, OpGreater: true,
	OpAnd: true, OpOr: true, OpNot: true,
	OpMap: true, OpFilter: true, OpReduce: true, OpSort: true, OpReverse: true,
	OpZip: true, OpUnzip: true, OpAssociate: true, OpIndices: true, OpValues: true,
	OpContainsIndex: true, OpContainsValue: true, OpRemove: true, OpKeep: true,
	OpApply: true, OpGet: true, OpTarget: true, OpCurrentIndex: true,
	OpCurrentValue: true, OpPreviousResult: true,
}

// UpdateFlagsForNodeTree walks root post-order with an explicit visited set
// and sets needCycleCheck exactly on ancestors of any revisited descendant,
// and isIdempotent on nodes all of whose descendants are idempotent and
// whose own opcode is a pure function, per spec.md §4.2's flag-maintenance
// contract and the universal property in spec.md §8.
func UpdateFlagsForNodeTree(root *Node) {
	onPath := make(map[*Node]bool)
	visited := make(map[*Node]bool)
	updateFlagsRecurse(root, onPath, visited)
}

// updateFlagsRecurse returns whether root (or something below it) is
// reached more than once from the top-level root (a cycle or a shared
// node), and sets flags bottom-up.
func updateFlagsRecurse(root *Node, onPath, visited map[*Node]bool) bool {
	if root == nil {
		return false
	}
	if onPath[root] {
		// root lies on a path back to itself: it and everything above it
		// on the current recursion stack needs a cycle check.
		root.SetNeedCycleCheck(true)
		return true
	}
	if visited[root] {
		return true
	}

	onPath[root] = true
	visited[root] = true

	idempotent := isPure(root.Type)
	cyclic := false
	for _, c := range root.Children() {
		childCyclic := updateFlagsRecurse(c, onPath, visited)
		if childCyclic {
			cyclic = true
		}
		if !c.IsIdempotent() {
			idempotent = false
		}
	}

	delete(onPath, root)

	root.SetIsIdempotent(idempotent)
	if cyclic {
		root.SetNeedCycleCheck(true)
	}
	return cyclic
}

func isPure(t Type) bool {
	return pureOpcodes[t]
}
