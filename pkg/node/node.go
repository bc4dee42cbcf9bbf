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

// Package node implements the evaluable node tree and its arena-backed,
// concurrently garbage-collected manager described in spec.md §3 and §4.2.
package node

import "github.com/howsoai/amalgam-sub001/pkg/strpool"

// Type is the node's discriminant: one opcode/literal tag out of the
// roughly 150 the full Amalgam language defines. SPEC_FULL.md implements a
// representative core set (see the interp package) rather than all ~150;
// the Type enumeration itself reserves room for the rest.
type Type uint16

const (
	TypeNull Type = iota
	TypeTrue
	TypeFalse
	TypeNumber
	TypeString
	TypeSymbol // a bare identifier reference, resolved against the scope stack
	TypeList
	TypeAssoc

	// Everything from here on is an opcode tag; the interpreter's dispatch
	// table is keyed by these.
	OpSequence
	OpConclude
	OpReturn
	OpLet
	OpDeclare
	OpAssign
	OpAccum
	OpRetrieve
	OpIf
	OpWhile
	OpLambda
	OpCall
	OpCallSandboxed
	OpTarget
	OpCurrentIndex
	OpCurrentValue
	OpPreviousResult
	OpOpcodeStack
	OpStack
	OpArgs
	OpMap
	OpFilter
	OpReduce
	OpWeave
	OpSort
	OpReverse
	OpZip
	OpUnzip
	OpAssociate
	OpIndices
	OpValues
	OpContainsIndex
	OpContainsValue
	OpRemove
	OpKeep
	OpApply
	OpRewrite
	OpGet
	OpSet
	OpReplace
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpEqual
	OpNotEqual
	OpLess
	OpGreater
	OpAnd
	OpOr
	OpNot
	OpCreateEntities
	OpDestroyEntities
	OpCloneEntities
	OpContainedEntities
	OpRetrieveFromEntity
	OpAssignToEntity
	OpAccumToEntity
	OpQuery
	OpSystem

	// Asset-interface opcodes (spec.md §6): the core hands an abstract
	// AssetParameters to the out-of-scope asset manager collaborator and
	// gets back a node tree (load/store) or a fully-constructed entity
	// (load_entity/store_entity).
	OpLoad
	OpStore
	OpLoadEntity
	OpStoreEntity

	numTypes
)

// Attribute flags packed into a node's attribute byte (spec.md §3).
type Attribute uint8

const (
	AttrHasExtendedValue Attribute = 1 << iota
	AttrNeedCycleCheck
	AttrIsIdempotent
	AttrConcurrent
	AttrKnownToBeInUse // GC mark bit
)

// ValueKind discriminates the alternative shapes a node's value union may
// take, per spec.md §3's "tagged sum" guidance in §9.
type ValueKind uint8

const (
	ValueNone ValueKind = iota
	ValueNumber
	ValueString
	ValueOrdered
	ValueAssoc
	ValueExtended
)

// Extended carries the overflow record for nodes needing more than the
// compact representation (e.g. multiple labels together with children).
type Extended struct {
	Labels []strpool.StringID
}

// Node is the universal tree node (spec.md §3).
type Node struct {
	Type  Type
	Attrs Attribute

	// Value union: exactly one of these is meaningful, selected by Kind.
	Kind     ValueKind
	Number   float64
	StringID strpool.StringID
	LabelID  strpool.StringID // paired with a ValueString node: an optional single label
	Ordered  []*Node
	Assoc    map[strpool.StringID]*Node

	Labels  []strpool.StringID // node-level labels (set semantics, order preserved for determinism)
	Comment strpool.StringID

	Ext *Extended

	// index is this node's slot in its owning manager's arena, or -1 if the
	// node is immediate/unmanaged (never allocated from an arena).
	index int
}

// HasFlag reports whether a is set.
func (n *Node) HasFlag(a Attribute) bool { return n.Attrs&a != 0 }

// SetFlag sets or clears a.
func (n *Node) SetFlag(a Attribute, v bool) {
	if v {
		n.Attrs |= a
	} else {
		n.Attrs &^= a
	}
}

// NeedCycleCheck reports spec.md §3's cycle-check invariant bit.
func (n *Node) NeedCycleCheck() bool { return n.HasFlag(AttrNeedCycleCheck) }

// SetNeedCycleCheck sets the bit.
func (n *Node) SetNeedCycleCheck(v bool) { n.SetFlag(AttrNeedCycleCheck, v) }

// IsIdempotent reports the idempotence bit.
func (n *Node) IsIdempotent() bool { return n.HasFlag(AttrIsIdempotent) }

// SetIsIdempotent sets the bit.
func (n *Node) SetIsIdempotent(v bool) { n.SetFlag(AttrIsIdempotent, v) }

// IsImmediate reports whether n is a literal immediate type with no
// children, per spec.md §3's node invariant.
func (n *Node) IsImmediate() bool {
	switch n.Type {
	case TypeNull, TypeTrue, TypeFalse, TypeNumber, TypeString:
		return true
	default:
		return false
	}
}

// Children returns n's child nodes regardless of ordered/assoc shape, for
// traversal code that does not care about the distinction.
func (n *Node) Children() []*Node {
	switch n.Kind {
	case ValueOrdered:
		return n.Ordered
	case ValueAssoc:
		out := make([]*Node, 0, len(n.Assoc))
		for _, c := range n.Assoc {
			out = append(out, c)
		}
		return out
	default:
		return nil
	}
}

// Invalidate clears n's contents and releases any string-pool references it
// holds, leaving it in a deallocated state ready for reuse from the arena.
func (n *Node) Invalidate(pool *strpool.Pool) {
	if n.StringID != strpool.NotAStringID {
		pool.DestroyStringReference(n.StringID)
	}
	if n.LabelID != strpool.NotAStringID {
		pool.DestroyStringReference(n.LabelID)
	}
	if n.Comment != strpool.NotAStringID {
		pool.DestroyStringReference(n.Comment)
	}
	for _, l := range n.Labels {
		pool.DestroyStringReference(l)
	}
	if n.Ext != nil {
		for _, l := range n.Ext.Labels {
			pool.DestroyStringReference(l)
		}
	}
	n.Type = TypeNull
	n.Kind = ValueNone
	n.Attrs = 0
	n.Number = 0
	n.StringID = strpool.NotAStringID
	n.LabelID = strpool.NotAStringID
	n.Ordered = nil
	n.Assoc = nil
	n.Labels = nil
	n.Comment = strpool.NotAStringID
	n.Ext = nil
}
