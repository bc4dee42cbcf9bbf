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

import (
	"strconv"
	"strings"

	"github.com/howsoai/amalgam-sub001/pkg/strpool"
)

// pairing is the bookkeeping used by AreDeepEqual when either side needs a
// cycle check, confirming a consistent a->b node pairing rather than
// re-walking shared/cyclic structure unboundedly.
type pairing struct {
	seen map[*Node]*Node
}

// AreDeepEqual implements spec.md §4.4's equality: a shallow compare by
// type and immediate value first; if either side needs cycle checking, a
// pairing map confirms the a->b correspondence is consistent instead of
// naively recursing (which could loop forever on a cyclic tree).
func AreDeepEqual(a, b *Node, pool *strpool.Pool) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.NeedCycleCheck() || b.NeedCycleCheck() {
		p := &pairing{seen: make(map[*Node]*Node)}
		return deepEqualPaired(a, b, pool, p)
	}
	return deepEqualPlain(a, b, pool)
}

func shallowEqual(a, b *Node, pool *strpool.Pool) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Kind {
	case ValueNumber:
		return a.Number == b.Number
	case ValueString:
		as, _ := pool.GetStringFromID(a.StringID)
		bs, _ := pool.GetStringFromID(b.StringID)
		return as == bs
	case ValueNone:
		return true
	default:
		return len(a.Children()) == len(b.Children())
	}
}

func deepEqualPlain(a, b *Node, pool *strpool.Pool) bool {
	if !shallowEqual(a, b, pool) {
		return false
	}
	switch a.Kind {
	case ValueOrdered:
		if len(a.Ordered) != len(b.Ordered) {
			return false
		}
		for i := range a.Ordered {
			if !deepEqualPlain(a.Ordered[i], b.Ordered[i], pool) {
				return false
			}
		}
		return true
	case ValueAssoc:
		if len(a.Assoc) != len(b.Assoc) {
			return false
		}
		for k, av := range a.Assoc {
			bv, ok := b.Assoc[k]
			if !ok || !deepEqualPlain(av, bv, pool) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func deepEqualPaired(a, b *Node, pool *strpool.Pool, p *pairing) bool {
	if existing, ok := p.seen[a]; ok {
		return existing == b
	}
	p.seen[a] = b

	if !shallowEqual(a, b, pool) {
		return false
	}
	switch a.Kind {
	case ValueOrdered:
		if len(a.Ordered) != len(b.Ordered) {
			return false
		}
		for i := range a.Ordered {
			if !deepEqualPaired(a.Ordered[i], b.Ordered[i], pool, p) {
				return false
			}
		}
		return true
	case ValueAssoc:
		if len(a.Assoc) != len(b.Assoc) {
			return false
		}
		for k, av := range a.Assoc {
			bv, ok := b.Assoc[k]
			if !ok || !deepEqualPaired(av, bv, pool, p) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Ordering is the tri-state result of Compare: ordering is only defined on
// numbers and strings, per spec.md §4.4 - all other pairs are Unordered.
type Ordering int

const (
	Unordered Ordering = iota
	Less
	Equal
	Greater
)

// Compare implements spec.md §4.4's `<`/`>` semantics.
func Compare(a, b *Node, pool *strpool.Pool) Ordering {
	if a == nil || b == nil {
		return Unordered
	}
	if a.Kind == ValueNumber && b.Kind == ValueNumber {
		switch {
		case a.Number < b.Number:
			return Less
		case a.Number > b.Number:
			return Greater
		default:
			return Equal
		}
	}
	if a.Kind == ValueString && b.Kind == ValueString {
		as, _ := pool.GetStringFromID(a.StringID)
		bs, _ := pool.GetStringFromID(b.StringID)
		switch strings.Compare(as, bs) {
		case -1:
			return Less
		case 1:
			return Greater
		default:
			return Equal
		}
	}
	return Unordered
}

// ToNumber implements spec.md §4.4's ToNumber: null becomes
// defaultIfNull, bools 0/1, strings by parse (failure yields 0).
func ToNumber(n *Node, pool *strpool.Pool, defaultIfNull float64) float64 {
	if n == nil || n.Type == TypeNull {
		return defaultIfNull
	}
	switch n.Type {
	case TypeTrue:
		return 1
	case TypeFalse:
		return 0
	case TypeNumber:
		return n.Number
	case TypeString:
		s, _ := pool.GetStringFromID(n.StringID)
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		return v
	default:
		return 0
	}
}

// ToStringIDWithReference implements spec.md §4.4's
// ToStringIDWithReference: canonicalizes numbers to a deterministic
// representation and interns the result (incrementing its refcount); the
// caller owns the returned reference and must release it via
// pool.DestroyStringReference when done. When keyString is true, the
// canonical form preserves Amalgam's "opcode-type marking" for map keys:
// string-typed keys are left bare, numeric keys get a leading "\x00n:"
// marker prefix so that a key set never conflates the string "3" with the number 3.
func ToStringIDWithReference(n *Node, pool *strpool.Pool, keyString bool) strpool.StringID {
	if n == nil {
		return pool.CreateStringReferenceFromString("")
	}
	switch n.Type {
	case TypeString:
		return pool.CreateStringReference(n.StringID)
	case TypeNumber:
		s := strconv.FormatFloat(n.Number, 'g', -1, 64)
		if keyString {
			s = "\x00n:" + s
		}
		return pool.CreateStringReferenceFromString(s)
	case TypeTrue:
		return pool.CreateStringReferenceFromString("true")
	case TypeFalse:
		return pool.CreateStringReferenceFromString("false")
	default:
		return pool.CreateStringReferenceFromString("")
	}
}
