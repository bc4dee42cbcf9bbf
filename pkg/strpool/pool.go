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

// Package strpool implements the process-wide interned string pool described
// in spec.md §4.1: deduplicated strings with refcounts, returning stable IDs
// that compare in O(1).
package strpool

import "sync"

// StringID is a stable handle into the pool. Comparable in O(1).
type StringID uint64

// Reserved IDs.
const (
	// NotAStringID marks the absence of a string reference.
	NotAStringID StringID = 0
	// EmptyStringID is the reserved ID for the empty string.
	EmptyStringID StringID = 1
)

// builtins are reserved keyword IDs allocated at pool construction, starting
// right after EmptyStringID. They are never collected even at refcount 0.
var builtinKeywords = []string{
	"number", "string", "list", "assoc", "null", "true", "false",
	"sequence", "conclude", "return", "let", "declare", "assign", "accum",
	"if", "while", "call", "call_sandboxed", "lambda",
	"target", "current_index", "current_value", "previous_result",
	"opcode_stack", "stack", "args",
	"map", "filter", "reduce", "weave", "sort", "reverse", "zip", "unzip",
	"associate", "indices", "values", "contains_index", "contains_value",
	"remove", "keep", "apply", "rewrite",
	"get", "set", "replace",
	"retrieve",
	"system",
}

type entry struct {
	s    string
	refs uint64
}

// Pool is the process-wide interned string pool. All methods are safe for
// concurrent use by worker threads, per spec.md §4.1's thread-safety
// requirement and §5's "String pool: any thread may create/destroy
// references; pool internally serializes" policy.
type Pool struct {
	mu      sync.Mutex // SingleMutex per spec.md §5
	byID    map[StringID]*entry
	byValue map[string]StringID
	nextID  StringID
}

// New constructs a pool pre-seeded with the reserved and built-in keyword
// IDs so that opcode keywords always resolve to the same ID across an entire
// process lifetime.
func New() *Pool {
	p := &Pool{
		byID:    make(map[StringID]*entry),
		byValue: make(map[string]StringID),
		nextID:  2,
	}
	p.byValue[""] = EmptyStringID
	p.byID[EmptyStringID] = &entry{s: "", refs: 1}
	for _, kw := range builtinKeywords {
		id := p.nextID
		p.nextID++
		p.byValue[kw] = id
		p.byID[id] = &entry{s: kw, refs: 1}
	}
	return p
}

// CreateStringReferenceFromString interns s if new, increments its refcount,
// and returns its ID.
func (p *Pool) CreateStringReferenceFromString(s string) StringID {
	if s == "" {
		return EmptyStringID
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.byValue[s]; ok {
		p.byID[id].refs++
		return id
	}

	id := p.nextID
	p.nextID++
	p.byValue[s] = id
	p.byID[id] = &entry{s: s, refs: 1}
	return id
}

// CreateStringReference bumps the refcount of an existing ID and returns it
// unchanged. Calling it with NotAStringID is a no-op.
func (p *Pool) CreateStringReference(id StringID) StringID {
	if id == NotAStringID {
		return NotAStringID
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.byID[id]; ok {
		e.refs++
	}
	return id
}

// DestroyStringReference decrements the refcount for id, removing the
// mapping entirely once it reaches zero. Reserved IDs are never removed.
func (p *Pool) DestroyStringReference(id StringID) {
	if id == NotAStringID || id == EmptyStringID {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.byID[id]
	if !ok || e.refs == 0 {
		return
	}
	e.refs--
	if e.refs == 0 && id >= StringID(2+len(builtinKeywords)) {
		delete(p.byID, id)
		delete(p.byValue, e.s)
	}
}

// GetStringFromID returns the string for id, and whether it was found.
func (p *Pool) GetStringFromID(id StringID) (string, bool) {
	if id == EmptyStringID {
		return "", true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byID[id]
	if !ok {
		return "", false
	}
	return e.s, true
}

// GetIDFromString looks up s without inserting it. Returns NotAStringID if
// s has no live reference in the pool.
func (p *Pool) GetIDFromString(s string) StringID {
	if s == "" {
		return EmptyStringID
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.byValue[s]; ok {
		return id
	}
	return NotAStringID
}

// RefCount reports the current refcount for id, for diagnostics and tests.
func (p *Pool) RefCount(id StringID) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.byID[id]; ok {
		return e.refs
	}
	return 0
}

// Size returns the number of distinct strings currently interned.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}
