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

// Package interp implements spec.md §4.5's tree-walking interpreter: opcode
// dispatch over the node tree, the scope/opcode/construction stack model,
// and conclude/return unwind semantics. Grounded on the stack discipline in
// original_source's Interpreter.h/.cpp (EvaluableNodeReference-based
// dispatch) and on the teacher's context-threaded evaluation style in
// pkg/ingestion/local_pipeline.go.
package interp

import (
	"log/slog"

	"github.com/howsoai/amalgam-sub001/pkg/asset"
	"github.com/howsoai/amalgam-sub001/pkg/constraints"
	"github.com/howsoai/amalgam-sub001/pkg/metrics"
	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/randstream"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
	"github.com/howsoai/amalgam-sub001/pkg/threadpool"
)

// Signal names an unwind in progress, produced by `conclude`/`return` and
// consumed by their matching enclosing construct, per spec.md §4.5's tail
// behavior: conclude is unwrapped by the nearest sequence/while; return
// crosses sequences but is unwrapped only by call.
type Signal int

const (
	SignalNone Signal = iota
	SignalConclude
	SignalReturn
)

// Frame is one scope-stack entry: a symbol table for let/declare/assign.
type Frame struct {
	vars map[strpool.StringID]*node.Node
}

func newFrame() *Frame { return &Frame{vars: make(map[strpool.StringID]*node.Node)} }

// constructionFrame tracks while/map-loop bookkeeping read by the
// `current_index`/`current_value`/`previous_result` reflection opcodes.
type constructionFrame struct {
	target         *node.Node
	currentIndex   *node.Node
	currentValue   *node.Node
	previousResult *node.Node
	sideEffects    bool
}

// EntityAccess is the minimal surface Interp needs from pkg/entity, kept as
// an interface so interp does not import entity directly (entity already
// depends on node/constraints; interp depending back would cycle since
// Entity.Execute constructs an Interp). The concrete *entity.Entity
// satisfies this directly for the node/randstream/constraints/strpool
// methods, and via small adapters (defined in pkg/entity/execute.go) for
// the contained-entity operations, since those need to hand back
// EntityAccess values rather than *entity.Entity concretely.
type EntityAccess interface {
	ID() strpool.StringID
	Manager() *node.Manager
	RandomStream() *randstream.Stream
	Permissions() constraints.Set
	// Root returns the entity's current root node, for `store_entity`.
	Root() *node.Node
	GetValueAtLabel(labelID strpool.StringID, destManager *node.Manager, direct bool, onSelf bool) (*node.Node, bool)

	// SetValueAtLabelDirect writes a value at labelID, per spec.md §4.7's
	// SetValueAtLabel (direct replaces the whole subtree; otherwise only a
	// scalar is copied in place). Opcode-driven writes through this path are
	// not reported to write listeners.
	SetValueAtLabelDirect(labelID strpool.StringID, newValue *node.Node, direct bool) bool

	// ContainedEntityAccess looks up a direct child by id.
	ContainedEntityAccess(id strpool.StringID) (EntityAccess, bool)
	// ContainedEntitiesAccess snapshots all direct children.
	ContainedEntitiesAccess() []EntityAccess
	// CreateContainedEntityAccess deep-copies root into a freshly allocated
	// entity and inserts it as a contained entity under idHint (or an
	// auto-generated id if idHint is strpool.NotAStringID).
	CreateContainedEntityAccess(root *node.Node, idHint strpool.StringID) (EntityAccess, strpool.StringID)
	// RemoveContainedEntityAccess destroys the contained entity with id.
	RemoveContainedEntityAccess(id strpool.StringID) bool
	// CloneContainedEntityAccess deep-copies src (which must itself be
	// contained somewhere reachable from the caller) into a new entity
	// inserted under idHint.
	CloneContainedEntityAccess(src EntityAccess, idHint strpool.StringID) (EntityAccess, strpool.StringID)
}

// Interp is one tree-walking evaluation context: one call to Entity.Execute
// creates exactly one Interp rooted at that entity.
type Interp struct {
	Entity  EntityAccess
	Manager *node.Manager
	Pool    *strpool.Pool
	Logger  *slog.Logger

	Constraints *constraints.Constraints
	ThreadPool  *threadpool.Pool

	// AssetManager backs the load/store/load_entity/store_entity opcodes
	// (spec.md §6). It is the out-of-scope asset-loader collaborator; nil
	// means those opcodes are unavailable and return null, same as a
	// permission denial.
	AssetManager asset.Manager

	rng *randstream.Stream

	scopeStack        []*Frame
	opcodeStack       []*node.Node
	constructionStack []*constructionFrame

	workerID int64

	opcodeDepth int
}

// New creates an interpreter rooted at e, ready to evaluate a node tree
// against c's budget.
func New(e EntityAccess, manager *node.Manager, pool *strpool.Pool, c *constraints.Constraints, pool2 *threadpool.Pool, logger *slog.Logger) *Interp {
	if c == nil {
		c = constraints.Unlimited()
	}
	if logger == nil {
		logger = slog.Default()
	}
	it := &Interp{
		Entity:      e,
		Manager:     manager,
		Pool:        pool,
		Logger:      logger,
		Constraints: c,
		ThreadPool:  pool2,
		rng:         e.RandomStream(),
	}
	// Seed a base scope frame the way ExecuteNode does when handed no
	// existing scope stack, so top-level assign/declare/accum work without
	// requiring an enclosing call/let.
	it.pushScope()
	return it
}

// Stacks returns the three GC-root stacks flattened, suitable for feeding a
// node.RootsFunc during concurrent collection.
func (it *Interp) Stacks() []*node.Node {
	out := append([]*node.Node(nil), it.opcodeStack...)
	for _, f := range it.scopeStack {
		for _, v := range f.vars {
			out = append(out, v)
		}
	}
	for _, cf := range it.constructionStack {
		if cf.currentValue != nil {
			out = append(out, cf.currentValue)
		}
		if cf.previousResult != nil {
			out = append(out, cf.previousResult)
		}
	}
	return out
}

func (it *Interp) pushScope() *Frame {
	f := newFrame()
	it.scopeStack = append(it.scopeStack, f)
	return f
}

func (it *Interp) popScope() {
	it.scopeStack = it.scopeStack[:len(it.scopeStack)-1]
}

// GetCallStackSymbolLocation walks the scope stack top-down for sid,
// returning the frame holding it (nil if undeclared anywhere), per
// spec.md §4.5.
func (it *Interp) GetCallStackSymbolLocation(sid strpool.StringID) *Frame {
	for i := len(it.scopeStack) - 1; i >= 0; i-- {
		if _, ok := it.scopeStack[i].vars[sid]; ok {
			return it.scopeStack[i]
		}
	}
	return nil
}

// markSideEffect sets executionSideEffects on every frame of the
// construction stack, per spec.md §4.5, so concurrent reducers know the
// original input may not be safely freed.
func (it *Interp) markSideEffect() {
	for _, cf := range it.constructionStack {
		cf.sideEffects = true
	}
}

func nullNode(m *node.Manager, workerID int64) *node.Node {
	n := m.AllocUninitializedNode(workerID)
	n.Type = node.TypeNull
	n.Kind = node.ValueNone
	n.Attrs = node.AttrIsIdempotent
	return n
}

func boolNode(m *node.Manager, workerID int64, v bool) *node.Node {
	n := m.AllocUninitializedNode(workerID)
	if v {
		n.Type = node.TypeTrue
	} else {
		n.Type = node.TypeFalse
	}
	n.Kind = node.ValueNone
	n.Attrs = node.AttrIsIdempotent
	return n
}

func isTruthy(n *node.Node) bool {
	return n != nil && n.Type != node.TypeNull && n.Type != node.TypeFalse
}

// opcodeFunc is one dispatch-table entry: spec.md §4.5's
// `(node, immediate_result_requested) -> EvaluableNodeReference` signature,
// adapted to Go's explicit-error/explicit-signal style; immediateResult
// hints that leaf opcodes may skip heap allocation.
type opcodeFunc func(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal)

var dispatch map[node.Type]opcodeFunc

func init() {
	dispatch = map[node.Type]opcodeFunc{
		node.TypeNull:   evalLiteral,
		node.TypeTrue:   evalLiteral,
		node.TypeFalse:  evalLiteral,
		node.TypeNumber: evalLiteral,
		node.TypeString: evalLiteral,
		node.TypeList:   evalLiteral,
		node.TypeAssoc:  evalLiteral,
		node.TypeSymbol: evalSymbol,

		node.OpSequence: evalSequence,
		node.OpConclude: evalConclude,
		node.OpReturn:   evalReturn,
		node.OpLet:      evalLet,
		node.OpDeclare:  evalDeclare,
		node.OpAssign:   evalAssign,
		node.OpAccum:    evalAccum,
		node.OpRetrieve: evalRetrieve,
		node.OpIf:       evalIf,
		node.OpWhile:    evalWhile,
		node.OpLambda:   evalLiteral, // a lambda evaluates to itself; call unwraps it

		node.OpCall:          evalCall,
		node.OpCallSandboxed: evalCallSandboxed,

		node.OpTarget:         evalTarget,
		node.OpCurrentIndex:   evalCurrentIndex,
		node.OpCurrentValue:   evalCurrentValue,
		node.OpPreviousResult: evalPreviousResult,
		node.OpOpcodeStack:    evalOpcodeStack,
		node.OpStack:          evalStack,
		node.OpArgs:           evalArgs,

		node.OpAdd:      evalArith(func(a, b float64) float64 { return a + b }),
		node.OpSubtract: evalArith(func(a, b float64) float64 { return a - b }),
		node.OpMultiply: evalArith(func(a, b float64) float64 { return a * b }),
		node.OpDivide: evalArith(func(a, b float64) float64 {
			if b == 0 {
				return 0
			}
			return a / b
		}),
		node.OpEqual:    evalEqual,
		node.OpNotEqual: evalNotEqual,
		node.OpLess:     evalCompare(node.Less),
		node.OpGreater:  evalCompare(node.Greater),
		node.OpAnd:      evalAnd,
		node.OpOr:       evalOr,
		node.OpNot:      evalNot,

		node.OpMap:    evalMap,
		node.OpFilter: evalFilter,
		node.OpReduce: evalReduce,
		node.OpSort:   evalSort,
		node.OpReverse: evalReverse,

		node.OpGet:     evalGet,
		node.OpSet:     evalSet,
		node.OpReplace: evalReplace,

		node.OpWeave:          evalWeave,
		node.OpZip:            evalZip,
		node.OpUnzip:          evalUnzip,
		node.OpAssociate:      evalAssociate,
		node.OpIndices:        evalIndices,
		node.OpValues:         evalValues,
		node.OpContainsIndex:  evalContainsIndex,
		node.OpContainsValue:  evalContainsValue,
		node.OpRemove:         evalRemove,
		node.OpKeep:           evalKeep,
		node.OpApply:          evalApply,
		node.OpRewrite:        evalRewrite,

		node.OpCreateEntities:      evalCreateEntities,
		node.OpDestroyEntities:     evalDestroyEntities,
		node.OpCloneEntities:       evalCloneEntities,
		node.OpContainedEntities:   evalContainedEntities,
		node.OpRetrieveFromEntity:  evalRetrieveFromEntity,
		node.OpAssignToEntity:      evalAssignToEntity,
		node.OpAccumToEntity:       evalAccumToEntity,

		node.OpQuery:  evalQuery,
		node.OpSystem: evalSystem,

		node.OpLoad:        evalLoad,
		node.OpStore:       evalStore,
		node.OpLoadEntity:  evalLoadEntity,
		node.OpStoreEntity: evalStoreEntity,
	}
}

// entityLabel resolves the current entity's id to a string for metric
// labels, falling back to "(root)" for the unnamed root entity.
func (it *Interp) entityLabel() string {
	if it.Entity == nil {
		return "(root)"
	}
	if s, ok := it.Pool.GetStringFromID(it.Entity.ID()); ok && s != "" {
		return s
	}
	return "(root)"
}

// InterpretNode pushes n onto the opcode stack, dispatches through the
// table keyed by n.Type, and pops on the way out, per spec.md §4.5's
// "top of the opcode stack is pushed before each call into InterpretNode
// and popped after" rule. It also enforces the cooperative execution-step
// and opcode-depth budgets before doing any work.
func (it *Interp) InterpretNode(n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if n == nil {
		return nil, SignalNone
	}
	if it.Manager != nil {
		it.Manager.NoteExecutionCycle()
	}

	it.opcodeDepth++
	defer func() { it.opcodeDepth-- }()

	if !it.Constraints.CheckOpcodeDepth(it.opcodeDepth) || !it.Constraints.NoteStep() {
		metrics.ConstraintViolations.WithLabelValues(it.entityLabel(), "opcode_depth_or_steps").Inc()
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	metrics.OpcodesExecuted.Inc()

	it.opcodeStack = append(it.opcodeStack, n)
	defer func() { it.opcodeStack = it.opcodeStack[:len(it.opcodeStack)-1] }()

	fn, ok := dispatch[n.Type]
	if !ok {
		// Unknown/unsupported opcode: per spec.md §4.5's error model,
		// type-mismatched or unrecognized input yields null and continues
		// rather than raising.
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	return fn(it, n, immediateResult)
}

func evalLiteral(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	return n, SignalNone
}

func evalSymbol(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	frame := it.GetCallStackSymbolLocation(n.StringID)
	if frame == nil {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	return frame.vars[n.StringID], SignalNone
}

// evalSequence implements spec.md §4.5: evaluate children left to right;
// `conclude` unwraps at this level (stop, return its value with no
// signal); `return` propagates past this level untouched.
func evalSequence(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	var last *node.Node = nullNode(it.Manager, it.workerID)
	for _, child := range n.Ordered {
		result, sig := it.InterpretNode(child, false)
		switch sig {
		case SignalConclude:
			return result, SignalNone
		case SignalReturn:
			return result, SignalReturn
		default:
			last = result
		}
	}
	return last, SignalNone
}

func evalConclude(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) == 0 {
		return nullNode(it.Manager, it.workerID), SignalConclude
	}
	result, sig := it.InterpretNode(n.Ordered[0], false)
	if sig == SignalReturn {
		return result, SignalReturn
	}
	return result, SignalConclude
}

func evalReturn(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) == 0 {
		return nullNode(it.Manager, it.workerID), SignalReturn
	}
	result, _ := it.InterpretNode(n.Ordered[0], false)
	return result, SignalReturn
}

func evalLet(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	it.pushScope()
	defer it.popScope()

	if len(n.Ordered) == 0 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	var last *node.Node = nullNode(it.Manager, it.workerID)
	for _, child := range n.Ordered {
		result, sig := it.InterpretNode(child, false)
		if sig != SignalNone {
			return result, sig
		}
		last = result
	}
	return last, SignalNone
}

// evalDeclare adds a symbol to the top frame without shadowing an existing
// declaration in that frame, per spec.md §4.5.
func evalDeclare(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(it.scopeStack) == 0 || len(n.Ordered) < 1 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	nameNode, _ := it.InterpretNode(n.Ordered[0], false)
	sid := identifierOf(nameNode)

	top := it.scopeStack[len(it.scopeStack)-1]
	if _, exists := top.vars[sid]; exists {
		return top.vars[sid], SignalNone
	}

	var value *node.Node = nullNode(it.Manager, it.workerID)
	if len(n.Ordered) > 1 {
		value, _ = it.InterpretNode(n.Ordered[1], false)
	}
	top.vars[sid] = value
	return value, SignalNone
}

// identifierOf extracts the interned string id a name expression resolves
// to, whether it's a bare string literal or a symbol node.
func identifierOf(n *node.Node) strpool.StringID {
	if n == nil {
		return strpool.NotAStringID
	}
	return n.StringID
}

// evalAssign writes into the nearest frame already holding the symbol, or
// creates it at the top frame - spec.md §4.5.
func evalAssign(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 || len(it.scopeStack) == 0 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	nameNode, _ := it.InterpretNode(n.Ordered[0], false)
	sid := identifierOf(nameNode)
	value, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return value, sig
	}

	frame := it.GetCallStackSymbolLocation(sid)
	if frame == nil {
		frame = it.scopeStack[len(it.scopeStack)-1]
	}
	frame.vars[sid] = value
	it.markSideEffect()
	return value, SignalNone
}

// evalAccum implements the four accum behaviors: list append, assoc merge,
// string concatenation, number addition - spec.md §4.5. Anything that
// isn't already a number/assoc/string (an unset variable starting out
// null, a bool, ...) falls back to list append rather than number
// addition, per original_source's AccumulateEvaluableNodeIntoEvaluableNode
// "add ordered child node" branch.
func evalAccum(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	nameNode, _ := it.InterpretNode(n.Ordered[0], false)
	sid := identifierOf(nameNode)
	delta, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return delta, sig
	}

	frame := it.GetCallStackSymbolLocation(sid)
	if frame == nil {
		if len(it.scopeStack) == 0 {
			return nullNode(it.Manager, it.workerID), SignalNone
		}
		frame = it.scopeStack[len(it.scopeStack)-1]
		frame.vars[sid] = nullNode(it.Manager, it.workerID)
	}
	cur := frame.vars[sid]

	var result *node.Node
	switch {
	case cur.Kind == node.ValueOrdered:
		cur.Ordered = append(cur.Ordered, delta)
		result = cur
	case cur.Kind == node.ValueAssoc && delta.Kind == node.ValueAssoc:
		if cur.Assoc == nil {
			cur.Assoc = make(map[strpool.StringID]*node.Node)
		}
		for k, v := range delta.Assoc {
			cur.Assoc[k] = v
		}
		result = cur
	case cur.Type == node.TypeString && delta.Type == node.TypeString:
		a, _ := it.Pool.GetStringFromID(cur.StringID)
		b, _ := it.Pool.GetStringFromID(delta.StringID)
		cur.StringID = it.Pool.CreateStringReferenceFromString(a + b)
		result = cur
	case cur.Type == node.TypeNumber:
		cur.Number = node.ToNumber(cur, it.Pool, 0) + node.ToNumber(delta, it.Pool, 0)
		cur.Kind = node.ValueNumber
		result = cur
	default:
		if cur.Kind != node.ValueOrdered {
			cur.Kind = node.ValueOrdered
			cur.Type = node.TypeList
			cur.Ordered = nil
		}
		cur.Ordered = append(cur.Ordered, delta)
		result = cur
	}
	frame.vars[sid] = result
	it.markSideEffect()
	return result, SignalNone
}

func evalRetrieve(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 1 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	nameNode, _ := it.InterpretNode(n.Ordered[0], false)
	sid := identifierOf(nameNode)
	frame := it.GetCallStackSymbolLocation(sid)
	if frame == nil {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	return frame.vars[sid], SignalNone
}

func evalIf(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	cond, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return cond, sig
	}
	if isTruthy(cond) {
		return it.InterpretNode(n.Ordered[1], immediateResult)
	}
	if len(n.Ordered) > 2 {
		return it.InterpretNode(n.Ordered[2], immediateResult)
	}
	return nullNode(it.Manager, it.workerID), SignalNone
}

// evalWhile iterates while its condition is truthy, tracking current_index
// and previous_result on a fresh construction frame, per spec.md §4.5.
// `conclude` unwraps at the while; `return` propagates.
func evalWhile(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	cf := &constructionFrame{}
	it.constructionStack = append(it.constructionStack, cf)
	defer func() { it.constructionStack = it.constructionStack[:len(it.constructionStack)-1] }()

	result := nullNode(it.Manager, it.workerID)
	index := int64(0)
	for {
		cond, sig := it.InterpretNode(n.Ordered[0], false)
		if sig == SignalReturn {
			return cond, SignalReturn
		}
		if !isTruthy(cond) {
			break
		}
		cf.currentIndex = it.Manager.AllocNumberNode(float64(index), it.workerID)

		body, sig := it.InterpretNode(n.Ordered[1], false)
		if sig == SignalConclude {
			return body, SignalNone
		}
		if sig == SignalReturn {
			return body, SignalReturn
		}
		result = body
		cf.previousResult = result
		index++
	}
	return result, SignalNone
}
