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

package threadpool

import "sync"

// TaskSet is CountableTaskSet from spec.md §4.3: an atomic-ish
// numTasks/numTasksCompleted pair with a condition variable, letting one
// thread enqueue N sub-tasks and block until all N report completion via
// the reserved-thread protocol rather than occupying a worker slot.
type TaskSet struct {
	pool *Pool

	mu        sync.Mutex
	cond      *sync.Cond
	numTasks  int
	completed int
}

// NewTaskSet creates a TaskSet bound to pool, optionally pre-counting
// numTasks tasks that will be added.
func (p *Pool) NewTaskSet(numTasks int) *TaskSet {
	ts := &TaskSet{pool: p, numTasks: numTasks}
	ts.cond = sync.NewCond(&ts.mu)
	return ts
}

// AddTask increments the expected task count by n.
func (ts *TaskSet) AddTask(n int) {
	ts.mu.Lock()
	ts.numTasks += n
	ts.mu.Unlock()
}

// MarkTaskCompleted marks one task as completed, waking WaitForTasks once
// the count is reached. Called from within a pool worker goroutine.
func (ts *TaskSet) MarkTaskCompleted() {
	ts.mu.Lock()
	ts.completed++
	done := ts.completed >= ts.numTasks
	ts.mu.Unlock()
	if done {
		ts.cond.Broadcast()
	}
}

// MarkTaskCompletedBeforeWaitForTasks lets the dispatching thread itself
// count as having completed one unit of work, for a dispatcher that runs
// part of a batch inline rather than enqueuing every item, per
// original_source's MarkTaskCompletedBeforeWaitForTasks. The interpreter's
// concurrent `map`/`filter` path does not call it.
func (ts *TaskSet) MarkTaskCompletedBeforeWaitForTasks() {
	ts.mu.Lock()
	ts.completed++
	ts.mu.Unlock()
}

// WaitForTasks blocks until all expected tasks have completed, performing
// the active->waiting->active transition around the pool so this thread
// does not hold a worker slot hostage while it waits.
func (ts *TaskSet) WaitForTasks() {
	ts.pool.ChangeCurrentThreadStateFromActiveToWaiting(ts.numTasks)

	ts.mu.Lock()
	for ts.completed < ts.numTasks {
		ts.cond.Wait()
	}
	ts.mu.Unlock()

	ts.pool.ChangeCurrentThreadStateFromWaitingToActive()
}
