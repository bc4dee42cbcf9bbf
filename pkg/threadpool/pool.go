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

// Package threadpool implements the fixed-roster worker pool described in
// spec.md §4.3: four thread states (available, active, waiting, reserved)
// and the reserved-thread protocol that lets an already-active worker wait
// on a sub-task set it just enqueued without occupying a slot that work
// needs to run in, which is what prevents the classic N-workers-await-N-
// subtasks deadlock.
package threadpool

import (
	"log/slog"
	"runtime"
	"sync"
)

// Task is a zero-argument unit of work.
type Task func()

// Pool is a fixed roster of worker goroutines fronted by a task queue, with
// the reserved-thread transition protocol from spec.md §4.3.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	logger *slog.Logger

	queue []Task

	maxActive                int32
	numActive                int32
	numReserved              int32
	numToTransitionToReserved int32

	numWorkers int32
	shutdown   bool
}

// New creates a pool. maxActive <= 0 defaults to runtime.NumCPU().
func New(maxActive int, logger *slog.Logger) *Pool {
	if maxActive <= 0 {
		maxActive = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		maxActive: int32(maxActive),
		logger:    logger,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < maxActive; i++ {
		p.addWorkerLocked()
	}
	return p
}

// MaxActive returns the configured ceiling on simultaneously-active workers.
func (p *Pool) MaxActive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.maxActive)
}

// NumActive returns the number of workers currently executing a task.
func (p *Pool) NumActive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.numActive)
}

// NumReserved returns the number of workers currently parked in the
// reserved-thread state (see ChangeCurrentThreadStateFromActiveToWaiting).
func (p *Pool) NumReserved() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.numReserved)
}

func (p *Pool) addWorkerLocked() {
	p.numWorkers++
	p.numActive++
	go p.workerLoop()
}

func (p *Pool) workerLoop() {
	for {
		p.mu.Lock()
		for {
			if p.shutdown {
				p.mu.Unlock()
				return
			}
			// Voluntarily become reserved if the pool has asked for it and
			// there is nothing queued for this worker to do right now.
			if p.numToTransitionToReserved > 0 && len(p.queue) == 0 {
				p.numToTransitionToReserved--
				p.numReserved++
				p.numActive--
				for p.numReserved > 0 && len(p.queue) == 0 && !p.shutdown {
					p.cond.Wait()
				}
				if p.shutdown {
					p.mu.Unlock()
					return
				}
				p.numReserved--
				p.numActive++
			}
			if len(p.queue) > 0 {
				break
			}
			p.numActive--
			p.cond.Wait()
			p.numActive++
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		task()
	}
}

// EnqueueTask adds a task to the queue and wakes one worker.
func (p *Pool) EnqueueTask(t Task) {
	p.mu.Lock()
	p.queue = append(p.queue, t)
	p.mu.Unlock()
	p.cond.Signal()
}

// BatchEnqueueTask assumes the caller already holds a lock acquired via
// AcquireTaskLock, for atomically enqueuing a group of related tasks.
func (p *Pool) BatchEnqueueTask(t Task) {
	p.queue = append(p.queue, t)
}

// AcquireTaskLock acquires the pool's internal mutex for batch enqueuing;
// the caller must call Unlock on the returned handle.
func (p *Pool) AcquireTaskLock() *sync.Mutex {
	p.mu.Lock()
	return &p.mu
}

// ThreadsAvailable reports whether at least one spare worker is available
// to take on more work right now, accounting for threads about to become
// reserved and work already queued, per original_source's
// ThreadPool::AreThreadsAvailable. The interpreter's concurrent `map`/
// `filter` path does not call it; it always enqueues every element.
func (p *Pool) ThreadsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	requested := (p.numActive - p.numToTransitionToReserved) + int32(len(p.queue))
	return requested < p.maxActive
}

// SetMaxActive raises or lowers the pool's active-worker ceiling, per the
// `system set_max_num_threads` opcode. Raising it spawns additional idle
// workers immediately; lowering it only lowers the ceiling, and no existing
// worker is stopped.
func (p *Pool) SetMaxActive(n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	grow := int32(n) - p.maxActive
	p.maxActive = int32(n)
	for ; grow > 0; grow-- {
		p.addWorkerLocked()
	}
	p.cond.Broadcast()
}

// ChangeCurrentThreadStateFromActiveToWaiting implements the reserved-thread
// protocol entry point: called by a worker that is about to block waiting
// on a TaskSet it just enqueued work onto. It ensures enough capacity
// exists to run that work without this thread occupying a slot.
func (p *Pool) ChangeCurrentThreadStateFromActiveToWaiting(tasksJustEnqueued int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	queueLen := len(p.queue)
	numThreadsNeeded := int(p.maxActive)
	if queueLen < int(p.maxActive) {
		numThreadsNeeded = queueLen
	}

	curPoolSize := p.numWorkers
	neededPoolSize := (p.numReserved + p.numToTransitionToReserved) + int32(numThreadsNeeded)
	if curPoolSize < neededPoolSize {
		if p.numReserved > 0 {
			p.numToTransitionToReserved--
		} else {
			for ; curPoolSize < neededPoolSize; curPoolSize++ {
				p.addWorkerLocked()
			}
			p.cond.Broadcast()
		}
	}
	p.numActive--
	_ = tasksJustEnqueued
}

// ChangeCurrentThreadStateFromWaitingToActive is the matching exit from the
// waiting state once the awaited work has completed.
func (p *Pool) ChangeCurrentThreadStateFromWaitingToActive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.numActive++
	if p.numActive > p.maxActive {
		p.numToTransitionToReserved++
		p.cond.Broadcast()
	}
}

// Shutdown stops all workers. It does not wait for queued tasks to drain;
// callers that need a clean drain should wait on their own TaskSets first.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
	p.cond.Broadcast()
}
