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

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueRunsTask(t *testing.T) {
	p := New(4, nil)
	defer p.Shutdown()

	done := make(chan struct{})
	p.EnqueueTask(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestTaskSetWaitsForAll(t *testing.T) {
	p := New(4, nil)
	defer p.Shutdown()

	const n = 50
	var counter int64
	ts := p.NewTaskSet(n)
	for i := 0; i < n; i++ {
		p.EnqueueTask(func() {
			atomic.AddInt64(&counter, 1)
			ts.MarkTaskCompleted()
		})
	}
	ts.WaitForTasks()
	assert.EqualValues(t, n, atomic.LoadInt64(&counter))
}

func TestNestedWaitDoesNotDeadlock(t *testing.T) {
	// Regression for the reserved-thread protocol: N active workers each
	// enqueue and wait on a sub-task set. Without the protocol this would
	// deadlock because no thread would be free to run the sub-tasks.
	p := New(2, nil)
	defer p.Shutdown()

	outer := p.NewTaskSet(2)
	for i := 0; i < 2; i++ {
		p.EnqueueTask(func() {
			inner := p.NewTaskSet(2)
			for j := 0; j < 2; j++ {
				p.EnqueueTask(func() {
					inner.MarkTaskCompleted()
				})
			}
			inner.WaitForTasks()
			outer.MarkTaskCompleted()
		})
	}

	done := make(chan struct{})
	go func() {
		outer.WaitForTasks()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("nested wait deadlocked")
	}
}

func TestThreadsAvailable(t *testing.T) {
	p := New(2, nil)
	defer p.Shutdown()
	require.True(t, p.ThreadsAvailable())
}
