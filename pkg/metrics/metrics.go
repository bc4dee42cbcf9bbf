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

// Package metrics exposes the interpreter's Prometheus collectors: node
// allocation and GC activity, thread pool occupancy, and constraint
// violations, registered once by Register and served over the
// `run --metrics-addr` HTTP endpoint.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// NodesAllocated counts nodes handed out across all node arenas. Not
	// labeled by entity: the allocator operates below entity granularity
	// (TLAB refills), so this is a process-wide total.
	NodesAllocated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amalgam_nodes_allocated_total",
			Help: "Total nodes allocated across all node arenas.",
		},
	)

	// NodesLive reports the current live (non-garbage) node count.
	NodesLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "amalgam_nodes_live",
			Help: "Nodes currently reachable from an entity's root.",
		},
		[]string{"entity"},
	)

	// GCCycles counts completed mark-and-sweep passes.
	GCCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amalgam_gc_cycles_total",
			Help: "Completed garbage collection cycles.",
		},
		[]string{"entity"},
	)

	// GCReclaimedNodes counts nodes reclaimed across all GC cycles.
	GCReclaimedNodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amalgam_gc_reclaimed_nodes_total",
			Help: "Nodes reclaimed by garbage collection.",
		},
		[]string{"entity"},
	)

	// ThreadPoolActive reports the current active-worker count for a pool.
	ThreadPoolActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "amalgam_threadpool_active",
			Help: "Workers currently executing a task.",
		},
		[]string{"pool"},
	)

	// ThreadPoolReserved reports workers parked in the reserved-thread state.
	ThreadPoolReserved = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "amalgam_threadpool_reserved",
			Help: "Workers parked waiting on a sub-task set they enqueued.",
		},
		[]string{"pool"},
	)

	// ConstraintViolations counts executions halted by a constraint check.
	ConstraintViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amalgam_constraint_violations_total",
			Help: "Executions halted because a resource constraint was exceeded.",
		},
		[]string{"entity", "kind"},
	)

	// OpcodesExecuted counts total opcode dispatches across all entities.
	OpcodesExecuted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "amalgam_opcodes_executed_total",
			Help: "Opcodes dispatched by the interpreter.",
		},
	)

	collectors = []prometheus.Collector{
		NodesAllocated,
		NodesLive,
		GCCycles,
		GCReclaimedNodes,
		ThreadPoolActive,
		ThreadPoolReserved,
		ConstraintViolations,
		OpcodesExecuted,
	}

	registerOnce sync.Once
)

// Register adds all collectors to the default Prometheus registry. Safe to
// call more than once; registration happens exactly once per process.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(collectors...)
	})
}

// NodeSource is the subset of node.Manager's accessors metrics needs, kept
// as an interface here so this package never imports pkg/node.
type NodeSource interface {
	NumAllocatedNodes() int
	Capacity() int
}

// ThreadPoolSource is the subset of threadpool.Pool's accessors metrics
// needs, kept as an interface here so this package never imports
// pkg/threadpool.
type ThreadPoolSource interface {
	NumActive() int
	NumReserved() int
	MaxActive() int
}

// SampleNodes sets the live-node gauge for a single entity, labeled by
// name, to m's allocated-node count. cmd/amalgam does not call it.
func SampleNodes(entity string, m NodeSource) {
	NodesLive.WithLabelValues(entity).Set(float64(m.NumAllocatedNodes()))
}

// SamplePool updates the thread-pool gauges for a pool, labeled by name.
func SamplePool(pool string, p ThreadPoolSource) {
	ThreadPoolActive.WithLabelValues(pool).Set(float64(p.NumActive()))
	ThreadPoolReserved.WithLabelValues(pool).Set(float64(p.NumReserved()))
}
