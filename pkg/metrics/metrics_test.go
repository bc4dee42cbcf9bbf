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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeNodeSource struct{ allocated, capacity int }

func (f fakeNodeSource) NumAllocatedNodes() int { return f.allocated }
func (f fakeNodeSource) Capacity() int          { return f.capacity }

type fakeThreadPoolSource struct{ active, reserved, max int }

func (f fakeThreadPoolSource) NumActive() int   { return f.active }
func (f fakeThreadPoolSource) NumReserved() int { return f.reserved }
func (f fakeThreadPoolSource) MaxActive() int   { return f.max }

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestSampleNodesSetsGauge(t *testing.T) {
	SampleNodes("ent-metrics-test", fakeNodeSource{allocated: 42, capacity: 100})
	assert.Equal(t, float64(42), testutil.ToFloat64(NodesLive.WithLabelValues("ent-metrics-test")))
}

func TestSamplePoolSetsGauges(t *testing.T) {
	SamplePool("pool-metrics-test", fakeThreadPoolSource{active: 3, reserved: 1, max: 8})
	assert.Equal(t, float64(3), testutil.ToFloat64(ThreadPoolActive.WithLabelValues("pool-metrics-test")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ThreadPoolReserved.WithLabelValues("pool-metrics-test")))
}

func TestOpcodesExecutedCounter(t *testing.T) {
	before := testutil.ToFloat64(OpcodesExecuted)
	OpcodesExecuted.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(OpcodesExecuted))
}
