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

package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howsoai/amalgam-sub001/pkg/distance"
	"github.com/howsoai/amalgam-sub001/pkg/entity"
	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/randstream"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
)

// testWorld builds a small set of entities each carrying a single "x"
// numeric label, for exercising query conditions end to end.
func testWorld(t *testing.T, xs []float64) ([]Entity, strpool.StringID, *strpool.Pool) {
	pool := strpool.New()
	xLabel := pool.CreateStringReferenceFromString("x")

	entities := make([]Entity, len(xs))
	for i, x := range xs {
		m := node.NewManager(pool, nil)
		root := m.AllocNumberNode(x, 0)
		root.Labels = []strpool.StringID{xLabel}
		e := entity.New(pool, m, root, strpool.NotAStringID, "seed")
		entities[i] = e
	}
	return entities, xLabel, pool
}

func asEntity(t *testing.T, e Entity) *entity.Entity {
	t.Helper()
	ent, ok := e.(*entity.Entity)
	require.True(t, ok)
	return ent
}

func valueFunc(xLabel strpool.StringID) FeatureValueFunc {
	return func(e Entity, label strpool.StringID) (distance.Value, bool) {
		if label != xLabel {
			return distance.Value{}, false
		}
		ent, ok := e.(*entity.Entity)
		if !ok {
			return distance.Value{}, false
		}
		n, ok := ent.GetValueAtLabel(label, nil, true, true)
		if !ok {
			return distance.Value{}, false
		}
		return distance.Value{Known: true, Number: n.Number}, true
	}
}

func TestBetweenFiltersRange(t *testing.T) {
	entities, xLabel, pool := testWorld(t, []float64{1, 5, 10, 15})
	qe := &Engine{GetValue: valueFunc(xLabel)}

	results := qe.Run(entities, []Condition{
		{Kind: Between, Labels: []strpool.StringID{xLabel}, Low: 4, High: 12},
	}, pool)

	require.Len(t, results, 2)
	assert.ElementsMatch(t, []float64{5, 10}, []float64{asEntity(t, results[0].Entity).Root().Number, asEntity(t, results[1].Entity).Root().Number})
}

func TestNearestGeneralizedDistanceOrdersAscending(t *testing.T) {
	entities, xLabel, pool := testWorld(t, []float64{0, 2, 9, 4})
	qe := &Engine{GetValue: valueFunc(xLabel)}

	ev := &distance.Evaluator{PValue: 2, Features: []distance.FeatureAttributes{{Type: distance.ContinuousNumeric, Weight: 1}}}
	results := qe.Run(entities, []Condition{
		{
			Kind:            NearestGeneralizedDistance,
			Labels:          []strpool.StringID{xLabel},
			Evaluator:       ev,
			ReferenceValues: []distance.Value{{Known: true, Number: 3}},
			MaxResults:      2,
		},
	}, pool)

	require.Len(t, results, 2)
	assert.True(t, results[0].Distance <= results[1].Distance)
	// x=2 and x=4 are both distance 1 from the reference point 3 - either
	// order is valid, but both must beat x=0 (distance 3) and x=9 (distance 6).
	got := []float64{asEntity(t, results[0].Entity).Root().Number, asEntity(t, results[1].Entity).Root().Number}
	assert.ElementsMatch(t, []float64{2.0, 4.0}, got)
}

func TestSumAndMin(t *testing.T) {
	entities, xLabel, pool := testWorld(t, []float64{1, 2, 3})
	qe := &Engine{GetValue: valueFunc(xLabel)}

	sumResult := qe.Run(entities, []Condition{{Kind: Sum, Labels: []strpool.StringID{xLabel}}}, pool)
	require.Len(t, sumResult, 1)
	assert.Equal(t, 6.0, sumResult[0].Distance)

	minResult := qe.Run(entities, []Condition{{Kind: Min, Labels: []strpool.StringID{xLabel}}}, pool)
	require.Len(t, minResult, 1)
	assert.Equal(t, 1.0, asEntity(t, minResult[0].Entity).Root().Number)
}

func TestValueMassesReportsHistogram(t *testing.T) {
	entities, xLabel, pool := testWorld(t, []float64{1, 1, 2})
	qe := &Engine{GetValue: valueFunc(xLabel)}

	results := qe.Run(entities, []Condition{{Kind: ValueMasses, Labels: []strpool.StringID{xLabel}}}, pool)

	require.Len(t, results, 2)
	masses := make(map[string]float64, len(results))
	for _, r := range results {
		s, _ := pool.GetStringFromID(r.Entity.ID())
		masses[s] = r.Distance
	}
	assert.InDelta(t, 2.0/3.0, masses["1"], 1e-9)
	assert.InDelta(t, 1.0/3.0, masses["2"], 1e-9)
}

func TestConvictionsRankOutliersLower(t *testing.T) {
	// x=0,1,2 are a tight cluster; x=100 is far from all of them, so its
	// mean neighbor distance is much larger than the cluster's own.
	entities, xLabel, pool := testWorld(t, []float64{0, 1, 2, 100})
	qe := &Engine{GetValue: valueFunc(xLabel)}
	ev := &distance.Evaluator{PValue: 2, Features: []distance.FeatureAttributes{{Type: distance.ContinuousNumeric, Weight: 1}}}

	results := qe.Run(entities, []Condition{{Kind: Convictions, Labels: []strpool.StringID{xLabel}, Evaluator: ev}}, pool)

	require.Len(t, results, 4)
	var outlierConviction float64
	for _, r := range results {
		if asEntity(t, r.Entity).Root().Number == 100 {
			outlierConviction = r.Distance
		}
	}
	for _, r := range results {
		if asEntity(t, r.Entity).Root().Number == 100 {
			continue
		}
		assert.Less(t, outlierConviction, r.Distance)
	}
}

func TestKLDivergencesNonNegative(t *testing.T) {
	entities, xLabel, pool := testWorld(t, []float64{0, 1, 2, 100})
	qe := &Engine{GetValue: valueFunc(xLabel)}
	ev := &distance.Evaluator{PValue: 2, Features: []distance.FeatureAttributes{{Type: distance.ContinuousNumeric, Weight: 1}}}

	results := qe.Run(entities, []Condition{{Kind: KLDivergences, Labels: []strpool.StringID{xLabel}, Evaluator: ev}}, pool)

	require.Len(t, results, 4)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Distance, 0.0)
	}
}

func TestSampleIsDeterministicGivenSeed(t *testing.T) {
	entities, xLabel, pool := testWorld(t, []float64{1, 2, 3, 4, 5})
	qe1 := &Engine{GetValue: valueFunc(xLabel), RNG: randstream.NewFromString("seed")}
	qe2 := &Engine{GetValue: valueFunc(xLabel), RNG: randstream.NewFromString("seed")}

	r1 := qe1.Run(entities, []Condition{{Kind: Sample, MaxResults: 3}}, pool)
	r2 := qe2.Run(entities, []Condition{{Kind: Sample, MaxResults: 3}}, pool)

	require.Len(t, r1, 3)
	require.Len(t, r2, 3)
	for i := range r1 {
		assert.Equal(t, r1[i].Entity, r2[i].Entity)
	}
}
