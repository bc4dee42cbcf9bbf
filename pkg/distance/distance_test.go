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

package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/howsoai/amalgam-sub001/pkg/strpool"
)

func TestEuclideanDistanceMatchesExpected(t *testing.T) {
	e := &Evaluator{
		PValue: 2,
		Features: []FeatureAttributes{
			{Type: ContinuousNumeric, Weight: 1},
			{Type: ContinuousNumeric, Weight: 1},
		},
	}
	pool := strpool.New()
	a := []Value{{Known: true, Number: 0}, {Known: true, Number: 0}}
	b := []Value{{Known: true, Number: 3}, {Known: true, Number: 4}}
	assert.InDelta(t, 5.0, e.ComputeMinkowskiDistance(a, b, pool), 1e-9)
}

func TestManhattanDistance(t *testing.T) {
	e := &Evaluator{
		PValue: 1,
		Features: []FeatureAttributes{
			{Type: ContinuousNumeric, Weight: 1},
			{Type: ContinuousNumeric, Weight: 1},
		},
	}
	pool := strpool.New()
	a := []Value{{Known: true, Number: 0}, {Known: true, Number: 0}}
	b := []Value{{Known: true, Number: 3}, {Known: true, Number: 4}}
	assert.InDelta(t, 7.0, e.ComputeMinkowskiDistance(a, b, pool), 1e-9)
}

func TestChebyshevDistanceAtInfinity(t *testing.T) {
	e := &Evaluator{
		PValue: math.Inf(1),
		Features: []FeatureAttributes{
			{Type: ContinuousNumeric, Weight: 1},
			{Type: ContinuousNumeric, Weight: 1},
		},
	}
	pool := strpool.New()
	a := []Value{{Known: true, Number: 0}, {Known: true, Number: 0}}
	b := []Value{{Known: true, Number: 3}, {Known: true, Number: 4}}
	assert.InDelta(t, 4.0, e.ComputeMinkowskiDistance(a, b, pool), 1e-9)
}

func TestNominalMismatchContributesPenalty(t *testing.T) {
	e := &Evaluator{
		PValue: 2,
		Features: []FeatureAttributes{
			{Type: NominalString, Weight: 1},
		},
	}
	pool := strpool.New()
	a := []Value{{Known: true, String: "red"}}
	b := []Value{{Known: true, String: "blue"}}
	d := e.ComputeMinkowskiDistance(a, b, pool)
	assert.Greater(t, d, 0.0)

	same := e.ComputeMinkowskiDistance(a, a, pool)
	assert.Equal(t, 0.0, same)
}

func TestDeviationWidensDistance(t *testing.T) {
	base := &Evaluator{
		PValue:       2,
		UseLaplaceLK: true,
		Features:     []FeatureAttributes{{Type: ContinuousNumeric, Weight: 1}},
	}
	withDev := &Evaluator{
		PValue:       2,
		UseLaplaceLK: true,
		Features:     []FeatureAttributes{{Type: ContinuousNumeric, Weight: 1, Deviation: 0.5}},
	}
	pool := strpool.New()
	a := []Value{{Known: true, Number: 0}}
	b := []Value{{Known: true, Number: 1}}

	plain := base.ComputeMinkowskiDistance(a, b, pool)
	corrected := withDev.ComputeMinkowskiDistance(a, b, pool)
	assert.Greater(t, corrected, plain, "uncertainty must widen, never narrow, the expected distance")
}

func TestUnknownValueUsesFallbackTerm(t *testing.T) {
	e := &Evaluator{
		PValue:   2,
		Features: []FeatureAttributes{{Type: ContinuousNumeric, Weight: 1, UnknownToUnknownDistanceTerm: math.NaN(), KnownToUnknownDistanceTerm: math.NaN()}},
	}
	pool := strpool.New()
	a := []Value{{Known: false}}
	b := []Value{{Known: true, Number: 5}}
	assert.Equal(t, 1.0, e.ComputeMinkowskiDistance(a, b, pool))

	bothUnknown := e.ComputeMinkowskiDistance([]Value{{Known: false}}, []Value{{Known: false}}, pool)
	assert.Equal(t, 0.0, bothUnknown)
}

func TestEditDistanceBasics(t *testing.T) {
	assert.Equal(t, 0, editDistance("abc", "abc"))
	assert.Equal(t, 1, editDistance("abc", "abd"))
	assert.Equal(t, 3, editDistance("", "abc"))
}
