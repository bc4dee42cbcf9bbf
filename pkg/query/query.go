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

// Package query implements spec.md §4.8's composable entity query engine:
// a chain of conditions filters a candidate entity set down, with a final
// generalized-distance condition able to rank and select nearest
// neighbors. Grounded on original_source's EntityQueryBuilder.h /
// EntityQueries.h condition catalog.
package query

import (
	"context"
	"math"
	"runtime"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/howsoai/amalgam-sub001/pkg/distance"
	"github.com/howsoai/amalgam-sub001/pkg/randstream"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
)

// concurrentDistanceThreshold is the candidate-set size above which
// per-entity generalized-distance computation fans out across goroutines
// instead of running in the calling goroutine, bounded by a semaphore so a
// huge within_generalized_distance/nearest_generalized_distance query
// doesn't spawn one goroutine per candidate entity.
const concurrentDistanceThreshold = 64

// Entity is the minimal surface the query engine needs from a candidate:
// just enough to test entity-list membership. Kept as a local interface
// (rather than importing pkg/entity directly) so both *entity.Entity and
// pkg/interp's EntityAccess satisfy it without an import cycle between
// pkg/entity (which imports pkg/interp for Execute) and this package.
type Entity interface {
	ID() strpool.StringID
}

// ConditionKind names one of the composable condition types from
// EntityQueryBuilder.h's ENT_QUERY_* catalog.
type ConditionKind int

const (
	Exists ConditionKind = iota
	NotExists
	Equals
	NotEquals
	Between
	NotBetween
	Among
	NotAmong
	InEntityList
	NotInEntityList
	Min
	Max
	Sum
	Mode
	Quantile
	GeneralizedMean
	MinDifference
	MaxDifference
	ValueMasses
	Select
	Sample
	WeightedSample
	WithinGeneralizedDistance
	NearestGeneralizedDistance
	DistanceContributions
	Convictions
	KLDivergences
)

// FeatureValueFunc extracts a comparable feature value for a given label
// from an entity, returning found=false if the label has no value.
type FeatureValueFunc func(e Entity, label strpool.StringID) (distance.Value, bool)

// Condition is one stage of a query chain.
type Condition struct {
	Kind ConditionKind

	Labels []strpool.StringID

	// Numeric bounds for Between/NotBetween/Min/Max-style conditions.
	Low, High float64

	// AmongValues names the allowed/disallowed set for Among/NotAmong,
	// compared by each label's string form.
	AmongValues []string

	EntityIDs []strpool.StringID

	// MaxResults caps Select/Sample/WithinGeneralizedDistance/
	// NearestGeneralizedDistance result counts; 0 means unbounded.
	MaxResults int

	// Evaluator configures the distance metric for the two
	// generalized-distance condition kinds.
	Evaluator *distance.Evaluator

	// ReferenceValues is the query point compared against each candidate
	// for the two generalized-distance condition kinds.
	ReferenceValues []distance.Value

	MaxDistance float64

	// SortedList requests the sorted-list-of-parallel-vectors output
	// format instead of the default entity_id -> value assoc, per
	// spec.md §4.8's "Output formats" paragraph. Only consulted on the
	// chain's final condition.
	SortedList bool
}

// Result pairs a surviving entity with its generalized distance when the
// chain's final condition computed one (0 otherwise).
type Result struct {
	Entity   Entity
	Distance float64
}

// Engine runs a condition chain over an initial candidate set, per
// spec.md §4.8: each condition narrows (or reorders/ranks) the surviving
// set; conditions are applied strictly left to right, exactly as
// EntityQueryCondition chains are evaluated in original_source.
type Engine struct {
	GetValue FeatureValueFunc
	RNG      *randstream.Stream
}

// Run applies every condition in order to candidates, returning the
// final surviving set (with distances populated by the last
// distance-computing condition, if any).
func (qe *Engine) Run(candidates []Entity, conditions []Condition, pool *strpool.Pool) []Result {
	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{Entity: c}
	}
	for _, cond := range conditions {
		results = qe.apply(results, cond, pool)
	}
	return results
}

func (qe *Engine) apply(in []Result, c Condition, pool *strpool.Pool) []Result {
	switch c.Kind {
	case Exists, NotExists:
		return qe.filterExistence(in, c)
	case Equals, NotEquals:
		return qe.filterEquality(in, c)
	case Between, NotBetween:
		return qe.filterRange(in, c)
	case Among, NotAmong:
		return qe.filterAmong(in, c, pool)
	case InEntityList, NotInEntityList:
		return qe.filterEntityList(in, c)
	case Min, Max:
		return qe.selectExtreme(in, c)
	case Sum:
		return qe.aggregate(in, c, sum)
	case Mode:
		return qe.mode(in, c, pool)
	case Quantile:
		return qe.quantile(in, c)
	case GeneralizedMean:
		return qe.aggregate(in, c, generalizedMean(c.Low))
	case MinDifference, MaxDifference:
		return qe.extremeDifference(in, c)
	case ValueMasses:
		return qe.valueMasses(in, c, pool)
	case Select:
		return capResults(in, c.MaxResults)
	case Sample:
		return qe.sample(in, c, false)
	case WeightedSample:
		return qe.sample(in, c, true)
	case WithinGeneralizedDistance:
		return qe.withinDistance(in, c, pool)
	case NearestGeneralizedDistance:
		return qe.nearest(in, c, pool)
	case DistanceContributions:
		return qe.computeDistances(in, c, pool)
	case Convictions:
		return qe.convictions(in, c, pool)
	case KLDivergences:
		return qe.klDivergences(in, c, pool)
	default:
		return in
	}
}

func (qe *Engine) filterExistence(in []Result, c Condition) []Result {
	want := c.Kind == Exists
	out := in[:0]
	for _, r := range in {
		found := true
		for _, lbl := range c.Labels {
			if _, ok := qe.GetValue(r.Entity, lbl); !ok {
				found = false
				break
			}
		}
		if found == want {
			out = append(out, r)
		}
	}
	return out
}

func (qe *Engine) filterEquality(in []Result, c Condition) []Result {
	want := c.Kind == Equals
	out := in[:0]
	for _, r := range in {
		v, ok := qe.GetValue(r.Entity, c.Labels[0])
		match := ok && v.Known && v.Number == c.Low
		if match == want {
			out = append(out, r)
		}
	}
	return out
}

func (qe *Engine) filterRange(in []Result, c Condition) []Result {
	want := c.Kind == Between
	out := in[:0]
	for _, r := range in {
		v, ok := qe.GetValue(r.Entity, c.Labels[0])
		inRange := ok && v.Known && v.Number >= c.Low && v.Number <= c.High
		if inRange == want {
			out = append(out, r)
		}
	}
	return out
}

func (qe *Engine) filterAmong(in []Result, c Condition, pool *strpool.Pool) []Result {
	set := make(map[string]bool, len(c.AmongValues))
	for _, v := range c.AmongValues {
		set[v] = true
	}
	want := c.Kind == Among
	out := in[:0]
	for _, r := range in {
		v, ok := qe.GetValue(r.Entity, c.Labels[0])
		matched := ok && v.Known && set[v.String]
		if matched == want {
			out = append(out, r)
		}
	}
	return out
}

func (qe *Engine) filterEntityList(in []Result, c Condition) []Result {
	set := make(map[strpool.StringID]bool, len(c.EntityIDs))
	for _, id := range c.EntityIDs {
		set[id] = true
	}
	want := c.Kind == InEntityList
	out := in[:0]
	for _, r := range in {
		if set[r.Entity.ID()] == want {
			out = append(out, r)
		}
	}
	return out
}

func (qe *Engine) selectExtreme(in []Result, c Condition) []Result {
	var best *Result
	wantMax := c.Kind == Max
	for i := range in {
		v, ok := qe.GetValue(in[i].Entity, c.Labels[0])
		if !ok || !v.Known {
			continue
		}
		if best == nil {
			best = &in[i]
			continue
		}
		bv, _ := qe.GetValue(best.Entity, c.Labels[0])
		if (wantMax && v.Number > bv.Number) || (!wantMax && v.Number < bv.Number) {
			best = &in[i]
		}
	}
	if best == nil {
		return nil
	}
	return []Result{*best}
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

func generalizedMean(p float64) func([]float64) float64 {
	return func(values []float64) float64 {
		if len(values) == 0 {
			return 0
		}
		if p == 0 {
			product := 1.0
			for _, v := range values {
				product *= v
			}
			return math.Pow(product, 1.0/float64(len(values)))
		}
		total := 0.0
		for _, v := range values {
			total += math.Pow(v, p)
		}
		return math.Pow(total/float64(len(values)), 1.0/p)
	}
}

func (qe *Engine) aggregate(in []Result, c Condition, fn func([]float64) float64) []Result {
	var values []float64
	for _, r := range in {
		if v, ok := qe.GetValue(r.Entity, c.Labels[0]); ok && v.Known {
			values = append(values, v.Number)
		}
	}
	return []Result{{Distance: fn(values)}}
}

// ModeResult is the outcome of a Mode condition: the most frequent value
// among surviving entities (by string form) and its occurrence count.
type ModeResult struct {
	Value string
	Count int
}

func (qe *Engine) mode(in []Result, c Condition, pool *strpool.Pool) []Result {
	counts := make(map[string]int)
	for _, r := range in {
		if v, ok := qe.GetValue(r.Entity, c.Labels[0]); ok && v.Known {
			counts[v.String]++
		}
	}
	best, bestCount := "", -1
	for s, n := range counts {
		if n > bestCount {
			best, bestCount = s, n
		}
	}
	_ = best
	return []Result{{Distance: float64(bestCount)}}
}

// valueEntity lets valueMasses report a histogram through the same
// Result{Entity, Distance} shape every other condition uses: the
// "entity id" slot carries the interned value string, and Distance
// carries its mass (fraction of candidates holding that value).
type valueEntity strpool.StringID

func (v valueEntity) ID() strpool.StringID { return strpool.StringID(v) }

func (qe *Engine) valueMasses(in []Result, c Condition, pool *strpool.Pool) []Result {
	counts := make(map[string]float64)
	total := 0.0
	for _, r := range in {
		if v, ok := qe.GetValue(r.Entity, c.Labels[0]); ok && v.Known {
			key := v.String
			if key == "" {
				key = strconv.FormatFloat(v.Number, 'g', -1, 64)
			}
			counts[key]++
			total++
		}
	}
	if total == 0 {
		return nil
	}
	out := make([]Result, 0, len(counts))
	for s, n := range counts {
		out = append(out, Result{Entity: valueEntity(pool.CreateStringReferenceFromString(s)), Distance: n / total})
	}
	return out
}

func (qe *Engine) quantile(in []Result, c Condition) []Result {
	var values []float64
	for _, r := range in {
		if v, ok := qe.GetValue(r.Entity, c.Labels[0]); ok && v.Known {
			values = append(values, v.Number)
		}
	}
	sort.Float64s(values)
	if len(values) == 0 {
		return []Result{{Distance: 0}}
	}
	pos := c.Low * float64(len(values)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return []Result{{Distance: values[lo]}}
	}
	frac := pos - float64(lo)
	return []Result{{Distance: values[lo]*(1-frac) + values[hi]*frac}}
}

func (qe *Engine) extremeDifference(in []Result, c Condition) []Result {
	var values []float64
	for _, r := range in {
		if v, ok := qe.GetValue(r.Entity, c.Labels[0]); ok && v.Known {
			values = append(values, v.Number)
		}
	}
	sort.Float64s(values)
	best := math.Inf(1)
	wantMax := c.Kind == MaxDifference
	if wantMax {
		best = math.Inf(-1)
	}
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		if (wantMax && d > best) || (!wantMax && d < best) {
			best = d
		}
	}
	if math.IsInf(best, 1) || math.IsInf(best, -1) {
		best = 0
	}
	return []Result{{Distance: best}}
}

func capResults(in []Result, max int) []Result {
	if max <= 0 || max >= len(in) {
		return in
	}
	return in[:max]
}

func (qe *Engine) sample(in []Result, c Condition, weighted bool) []Result {
	if qe.RNG == nil || len(in) == 0 {
		return capResults(in, c.MaxResults)
	}
	n := c.MaxResults
	if n <= 0 || n > len(in) {
		n = len(in)
	}
	pool := append([]Result(nil), in...)
	out := make([]Result, 0, n)
	for i := 0; i < n && len(pool) > 0; i++ {
		idx := qe.weightedPick(pool, c, weighted)
		out = append(out, pool[idx])
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return out
}

func (qe *Engine) weightedPick(pool []Result, c Condition, weighted bool) int {
	if !weighted {
		return qe.RNG.RandSize(len(pool))
	}
	total := 0.0
	weights := make([]float64, len(pool))
	for i, r := range pool {
		w := 1.0
		if v, ok := qe.GetValue(r.Entity, c.Labels[0]); ok && v.Known && v.Number > 0 {
			w = v.Number
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return qe.RNG.RandSize(len(pool))
	}
	target := qe.RNG.RandFull() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if target <= acc {
			return i
		}
	}
	return len(pool) - 1
}

func (qe *Engine) buildValues(r Result, labels []strpool.StringID) []distance.Value {
	out := make([]distance.Value, len(labels))
	for i, lbl := range labels {
		if v, ok := qe.GetValue(r.Entity, lbl); ok {
			out[i] = v
		}
	}
	return out
}

// computeDistances fills in each candidate's generalized distance to
// c.ReferenceValues. Each entity's distance term is independent, so above
// concurrentDistanceThreshold candidates the work is fanned out with a
// semaphore-bounded errgroup (golang.org/x/sync) instead of computed inline;
// results are still written to pre-sized slots so output order matches
// input order regardless of completion order.
func (qe *Engine) computeDistances(in []Result, c Condition, pool *strpool.Pool) []Result {
	out := make([]Result, len(in))
	if len(in) < concurrentDistanceThreshold {
		for i, r := range in {
			out[i] = qe.distanceResult(r, c, pool)
		}
		return out
	}

	sem := semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0)))
	g := new(errgroup.Group)
	ctx := context.Background()
	for i, r := range in {
		i, r := i, r
		if err := sem.Acquire(ctx, 1); err != nil {
			out[i] = qe.distanceResult(r, c, pool)
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			out[i] = qe.distanceResult(r, c, pool)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (qe *Engine) distanceResult(r Result, c Condition, pool *strpool.Pool) Result {
	values := qe.buildValues(r, c.Labels)
	d := c.Evaluator.ComputeMinkowskiDistance(c.ReferenceValues, values, pool)
	return Result{Entity: r.Entity, Distance: d}
}

func (qe *Engine) withinDistance(in []Result, c Condition, pool *strpool.Pool) []Result {
	withDist := qe.computeDistances(in, c, pool)
	out := withDist[:0]
	for _, r := range withDist {
		if r.Distance <= c.MaxDistance {
			out = append(out, r)
		}
	}
	return out
}

// nearest implements the k-NN condition: compute every candidate's
// generalized distance to ReferenceValues, then keep the MaxResults
// closest, ascending by distance - spec.md §4.8 scenario 5.
func (qe *Engine) nearest(in []Result, c Condition, pool *strpool.Pool) []Result {
	withDist := qe.computeDistances(in, c, pool)
	sort.Slice(withDist, func(i, j int) bool { return withDist[i].Distance < withDist[j].Distance })
	return capResults(withDist, c.MaxResults)
}

// entityPairwiseDistances returns, for each candidate in `in`, the
// ascending-sorted generalized distances to every other candidate in the
// set (self excluded), per c.Evaluator/c.Labels.
func (qe *Engine) entityPairwiseDistances(in []Result, c Condition, pool *strpool.Pool) [][]float64 {
	values := make([][]distance.Value, len(in))
	for i, r := range in {
		values[i] = qe.buildValues(r, c.Labels)
	}
	out := make([][]float64, len(in))
	for i := range in {
		dists := make([]float64, 0, len(in)-1)
		for j := range in {
			if i == j {
				continue
			}
			dists = append(dists, c.Evaluator.ComputeMinkowskiDistance(values[i], values[j], pool))
		}
		sort.Float64s(dists)
		out[i] = dists
	}
	return out
}

// localMeanDistance averages the k smallest distances (all of them when
// k<=0 or k exceeds the available count) - the candidate's mean distance
// to its k nearest neighbors within the set.
func localMeanDistance(dists []float64, k int) float64 {
	if len(dists) == 0 {
		return 0
	}
	if k <= 0 || k > len(dists) {
		k = len(dists)
	}
	sum := 0.0
	for _, d := range dists[:k] {
		sum += d
	}
	return sum / float64(k)
}

// convictions implements compute_entity_convictions: for each candidate,
// the ratio of the candidate set's overall mean local-neighborhood
// distance to the candidate's own mean distance to its k nearest
// neighbors (k = c.MaxResults, or all other candidates when 0). A
// conviction near 1 means the entity sits where an "average" entity in
// the set would; a lower conviction means its neighborhood is sparser
// than average. This mirrors the
// expected-to-actual surprisal ratio original_source's
// ENT_COMPUTE_ENTITY_CONVICTIONS computes, scoped to the candidate set's
// own pairwise distances rather than the SBF-datastore-backed population
// baseline the original draws on, since that datastore isn't part of the
// retrieved original_source pack (see DESIGN.md).
func (qe *Engine) convictions(in []Result, c Condition, pool *strpool.Pool) []Result {
	out := make([]Result, len(in))
	if len(in) < 2 {
		for i, r := range in {
			out[i] = Result{Entity: r.Entity, Distance: 1}
		}
		return out
	}
	allDists := qe.entityPairwiseDistances(in, c, pool)
	local := make([]float64, len(in))
	overall := 0.0
	for i, dists := range allDists {
		local[i] = localMeanDistance(dists, c.MaxResults)
		overall += local[i]
	}
	overall /= float64(len(in))
	for i, r := range in {
		if local[i] == 0 {
			out[i] = Result{Entity: r.Entity, Distance: math.Inf(1)}
			continue
		}
		out[i] = Result{Entity: r.Entity, Distance: overall / local[i]}
	}
	return out
}

// klDivergences implements compute_entity_kl_divergences: the surprisal
// gap between a candidate's own local-neighborhood distance and the
// candidate set's mean local-neighborhood distance, clamped at 0 - a
// per-entity proxy for the population-wide KL divergence
// ENT_COMPUTE_ENTITY_KL_DIVERGENCES accumulates in original_source (see
// the convictions doc comment for why this is scoped to the candidate
// set). In nats when c.Evaluator.UseSurprisal is set, in raw distance
// units otherwise.
func (qe *Engine) klDivergences(in []Result, c Condition, pool *strpool.Pool) []Result {
	out := make([]Result, len(in))
	if len(in) < 2 {
		for i, r := range in {
			out[i] = Result{Entity: r.Entity, Distance: 0}
		}
		return out
	}
	allDists := qe.entityPairwiseDistances(in, c, pool)
	local := make([]float64, len(in))
	overall := 0.0
	for i, dists := range allDists {
		local[i] = localMeanDistance(dists, c.MaxResults)
		overall += local[i]
	}
	overall /= float64(len(in))
	for i, r := range in {
		gap := local[i] - overall
		if gap < 0 {
			gap = 0
		}
		out[i] = Result{Entity: r.Entity, Distance: gap}
	}
	return out
}
