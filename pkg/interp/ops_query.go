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

package interp

import (
	"github.com/howsoai/amalgam-sub001/pkg/distance"
	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/query"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
)

// entityAccessAdapter lets the pkg/query.Entity interface (which only
// needs ID()) be satisfied by interp.EntityAccess without an import cycle.
type entityAccessAdapter struct{ EntityAccess }

// evalQuery implements spec.md §4.8's entity query engine entry point:
// `query target conditions`. Since the textual parser is out of scope,
// conditions are supplied as a node-tree literal shaped as a list of
// assoc records, one per condition, each with a "kind" string key and
// kind-specific keys ("labels", "low", "high", "among", "entities",
// "max_results", "p", "position", "max_distance", "sorted_list"). Returns
// an assoc of entity_id -> distance/value by default;
// when the chain's final condition sets "sorted_list" to true, returns a
// list of two parallel vectors `[ids, values]` instead, per spec.md
// §4.8's "Output formats" paragraph.
func evalQuery(it *Interp, n *node.Node, immediateResult bool) (*node.Node, Signal) {
	if len(n.Ordered) < 2 {
		return nullNode(it.Manager, it.workerID), SignalNone
	}
	targetIDNode, sig := it.InterpretNode(n.Ordered[0], false)
	if sig != SignalNone {
		return targetIDNode, sig
	}
	conditionsNode, sig := it.InterpretNode(n.Ordered[1], false)
	if sig != SignalNone {
		return conditionsNode, sig
	}

	target, ok := targetEntity(it, targetIDNode)
	if !ok {
		return nullNode(it.Manager, it.workerID), SignalNone
	}

	kids := target.ContainedEntitiesAccess()
	candidates := make([]query.Entity, len(kids))
	for i, k := range kids {
		candidates[i] = entityAccessAdapter{k}
	}

	conditions := make([]query.Condition, 0, len(conditionsNode.Ordered))
	for _, c := range conditionsNode.Ordered {
		conditions = append(conditions, parseCondition(it, c))
	}

	getValue := func(e query.Entity, label strpool.StringID) (distance.Value, bool) {
		adapter := e.(entityAccessAdapter)
		v, found := adapter.GetValueAtLabel(label, nil, true, adapter.EntityAccess == it.Entity)
		if !found || v == nil {
			return distance.Value{}, false
		}
		return nodeToDistanceValue(v, it.Pool), true
	}

	engine := &query.Engine{GetValue: getValue, RNG: it.rng}
	results := engine.Run(candidates, conditions, it.Pool)

	sortedList := len(conditions) > 0 && conditions[len(conditions)-1].SortedList
	if sortedList {
		return buildSortedListResult(it, results), SignalNone
	}
	return buildAssocResult(it, results), SignalNone
}

// buildAssocResult is evalQuery's default output: entity_id -> value.
func buildAssocResult(it *Interp, results []query.Result) *node.Node {
	out := it.Manager.AllocUninitializedNode(it.workerID)
	out.Type = node.TypeAssoc
	out.Kind = node.ValueAssoc
	out.Assoc = make(map[strpool.StringID]*node.Node, len(results))
	for _, r := range results {
		if r.Entity == nil {
			continue
		}
		id := r.Entity.ID()
		out.Assoc[it.Pool.CreateStringReference(id)] = it.Manager.AllocNumberNode(r.Distance, it.workerID)
	}
	return out
}

// buildSortedListResult implements spec.md §4.8's alternate output format:
// a list of two parallel vectors `[ids, values]`, in the order Engine.Run
// produced them (ascending distance for nearest_generalized_distance,
// input order otherwise) rather than an unordered assoc.
func buildSortedListResult(it *Interp, results []query.Result) *node.Node {
	ids := it.Manager.AllocUninitializedNode(it.workerID)
	ids.Type = node.TypeList
	ids.Kind = node.ValueOrdered
	ids.Ordered = make([]*node.Node, 0, len(results))

	values := it.Manager.AllocUninitializedNode(it.workerID)
	values.Type = node.TypeList
	values.Kind = node.ValueOrdered
	values.Ordered = make([]*node.Node, 0, len(results))

	for _, r := range results {
		if r.Entity == nil {
			continue
		}
		idStr, _ := it.Pool.GetStringFromID(r.Entity.ID())
		idNode := it.Manager.AllocUninitializedNode(it.workerID)
		idNode.Type = node.TypeString
		idNode.Kind = node.ValueString
		idNode.StringID = it.Pool.CreateStringReferenceFromString(idStr)
		ids.Ordered = append(ids.Ordered, idNode)
		values.Ordered = append(values.Ordered, it.Manager.AllocNumberNode(r.Distance, it.workerID))
	}

	out := it.Manager.AllocUninitializedNode(it.workerID)
	out.Type = node.TypeList
	out.Kind = node.ValueOrdered
	out.Ordered = []*node.Node{ids, values}
	return out
}

func nodeToDistanceValue(n *node.Node, pool *strpool.Pool) distance.Value {
	switch n.Type {
	case node.TypeNumber:
		return distance.Value{Known: true, Number: n.Number}
	case node.TypeString:
		s, _ := pool.GetStringFromID(n.StringID)
		return distance.Value{Known: true, String: s, Number: node.ToNumber(n, pool, 0)}
	case node.TypeTrue:
		return distance.Value{Known: true, Number: 1, String: "true"}
	case node.TypeFalse:
		return distance.Value{Known: true, Number: 0, String: "false"}
	default:
		return distance.Value{}
	}
}

var conditionKindByName = map[string]query.ConditionKind{
	"exists":                       query.Exists,
	"not_exists":                   query.NotExists,
	"equals":                       query.Equals,
	"not_equals":                   query.NotEquals,
	"between":                      query.Between,
	"not_between":                  query.NotBetween,
	"among":                        query.Among,
	"not_among":                    query.NotAmong,
	"in_entity_list":               query.InEntityList,
	"not_in_entity_list":           query.NotInEntityList,
	"min":                          query.Min,
	"max":                          query.Max,
	"sum":                          query.Sum,
	"mode":                         query.Mode,
	"quantile":                     query.Quantile,
	"generalized_mean":             query.GeneralizedMean,
	"min_difference":               query.MinDifference,
	"max_difference":               query.MaxDifference,
	"value_masses":                 query.ValueMasses,
	"select":                       query.Select,
	"sample":                       query.Sample,
	"weighted_sample":              query.WeightedSample,
	"within_generalized_distance":           query.WithinGeneralizedDistance,
	"nearest_generalized_distance":          query.NearestGeneralizedDistance,
	"compute_entity_distance_contributions": query.DistanceContributions,
	"compute_entity_convictions":             query.Convictions,
	"compute_entity_kl_divergences":          query.KLDivergences,
}

func assocStr(it *Interp, assoc *node.Node, key string) (string, bool) {
	if assoc == nil || assoc.Assoc == nil {
		return "", false
	}
	sid := it.Pool.GetIDFromString(key)
	if sid == strpool.NotAStringID {
		return "", false
	}
	v, ok := assoc.Assoc[sid]
	if !ok || v == nil {
		return "", false
	}
	s, _ := it.Pool.GetStringFromID(v.StringID)
	return s, true
}

func assocNode(it *Interp, assoc *node.Node, key string) *node.Node {
	if assoc == nil || assoc.Assoc == nil {
		return nil
	}
	sid := it.Pool.GetIDFromString(key)
	if sid == strpool.NotAStringID {
		return nil
	}
	return assoc.Assoc[sid]
}

// parseCondition decodes one condition record (see evalQuery's doc
// comment for the assoc shape) into a query.Condition.
func parseCondition(it *Interp, c *node.Node) query.Condition {
	kindStr, _ := assocStr(it, c, "kind")
	cond := query.Condition{Kind: conditionKindByName[kindStr]}

	if labelsNode := assocNode(it, c, "labels"); labelsNode != nil {
		for _, l := range labelsNode.Ordered {
			cond.Labels = append(cond.Labels, l.StringID)
		}
	}
	if v := assocNode(it, c, "low"); v != nil {
		cond.Low = node.ToNumber(v, it.Pool, 0)
	}
	if v := assocNode(it, c, "high"); v != nil {
		cond.High = node.ToNumber(v, it.Pool, 0)
	}
	if v := assocNode(it, c, "p"); v != nil {
		cond.Low = node.ToNumber(v, it.Pool, 0) // generalized_mean reuses Low as p
	}
	if v := assocNode(it, c, "max_results"); v != nil {
		cond.MaxResults = int(node.ToNumber(v, it.Pool, 0))
	}
	if v := assocNode(it, c, "max_distance"); v != nil {
		cond.MaxDistance = node.ToNumber(v, it.Pool, 0)
	}
	if amongNode := assocNode(it, c, "among"); amongNode != nil {
		for _, a := range amongNode.Ordered {
			s, _ := it.Pool.GetStringFromID(a.StringID)
			cond.AmongValues = append(cond.AmongValues, s)
		}
	}
	if entitiesNode := assocNode(it, c, "entities"); entitiesNode != nil {
		for _, e := range entitiesNode.Ordered {
			cond.EntityIDs = append(cond.EntityIDs, e.StringID)
		}
	}
	if posNode := assocNode(it, c, "position"); posNode != nil {
		for _, p := range posNode.Ordered {
			cond.ReferenceValues = append(cond.ReferenceValues, nodeToDistanceValue(p, it.Pool))
		}
	}
	if v := assocNode(it, c, "sorted_list"); v != nil {
		cond.SortedList = isTruthy(v)
	}
	switch cond.Kind {
	case query.WithinGeneralizedDistance, query.NearestGeneralizedDistance, query.DistanceContributions,
		query.Convictions, query.KLDivergences:
		cond.Evaluator = buildEvaluator(it, c, len(cond.Labels))
	}
	return cond
}

// buildEvaluator constructs a distance.Evaluator from a condition record's
// "weights"/"deviations"/"pvalue"/"surprisal" keys, one FeatureAttributes
// per label, defaulting to unweighted continuous-numeric features.
func buildEvaluator(it *Interp, c *node.Node, numFeatures int) *distance.Evaluator {
	feats := make([]distance.FeatureAttributes, numFeatures)
	for i := range feats {
		feats[i] = distance.FeatureAttributes{
			Type:                         distance.ContinuousNumeric,
			Weight:                       1,
			MaxCyclicDifference:          nanValue(),
			UnknownToUnknownDistanceTerm: nanValue(),
			KnownToUnknownDistanceTerm:   nanValue(),
		}
	}
	if weightsNode := assocNode(it, c, "weights"); weightsNode != nil {
		for i, w := range weightsNode.Ordered {
			if i < len(feats) {
				feats[i].Weight = node.ToNumber(w, it.Pool, 1)
			}
		}
	}
	if devNode := assocNode(it, c, "deviations"); devNode != nil {
		for i, d := range devNode.Ordered {
			if i < len(feats) {
				feats[i].Deviation = node.ToNumber(d, it.Pool, 0)
			}
		}
	}
	p := 2.0
	if v := assocNode(it, c, "pvalue"); v != nil {
		p = node.ToNumber(v, it.Pool, 2)
	}
	surprisal := false
	if v := assocNode(it, c, "surprisal"); v != nil {
		surprisal = isTruthy(v)
	}
	return &distance.Evaluator{Features: feats, PValue: p, UseSurprisal: surprisal, UseLaplaceLK: true}
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}
