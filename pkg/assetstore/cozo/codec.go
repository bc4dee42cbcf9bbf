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

package cozo

import (
	"encoding/json"
	"fmt"

	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
)

// wireNode is the on-disk shape of one node.Node, with interned string IDs
// resolved to their string contents: the pool they were interned against is
// process-local and not guaranteed to exist (with the same IDs) on the next
// run, so the wire format must carry strings, not IDs. This is the asset
// store's own serialization, independent of the out-of-scope textual
// parser/unparser (spec.md §1) - it exists only to round-trip node.Node
// through CozoDB, not to be human-authored source text.
type wireNode struct {
	Type     node.Type   `json:"type"`
	Kind     node.ValueKind `json:"kind"`
	Number   float64     `json:"number,omitempty"`
	String   string      `json:"string,omitempty"`
	Label    string      `json:"label,omitempty"`
	Ordered  []*wireNode `json:"ordered,omitempty"`
	Assoc    map[string]*wireNode `json:"assoc,omitempty"`
	Labels   []string    `json:"labels,omitempty"`
	Comment  string      `json:"comment,omitempty"`
}

// encodeNode converts a live node tree into its wire form, resolving every
// interned string through pool so the result is self-contained JSON.
func encodeNode(pool *strpool.Pool, n *node.Node) *wireNode {
	if n == nil {
		return nil
	}
	w := &wireNode{Type: n.Type, Kind: n.Kind, Number: n.Number}
	if n.Kind == node.ValueString {
		w.String, _ = pool.GetStringFromID(n.StringID)
		if n.LabelID != strpool.NotAStringID {
			w.Label, _ = pool.GetStringFromID(n.LabelID)
		}
	}
	if n.Comment != strpool.NotAStringID {
		w.Comment, _ = pool.GetStringFromID(n.Comment)
	}
	for _, lbl := range n.Labels {
		s, _ := pool.GetStringFromID(lbl)
		w.Labels = append(w.Labels, s)
	}
	if len(n.Ordered) > 0 {
		w.Ordered = make([]*wireNode, len(n.Ordered))
		for i, c := range n.Ordered {
			w.Ordered[i] = encodeNode(pool, c)
		}
	}
	if len(n.Assoc) > 0 {
		w.Assoc = make(map[string]*wireNode, len(n.Assoc))
		for k, v := range n.Assoc {
			ks, _ := pool.GetStringFromID(k)
			w.Assoc[ks] = encodeNode(pool, v)
		}
	}
	return w
}

// decodeNode rebuilds a node tree from its wire form into mgr, interning
// every string through pool.
func decodeNode(pool *strpool.Pool, mgr *node.Manager, w *wireNode) *node.Node {
	if w == nil {
		return nil
	}
	n := mgr.AllocUninitializedNode(0)
	n.Type = w.Type
	n.Kind = w.Kind
	n.Number = w.Number
	if w.Kind == node.ValueString {
		n.StringID = pool.CreateStringReferenceFromString(w.String)
		if w.Label != "" {
			n.LabelID = pool.CreateStringReferenceFromString(w.Label)
		}
	}
	if w.Comment != "" {
		n.Comment = pool.CreateStringReferenceFromString(w.Comment)
	}
	for _, l := range w.Labels {
		n.Labels = append(n.Labels, pool.CreateStringReferenceFromString(l))
	}
	if len(w.Ordered) > 0 {
		n.Ordered = make([]*node.Node, len(w.Ordered))
		for i, c := range w.Ordered {
			n.Ordered[i] = decodeNode(pool, mgr, c)
		}
	}
	if len(w.Assoc) > 0 {
		n.Assoc = make(map[strpool.StringID]*node.Node, len(w.Assoc))
		for k, v := range w.Assoc {
			n.Assoc[pool.CreateStringReferenceFromString(k)] = decodeNode(pool, mgr, v)
		}
	}
	return n
}

// marshalNode and unmarshalNode are the store.go-facing entry points.
func marshalNode(pool *strpool.Pool, n *node.Node) (string, error) {
	b, err := json.Marshal(encodeNode(pool, n))
	if err != nil {
		return "", fmt.Errorf("marshal node: %w", err)
	}
	return string(b), nil
}

func unmarshalNode(pool *strpool.Pool, mgr *node.Manager, data string) (*node.Node, error) {
	var w wireNode
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("unmarshal node: %w", err)
	}
	return decodeNode(pool, mgr, &w), nil
}
