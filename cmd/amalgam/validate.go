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

package main

import (
	flag "github.com/spf13/pflag"

	amerrors "github.com/howsoai/amalgam-sub001/internal/errors"
	"github.com/howsoai/amalgam-sub001/internal/ui"
	"github.com/howsoai/amalgam-sub001/pkg/node"
)

// runValidate implements `amalgam validate <resource>`: loads a resource
// through the asset store and reports its shape (node count, max depth)
// without executing it, so a caller can sanity-check a stored script
// against the constraints it would run under.
func runValidate(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		amerrors.FatalError(amerrors.NewInputError("Invalid flags", err.Error(), "Run 'amalgam validate --help' for usage", err), globals.JSON)
	}
	if fs.NArg() < 1 {
		amerrors.FatalError(amerrors.NewInputError(
			"Missing resource argument",
			"amalgam validate requires a resource path",
			"Usage: amalgam validate <resource>",
			nil,
		), globals.JSON)
	}
	resourcePath := fs.Arg(0)

	h, err := newRuntimeHandle(configPath)
	if err != nil {
		amerrors.FatalError(err, globals.JSON)
	}
	defer h.close()

	e, mgr, err := h.rootEntityFor(resourcePath)
	if err != nil {
		amerrors.FatalError(err, globals.JSON)
	}

	count, depth := shapeOf(e.Root())
	c := h.constraints()

	var violations []string
	if c.MaxAllocatedNodes > 0 && int64(count) > c.MaxAllocatedNodes {
		violations = append(violations, "exceeds max_allocated_nodes")
	}
	if c.MaxOpcodeDepth > 0 && depth > c.MaxOpcodeDepth {
		violations = append(violations, "exceeds max_opcode_depth")
	}

	if globals.JSON {
		printValidateJSON(count, depth, mgr.Capacity(), violations)
		return
	}

	ui.Header("Resource Validation")
	ui.Infof("  %s  %s", ui.Label("Path:"), resourcePath)
	ui.Infof("  %s  %s", ui.Label("Nodes:"), ui.CountText(count))
	ui.Infof("  %s  %d", ui.Label("Max depth:"), depth)
	if len(violations) == 0 {
		ui.Success("Valid: no constraint violations detected.")
		return
	}
	for _, v := range violations {
		ui.Warning(v)
	}
}

// shapeOf walks n and returns its total node count and maximum depth.
func shapeOf(n *node.Node) (count int, maxDepth int) {
	var walk func(n *node.Node, depth int)
	walk = func(n *node.Node, depth int) {
		if n == nil {
			return
		}
		count++
		if depth > maxDepth {
			maxDepth = depth
		}
		for _, c := range n.Ordered {
			walk(c, depth+1)
		}
		for _, c := range n.Assoc {
			walk(c, depth+1)
		}
	}
	walk(n, 0)
	return count, maxDepth
}

func printValidateJSON(count, depth, capacity int, violations []string) {
	out := map[string]any{
		"nodes":      count,
		"max_depth":  depth,
		"capacity":   capacity,
		"violations": violations,
		"valid":      len(violations) == 0,
	}
	printJSONMap(out)
}
