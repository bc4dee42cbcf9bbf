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
)

// runStatus implements `amalgam status`: a summary of the active
// configuration and the asset store it points at.
func runStatus(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		amerrors.FatalError(amerrors.NewInputError("Invalid flags", err.Error(), "Run 'amalgam status --help' for usage", err), globals.JSON)
	}

	h, err := newRuntimeHandle(configPath)
	if err != nil {
		amerrors.FatalError(err, globals.JSON)
	}
	defer h.close()

	stats, err := h.store.Stats()
	if err != nil {
		amerrors.FatalError(amerrors.NewDatabaseError(
			"Cannot read asset store statistics",
			"The status query against the asset store failed",
			"Check that the asset store is reachable and not corrupted",
			err,
		), globals.JSON)
	}

	if globals.JSON {
		printJSONMap(map[string]any{
			"engine":            h.cfg.AssetStore.Engine,
			"data_dir":          h.cfg.AssetStore.DataDir,
			"resources":         stats.Resources,
			"entities":          stats.Entities,
			"max_active_threads": h.cfg.ThreadPool.MaxActiveThreads,
		})
		return
	}

	ui.Header("Amalgam Status")
	ui.Infof("%s  %s", ui.Label("Engine:"), h.cfg.AssetStore.Engine)
	ui.Infof("%s  %s", ui.Label("Data Dir:"), ui.DimText(h.cfg.AssetStore.DataDir))
	ui.SubHeader("Stored Assets:")
	ui.Infof("  Resources:  %s", ui.CountText(stats.Resources))
	ui.Infof("  Entities:   %s", ui.CountText(stats.Entities))
	ui.SubHeader("Execution:")
	ui.Infof("  Max Active Threads:      %d", h.cfg.ThreadPool.MaxActiveThreads)
	ui.Infof("  Max Execution Steps:     %d", h.cfg.Constraints.MaxExecutionSteps)
	ui.Infof("  Max Allocated Nodes:     %d", h.cfg.Constraints.MaxAllocatedNodes)
	ui.Infof("  Max Opcode Depth:        %d", h.cfg.Constraints.MaxOpcodeDepth)
	ui.Infof("  Max Contained Entities:  %d", h.cfg.Constraints.MaxContainedEntities)
}
