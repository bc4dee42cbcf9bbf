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
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	flag "github.com/spf13/pflag"

	amerrors "github.com/howsoai/amalgam-sub001/internal/errors"
	"github.com/howsoai/amalgam-sub001/internal/ui"
)

const watchDebounce = 500 * time.Millisecond

// runWatch implements `amalgam watch <resource>`: watches the asset
// store's data directory and re-evaluates resource every time a change
// settles, debounced the same way the teacher's cmd/cie/watch.go debounces
// reindex triggers on repository file events.
func runWatch(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		amerrors.FatalError(amerrors.NewInputError("Invalid flags", err.Error(), "Run 'amalgam watch --help' for usage", err), globals.JSON)
	}
	if fs.NArg() < 1 {
		amerrors.FatalError(amerrors.NewInputError(
			"Missing resource argument",
			"amalgam watch requires a resource path",
			"Usage: amalgam watch <resource>",
			nil,
		), globals.JSON)
	}
	resourcePath := fs.Arg(0)

	h, err := newRuntimeHandle(configPath)
	if err != nil {
		amerrors.FatalError(err, globals.JSON)
	}
	defer h.close()

	if h.cfg.AssetStore.Engine == "mem" {
		amerrors.FatalError(amerrors.NewInputError(
			"Cannot watch an in-memory asset store",
			"asset_store.engine is \"mem\", which has no on-disk directory to watch",
			"Set asset_store.engine to \"rocksdb\" or \"sqlite\" in amalgam.yaml",
			nil,
		), globals.JSON)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		amerrors.FatalError(amerrors.NewInternalError(
			"Cannot start file watcher",
			"fsnotify.NewWatcher failed",
			"This platform may not support inotify/kqueue",
			err,
		), globals.JSON)
	}
	defer watcher.Close()

	if err := watcher.Add(h.cfg.AssetStore.DataDir); err != nil {
		amerrors.FatalError(amerrors.NewAssetError(
			"Cannot watch asset store directory",
			"Failed to add "+h.cfg.AssetStore.DataDir+" to the watcher",
			"Check that the directory exists and is readable",
			err,
		), globals.JSON)
	}

	logger := slog.Default()
	ui.Infof("Watching %s for changes to %q (Ctrl-C to stop)...", h.cfg.AssetStore.DataDir, resourcePath)
	runOnce(h, resourcePath, logger, globals)

	var debounceTimer *time.Timer
	var timerCh <-chan time.Time
	for {
		select {
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(watchDebounce)
			timerCh = debounceTimer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			ui.Warningf("watch error: %v", err)
		case <-timerCh:
			timerCh = nil
			runOnce(h, resourcePath, logger, globals)
		}
	}
}

func runOnce(h *runtimeHandle, resourcePath string, logger *slog.Logger, globals GlobalFlags) {
	e, _, err := h.rootEntityFor(resourcePath)
	if err != nil {
		ui.Warningf("reload failed: %v", err)
		return
	}
	pool := h.threadPool(logger)
	result := e.Execute(e.Root(), h.constraints(), pool, logger)
	pool.Shutdown()
	printResult(result, h.pool, globals)
}
