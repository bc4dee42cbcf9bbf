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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	amerrors "github.com/howsoai/amalgam-sub001/internal/errors"
	"github.com/howsoai/amalgam-sub001/internal/ui"
	"github.com/howsoai/amalgam-sub001/pkg/metrics"
	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
)

// runRun implements `amalgam run <resource>`: loads a stored node tree
// into a fresh root entity and evaluates it, printing the result.
func runRun(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	showProgress := fs.Bool("progress", false, "Show a progress spinner during evaluation")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")
	if err := fs.Parse(args); err != nil {
		amerrors.FatalError(amerrors.NewInputError("Invalid flags", err.Error(), "Run 'amalgam run --help' for usage", err), globals.JSON)
	}
	if fs.NArg() < 1 {
		amerrors.FatalError(amerrors.NewInputError(
			"Missing resource argument",
			"amalgam run requires a resource path",
			"Usage: amalgam run <resource>",
			nil,
		), globals.JSON)
	}
	resourcePath := fs.Arg(0)

	h, err := newRuntimeHandle(configPath)
	if err != nil {
		amerrors.FatalError(err, globals.JSON)
	}
	defer h.close()

	e, _, err := h.rootEntityFor(resourcePath)
	if err != nil {
		amerrors.FatalError(err, globals.JSON)
	}

	logger := slog.Default()

	if *metricsAddr != "" {
		metrics.Register()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			logger.Info("metrics.http.start", "addr", *metricsAddr, "path", "/metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	pool := h.threadPool(logger)
	defer pool.Shutdown()
	c := h.constraints()

	var bar *progressbar.ProgressBar
	if *showProgress && !globals.Quiet {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("evaluating"),
			progressbar.OptionSpinnerType(14),
		)
	}

	result := e.Execute(e.Root(), c, pool, logger)
	if bar != nil {
		_ = bar.Finish()
	}

	if c.Exceeded {
		amerrors.FatalError(amerrors.NewConstraintError(
			"Execution constraint exceeded",
			fmt.Sprintf("Violation: %s", c.Violation),
			"Raise the corresponding limit in amalgam.yaml or simplify the script",
			nil,
		), globals.JSON)
	}

	printResult(result, h.pool, globals)
}

// printResult renders a node.Node's scalar shape to stdout. Structural
// results (lists, assocs) print their child count rather than a full
// tree dump, since amalgam has no textual unparser (spec.md §1's
// out-of-scope "unparse" collaborator).
func printResult(n *node.Node, pool *strpool.Pool, globals GlobalFlags) {
	if globals.JSON {
		printResultJSON(n, pool)
		return
	}
	if n == nil {
		ui.Info("(null)")
		return
	}
	switch n.Type {
	case node.TypeNull:
		ui.Info("null")
	case node.TypeTrue:
		ui.Info("true")
	case node.TypeFalse:
		ui.Info("false")
	case node.TypeNumber:
		fmt.Fprintf(os.Stdout, "%v\n", n.Number)
	case node.TypeString:
		s, _ := pool.GetStringFromID(n.StringID)
		ui.Info(fmt.Sprintf("%q", s))
	default:
		ui.Infof("<%d children>", len(n.Ordered)+len(n.Assoc))
	}
}

// printResultJSON renders the same scalar shape as a single JSON object,
// for --json mode / scripted consumption.
func printResultJSON(n *node.Node, pool *strpool.Pool) {
	out := map[string]any{}
	if n == nil {
		out["type"] = "null"
	} else {
		switch n.Type {
		case node.TypeNull:
			out["type"] = "null"
		case node.TypeTrue:
			out["type"] = "bool"
			out["value"] = true
		case node.TypeFalse:
			out["type"] = "bool"
			out["value"] = false
		case node.TypeNumber:
			out["type"] = "number"
			out["value"] = n.Number
		case node.TypeString:
			s, _ := pool.GetStringFromID(n.StringID)
			out["type"] = "string"
			out["value"] = s
		default:
			out["type"] = "structure"
			out["children"] = len(n.Ordered) + len(n.Assoc)
		}
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, `{"type":"internal_error"}`+"\n")
		return
	}
	fmt.Println(string(b))
}
