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

/*
#include <stdlib.h>
#include <string.h>
#include "cozo_c.h"

// Link against the vendored CozoDB C library, same convention as the
// teacher's pkg/cozodb: ${SRCDIR} lets "go build ./..." find lib/ checked
// out alongside this package rather than requiring it on the system path.
#cgo LDFLAGS: -L${SRCDIR}/../../../lib -lcozo_c -lstdc++ -lm
#cgo windows LDFLAGS: -lbcrypt -lwsock32 -lws2_32 -lshlwapi -lrpcrt4
#cgo darwin LDFLAGS: -framework Security
*/
import "C"

import (
	"encoding/json"
	"errors"
	"fmt"
	"unsafe"
)

// db is a thin handle over one open CozoDB instance, trimmed to the
// query/run/close surface pkg/assetstore/cozo actually exercises - the
// teacher's pkg/cozodb additionally exposes Backup/Restore/Import/Export,
// which the asset store has no use for (see DESIGN.md).
type db struct {
	id     C.int32_t
	closed bool
}

// namedRows is one query result: column headers plus rows of arbitrary
// JSON-decoded values.
type namedRows struct {
	Headers []string
	Rows    [][]any
}

// openDB opens (or creates) a CozoDB database. engine is "mem", "sqlite",
// or "rocksdb"; path is ignored for "mem".
func openDB(engine, path string) (*db, error) {
	cEngine := C.CString(engine)
	defer C.free(unsafe.Pointer(cEngine))
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	cOptions := C.CString("{}")
	defer C.free(unsafe.Pointer(cOptions))

	var dbID C.int32_t
	errPtr := C.cozo_open_db(cEngine, cPath, cOptions, &dbID)
	if errPtr != nil {
		msg := C.GoString(errPtr)
		C.cozo_free_str(errPtr)
		return nil, errors.New(msg)
	}
	return &db{id: dbID}, nil
}

// run executes a CozoScript mutation/query; runReadOnly enforces
// immutable_query=true.
func (d *db) run(script string, params map[string]any) (namedRows, error) {
	return d.runQuery(script, params, false)
}

func (d *db) runReadOnly(script string, params map[string]any) (namedRows, error) {
	return d.runQuery(script, params, true)
}

func (d *db) runQuery(script string, params map[string]any, immutable bool) (namedRows, error) {
	if d.closed {
		return namedRows{}, errors.New("cozo: database is closed")
	}
	cScript := C.CString(script)
	defer C.free(unsafe.Pointer(cScript))

	paramsJSON := "{}"
	if len(params) > 0 {
		b, err := json.Marshal(params)
		if err != nil {
			return namedRows{}, fmt.Errorf("marshal params: %w", err)
		}
		paramsJSON = string(b)
	}
	cParams := C.CString(paramsJSON)
	defer C.free(unsafe.Pointer(cParams))

	resultPtr := C.cozo_run_query(d.id, cScript, cParams, C.bool(immutable))
	if resultPtr == nil {
		return namedRows{}, errors.New("cozo: cozo_run_query returned null")
	}
	resultJSON := C.GoString(resultPtr)
	C.cozo_free_str(resultPtr)
	return parseResult(resultJSON)
}

func (d *db) close() bool {
	if d.closed {
		return false
	}
	d.closed = true
	return bool(C.cozo_close_db(d.id))
}

func parseResult(jsonStr string) (namedRows, error) {
	var result struct {
		OK      bool     `json:"ok"`
		Headers []string `json:"headers"`
		Rows    [][]any  `json:"rows"`
		Message string   `json:"message"`
		Display string   `json:"display"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return namedRows{}, fmt.Errorf("parse cozo result: %w", err)
	}
	if !result.OK {
		msg := result.Message
		if msg == "" {
			msg = result.Display
		}
		if msg == "" {
			msg = "cozo: query failed"
		}
		return namedRows{}, errors.New(msg)
	}
	return namedRows{Headers: result.Headers, Rows: result.Rows}, nil
}
