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

// Package errors gives cmd/amalgam a single user-facing error shape: a
// title, a detail line, and an actionable suggestion, each tagged with a
// category that maps to a process exit code. Reconstructed in the
// teacher's idiom (its own internal/errors was not part of the retrieved
// source; see SPEC_FULL.md section A) from the call-site patterns in
// cmd/cie/*.go.
package errors

import (
	"encoding/json"
	"fmt"
	"os"
)

// Category classifies a UserError for exit-code purposes.
type Category int

const (
	CategoryInternal Category = iota
	CategoryInput
	CategoryConfig
	CategoryPermission
	CategoryConstraint
	CategoryAsset
	CategoryNetwork
	CategoryDatabase
)

// exitCode mirrors sysexits.h-style conventions the teacher's cmd/cie
// follows: configuration problems and bad input exit distinctly from
// internal faults, so scripts driving `amalgam` can branch on $?.
func (c Category) exitCode() int {
	switch c {
	case CategoryInput:
		return 2
	case CategoryConfig:
		return 3
	case CategoryPermission:
		return 4
	case CategoryConstraint:
		return 5
	case CategoryAsset:
		return 6
	case CategoryNetwork:
		return 7
	case CategoryDatabase:
		return 8
	default:
		return 1
	}
}

func (c Category) String() string {
	switch c {
	case CategoryInput:
		return "input"
	case CategoryConfig:
		return "config"
	case CategoryPermission:
		return "permission"
	case CategoryConstraint:
		return "constraint"
	case CategoryAsset:
		return "asset"
	case CategoryNetwork:
		return "network"
	case CategoryDatabase:
		return "database"
	default:
		return "internal"
	}
}

// UserError is a CLI-facing error with enough structure to render either
// as colored multi-line text or as a JSON object (for --json mode).
type UserError struct {
	Category   Category
	Title      string
	Detail     string
	Suggestion string
	Cause      error
}

func (e *UserError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Title, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Detail)
}

func (e *UserError) Unwrap() error { return e.Cause }

func newError(cat Category, title, detail, suggestion string, cause error) *UserError {
	return &UserError{Category: cat, Title: title, Detail: detail, Suggestion: suggestion, Cause: cause}
}

// NewInternalError reports a fault in Amalgam itself: an invariant that
// should never break (arena corruption, an opcode dispatch gap).
func NewInternalError(title, detail, suggestion string, cause error) *UserError {
	return newError(CategoryInternal, title, detail, suggestion, cause)
}

// NewInputError reports bad CLI arguments or malformed source trees.
func NewInputError(title, detail, suggestion string, cause error) *UserError {
	return newError(CategoryInput, title, detail, suggestion, cause)
}

// NewConfigError reports a problem loading or validating amalgam.yaml.
func NewConfigError(title, detail, suggestion string, cause error) *UserError {
	return newError(CategoryConfig, title, detail, suggestion, cause)
}

// NewPermissionError reports an entity-permission or filesystem-permission
// denial.
func NewPermissionError(title, detail, suggestion string, cause error) *UserError {
	return newError(CategoryPermission, title, detail, suggestion, cause)
}

// NewConstraintError reports an execution constraint (step/node/depth
// budget) being exceeded during `run`.
func NewConstraintError(title, detail, suggestion string, cause error) *UserError {
	return newError(CategoryConstraint, title, detail, suggestion, cause)
}

// NewAssetError reports a failure from the pluggable asset manager
// (load/store/load_entity/store_entity).
func NewAssetError(title, detail, suggestion string, cause error) *UserError {
	return newError(CategoryAsset, title, detail, suggestion, cause)
}

// NewNetworkError reports a failure reaching a remote asset store or
// watch endpoint.
func NewNetworkError(title, detail, suggestion string, cause error) *UserError {
	return newError(CategoryNetwork, title, detail, suggestion, cause)
}

// NewDatabaseError reports a CozoDB-backed asset store failure.
func NewDatabaseError(title, detail, suggestion string, cause error) *UserError {
	return newError(CategoryDatabase, title, detail, suggestion, cause)
}

type jsonError struct {
	Category   string `json:"category"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	Suggestion string `json:"suggestion,omitempty"`
	Cause      string `json:"cause,omitempty"`
}

// FatalError prints err (as colored text, or as a JSON object when json is
// true) to stderr and exits with the category's exit code. A plain error
// (not a *UserError, e.g. one returned from a third-party library) is
// wrapped as an internal error first.
func FatalError(err error, json bool) {
	ue, ok := err.(*UserError)
	if !ok {
		ue = NewInternalError("Unexpected error", err.Error(), "Please report this issue if it persists", err)
	}
	if json {
		printJSON(ue)
	} else {
		printText(ue)
	}
	os.Exit(ue.Category.exitCode())
}

func printText(ue *UserError) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", ue.Title)
	if ue.Detail != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", ue.Detail)
	}
	if ue.Cause != nil {
		fmt.Fprintf(os.Stderr, "  cause: %v\n", ue.Cause)
	}
	if ue.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", ue.Suggestion)
	}
}

func printJSON(ue *UserError) {
	je := jsonError{
		Category:   ue.Category.String(),
		Title:      ue.Title,
		Detail:     ue.Detail,
		Suggestion: ue.Suggestion,
	}
	if ue.Cause != nil {
		je.Cause = ue.Cause.Error()
	}
	b, err := json.MarshalIndent(je, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, `{"category":"internal","title":"failed to encode error"}`)
		return
	}
	fmt.Fprintln(os.Stderr, string(b))
}
