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

// Package asset declares the external-collaborator interfaces spec.md §1
// and §6 place out of scope for the core: the asset manager (backing
// load/store/load_entity/store_entity) and the print listener. The core
// depends only on these interfaces; pkg/assetstore/cozo supplies one
// concrete implementation.
package asset

import "github.com/howsoai/amalgam-sub001/pkg/node"

// EntityHandle is the minimal surface a loaded/stored entity needs to
// expose to the asset manager, kept as an interface (rather than importing
// pkg/entity) so this package stays a leaf with no dependency on the
// runtime packages that depend on it.
type EntityHandle interface {
	// Root returns the entity's current root node tree.
	Root() *node.Node
	// IDString returns the entity's interned id as a plain string, for use
	// as a storage key.
	IDString() string
}

// Parameters is AssetParameters from spec.md §6: an abstract description of
// what to load or store, opaque to the core beyond these fields.
type Parameters struct {
	Path     string
	FileType string
	Options  map[string]any
}

// Manager is the out-of-scope asset-loader collaborator. LoadResource
// returns a node tree for `load`; StoreResource persists one for `store`.
// LoadEntityResource/StoreEntityResource are the entity-granularity
// counterparts for `load_entity`/`store_entity` and LoadEntityFromResource.
type Manager interface {
	LoadResource(params Parameters) (*node.Node, []string, error)
	StoreResource(params Parameters, root *node.Node) error
	LoadEntityResource(params Parameters) (*node.Node, string, error)
	StoreEntityResource(params Parameters, entity EntityHandle) error
}

// PrintListener is the single sink for `system printline` and log-flush
// events, per spec.md §6. The core's default path writes directly to
// os.Stdout (see pkg/interp/ops_system.go); a PrintListener is for hosts
// that want to intercept that stream instead (e.g. the CLI's --quiet mode,
// or an embedding application). Registering one is optional.
type PrintListener interface {
	LogPrint(s string)
	FlushLogFile()
}
