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
	"runtime"

	amconfig "github.com/howsoai/amalgam-sub001/internal/config"
	amerrors "github.com/howsoai/amalgam-sub001/internal/errors"
	"github.com/howsoai/amalgam-sub001/pkg/asset"
	"github.com/howsoai/amalgam-sub001/pkg/assetstore/cozo"
	"github.com/howsoai/amalgam-sub001/pkg/constraints"
	"github.com/howsoai/amalgam-sub001/pkg/entity"
	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
	"github.com/howsoai/amalgam-sub001/pkg/threadpool"
)

// runtimeHandle is the set of pieces every subcommand that touches the
// interpreter needs: a string pool, an asset store, and the config that
// produced them.
type runtimeHandle struct {
	cfg   *amconfig.Config
	pool  *strpool.Pool
	store *cozo.Store
}

func newRuntimeHandle(configPath string) (*runtimeHandle, error) {
	cfg, err := amconfig.Load(configPath)
	if err != nil {
		return nil, err
	}
	pool := strpool.New()
	store, err := cozo.Open(cozo.Config{
		DataDir:    cfg.AssetStore.DataDir,
		Engine:     cfg.AssetStore.Engine,
		MaxRetries: cfg.AssetStore.MaxRetries,
	}, pool)
	if err != nil {
		return nil, amerrors.NewDatabaseError(
			"Cannot open asset store",
			"Failed to open the CozoDB-backed asset store",
			"Check asset_store.data_dir permissions in amalgam.yaml",
			err,
		)
	}
	return &runtimeHandle{cfg: cfg, pool: pool, store: store}, nil
}

func (h *runtimeHandle) close() {
	_ = h.store.Close()
}

// rootEntityFor loads resourcePath through the asset store and wraps it in
// a freshly created root entity, granting it the configured default
// permissions. Bootstrap self-grants via SetPermissions(perms, perms): the
// call is allowed because CanGrant only requires holding every bit being
// granted, and a set granting itself trivially holds them all.
func (h *runtimeHandle) rootEntityFor(resourcePath string) (*entity.Entity, *node.Manager, error) {
	loaded, _, err := h.store.LoadResource(asset.Parameters{Path: resourcePath})
	if err != nil {
		return nil, nil, amerrors.NewAssetError(
			"Cannot load resource",
			"Failed to load resource \""+resourcePath+"\" from the asset store",
			"Check the resource path, or store it first with a load/store script",
			err,
		)
	}
	// The store decodes into its own internal node.Manager (see
	// pkg/assetstore/cozo/store.go); deep-copy into a manager this entity
	// will own so GC and allocation accounting are tied to the entity, not
	// to a throwaway arena from the store.
	mgr := node.NewManager(h.pool, nil)
	root := entity.DeepCopy(loaded, nil, mgr, h.pool)
	e := entity.New(h.pool, mgr, root, strpool.NotAStringID, entity.NewUniqueEntityID())
	perms := amconfig.ParsePermissions(h.cfg.Permissions.Default)
	e.SetPermissions(perms, perms)
	e.SetAssetManager(h.store)
	return e, mgr, nil
}

func (h *runtimeHandle) threadPool(logger *slog.Logger) *threadpool.Pool {
	maxActive := h.cfg.ThreadPool.MaxActiveThreads
	if maxActive <= 0 {
		maxActive = runtime.GOMAXPROCS(0)
	}
	return threadpool.New(maxActive, logger)
}

func (h *runtimeHandle) constraints() *constraints.Constraints {
	return h.cfg.Constraints.ToConstraints()
}
