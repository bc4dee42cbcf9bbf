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

// Package cozo implements pkg/asset.Manager on top of an embedded CozoDB
// instance, grounded on the teacher's pkg/storage.EmbeddedBackend (the same
// "relations as tables, CozoScript as the query language" shape, adapted
// from source-intelligence facts to Amalgam node trees and entities).
package cozo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/howsoai/amalgam-sub001/pkg/asset"
	"github.com/howsoai/amalgam-sub001/pkg/node"
	"github.com/howsoai/amalgam-sub001/pkg/strpool"
)

const (
	resourceTable = "amalgam_resource"
	entityTable   = "amalgam_entity"
)

// Config configures a Store.
type Config struct {
	// DataDir is where CozoDB persists its data. Defaults to
	// ~/.amalgam/data.
	DataDir string
	// Engine is the CozoDB storage engine: "rocksdb", "sqlite", or "mem".
	// Defaults to "rocksdb".
	Engine string
	// MaxRetries bounds the number of attempts StoreResource/
	// StoreEntityResource make against transient CozoDB write failures
	// before giving up, per SPEC_FULL.md's backoff wiring. 0 disables
	// retrying (the first failure is returned as-is).
	MaxRetries int
}

// Store is the CozoDB-backed asset.Manager: node trees are stored as
// JSON-encoded blobs (see codec.go) keyed by path, in two relations - one
// for bare resources (`load`/`store`) and one for entity roots
// (`load_entity`/`store_entity`).
type Store struct {
	db         *db
	pool       *strpool.Pool
	maxRetries int
}

// Open creates (or attaches to) a CozoDB database at cfg.DataDir and
// ensures the resource/entity relations exist.
func Open(cfg Config, pool *strpool.Pool) (*Store, error) {
	if cfg.Engine == "" {
		cfg.Engine = "rocksdb"
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".amalgam", "data")
	}
	if cfg.Engine != "mem" {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	d, err := openDB(cfg.Engine, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open cozodb: %w", err)
	}

	s := &Store{db: d, pool: pool, maxRetries: cfg.MaxRetries}
	if err := s.ensureSchema(); err != nil {
		d.close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	tables := []string{
		fmt.Sprintf(`:create %s { path: String => data: String, updated_at: Float }`, resourceTable),
		fmt.Sprintf(`:create %s { path: String => entity_id: String, data: String, updated_at: Float }`, entityTable),
	}
	for _, t := range tables {
		if _, err := s.db.run(t, nil); err != nil {
			// CozoDB errors when a relation already exists; treat that as
			// success, same as the teacher's migration-guard pattern.
			if isAlreadyExistsErr(err) {
				continue
			}
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func isAlreadyExistsErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exist") || strings.Contains(msg, "exists")
}

// Close releases the underlying CozoDB handle.
func (s *Store) Close() error {
	if !s.db.close() {
		return errors.New("cozo: database already closed")
	}
	return nil
}

// Stats summarizes the contents of the store, for `amalgam status`.
type Stats struct {
	Resources int
	Entities  int
}

// Stats counts the rows in each relation. Read-only, so it runs even
// against a store opened by a caller without write permission.
func (s *Store) Stats() (Stats, error) {
	var stats Stats
	rows, err := s.db.runReadOnly(fmt.Sprintf(`?[count(path)] := *%s{path}`, resourceTable), nil)
	if err != nil {
		return stats, fmt.Errorf("count resources: %w", err)
	}
	if len(rows.Rows) > 0 {
		if n, ok := rows.Rows[0][0].(float64); ok {
			stats.Resources = int(n)
		}
	}
	rows, err = s.db.runReadOnly(fmt.Sprintf(`?[count(path)] := *%s{path}`, entityTable), nil)
	if err != nil {
		return stats, fmt.Errorf("count entities: %w", err)
	}
	if len(rows.Rows) > 0 {
		if n, ok := rows.Rows[0][0].(float64); ok {
			stats.Entities = int(n)
		}
	}
	return stats, nil
}

// LoadResource implements asset.Manager.
func (s *Store) LoadResource(params asset.Parameters) (*node.Node, []string, error) {
	mgr := node.NewManager(s.pool, nil)
	q := fmt.Sprintf(`?[data] := *%s{path, data}, path = $path`, resourceTable)
	rows, err := s.db.runReadOnly(q, map[string]any{"path": params.Path})
	if err != nil {
		return nil, nil, fmt.Errorf("load resource %q: %w", params.Path, err)
	}
	if len(rows.Rows) == 0 {
		return nil, nil, fmt.Errorf("load resource %q: %w", params.Path, os.ErrNotExist)
	}
	data, _ := rows.Rows[0][0].(string)
	n, err := unmarshalNode(s.pool, mgr, data)
	if err != nil {
		return nil, nil, err
	}
	return n, nil, nil
}

// StoreResource implements asset.Manager, retrying transient write
// failures via exponential backoff (github.com/cenkalti/backoff/v4),
// bounded by s.maxRetries.
func (s *Store) StoreResource(params asset.Parameters, root *node.Node) error {
	data, err := marshalNode(s.pool, root)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`?[path, data, updated_at] <- [[$path, $data, $now]] :put %s { path => data, updated_at }`, resourceTable)
	params2 := map[string]any{"path": params.Path, "data": data, "now": float64(nowUnix())}
	return s.retry(func() error {
		_, err := s.db.run(q, params2)
		return err
	})
}

// LoadEntityResource implements asset.Manager.
func (s *Store) LoadEntityResource(params asset.Parameters) (*node.Node, string, error) {
	mgr := node.NewManager(s.pool, nil)
	q := fmt.Sprintf(`?[entity_id, data] := *%s{path, entity_id, data}, path = $path`, entityTable)
	rows, err := s.db.runReadOnly(q, map[string]any{"path": params.Path})
	if err != nil {
		return nil, "", fmt.Errorf("load entity %q: %w", params.Path, err)
	}
	if len(rows.Rows) == 0 {
		return nil, "", fmt.Errorf("load entity %q: %w", params.Path, os.ErrNotExist)
	}
	entityID, _ := rows.Rows[0][0].(string)
	data, _ := rows.Rows[0][1].(string)
	n, err := unmarshalNode(s.pool, mgr, data)
	if err != nil {
		return nil, "", err
	}
	return n, entityID, nil
}

// StoreEntityResource implements asset.Manager, retrying transient write
// failures the same way StoreResource does.
func (s *Store) StoreEntityResource(params asset.Parameters, e asset.EntityHandle) error {
	data, err := marshalNode(s.pool, e.Root())
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`?[path, entity_id, data, updated_at] <- [[$path, $entity_id, $data, $now]] :put %s { path => entity_id, data, updated_at }`, entityTable)
	params2 := map[string]any{"path": params.Path, "entity_id": e.IDString(), "data": data, "now": float64(nowUnix())}
	return s.retry(func() error {
		_, err := s.db.run(q, params2)
		return err
	})
}

func (s *Store) retry(op func() error) error {
	if s.maxRetries <= 0 {
		return op()
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.maxRetries))
	return backoff.Retry(op, backoff.WithContext(bo, context.Background()))
}

// nowUnix is a seam over time.Now so Open/Store callers don't need their
// own clock; kept as a function (not a direct time.Now() call site deep in
// the query builders) so it's the one place a test would stub.
func nowUnix() int64 { return time.Now().Unix() }
