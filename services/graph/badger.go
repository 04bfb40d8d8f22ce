// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/wastehunter/pkg/validation"
)

// Key layout of the embedded store:
//
//	node/<id>                      -> ResourceNode JSON
//	edge/<from>/<kind>/<to>        -> DependencyEdge JSON
//	adj/<node>/<peer>/<kind>/<dir> -> DependencyEdge JSON (dir: out|in)
//	mem/<resource_id>/<key>        -> DecisionMemory JSON
//
// Resource ids and edge kinds are validated before key assembly, so "/" is
// a safe separator. The adjacency index carries both directions, which is
// what lets GetNeighborhood traverse edges undirected without a full edge
// scan per hop.
const (
	nodePrefix = "node/"
	edgePrefix = "edge/"
	adjPrefix  = "adj/"
	memPrefix  = "mem/"
)

// BadgerConfig holds configuration for the embedded graph store.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. If nil, it is disabled.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults: on-disk, synchronous
// writes (decision memory is durable state).
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration for tests: in-memory, no
// sync, no internal logging.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// BadgerStore is the embedded Store implementation backed by BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens (or creates) the embedded graph database.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerSlogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening badger at %q: %v", ErrUnavailable, cfg.Path, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close(_ context.Context) error {
	return s.db.Close()
}

// Ping verifies the database handle is still usable.
func (s *BadgerStore) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return fmt.Errorf("%w: badger database is closed", ErrUnavailable)
	}
	return nil
}

// UpsertNode creates or updates a resource node.
func (s *BadgerStore) UpsertNode(_ context.Context, node ResourceNode) error {
	if err := validation.ValidateResourceID(node.ID); err != nil {
		return err
	}
	if node.Criticality == "" {
		node.Criticality = CriticalityLow
	}
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("encoding node %s: %w", node.ID, err)
	}
	return s.update(func(txn *badger.Txn) error {
		return txn.Set([]byte(nodePrefix+node.ID), data)
	})
}

// UpsertEdge creates an edge and both adjacency index entries.
func (s *BadgerStore) UpsertEdge(_ context.Context, edge DependencyEdge) error {
	if err := validation.ValidateResourceID(edge.From); err != nil {
		return fmt.Errorf("edge from: %w", err)
	}
	if err := validation.ValidateResourceID(edge.To); err != nil {
		return fmt.Errorf("edge to: %w", err)
	}
	if edge.Kind == "" || strings.Contains(edge.Kind, "/") {
		return fmt.Errorf("invalid edge kind %q", edge.Kind)
	}
	data, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("encoding edge: %w", err)
	}
	return s.update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(edgePrefix+edge.From+"/"+edge.Kind+"/"+edge.To), data); err != nil {
			return err
		}
		if err := txn.Set([]byte(adjPrefix+edge.From+"/"+edge.To+"/"+edge.Kind+"/out"), data); err != nil {
			return err
		}
		return txn.Set([]byte(adjPrefix+edge.To+"/"+edge.From+"/"+edge.Kind+"/in"), data)
	})
}

// Seed loads a topology, nodes before edges so adjacency always resolves.
func (s *BadgerStore) Seed(ctx context.Context, topo Topology) error {
	for _, n := range topo.Nodes {
		if err := s.UpsertNode(ctx, n); err != nil {
			return err
		}
	}
	for _, e := range topo.Edges {
		if err := s.UpsertEdge(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// GetNeighborhood runs a breadth-first traversal over the adjacency index,
// treating edges as undirected, up to maxHops levels.
func (s *BadgerStore) GetNeighborhood(_ context.Context, resourceID string, maxHops int) (*Neighborhood, error) {
	if err := validation.ValidateResourceID(resourceID); err != nil {
		return nil, err
	}
	hops := validation.ClampHops(maxHops)

	nb := &Neighborhood{RootID: resourceID}
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(nodePrefix + resourceID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				// Unknown root: empty neighborhood, same as a node with no edges.
				return nil
			}
			return err
		}

		visited := map[string]int{resourceID: 0}
		reachedVia := map[string]string{}
		seenEdges := map[string]bool{}
		frontier := []string{resourceID}

		for depth := 1; depth <= hops && len(frontier) > 0; depth++ {
			var next []string
			for _, id := range frontier {
				edges, err := adjacentEdges(txn, id)
				if err != nil {
					return err
				}
				for _, e := range edges {
					ek := e.From + "/" + e.Kind + "/" + e.To
					if !seenEdges[ek] {
						seenEdges[ek] = true
						nb.Edges = append(nb.Edges, e)
					}
					peer := e.To
					if peer == id {
						peer = e.From
					}
					if _, ok := visited[peer]; ok {
						continue
					}
					visited[peer] = depth
					reachedVia[peer] = e.Kind
					next = append(next, peer)
				}
			}
			frontier = next
		}

		for id, depth := range visited {
			if id == resourceID {
				continue
			}
			node, err := getNode(txn, id)
			if err != nil {
				return err
			}
			nb.Dependencies = append(nb.Dependencies, Dependency{
				Node:         node,
				Relationship: reachedVia[id],
				Hops:         depth,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: neighborhood query: %v", ErrUnavailable, err)
	}
	sortDependencies(nb.Dependencies)
	return nb, nil
}

// GetDecisionMemory returns all records for a resource, most recent first.
func (s *BadgerStore) GetDecisionMemory(_ context.Context, resourceID string) ([]DecisionMemory, error) {
	if err := validation.ValidateResourceID(resourceID); err != nil {
		return nil, err
	}
	var recs []DecisionMemory
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(memPrefix + resourceID + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec DecisionMemory
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: decision memory query: %v", ErrUnavailable, err)
	}
	sortDecisionsMostRecentFirst(recs)
	return recs, nil
}

// WriteDecisionMemory appends a record keyed by its idempotency key, so a
// retried identical write overwrites itself instead of duplicating.
func (s *BadgerStore) WriteDecisionMemory(_ context.Context, rec DecisionMemory) error {
	if err := validation.ValidateResourceID(rec.ResourceID); err != nil {
		return err
	}
	if rec.Status == "" {
		rec.Status = DecisionRejected
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding decision memory: %w", err)
	}
	return s.update(func(txn *badger.Txn) error {
		return txn.Set([]byte(memPrefix+rec.ResourceID+"/"+rec.Key()), data)
	})
}

// SupersedeDecisionMemory stamps every active REJECTED record for the
// resource with the supersession time.
func (s *BadgerStore) SupersedeDecisionMemory(_ context.Context, resourceID string, at int64) error {
	if err := validation.ValidateResourceID(resourceID); err != nil {
		return err
	}
	ts := time.UnixMilli(at).UTC()
	return s.update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(memPrefix + resourceID + "/")

		type pending struct {
			key []byte
			val []byte
		}
		var updates []pending
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec DecisionMemory
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if !rec.Active() {
				continue
			}
			rec.SupersededAt = ts
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			updates = append(updates, pending{key: it.Item().KeyCopy(nil), val: data})
		}
		for _, u := range updates {
			if err := txn.Set(u.key, u.val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	if err := s.db.Update(fn); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func getNode(txn *badger.Txn, id string) (ResourceNode, error) {
	var node ResourceNode
	item, err := txn.Get([]byte(nodePrefix + id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			// Edge to an unknown node: surface a LOW placeholder rather
			// than failing the whole traversal.
			return ResourceNode{ID: id, Criticality: CriticalityLow}, nil
		}
		return node, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &node)
	})
	return node, err
}

func adjacentEdges(txn *badger.Txn, id string) ([]DependencyEdge, error) {
	var edges []DependencyEdge
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	prefix := []byte(adjPrefix + id + "/")
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var e DependencyEdge
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// badgerSlogAdapter adapts slog.Logger to BadgerDB's Logger interface.
type badgerSlogAdapter struct {
	logger *slog.Logger
}

func (l *badgerSlogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerSlogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerSlogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerSlogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
