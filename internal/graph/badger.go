package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/clavrr/guardrail/internal/logger"
)

const (
	nodeKeyPrefix    = "node:"
	edgeKeyPrefix    = "edge:"
	revEdgeKeyPrefix = "redge:"

	defaultGCInterval = 5 * time.Minute
	gcDiscardRatio    = 0.5
)

// BadgerConfig holds settings for the BadgerDB-backed store.
type BadgerConfig struct {
	// Dir is the directory for data and value log files.
	Dir string
	// SyncWrites forces fsync on every write.
	SyncWrites bool
	// GCInterval controls how often value log garbage collection runs.
	GCInterval time.Duration
}

// BadgerStore persists the graph in an embedded BadgerDB. Nodes live under
// node:<id>; every relationship is written twice, edge:<from>:<rel>:<to>
// for forward traversal and redge:<to>:<rel>:<from> for reverse lookups.
// IDs are percent-escaped inside edge keys so an ID containing ':' cannot
// fall under another edge's scan prefix; traversals read IDs back from the
// stored edge value, never from the key.
type BadgerStore struct {
	db        *badger.DB
	log       logger.Logger
	stopGC    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewBadgerStore opens or creates the database under cfg.Dir.
func NewBadgerStore(cfg BadgerConfig, log logger.Logger) (*BadgerStore, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create badger directory: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.SyncWrites = cfg.SyncWrites
	opts.ValueLogFileSize = 64 << 20
	opts.MemTableSize = 64 << 20
	opts.Compression = 1 // Snappy
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	gcInterval := cfg.GCInterval
	if gcInterval <= 0 {
		gcInterval = defaultGCInterval
	}

	s := &BadgerStore{
		db:     db,
		log:    log,
		stopGC: make(chan struct{}),
	}
	go s.runGarbageCollection(gcInterval)

	log.Info("badger graph store opened",
		logger.String("dir", cfg.Dir),
		logger.Bool("sync_writes", cfg.SyncWrites))
	return s, nil
}

func (s *BadgerStore) runGarbageCollection(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.db.RunValueLogGC(gcDiscardRatio); err != nil && err != badger.ErrNoRewrite {
				s.log.Warn("badger value log GC failed", logger.Error(err))
			}
		case <-s.stopGC:
			return
		}
	}
}

func nodeKey(id string) []byte {
	return []byte(nodeKeyPrefix + id)
}

// keyEscape makes an ID safe between the ':' separators of composite keys.
// Permission IDs and web resource IDs legitimately contain ':', which would
// otherwise let one edge's key match another edge's scan prefix.
func keyEscape(id string) string {
	id = strings.ReplaceAll(id, "%", "%25")
	return strings.ReplaceAll(id, ":", "%3A")
}

func edgeKey(from string, rel RelType, to string) []byte {
	return []byte(edgeKeyPrefix + keyEscape(from) + ":" + string(rel) + ":" + keyEscape(to))
}

func revEdgeKey(to string, rel RelType, from string) []byte {
	return []byte(revEdgeKeyPrefix + keyEscape(to) + ":" + string(rel) + ":" + keyEscape(from))
}

func edgeScanPrefix(from string, rel RelType) []byte {
	return []byte(edgeKeyPrefix + keyEscape(from) + ":" + string(rel) + ":")
}

func revEdgeScanPrefix(to string, rel RelType) []byte {
	return []byte(revEdgeKeyPrefix + keyEscape(to) + ":" + string(rel) + ":")
}

func (s *BadgerStore) AddNode(ctx context.Context, node Node) error {
	if err := validateNode(node); err != nil {
		return err
	}
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("marshal node: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(nodeKey(node.ID), data)
	})
}

func (s *BadgerStore) AddRelationship(ctx context.Context, from, to string, rel RelType, props map[string]string) error {
	edge := Edge{From: from, To: to, Type: rel, Props: props}
	data, err := json.Marshal(edge)
	if err != nil {
		return fmt.Errorf("marshal edge: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range []string{from, to} {
			if _, err := txn.Get(nodeKey(id)); err != nil {
				if err == badger.ErrKeyNotFound {
					return ErrNodeNotFound
				}
				return err
			}
		}
		if err := txn.Set(edgeKey(from, rel, to), data); err != nil {
			return err
		}
		return txn.Set(revEdgeKey(to, rel, from), data)
	})
}

func (s *BadgerStore) NodeExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(nodeKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// scanEdges collects all edges stored under the given key prefix.
func scanEdges(txn *badger.Txn, prefix []byte) ([]Edge, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var edges []Edge
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		var edge Edge
		if err := json.Unmarshal(val, &edge); err != nil {
			return nil, fmt.Errorf("unmarshal edge: %w", err)
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

func getNode(txn *badger.Txn, id string) (Node, bool, error) {
	item, err := txn.Get(nodeKey(id))
	if err == badger.ErrKeyNotFound {
		return Node{}, false, nil
	}
	if err != nil {
		return Node{}, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return Node{}, false, err
	}
	var node Node
	if err := json.Unmarshal(val, &node); err != nil {
		return Node{}, false, fmt.Errorf("unmarshal node: %w", err)
	}
	return node, true, nil
}

func (s *BadgerStore) GetUserPermissions(ctx context.Context, userID string) (map[string]struct{}, error) {
	perms := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		direct, err := scanEdges(txn, edgeScanPrefix(userID, RelHasPermission))
		if err != nil {
			return err
		}
		for _, edge := range direct {
			perms[edge.To] = struct{}{}
		}

		roles, err := scanEdges(txn, edgeScanPrefix(userID, RelHasRole))
		if err != nil {
			return err
		}
		for _, roleEdge := range roles {
			granted, err := scanEdges(txn, edgeScanPrefix(roleEdge.To, RelRolePermission))
			if err != nil {
				return err
			}
			for _, edge := range granted {
				perms[edge.To] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *BadgerStore) GetAuditTrail(ctx context.Context, userID string, limit int, actionTypes []string) ([]TrailEntry, error) {
	var entries []TrailEntry
	err := s.db.View(func(txn *badger.Txn) error {
		performed, err := scanEdges(txn, edgeScanPrefix(userID, RelPerformed))
		if err != nil {
			return err
		}
		for _, edge := range performed {
			node, ok, err := getNode(txn, edge.To)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			entry, ok := entryFromNode(node)
			if !ok || !matchesAction(entry, actionTypes) {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEntries(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *BadgerStore) GetResourceHistory(ctx context.Context, resourceID string, limit int) ([]TrailEntry, error) {
	var entries []TrailEntry
	err := s.db.View(func(txn *badger.Txn) error {
		accessed, err := scanEdges(txn, revEdgeScanPrefix(resourceID, RelAccessed))
		if err != nil {
			return err
		}
		for _, edge := range accessed {
			node, ok, err := getNode(txn, edge.From)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			entry, ok := entryFromNode(node)
			if !ok {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEntries(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Backup streams a full backup of the database to the given file.
func (s *BadgerStore) Backup(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer file.Close()

	if _, err := s.db.Backup(file, 0); err != nil {
		return fmt.Errorf("backup database: %w", err)
	}
	s.log.Info("graph store backup complete", logger.String("path", path))
	return nil
}

// Restore loads a backup file into the database.
func (s *BadgerStore) Restore(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open backup file: %w", err)
	}
	defer file.Close()

	if err := s.db.Load(file, 256); err != nil {
		return fmt.Errorf("restore database: %w", err)
	}
	s.log.Info("graph store restore complete", logger.String("path", path))
	return nil
}

func (s *BadgerStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopGC)
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
