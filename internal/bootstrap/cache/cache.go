// Package cache implements the persistent, reliability-ranked table of
// known DHT bootstrap peers (SPEC_FULL.md C2). Backing store is an embedded
// SQLite database; all writes are serialized through a single mutex so
// concurrent callers (the CLI, the discovery background task, the engine at
// start-up) never race the database layer, mirroring the guarded-map style
// of the teacher's on-disk LRU cache.
package cache

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Entry is a single bootstrap cache row.
type Entry struct {
	IP            string
	Port          int
	NodeID        string
	Version       string
	LastSeen      int64
	LastConnected int64
	Attempts      int
	Failures      int
}

// Unreliable reports whether the entry should be excluded from selection:
// attempts >= 4 and a failure ratio above 50%.
func (e Entry) Unreliable() bool {
	if e.Attempts < 4 {
		return false
	}
	return float64(e.Failures)/float64(e.Attempts) > 0.5
}

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
  ip TEXT NOT NULL,
  port INTEGER NOT NULL,
  node_id TEXT NOT NULL DEFAULT '',
  version TEXT NOT NULL DEFAULT '',
  last_seen INTEGER NOT NULL DEFAULT 0,
  last_connected INTEGER NOT NULL DEFAULT 0,
  attempts INTEGER NOT NULL DEFAULT 0,
  failures INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (ip, port)
);
`

// Cache wraps the SQLite-backed nodes table.
type Cache struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *logrus.Logger
}

// Open creates or opens the SQLite database at path and ensures the schema
// exists. Pass logger=nil to use logrus.StandardLogger().
func Open(path string, logger *logrus.Logger) (*Cache, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite: single writer, avoid SQLITE_BUSY under our own mutex
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: migrate schema: %w", err)
	}
	return &Cache{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Put upserts a cache row. Insertion preserves existing counters; only
// last_seen, node_id and version are updated on conflict.
func (c *Cache) Put(ip string, port int, nodeID, version string, lastSeen int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec(`
		INSERT INTO nodes (ip, port, node_id, version, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ip, port) DO UPDATE SET
			node_id = excluded.node_id,
			version = excluded.version,
			last_seen = excluded.last_seen
	`, ip, port, nodeID, version, lastSeen)
	if err != nil {
		return fmt.Errorf("cache: put %s:%d: %w", ip, port, err)
	}
	return nil
}

// MarkConnected records a successful connect: attempts += 1, failures
// reset to 0, last_connected = now.
func (c *Cache) MarkConnected(ip string, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().Unix()
	res, err := c.db.Exec(`
		UPDATE nodes SET attempts = attempts + 1, failures = 0, last_connected = ?
		WHERE ip = ? AND port = ?
	`, now, ip, port)
	if err != nil {
		return fmt.Errorf("cache: mark connected %s:%d: %w", ip, port, err)
	}
	return c.requireRowAffected(res, ip, port)
}

// MarkFailed records a failed connect attempt: attempts += 1, failures += 1.
func (c *Cache) MarkFailed(ip string, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.db.Exec(`
		UPDATE nodes SET attempts = attempts + 1, failures = failures + 1
		WHERE ip = ? AND port = ?
	`, ip, port)
	if err != nil {
		return fmt.Errorf("cache: mark failed %s:%d: %w", ip, port, err)
	}
	return c.requireRowAffected(res, ip, port)
}

func (c *Cache) requireRowAffected(res sql.Result, ip string, port int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cache: rows affected %s:%d: %w", ip, port, err)
	}
	if n == 0 {
		return fmt.Errorf("cache: no such node %s:%d", ip, port)
	}
	return nil
}

// Best returns up to limit entries ordered by (failures ASC,
// last_connected DESC), excluding unreliable nodes.
func (c *Cache) Best(limit int) ([]Entry, error) {
	all, err := c.All()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, limit)
	for _, e := range all {
		if e.Unreliable() {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// All returns every cached entry ordered by (failures ASC, last_connected
// DESC).
func (c *Cache) All() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, err := c.db.Query(`
		SELECT ip, port, node_id, version, last_seen, last_connected, attempts, failures
		FROM nodes
		ORDER BY failures ASC, last_connected DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("cache: all: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.IP, &e.Port, &e.NodeID, &e.Version, &e.LastSeen, &e.LastConnected, &e.Attempts, &e.Failures); err != nil {
			return nil, fmt.Errorf("cache: scan row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Expire deletes rows whose last_seen is older than maxAge seconds.
func (c *Cache) Expire(maxAge int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Unix() - maxAge
	res, err := c.db.Exec(`DELETE FROM nodes WHERE last_seen < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache: expire: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: expire rows affected: %w", err)
	}
	if n > 0 {
		c.logger.WithField("expired", n).Debug("bootstrap cache: expired stale nodes")
	}
	return n, nil
}

// Count returns the total number of cached entries.
func (c *Cache) Count() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: count: %w", err)
	}
	return n, nil
}

// Exists reports whether (ip, port) is present in the cache.
func (c *Cache) Exists(ip string, port int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM nodes WHERE ip = ? AND port = ?`, ip, port).Scan(&n); err != nil {
		return false, fmt.Errorf("cache: exists %s:%d: %w", ip, port, err)
	}
	return n > 0, nil
}
