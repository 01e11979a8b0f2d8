// Package clientcache provides two cache tiers in front of the repository:
// a local sqlite TTL cache for resolved aliases and recent fetch responses,
// and a Redis tier enforcing the monotonic-merge rule for hot raw-series
// reads (a cached sequence is only ever replaced by a strictly larger one).
// Neither tier is authoritative — the repository's Postgres tables are —
// so a cache miss or a flush is always safe, just slower.
package clientcache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

// Table names for the sqlite cache database.
const (
	TableAliasCache         = "alias_cache"
	TableFetchResponseCache = "fetch_response_cache"
)

// AllTables lists every table in the sqlite cache database, used for
// table-name validation and bulk expiry cleanup.
var AllTables = []string{TableAliasCache, TableFetchResponseCache}

var validTables = func() map[string]bool {
	m := make(map[string]bool, len(AllTables))
	for _, t := range AllTables {
		m[t] = true
	}
	return m
}()

// SQLiteCache is the local TTL cache tier, storing JSON blobs keyed by
// string with an expiry timestamp.
type SQLiteCache struct {
	db *sql.DB
}

func OpenSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open client cache db: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS alias_cache (key TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
		CREATE TABLE IF NOT EXISTS fetch_response_cache (key TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create client cache schema: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

func (c *SQLiteCache) Close() error { return c.db.Close() }

func validateTable(table string) error {
	if !validTables[table] {
		return fmt.Errorf("invalid cache table name: %s", table)
	}
	return nil
}

// Store upserts data under key with expiration = now + ttl.
func (c *SQLiteCache) Store(table, key string, data any, ttl time.Duration) error {
	if err := validateTable(table); err != nil {
		return err
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal cache entry for %s/%s: %w", table, key, err)
	}

	expiresAt := time.Now().Add(ttl).Unix()
	query := fmt.Sprintf("INSERT OR REPLACE INTO %s (key, data, expires_at) VALUES (?, ?, ?)", table)
	if _, err := c.db.Exec(query, key, string(blob), expiresAt); err != nil {
		return fmt.Errorf("store cache entry for %s/%s: %w", table, key, err)
	}
	return nil
}

// GetIfFresh returns the cached blob only when it has not yet expired.
func (c *SQLiteCache) GetIfFresh(table, key string) (json.RawMessage, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT data FROM %s WHERE key = ? AND expires_at > ?", table)

	var data string
	err := c.db.QueryRow(query, key, time.Now().Unix()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry for %s/%s: %w", table, key, err)
	}
	return json.RawMessage(data), nil
}

// DeleteExpired removes every row past its expiry in one table, returning
// the number of rows removed.
func (c *SQLiteCache) DeleteExpired(table string) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table)
	res, err := c.db.Exec(query, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired from %s: %w", table, err)
	}
	return res.RowsAffected()
}

// DeleteAllExpired sweeps every cache table. Partial failure still reports
// counts for tables cleaned before the error. Nothing in this repository
// schedules it.
func (c *SQLiteCache) DeleteAllExpired() (map[string]int64, error) {
	results := make(map[string]int64, len(AllTables))
	for _, table := range AllTables {
		n, err := c.DeleteExpired(table)
		if err != nil {
			return results, fmt.Errorf("sweep %s: %w", table, err)
		}
		results[table] = n
	}
	return results, nil
}
