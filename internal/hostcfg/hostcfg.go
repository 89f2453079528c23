// Package hostcfg caches the last-known-good connection parameters for
// a gateway on disk, the way the teacher's infrastructure/settings
// package models on-disk configuration as a small JSON-tagged struct.
// It is a non-authoritative convenience cache, never a source of truth:
// every field here is re-negotiated with the gateway on each connect
// (spec §6), and a stale or missing cache entry never blocks a
// connection attempt.
package hostcfg

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
)

// Entry is what gets remembered between runs for one hostname.
type Entry struct {
	Host      string     `json:"Host"`
	LastVPNIP netip.Addr `json:"LastVPNIP,omitempty"`
	MTU       int        `json:"MTU,omitempty"`
	DTLSPort  string     `json:"DTLSPort,omitempty"`
}

// Cache is a JSON file of Entry values keyed by hostname.
type Cache struct {
	path    string
	entries map[string]Entry
}

// Open loads the cache at path, or starts an empty one if it does not
// yet exist. A corrupt cache file is treated as empty rather than
// fatal, since it holds nothing authoritative.
func Open(path string) (*Cache, error) {
	c := &Cache{path: path, entries: map[string]Entry{}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("hostcfg: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &c.entries); err != nil {
		return c, nil
	}
	return c, nil
}

// Lookup returns the cached entry for host, if any.
func (c *Cache) Lookup(host string) (Entry, bool) {
	e, ok := c.entries[host]
	return e, ok
}

// Remember records (or replaces) the entry for host and persists the
// cache to disk.
func (c *Cache) Remember(e Entry) error {
	c.entries[e.Host] = e
	return c.save()
}

func (c *Cache) save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("hostcfg: creating cache directory: %w", err)
	}
	raw, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("hostcfg: encoding cache: %w", err)
	}
	if err := os.WriteFile(c.path, raw, 0o600); err != nil {
		return fmt.Errorf("hostcfg: writing %s: %w", c.path, err)
	}
	return nil
}
