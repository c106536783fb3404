package syncagent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Cache persists the last server snapshot for use when the server is down.
type Cache interface {
	// Load returns nil and no error when nothing was saved.
	Load(ctx context.Context, clientName, instance string) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// FileCache keeps one JSON file per client identity under a directory. Writes
// go to a temporary file that is renamed into place, under a file lock shared
// by every process using the same directory.
type FileCache struct {
	dir string
}

func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir}
}

// path escapes both parts so "@" only ever separates client from instance.
func (c *FileCache) path(clientName, instance string) string {
	name := url.QueryEscape(clientName)
	if instance != "" {
		name += "@" + url.QueryEscape(instance)
	}
	return filepath.Join(c.dir, name+".json")
}

func (c *FileCache) Save(_ context.Context, snap *Snapshot) error {
	if err := os.MkdirAll(c.dir, 0750); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	filePath := c.path(snap.ClientName, snap.Instance)

	lock := flock.New(filePath + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock cache file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary cache file: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

// Load reads a saved snapshot and marks it Offline.
func (c *FileCache) Load(_ context.Context, clientName, instance string) (*Snapshot, error) {
	if _, err := os.Stat(c.dir); os.IsNotExist(err) {
		return nil, nil
	}
	filePath := c.path(clientName, instance)

	lock := flock.New(filePath + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("failed to lock cache file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	// #nosec G304 -- path is derived from the configured cache directory
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached snapshot: %w", err)
	}
	if snap.ClientName != clientName || snap.Instance != instance {
		return nil, fmt.Errorf("cached snapshot belongs to %s/%s", snap.ClientName, snap.Instance)
	}
	snap.Provenance = ProvenanceOffline
	return &snap, nil
}
