// Package storage archives raw payloads (inbound reply notifications) as
// JSON documents, either in S3 or on the local disk for development.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Archive stores JSON documents by key.
type Archive interface {
	Put(ctx context.Context, key string, data any) error
	Get(ctx context.Context, key string, target any) error
}

// DatedKey builds "kind/YYYY/MM/DD/name.json".
func DatedKey(kind string, at time.Time, name string) string {
	return fmt.Sprintf("%s/%s/%s.json", kind, at.UTC().Format("2006/01/02"), name)
}

// LocalArchive writes documents under a directory.
type LocalArchive struct {
	root string
}

// NewLocalArchive creates root if needed.
func NewLocalArchive(root string) (*LocalArchive, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &LocalArchive{root: root}, nil
}

// Put writes data to root/key.
func (a *LocalArchive) Put(_ context.Context, key string, data any) error {
	p, err := a.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	file, err := os.Create(p)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Get reads root/key into target.
func (a *LocalArchive) Get(_ context.Context, key string, target any) error {
	p, err := a.path(key)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// path keeps every key inside root; cleaning against "/" drops any
// leading "..".
func (a *LocalArchive) path(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty archive key")
	}
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	return filepath.Join(a.root, clean), nil
}
