// Package artifacts provides content-addressed storage for step payloads
// and results. Records on the state surface carry only hashes; the bytes
// behind those hashes live here.
package artifacts

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/odysseyhq/odyssey/pkg/canonicalize"
	"github.com/odysseyhq/odyssey/pkg/contracts"
)

// HashPrefix tags every artifact address with its digest algorithm.
const HashPrefix = "sha256:"

// Store is content-addressed: Put returns the address of the stored bytes
// and is idempotent for identical content.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, addr string) ([]byte, error)
	Exists(ctx context.Context, addr string) (bool, error)
}

// Address computes the store address for data without storing it.
func Address(data []byte) string {
	return HashPrefix + canonicalize.HashBytes(data)
}

func parseAddress(addr string) (string, error) {
	if !strings.HasPrefix(addr, HashPrefix) {
		return "", fmt.Errorf("invalid artifact address %q", addr)
	}
	raw := addr[len(HashPrefix):]
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid artifact address %q: %w", addr, err)
	}
	return raw, nil
}

// Memory is an in-process Store for tests and single-node runs.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, data []byte) (string, error) {
	addr := Address(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[addr]; !ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		m.blobs[addr] = cp
	}
	return addr, nil
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, addr string) ([]byte, error) {
	if _, err := parseAddress(addr); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[addr]
	if !ok {
		return nil, fmt.Errorf("artifact %s: %w", addr, contracts.ErrNotFound)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Exists implements Store.
func (m *Memory) Exists(ctx context.Context, addr string) (bool, error) {
	if _, err := parseAddress(addr); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[addr]
	return ok, nil
}

// File is a filesystem-backed Store. Blobs are written to a temp file and
// renamed into place so readers never observe partial content.
type File struct {
	baseDir string
	mu      sync.Mutex
}

// NewFile creates a file store rooted at baseDir.
func NewFile(baseDir string) (*File, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("artifact dir: %w", err)
	}
	return &File{baseDir: baseDir}, nil
}

// Put implements Store.
func (f *File) Put(ctx context.Context, data []byte) (string, error) {
	addr := Address(data)
	raw := addr[len(HashPrefix):]
	path := filepath.Join(f.baseDir, raw+".blob")

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return addr, nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return addr, nil
}

// Get implements Store.
func (f *File) Get(ctx context.Context, addr string) ([]byte, error) {
	raw, err := parseAddress(addr)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(f.baseDir, raw+".blob"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact %s: %w", addr, contracts.ErrNotFound)
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Exists implements Store.
func (f *File) Exists(ctx context.Context, addr string) (bool, error) {
	raw, err := parseAddress(addr)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(f.baseDir, raw+".blob"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob: %w", err)
}
