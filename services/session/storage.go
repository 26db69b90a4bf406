package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

type MemoryStorage struct {
	mu     sync.Mutex
	tokens *Tokens
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (ms *MemoryStorage) Load() (Tokens, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.tokens == nil {
		return Tokens{}, ErrNoSession
	}
	return *ms.tokens, nil
}

func (ms *MemoryStorage) Save(t Tokens) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.tokens = &t
	return nil
}

func (ms *MemoryStorage) Clear() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.tokens = nil
	return nil
}

// FileStorage keeps the tokens in a JSON file readable by the current user only.
type FileStorage struct {
	path string
}

var _ Storage = (*FileStorage)(nil)

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (fs *FileStorage) Path() string {
	return fs.path
}

func (fs *FileStorage) Load() (Tokens, error) {
	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return Tokens{}, ErrNoSession
	}
	if err != nil {
		return Tokens{}, errors.Wrapf(err, "reading %s", fs.path)
	}

	var t Tokens
	if err := json.Unmarshal(data, &t); err != nil {
		return Tokens{}, errors.Wrapf(err, "decoding %s", fs.path)
	}
	if t.empty() {
		return Tokens{}, ErrNoSession
	}
	return t, nil
}

// Save writes through a temporary file so a crash never leaves half a session behind.
func (fs *FileStorage) Save(t Tokens) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding session")
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o700); err != nil {
		return errors.Wrap(err, "creating session dir")
	}

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	return errors.Wrap(os.Rename(tmp, fs.path), "replacing session file")
}

func (fs *FileStorage) Clear() error {
	if err := os.Remove(fs.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing %s", fs.path)
	}
	return nil
}
