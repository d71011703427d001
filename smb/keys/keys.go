// MIT License
//
// # Copyright (c) 2023 Jimmy Fjällid
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

/*
Package keys holds SMB3 session key material behind one storage interface.

Keys are kept either in process memory (MemoryStore) or in an external key
manager (ManagerStore). Both copy keys on the way in and out and wipe what
they release, so a caller can drop its own copy as soon as Put returns.
*/
package keys

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/jfjallid/golog"
)

var log = golog.Get("github.com/jfjallid/go-smbwire/smb/keys")

var (
	ErrNotFound = errors.New("key not found")
	ErrClosed   = errors.New("key store is closed")
)

// Store is where an encryption context keeps its keys.
type Store interface {
	// Put stores a copy of key under id, replacing and wiping any previous
	// key with the same id.
	Put(id string, key []byte) error
	// Get returns a copy of the key. The caller wipes it when done.
	Get(id string) ([]byte, error)
	// Delete wipes and removes the key. Deleting a missing key is not an
	// error.
	Delete(id string) error
	// Close wipes every key. Close is idempotent.
	Close() error
}

// Manager is an external key manager such as an HSM or OS keystore.
type Manager interface {
	StoreKey(id string, key []byte) error
	LoadKey(id string) ([]byte, error)
	DestroyKey(id string) error
}

// NewID returns a fresh identifier for a key generation.
func NewID() string {
	return uuid.NewString()
}

// wipePatterns are written over released key bytes in order.
var wipePatterns = [...]byte{0x00, 0xFF, 0xAA, 0x55, 0x00}

// Wipe overwrites b with several patterns, ending with zeros.
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	for _, pattern := range wipePatterns {
		for i := range b {
			b[i] = pattern
		}
	}
	runtime.KeepAlive(b)
}

// IsZero reports whether every byte of b is zero.
func IsZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}

// MemoryStore keeps keys in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	keys   map[string][]byte
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string][]byte)}
}

func (s *MemoryStore) Put(id string, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if old, ok := s.keys[id]; ok {
		Wipe(old)
	}
	s.keys[id] = append([]byte(nil), key...)
	return nil
}

func (s *MemoryStore) Get(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	k, ok := s.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return append([]byte(nil), k...), nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		Wipe(k)
		delete(s.keys, id)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	for id, k := range s.keys {
		Wipe(k)
		delete(s.keys, id)
	}
	s.closed = true
	return nil
}

// Len returns the number of keys held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// ManagerStore adapts a Manager to Store. It remembers which ids it created
// so that Close destroys exactly those.
type ManagerStore struct {
	mu     sync.Mutex
	mgr    Manager
	ids    map[string]struct{}
	closed bool
}

func NewManagerStore(mgr Manager) *ManagerStore {
	return &ManagerStore{mgr: mgr, ids: make(map[string]struct{})}
}

func (s *ManagerStore) Put(id string, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	tmp := append([]byte(nil), key...)
	defer Wipe(tmp)
	if err := s.mgr.StoreKey(id, tmp); err != nil {
		log.Errorf("Failed to store key %s in key manager: %v\n", id, err)
		return fmt.Errorf("keys: store %s: %w", id, err)
	}
	s.ids[id] = struct{}{}
	return nil
}

func (s *ManagerStore) Get(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	k, err := s.mgr.LoadKey(id)
	if err != nil {
		return nil, fmt.Errorf("keys: load %s: %w", id, err)
	}
	return k, nil
}

func (s *ManagerStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroy(id)
}

func (s *ManagerStore) destroy(id string) error {
	if _, ok := s.ids[id]; !ok {
		return nil
	}
	delete(s.ids, id)
	if err := s.mgr.DestroyKey(id); err != nil {
		log.Errorf("Failed to destroy key %s in key manager: %v\n", id, err)
		return fmt.Errorf("keys: destroy %s: %w", id, err)
	}
	return nil
}

// Close destroys every key created through this store. All keys are
// attempted and the errors joined.
func (s *ManagerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for id := range s.ids {
		if err := s.destroy(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LocalManager is an in-process Manager. It stands in for an external key
// manager in tests and in deployments without one.
type LocalManager struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

func NewLocalManager() *LocalManager {
	return &LocalManager{keys: make(map[string][]byte)}
}

func (m *LocalManager) StoreKey(id string, key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("keys: empty key for %s", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.keys[id]; ok {
		Wipe(old)
	}
	m.keys[id] = append([]byte(nil), key...)
	return nil
}

func (m *LocalManager) LoadKey(id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return append([]byte(nil), k...), nil
}

func (m *LocalManager) DestroyKey(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[id]; ok {
		Wipe(k)
		delete(m.keys, id)
	}
	return nil
}

// IDs returns the ids of the keys currently held.
func (m *LocalManager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.keys))
	for id := range m.keys {
		ids = append(ids, id)
	}
	return ids
}
