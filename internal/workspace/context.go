// pattern: Imperative Shell

package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Manager is the scoped-resource wrapper around the store: it guarantees
// the store is loaded before the supplied operation runs and saved after a
// mutating operation, and it holds an exclusive file lock on the store for
// the duration so concurrent invocations fail fast instead of racing.
// It is not reentrant within one call stack.
type Manager struct {
	store *Store
	inUse bool
}

// NewManager wraps a store in a manager context.
func NewManager(store *Store) *Manager {
	return &Manager{store: store}
}

// View runs a read-only operation. The store file must already exist; the
// store is never saved.
func (m *Manager) View(fn func(*Store) error) error {
	return m.with(true, fn)
}

// Update runs a mutating operation. A missing store file is tolerated
// (first-time initialization starts empty). Whatever the operation leaves
// dirty is saved, even when the operation itself failed partway: delete is
// forward-only and its partial progress must persist. Create guards itself
// with rollback and only dirties the store at commit, so a failed create
// saves nothing.
func (m *Manager) Update(fn func(*Store) error) error {
	return m.with(false, fn)
}

func (m *Manager) with(readOnly bool, fn func(*Store) error) error {
	if m.inUse {
		return consistencyf("workspace manager context is not reentrant")
	}
	m.inUse = true
	defer func() { m.inUse = false }()

	if err := os.MkdirAll(filepath.Dir(m.store.opts.Path), 0755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	fl := flock.New(m.store.opts.Path + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("locking store: %w", err)
	}
	if !locked {
		return consistencyf("workspace store %s is in use by another process", m.store.opts.Path)
	}
	defer func() { _ = fl.Unlock() }()

	if err := m.store.Load(!readOnly); err != nil {
		return err
	}

	opErr := fn(m.store)

	if !readOnly && m.store.Dirty() {
		if saveErr := m.store.Save(); saveErr != nil {
			if opErr != nil {
				return opErr
			}
			return saveErr
		}
	}
	return opErr
}
