package lending

import "fmt"

// Manager ties a Registry to its SQLite store, keeping CLI code simple.
type Manager struct {
	db     *Database
	opts   Options
	reg    *Registry
	bridge *Bridge
}

// OpenManager opens (or creates) the database at dbPath and restores the
// registry from it.
func OpenManager(dbPath string, opts Options) (*Manager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	m := &Manager{db: db, opts: opts}
	if err := m.Reload(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// Close closes the underlying database without saving.
func (m *Manager) Close() error { return m.db.Close() }

func (m *Manager) Registry() *Registry { return m.reg }
func (m *Manager) Bridge() *Bridge     { return m.bridge }

// Reload discards unsaved changes and rebuilds the registry from the
// database. A user bound to the previous bridge stays bound; if they no
// longer exist the new bridge is left unbound and an error is returned.
func (m *Manager) Reload() error {
	data, err := m.db.LoadState()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	reg, err := NewRegistryFromData(data, m.opts)
	if err != nil {
		return err
	}
	var user string
	if m.bridge != nil {
		user = m.bridge.User()
	}
	m.reg, m.bridge = reg, NewBridge(reg, m.opts.Logger)
	if user != "" {
		return m.bridge.BindUser(user)
	}
	return nil
}

// Save writes the current registry state to the database. It fails with
// ErrConflict if another session saved since the last load; Reload and
// repeat the change to recover.
func (m *Manager) Save() error {
	if err := m.db.SaveState(m.reg.Snapshot()); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// SessionSecret returns the database's login token signing key.
func (m *Manager) SessionSecret() (string, error) { return m.db.SessionSecret() }
