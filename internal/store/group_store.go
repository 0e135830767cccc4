package store

import (
	"path/filepath"
	"sync"

	"chorus/internal/domain"
)

const groupsFile = "groups.json"

// GroupFileStore persists the (group name -> group id) mapping for the local
// identity.
type GroupFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewGroupFileStore returns a GroupFileStore rooted at dir.
func NewGroupFileStore(dir string) *GroupFileStore {
	return &GroupFileStore{dir: dir}
}

func (s *GroupFileStore) path() string { return filepath.Join(s.dir, groupsFile) }

// SaveGroup records the mapping for name.
func (s *GroupFileStore) SaveGroup(name string, id domain.GroupID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[string]domain.GroupID{}
	if err := readJSON(s.path(), &m); err != nil {
		return err
	}
	m[name] = id
	return writeJSON(s.path(), m, 0o600)
}

// LookupGroup resolves a group name.
func (s *GroupFileStore) LookupGroup(name string) (domain.GroupID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[string]domain.GroupID{}
	if err := readJSON(s.path(), &m); err != nil {
		return "", false, err
	}
	id, ok := m[name]
	return id, ok, nil
}

// ListGroups returns every known mapping.
func (s *GroupFileStore) ListGroups() (map[string]domain.GroupID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[string]domain.GroupID{}
	if err := readJSON(s.path(), &m); err != nil {
		return nil, err
	}
	return m, nil
}

var _ domain.GroupStore = (*GroupFileStore)(nil)
