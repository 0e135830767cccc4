package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"chorus/internal/domain"
)

const poolFile = "pool.json"

// PoolFileStore persists the local credential inventory: each entry holds
// the public credential, its private key-exchange half, and the local
// lifecycle status.
type PoolFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewPoolFileStore returns a PoolFileStore rooted at dir.
func NewPoolFileStore(dir string) *PoolFileStore {
	return &PoolFileStore{dir: dir}
}

func (s *PoolFileStore) path() string { return filepath.Join(s.dir, poolFile) }

// SaveCredential inserts or replaces one pair.
func (s *PoolFileStore) SaveCredential(pair domain.CredentialPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[domain.CredentialID]domain.CredentialPair{}
	if err := readJSON(s.path(), &m); err != nil {
		return err
	}
	m[pair.Credential.ID] = pair
	return writeJSON(s.path(), m, 0o600)
}

// ListCredentials returns every locally held pair.
func (s *PoolFileStore) ListCredentials() ([]domain.CredentialPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[domain.CredentialID]domain.CredentialPair{}
	if err := readJSON(s.path(), &m); err != nil {
		return nil, err
	}
	out := make([]domain.CredentialPair, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out, nil
}

// SetStatus records a local lifecycle transition.
func (s *PoolFileStore) SetStatus(id domain.CredentialID, status domain.CredentialStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[domain.CredentialID]domain.CredentialPair{}
	if err := readJSON(s.path(), &m); err != nil {
		return err
	}
	p, ok := m[id]
	if !ok {
		return fmt.Errorf("store: unknown credential %s", id)
	}
	p.Status = status
	m[id] = p
	return writeJSON(s.path(), m, 0o600)
}

// DeleteCredential drops a pair entirely (used for expired entries).
func (s *PoolFileStore) DeleteCredential(id domain.CredentialID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[domain.CredentialID]domain.CredentialPair{}
	if err := readJSON(s.path(), &m); err != nil {
		return err
	}
	delete(m, id)
	return writeJSON(s.path(), m, 0o600)
}

// CredentialKey returns the private half of a held credential, for opening
// join tickets sealed to it.
func (s *PoolFileStore) CredentialKey(id domain.CredentialID) (domain.X25519Private, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[domain.CredentialID]domain.CredentialPair{}
	if err := readJSON(s.path(), &m); err != nil {
		return domain.X25519Private{}, false, err
	}
	p, ok := m[id]
	if !ok {
		return domain.X25519Private{}, false, nil
	}
	return p.DHPriv, true, nil
}

var _ domain.PoolStore = (*PoolFileStore)(nil)
