package store

import (
	"path/filepath"
	"sync"

	"chorus/internal/domain"
)

const sessionsFile = "sessions.enc.json"

// SessionFileStore persists exported group session blobs, each sealed under
// the passphrase captured at construction. The blobs carry generation
// secrets, so they are never written in the clear.
type SessionFileStore struct {
	dir        string
	passphrase string
	mu         sync.Mutex
}

// NewSessionFileStore returns a SessionFileStore rooted at dir.
func NewSessionFileStore(dir, passphrase string) *SessionFileStore {
	return &SessionFileStore{dir: dir, passphrase: passphrase}
}

func (s *SessionFileStore) path() string { return filepath.Join(s.dir, sessionsFile) }

// SaveSession seals and stores one exported session blob.
func (s *SessionFileStore) SaveSession(id domain.GroupID, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[domain.GroupID][]byte{}
	if err := readJSON(s.path(), &m); err != nil {
		return err
	}
	sealed, err := sealWithPassphrase(s.passphrase, blob)
	if err != nil {
		return err
	}
	m[id] = sealed
	return writeJSON(s.path(), m, 0o600)
}

// LoadSessions opens every stored session blob.
func (s *SessionFileStore) LoadSessions() (map[domain.GroupID][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := map[domain.GroupID][]byte{}
	if err := readJSON(s.path(), &m); err != nil {
		return nil, err
	}
	out := make(map[domain.GroupID][]byte, len(m))
	for id, sealed := range m {
		blob, err := openWithPassphrase(s.passphrase, sealed)
		if err != nil {
			return nil, err
		}
		out[id] = blob
	}
	return out, nil
}

var _ domain.SessionStore = (*SessionFileStore)(nil)
