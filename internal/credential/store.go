package credential

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"nats-chat/go-client/internal/securestore"
	"nats-chat/go-client/pkg/models"
)

const storeFileName = "credential.enc"

// ErrNoCredential is returned by Load when nothing has been persisted.
var ErrNoCredential = errors.New("credential: no stored credential")

// Store persists the single credential record encrypted at rest. Clear
// removes it with no lingering copies; it is called on both logout and
// revocation.
type Store struct {
	mu     sync.Mutex
	path   string
	secret string
}

func NewStore(dataDir, secret string) *Store {
	return &Store{path: filepath.Join(dataDir, storeFileName), secret: secret}
}

func (s *Store) Save(document, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := models.StoredCredential{Document: document, Username: username}
	return securestore.WriteEncryptedJSON(s.path, s.secret, rec)
}

func (s *Store) Load() (models.StoredCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rec models.StoredCredential
	err := securestore.ReadDecryptedJSON(s.path, s.secret, &rec)
	if errors.Is(err, fs.ErrNotExist) {
		return models.StoredCredential{}, ErrNoCredential
	}
	if err != nil {
		return models.StoredCredential{}, err
	}
	return rec, nil
}

// Exists reports whether a credential record is on disk. Its presence is
// the startup signal for "already authenticated".
func (s *Store) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path)
	return err == nil
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
