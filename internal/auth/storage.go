package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"chatcore/internal/domain"
)

// FileStore persists the current credential to a JSON file under the client
// state directory, so a restarted process can rehydrate its session.
type FileStore struct {
	path string
}

func NewFileStore(stateDir string) *FileStore {
	return &FileStore{path: filepath.Join(stateDir, "credential.json")}
}

// Load reads the stored credential. A missing file yields (nil, nil).
func (s *FileStore) Load() (*domain.Credential, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	var cred domain.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("decode credential file: %w", err)
	}
	if !cred.Complete() {
		return nil, fmt.Errorf("stored credential is incomplete")
	}
	return &cred, nil
}

// Save writes the credential, creating the state directory if needed. The
// file is user-only since it contains tokens.
func (s *FileStore) Save(cred *domain.Credential) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	raw, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return nil
}

// Clear removes the stored credential. Removing an absent file is not an
// error.
func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}
