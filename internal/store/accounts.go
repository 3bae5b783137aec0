package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"loops-console/internal/models"
)

// AccountStore keeps Loops.so accounts in memory, backed by a JSON file so
// credentials survive restarts. The file holds only name/apiKey/organization;
// ids are derived deterministically from name+key so the same file always
// yields the same ids.
type AccountStore struct {
	mu       sync.RWMutex
	path     string
	accounts map[string]models.Account
}

type accountFileEntry struct {
	Name           string `json:"name"`
	APIKey         string `json:"apiKey"`
	OrganizationID string `json:"organizationId,omitempty"`
}

// NewAccountStore loads accounts from path, creating an empty file when none
// exists yet.
func NewAccountStore(path string) (*AccountStore, error) {
	s := &AccountStore{path: path, accounts: make(map[string]models.Account)}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read accounts file: %w", err)
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create accounts dir: %w", err)
			}
		}
		if err := os.WriteFile(path, []byte("[]\n"), 0o600); err != nil {
			return nil, fmt.Errorf("create accounts file: %w", err)
		}
		return s, nil
	}

	var entries []accountFileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse accounts file %s: %w", path, err)
	}
	for _, e := range entries {
		acct := models.Account{
			ID:             accountID(e.Name, e.APIKey),
			Name:           e.Name,
			APIKey:         e.APIKey,
			OrganizationID: e.OrganizationID,
			IsActive:       true,
			CreatedAt:      time.Now().UTC(),
		}
		s.accounts[acct.ID] = acct
	}
	return s, nil
}

// CreateAccount registers a new credential set and persists the file.
func (s *AccountStore) CreateAccount(name, apiKey, organizationID string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := models.Account{
		ID:             accountID(name, apiKey),
		Name:           name,
		APIKey:         apiKey,
		OrganizationID: organizationID,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}
	s.accounts[acct.ID] = acct
	if err := s.save(); err != nil {
		return models.Account{}, err
	}
	return acct, nil
}

// Account returns the account for id.
func (s *AccountStore) Account(id string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	return acct, nil
}

// Accounts lists all accounts, ordered by name.
func (s *AccountStore) Accounts() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetAccountActive flips the active flag.
func (s *AccountStore) SetAccountActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	acct.IsActive = active
	s.accounts[id] = acct
	return nil
}

// save writes the file; callers hold the lock.
func (s *AccountStore) save() error {
	entries := make([]accountFileEntry, 0, len(s.accounts))
	for _, acct := range s.accounts {
		entries = append(entries, accountFileEntry{
			Name:           acct.Name,
			APIKey:         acct.APIKey,
			OrganizationID: acct.OrganizationID,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal accounts: %w", err)
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write accounts file: %w", err)
	}
	return nil
}

func accountID(name, apiKey string) string {
	sum := sha256.Sum256([]byte(name + "\x00" + apiKey))
	return hex.EncodeToString(sum[:16])
}
