package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultTokenTTL = 21000 * time.Second

// Store persists accounts as one JSON document per marketplace id. It is
// the sole source of truth; callers hold only refreshable snapshots.
type Store struct {
	dataDir  string
	tokenTTL time.Duration

	mu  sync.Mutex
	now func() time.Time
}

func NewStore(dataDir string, tokenTTL time.Duration) *Store {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &Store{
		dataDir:  dataDir,
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

// Register upserts an account keyed by the profile's marketplace id.
// Re-registering a known id overwrites profile and auth fields without
// duplicating the record. The stored expiry is the fixed token horizon
// from registration time.
func (s *Store) Register(profile Profile, auth Auth, ownerNickname string) (*Account, error) {
	if profile.ID == 0 {
		return nil, fmt.Errorf("register account: profile id is required")
	}
	if strings.TrimSpace(profile.Nickname) == "" {
		return nil, fmt.Errorf("register account: profile nickname is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	acct := &Account{
		ID:        profile.ID,
		Nickname:  profile.Nickname,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Email:     profile.Email,
		Auth:      auth,
		CreatedAt: now,
		UpdatedAt: now,
	}
	acct.Auth.Expires = now.Add(s.tokenTTL)
	if ownerNickname != "" {
		acct.Auth.ClientOwnerNickname = ownerNickname
	}

	if existing, err := s.load(profile.ID); err == nil {
		acct.CreatedAt = existing.CreatedAt
		acct.IsTestAccount = existing.IsTestAccount
		acct.TestAccountInfo = existing.TestAccountInfo
	}

	if err := s.save(acct); err != nil {
		return nil, fmt.Errorf("register account: %w", err)
	}
	return acct, nil
}

// Save persists an account whose fields were mutated by the caller,
// typically after a token refresh.
func (s *Store) Save(acct *Account) error {
	if acct == nil {
		return fmt.Errorf("save account: nil account")
	}
	if acct.ID == 0 {
		return fmt.Errorf("save account: missing id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct.UpdatedAt = s.now().UTC()
	if err := s.save(acct); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (s *Store) FindByID(id int64) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.load(id)
	if err != nil {
		return nil, fmt.Errorf("find account %d: %w", id, err)
	}
	return acct, nil
}

// FindByNicknames returns the stored accounts matching any of the given
// nicknames, in store order. Unknown nicknames are silently absent.
func (s *Store) FindByNicknames(nicknames []string) ([]*Account, error) {
	accounts, err := s.List()
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(nicknames))
	for _, n := range nicknames {
		wanted[n] = true
	}

	matched := make([]*Account, 0, len(nicknames))
	for _, acct := range accounts {
		if wanted[acct.Nickname] {
			matched = append(matched, acct)
		}
	}
	return matched, nil
}

// List returns every stored account ordered by creation time, then id.
func (s *Store) List() ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureAccountsDir(); err != nil {
		return nil, fmt.Errorf("list accounts: ensure accounts dir: %w", err)
	}

	entries, err := os.ReadDir(s.accountsDir())
	if err != nil {
		return nil, fmt.Errorf("list accounts: read dir: %w", err)
	}

	accounts := make([]*Account, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(s.accountsDir(), entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("list accounts: read %s: %w", entry.Name(), err)
		}

		var acct Account
		if err := json.Unmarshal(content, &acct); err != nil {
			return nil, fmt.Errorf("list accounts: parse %s: %w", entry.Name(), err)
		}

		accounts = append(accounts, &acct)
	}

	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].ID < accounts[j].ID
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})

	return accounts, nil
}

// FindAnyAuthorized returns the first account whose token is valid at now.
func (s *Store) FindAnyAuthorized(now time.Time) (*Account, error) {
	accounts, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, acct := range accounts {
		if acct.IsAuthorized(now) {
			return acct, nil
		}
	}
	return nil, fmt.Errorf("no authorized account found")
}

// FindAnyAuthorizable returns the first account whose tokens can be
// refreshed under the given OAuth application.
func (s *Store) FindAnyAuthorizable(clientID string) (*Account, error) {
	accounts, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, acct := range accounts {
		if acct.CheckRefreshable(clientID) == nil && acct.Auth.RefreshToken != "" {
			return acct, nil
		}
	}
	return nil, fmt.Errorf("no authorizable account found for client %s", clientID)
}

func (s *Store) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.accountPath(id)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("delete account: remove file: %w", err)
	}
	return nil
}

func (s *Store) load(id int64) (*Account, error) {
	content, err := os.ReadFile(s.accountPath(id))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var acct Account
	if err := json.Unmarshal(content, &acct); err != nil {
		return nil, fmt.Errorf("unmarshal json: %w", err)
	}
	return &acct, nil
}

func (s *Store) save(acct *Account) error {
	if err := s.ensureAccountsDir(); err != nil {
		return fmt.Errorf("ensure accounts dir: %w", err)
	}

	payload, err := json.MarshalIndent(acct, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	path := s.accountPath(acct.ID)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, payload, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *Store) ensureAccountsDir() error {
	return os.MkdirAll(s.accountsDir(), 0o755)
}

func (s *Store) accountsDir() string {
	return filepath.Join(s.dataDir, "accounts")
}

func (s *Store) accountPath(id int64) string {
	return filepath.Join(s.accountsDir(), strconv.FormatInt(id, 10)+".json")
}
