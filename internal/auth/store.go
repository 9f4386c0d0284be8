package auth

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/adjutant/schema"
	"pkt.systems/pslog"
)

// Account is one enrolled user. ChatID is empty until the user pairs a
// chat; an unpaired account cannot reach the service.
type Account struct {
	Username       string        `json:"username"`
	PassphraseHash string        `json:"passphrase_hash"`
	TOTPSecret     string        `json:"totp_secret"`
	ChatID         schema.ChatID `json:"chat_id,omitempty"`
}

// Paired reports whether the account has a bound chat.
func (a Account) Paired() bool {
	return a.ChatID != ""
}

// Store manages accounts stored on disk. Edits made to the file by
// other processes are picked up before each operation.
type Store struct {
	path      string
	mu        sync.RWMutex
	accounts  map[string]Account
	fileState fileState
	log       pslog.Logger
}

// NewStore loads or initializes the account store.
func NewStore(path string) (*Store, error) {
	return NewStoreWithLogger(path, nil)
}

// NewStoreWithLogger loads or initializes the account store with logging.
func NewStoreWithLogger(path string, logger pslog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("account file path is required")
	}
	if logger != nil {
		logger = logger.With("account_file", path)
	}
	store := &Store{
		path:     path,
		accounts: make(map[string]Account),
		log:      logger,
	}
	if err := store.ensureFile(); err != nil {
		return nil, err
	}
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// AddAccount inserts a new unpaired account and persists the store.
func (s *Store) AddAccount(account Account) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	username, err := validateUsername(account.Username)
	if err != nil {
		return err
	}
	if strings.TrimSpace(account.PassphraseHash) == "" {
		return errors.New("passphrase hash is required")
	}
	if strings.TrimSpace(account.TOTPSecret) == "" {
		return errors.New("totp secret is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[username]; ok {
		return errors.New("account already exists")
	}
	account.Username = username
	account.ChatID = ""
	s.accounts[username] = account
	if err := s.saveLocked(); err != nil {
		if s.log != nil {
			s.log.Warn("auth account add failed", "user", username, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("auth account added", "user", username)
	}
	return nil
}

// Pair verifies the pairing passphrase and TOTP code and binds the
// chat to the account. Pairing again from a different chat moves the
// binding; the old chat loses access.
func (s *Store) Pair(username, passphrase, totpCode string, chatID schema.ChatID) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	normalized, err := validateUsername(username)
	if err != nil {
		return err
	}
	if chatID == "" {
		return errors.New("chat id is required")
	}
	s.mu.RLock()
	account, ok := s.accounts[normalized]
	s.mu.RUnlock()
	if !ok {
		return errors.New("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PassphraseHash), []byte(passphrase)); err != nil {
		return errors.New("invalid credentials")
	}
	if !totp.Validate(totpCode, account.TOTPSecret) {
		return errors.New("invalid totp")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// A chat binds to at most one account.
	for name, existing := range s.accounts {
		if name != normalized && existing.ChatID == chatID {
			existing.ChatID = ""
			s.accounts[name] = existing
		}
	}
	account = s.accounts[normalized]
	account.ChatID = chatID
	s.accounts[normalized] = account
	if err := s.saveLocked(); err != nil {
		if s.log != nil {
			s.log.Warn("auth pair failed", "user", normalized, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("auth chat paired", "user", normalized, "chat", string(chatID))
	}
	return nil
}

// Unpair clears the account's chat binding.
func (s *Store) Unpair(username string) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	normalized, err := validateUsername(username)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[normalized]
	if !ok {
		return errors.New("account not found")
	}
	account.ChatID = ""
	s.accounts[normalized] = account
	if err := s.saveLocked(); err != nil {
		if s.log != nil {
			s.log.Warn("auth unpair failed", "user", normalized, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("auth chat unpaired", "user", normalized)
	}
	return nil
}

// RotateTOTP replaces the account's TOTP secret. Codes from the old
// secret stop validating immediately.
func (s *Store) RotateTOTP(username, secret string) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	normalized, err := validateUsername(username)
	if err != nil {
		return err
	}
	if strings.TrimSpace(secret) == "" {
		return errors.New("totp secret is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[normalized]
	if !ok {
		return errors.New("account not found")
	}
	account.TOTPSecret = secret
	s.accounts[normalized] = account
	if err := s.saveLocked(); err != nil {
		if s.log != nil {
			s.log.Warn("auth totp rotation failed", "user", normalized, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("auth totp rotated", "user", normalized)
	}
	return nil
}

// UserForChat resolves the account bound to a chat. Unknown chats get
// schema.ErrChatNotPaired.
func (s *Store) UserForChat(chatID schema.ChatID) (schema.UserID, error) {
	if err := s.refreshIfNeeded(); err != nil {
		return "", err
	}
	if chatID == "" {
		return "", schema.ErrChatNotPaired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, account := range s.accounts {
		if account.ChatID == chatID {
			return schema.UserID(account.Username), nil
		}
	}
	return "", schema.ErrChatNotPaired
}

// ChatForUser returns the chat bound to an account, if any.
func (s *Store) ChatForUser(userID schema.UserID) (schema.ChatID, error) {
	if err := s.refreshIfNeeded(); err != nil {
		return "", err
	}
	normalized, err := validateUsername(string(userID))
	if err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[normalized]
	if !ok {
		return "", errors.New("account not found")
	}
	if account.ChatID == "" {
		return "", schema.ErrChatNotPaired
	}
	return account.ChatID, nil
}

// Accounts returns a snapshot of accounts sorted by username.
func (s *Store) Accounts() []Account {
	if err := s.refreshIfNeeded(); err != nil {
		if s.log != nil {
			s.log.Warn("auth store refresh failed", "err", err)
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make([]Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Username < accounts[j].Username })
	return accounts
}

// DeleteAccount removes an account.
func (s *Store) DeleteAccount(username string) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	normalized, err := validateUsername(username)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[normalized]; !ok {
		return errors.New("account not found")
	}
	delete(s.accounts, normalized)
	if err := s.saveLocked(); err != nil {
		if s.log != nil {
			s.log.Warn("auth account delete failed", "user", normalized, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("auth account deleted", "user", normalized)
	}
	return nil
}

func (s *Store) ensureFile() error {
	if _, statErr := os.Stat(s.path); statErr == nil {
		return nil
	} else if !os.IsNotExist(statErr) {
		return statErr
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent([]Account{}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Info("auth store initialized")
	}
	return nil
}

func validateUsername(username string) (string, error) {
	if err := schema.ValidateUserID(schema.UserID(username)); err != nil {
		return "", errors.New("invalid username")
	}
	return username, nil
}

func (s *Store) saveLocked() error {
	keys := make([]string, 0, len(s.accounts))
	for key := range s.accounts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	accounts := make([]Account, 0, len(keys))
	for _, key := range keys {
		accounts = append(accounts, s.accounts[key])
	}
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "accounts-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return err
	}
	if info, err := os.Stat(s.path); err == nil {
		s.fileState = fileStateFromInfo(info)
	}
	if s.log != nil {
		s.log.Debug("auth store save ok", "accounts", len(accounts))
	}
	return nil
}

type fileState struct {
	modTime time.Time
	size    int64
	inode   uint64
	dev     uint64
}

func fileStateFromInfo(info os.FileInfo) fileState {
	state := fileState{
		modTime: info.ModTime(),
		size:    info.Size(),
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		state.inode = stat.Ino
		state.dev = stat.Dev
	}
	return state
}

func (s fileState) equal(other fileState) bool {
	return s.size == other.size &&
		s.modTime.Equal(other.modTime) &&
		s.inode == other.inode &&
		s.dev == other.dev
}

func (s *Store) refreshIfNeeded() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	latest := fileStateFromInfo(info)
	s.mu.RLock()
	current := s.fileState
	s.mu.RUnlock()
	if current.equal(latest) {
		return nil
	}
	return s.loadFromDisk()
}

func (s *Store) loadFromDisk() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var accounts []Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		if s.log != nil {
			s.log.Warn("auth store load failed", "err", err)
		}
		return err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	next := make(map[string]Account, len(accounts))
	for _, account := range accounts {
		if _, err := validateUsername(account.Username); err != nil {
			if s.log != nil {
				s.log.Warn("auth store load failed", "user", account.Username, "err", err)
			}
			return err
		}
		next[account.Username] = account
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = next
	s.fileState = fileStateFromInfo(info)
	if s.log != nil {
		s.log.Debug("auth store load ok", "accounts", len(accounts))
	}
	return nil
}
