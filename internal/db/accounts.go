package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/moongate-community/moongate/internal/protocol"
)

// Field limits of the login packets.
const (
	MaxAccountLength  = 30
	MaxPasswordLength = 30
)

// Login attempt results.
const (
	LoginAccepted = "accepted"
	LoginRejected = "rejected"
	LoginCreated  = "created"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrInvalidAccount  = errors.New("invalid account name")
	ErrInvalidPassword = errors.New("invalid password")
)

// DeniedError is a credential check failure that should be reported to the
// client with Reason.
type DeniedError struct {
	Account string
	Reason  protocol.DeniedReason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("login denied for %q: %s", e.Account, e.Reason)
}

// Account is a stored shard account.
type Account struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Banned    bool       `json:"banned"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// LoginAttempt is one row of login history.
type LoginAttempt struct {
	ID         int64     `json:"id"`
	Account    string    `json:"account"`
	RemoteAddr string    `json:"remote_addr"`
	Result     string    `json:"result"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// AccountStore keeps accounts with bcrypt password hashes.
type AccountStore struct {
	db         *Database
	autoCreate bool
	cost       int
	logger     zerolog.Logger
}

// OpenAccountStore opens the database at path and prepares the schema.
func OpenAccountStore(path string, autoCreate bool) (*AccountStore, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}
	store, err := NewAccountStore(database, autoCreate)
	if err != nil {
		database.Close()
		return nil, err
	}
	return store, nil
}

// NewAccountStore prepares the schema on an open database. With autoCreate,
// the first login for an unknown account creates it.
func NewAccountStore(database *Database, autoCreate bool) (*AccountStore, error) {
	s := &AccountStore{
		db:         database,
		autoCreate: autoCreate,
		cost:       bcrypt.DefaultCost,
		logger:     log.With().Str("component", "accounts").Logger(),
	}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to migrate account database: %w", err)
	}
	return s, nil
}

func (s *AccountStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			banned INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			last_login INTEGER
		);

		CREATE TABLE IF NOT EXISTS login_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account TEXT NOT NULL,
			remote_addr TEXT NOT NULL DEFAULT '',
			result TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_login_attempts_created ON login_attempts(created_at);
	`
	_, err := s.db.Exec(ctx, schema)
	return err
}

// Close closes the underlying database.
func (s *AccountStore) Close() error {
	return s.db.Close()
}

func validateCredentials(name, password string) error {
	if name == "" || len(name) > MaxAccountLength || !printable(name) {
		return fmt.Errorf("%w: %q", ErrInvalidAccount, name)
	}
	if password == "" || len(password) > MaxPasswordLength || !printable(password) {
		return ErrInvalidPassword
	}
	return nil
}

func printable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7E {
			return false
		}
	}
	return true
}

// CreateAccount stores a new account.
func (s *AccountStore) CreateAccount(ctx context.Context, name, password string) error {
	if err := validateCredentials(name, password); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts WHERE name = ?", name).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", ErrAccountExists, name)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO accounts (name, password_hash, created_at) VALUES (?, ?, ?)",
			name, string(hash), time.Now().Unix())
		if err != nil {
			return fmt.Errorf("failed to create account %s: %w", name, err)
		}
		s.logger.Info().Str("account", name).Msg("account created")
		return nil
	})
}

// SetPassword replaces the password of name.
func (s *AccountStore) SetPassword(ctx context.Context, name, password string) error {
	if err := validateCredentials(name, password); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	res, err := s.db.Exec(ctx, "UPDATE accounts SET password_hash = ? WHERE name = ?", string(hash), name)
	return expectOne(res, err, name)
}

// SetBanned blocks or unblocks name.
func (s *AccountStore) SetBanned(ctx context.Context, name string, banned bool) error {
	res, err := s.db.Exec(ctx, "UPDATE accounts SET banned = ? WHERE name = ?", banned, name)
	if err := expectOne(res, err, name); err != nil {
		return err
	}
	s.logger.Info().Str("account", name).Bool("banned", banned).Msg("account ban updated")
	return nil
}

// DeleteAccount removes name.
func (s *AccountStore) DeleteAccount(ctx context.Context, name string) error {
	res, err := s.db.Exec(ctx, "DELETE FROM accounts WHERE name = ?", name)
	return expectOne(res, err, name)
}

func expectOne(res sql.Result, err error, name string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, name)
	}
	return nil
}

// GetAccount returns the account called name.
func (s *AccountStore) GetAccount(ctx context.Context, name string) (Account, error) {
	acc, _, err := s.lookup(ctx, name)
	return acc, err
}

func (s *AccountStore) lookup(ctx context.Context, name string) (Account, string, error) {
	var (
		acc       Account
		hash      string
		created   int64
		lastLogin sql.NullInt64
	)
	err := s.db.QueryRow(ctx,
		"SELECT id, name, password_hash, banned, created_at, last_login FROM accounts WHERE name = ?", name,
	).Scan(&acc.ID, &acc.Name, &hash, &acc.Banned, &created, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, "", fmt.Errorf("%w: %s", ErrAccountNotFound, name)
	}
	if err != nil {
		return Account{}, "", fmt.Errorf("failed to load account %s: %w", name, err)
	}
	acc.CreatedAt = time.Unix(created, 0)
	if lastLogin.Valid {
		t := time.Unix(lastLogin.Int64, 0)
		acc.LastLogin = &t
	}
	return acc, hash, nil
}

// ListAccounts returns every account ordered by name.
func (s *AccountStore) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.Query(ctx, "SELECT id, name, banned, created_at, last_login FROM accounts ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var (
			acc       Account
			created   int64
			lastLogin sql.NullInt64
		)
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.Banned, &created, &lastLogin); err != nil {
			return nil, err
		}
		acc.CreatedAt = time.Unix(created, 0)
		if lastLogin.Valid {
			t := time.Unix(lastLogin.Int64, 0)
			acc.LastLogin = &t
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// CheckCredentials verifies a login. Rejections are *DeniedError; any other
// error is a storage failure.
func (s *AccountStore) CheckCredentials(ctx context.Context, name, password string) error {
	if err := validateCredentials(name, password); err != nil {
		return &DeniedError{Account: name, Reason: protocol.DeniedInvalidAccount}
	}

	acc, hash, err := s.lookup(ctx, name)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		if !s.autoCreate {
			return &DeniedError{Account: name, Reason: protocol.DeniedInvalidAccount}
		}
		if err := s.CreateAccount(ctx, name, password); err != nil {
			return err
		}
		return s.touchLogin(ctx, name)
	case err != nil:
		return err
	}

	if acc.Banned {
		return &DeniedError{Account: name, Reason: protocol.DeniedAccountBlocked}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return &DeniedError{Account: name, Reason: protocol.DeniedBadCredentials}
	}
	return s.touchLogin(ctx, name)
}

func (s *AccountStore) touchLogin(ctx context.Context, name string) error {
	_, err := s.db.Exec(ctx, "UPDATE accounts SET last_login = ? WHERE name = ?", time.Now().Unix(), name)
	return err
}

// RecordLogin appends a login attempt to the history.
func (s *AccountStore) RecordLogin(ctx context.Context, account, remoteAddr, result, detail string) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO login_attempts (account, remote_addr, result, detail, created_at) VALUES (?, ?, ?, ?, ?)",
		account, remoteAddr, result, detail, time.Now().Unix())
	return err
}

// RecentLogins returns up to limit attempts, newest first.
func (s *AccountStore) RecentLogins(ctx context.Context, limit int) ([]LoginAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		"SELECT id, account, remote_addr, result, detail, created_at FROM login_attempts ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []LoginAttempt
	for rows.Next() {
		var a LoginAttempt
		var at int64
		if err := rows.Scan(&a.ID, &a.Account, &a.RemoteAddr, &a.Result, &a.Detail, &at); err != nil {
			return nil, err
		}
		a.At = time.Unix(at, 0)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// CleanOldLogins removes login history older than days.
func (s *AccountStore) CleanOldLogins(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Unix()
	res, err := s.db.Exec(ctx, "DELETE FROM login_attempts WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info().Int64("removed", n).Int("days", days).Msg("cleaned old login history")
	}
	return n, nil
}

