// Package local is a self-contained identity provider for development and
// tests. Users live in a YAML file with crypt(3) password hashes; sessions
// are HS256 JWTs signed by the directory.
package local

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/GehirnInc/crypt"
	"github.com/GehirnInc/crypt/md5_crypt"
	"github.com/GehirnInc/crypt/sha256_crypt"
	"github.com/GehirnInc/crypt/sha512_crypt"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hnrobert/trydo/internal/logger"
	"github.com/hnrobert/trydo/internal/provider"
)

const minPasswordLen = 6

var (
	ErrInvalidCredentials = &provider.Error{Status: http.StatusBadRequest, Code: "invalid_credentials", Message: "Invalid login credentials"}
	ErrUserExists         = &provider.Error{Status: http.StatusUnprocessableEntity, Code: "user_already_exists", Message: "User already registered"}
	ErrInvalidEmail       = &provider.Error{Status: http.StatusBadRequest, Code: "validation_failed", Message: "Unable to validate email address: invalid format"}
	ErrWeakPassword       = &provider.Error{Status: http.StatusUnprocessableEntity, Code: "weak_password", Message: "Password should be at least 6 characters."}

	errUnsupportedHash = errors.New("unsupported password hash")
)

type Record struct {
	ID           string    `yaml:"id"`
	Email        string    `yaml:"email"`
	PasswordHash string    `yaml:"password_hash"`
	CreatedAt    time.Time `yaml:"created_at"`
}

func (r Record) user() provider.User {
	return provider.User{ID: r.ID, Email: r.Email, CreatedAt: r.CreatedAt, EmailConfirmedAt: r.CreatedAt}
}

type usersFile struct {
	Users []Record `yaml:"users"`
}

type Options struct {
	// Secret signs session tokens. Required.
	Secret     []byte
	SessionTTL time.Duration
	Now        func() time.Time
}

// Directory is the shared user database. Per-browser Clients are created
// with Client.
type Directory struct {
	mu      sync.Mutex
	path    string
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
	revoked map[string]time.Time // jti -> token expiry

	// mem holds users when the directory has no backing file.
	mem usersFile
}

func Open(path string, opts Options) (*Directory, error) {
	if len(opts.Secret) < 16 {
		return nil, errors.New("local provider: secret must be at least 16 bytes")
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	d := &Directory{
		path:    path,
		secret:  opts.Secret,
		ttl:     opts.SessionTTL,
		now:     opts.Now,
		revoked: make(map[string]time.Time),
	}
	if path != "" {
		if err := ensureFile(path); err != nil {
			return nil, err
		}
		if _, err := d.load(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// AddUser registers a new user. Emails are matched case-insensitively.
func (d *Directory) AddUser(email, password string) (Record, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return Record{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLen {
		return Record{}, ErrWeakPassword
	}
	hash, err := hashPassword(password)
	if err != nil {
		return Record{}, fmt.Errorf("hashing password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.load()
	if err != nil {
		return Record{}, err
	}
	for _, u := range f.Users {
		if u.Email == email {
			return Record{}, ErrUserExists
		}
	}
	rec := Record{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    d.now().UTC().Truncate(time.Second),
	}
	f.Users = append(f.Users, rec)
	if err := d.save(f); err != nil {
		return Record{}, err
	}
	logger.Info("local provider: registered %s", email)
	return rec, nil
}

// Authenticate checks a password against the stored hash.
func (d *Directory) Authenticate(email, password string) (Record, error) {
	d.mu.Lock()
	rec, ok, err := d.find(normalizeEmail(email))
	d.mu.Unlock()
	if err != nil {
		return Record{}, err
	}
	if !ok || rec.PasswordHash == "" || strings.HasPrefix(rec.PasswordHash, "!") {
		return Record{}, ErrInvalidCredentials
	}
	match, err := verifyCrypt(rec.PasswordHash, password)
	if err != nil {
		logger.Warn("local provider: cannot verify hash for %s: %v", rec.Email, err)
		return Record{}, ErrInvalidCredentials
	}
	if !match {
		return Record{}, ErrInvalidCredentials
	}
	return rec, nil
}

// Lookup returns the user with the given email.
func (d *Directory) Lookup(email string) (Record, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.find(normalizeEmail(email))
}

func (d *Directory) find(email string) (Record, bool, error) {
	f, err := d.load()
	if err != nil {
		return Record{}, false, err
	}
	for _, u := range f.Users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return Record{}, false, nil
}

// revoke remembers a signed-out token until it would have expired anyway.
func (d *Directory) revoke(jti string, exp time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for id, until := range d.revoked {
		if now.After(until) {
			delete(d.revoked, id)
		}
	}
	d.revoked[jti] = exp
}

func (d *Directory) isRevoked(jti string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.revoked[jti]
	return ok
}

func (d *Directory) load() (*usersFile, error) {
	if d.path == "" {
		return &usersFile{Users: append([]Record(nil), d.mem.Users...)}, nil
	}
	b, err := os.ReadFile(d.path)
	if err != nil {
		return nil, err
	}
	var f usersFile
	if len(b) == 0 {
		return &f, nil
	}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", d.path, err)
	}
	return &f, nil
}

func (d *Directory) save(f *usersFile) error {
	if d.path == "" {
		d.mem = *f
		return nil
	}
	b, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	return writeFileAtomic(d.path, b, 0o600)
}

func verifyCrypt(hash, password string) (bool, error) {
	// $1$ (md5-crypt), $5$ (sha256-crypt), $6$ (sha512-crypt).
	crypters := []crypt.Crypter{sha512_crypt.New(), sha256_crypt.New(), md5_crypt.New()}
	for _, c := range crypters {
		if err := c.Verify(hash, []byte(password)); err == nil {
			return true, nil
		}
	}
	if !strings.HasPrefix(hash, "$1$") && !strings.HasPrefix(hash, "$5$") && !strings.HasPrefix(hash, "$6$") {
		return false, errUnsupportedHash
	}
	return false, nil
}

const saltAlphabet = "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func hashPassword(password string) (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	salt := make([]byte, len(raw))
	for i, b := range raw {
		salt[i] = saltAlphabet[int(b)%len(saltAlphabet)]
	}
	return sha512_crypt.New().Generate([]byte(password), []byte("$6$"+string(salt)))
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validEmail(s string) bool {
	at := strings.LastIndex(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t\r\n")
}
