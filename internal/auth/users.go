package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/docbroker/docbroker/internal/apperr"
	"github.com/docbroker/docbroker/internal/models"
)

// User is a directory entry. Exactly one of Password and PasswordHash is
// expected; a plaintext Password is hashed when the directory is built.
type User struct {
	ID           int64  `yaml:"id"`
	Username     string `yaml:"username"`
	Name         string `yaml:"name"`
	Email        string `yaml:"email"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
}

type entry struct {
	subject models.Subject
	hash    []byte
}

// Directory authenticates username/password pairs.
type Directory struct {
	users map[string]entry
}

// NewDirectory builds a directory from configured users.
func NewDirectory(users []User) (*Directory, error) {
	d := &Directory{users: make(map[string]entry, len(users))}
	for _, u := range users {
		name := strings.TrimSpace(u.Username)
		if name == "" {
			return nil, fmt.Errorf("auth: user %d has no username", u.ID)
		}
		if _, dup := d.users[name]; dup {
			return nil, fmt.Errorf("auth: duplicate username %q", name)
		}
		hash := []byte(u.PasswordHash)
		if len(hash) == 0 {
			if u.Password == "" {
				return nil, fmt.Errorf("auth: user %q has no password", name)
			}
			var err error
			hash, err = bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("auth: hash password for %q: %w", name, err)
			}
		}
		d.users[name] = entry{
			subject: models.Subject{ID: u.ID, Username: name, Email: u.Email, Name: u.Name},
			hash:    hash,
		}
	}
	return d, nil
}

// Authenticate returns the subject for valid credentials.
func (d *Directory) Authenticate(username, password string) (models.Subject, error) {
	e, ok := d.users[username]
	if !ok {
		// Burn comparable time so unknown usernames are not distinguishable.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return models.Subject{}, apperr.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(e.hash, []byte(password)); err != nil {
		return models.Subject{}, apperr.ErrUnauthorized
	}
	return e.subject, nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("docbroker"), bcrypt.DefaultCost)
