package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/docbroker/docbroker/internal/apperr"
)

func TestDirectory_Authenticate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("editor123"), bcrypt.MinCost)
	require.NoError(t, err)

	d, err := NewDirectory([]User{
		{ID: 1, Username: "admin", Name: "Administrator", Email: "admin@example.com", Password: "admin123"},
		{ID: 2, Username: "editor", PasswordHash: string(hash)},
	})
	require.NoError(t, err)

	sub, err := d.Authenticate("admin", "admin123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sub.ID)
	assert.Equal(t, "Administrator", sub.Name)

	_, err = d.Authenticate("editor", "editor123")
	require.NoError(t, err)

	_, err = d.Authenticate("admin", "wrong")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = d.Authenticate("ghost", "admin123")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestNewDirectory_Invalid(t *testing.T) {
	_, err := NewDirectory([]User{{ID: 1, Username: "a"}})
	assert.Error(t, err)

	_, err = NewDirectory([]User{{ID: 1, Password: "x"}})
	assert.Error(t, err)

	_, err = NewDirectory([]User{
		{ID: 1, Username: "a", Password: "x"},
		{ID: 2, Username: "a", Password: "y"},
	})
	assert.Error(t, err)
}
