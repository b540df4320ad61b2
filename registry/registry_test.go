package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, autoSave bool) (*FileRegistry, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "registry", "voters.json")
	r, err := NewFileRegistry(RegistryConfig{VotersFilePath: path, AutoSave: autoSave})
	require.NoError(t, err)
	return r, path
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))

	email, err := ValidateEmail(" Bob@School.edu")
	require.NoError(t, err)
	assert.Equal(t, "bob@school.edu", email)

	for _, bad := range []string{"", "bob", "bob@", "@school.edu", "bob@school", "b ob@school.edu"} {
		_, err := ValidateEmail(bad)
		assert.ErrorIs(t, err, ErrInvalidEmail, bad)
	}
}

func TestRegisterAndVerify(t *testing.T) {
	r, _ := newTestRegistry(t, false)

	require.NoError(t, r.Register("Alice@Example.com", "e1", "s1"))
	assert.True(t, r.IsRegistered("alice@example.com", "e1"))
	assert.False(t, r.IsRegistered("alice@example.com", "e2"))
	assert.False(t, r.IsVerified("alice@example.com", "e1"))

	// Idempotent.
	require.NoError(t, r.Register("alice@example.com", "e1", "s1"))

	require.NoError(t, r.Verify(" ALICE@example.com", "e1"))
	assert.True(t, r.IsVerified("alice@example.com", "e1"))

	err := r.Verify("bob@example.com", "e1")
	assert.ErrorIs(t, err, ErrVoterNotFound)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	r, _ := newTestRegistry(t, false)

	assert.ErrorIs(t, r.Register("nope", "e1", ""), ErrInvalidEmail)
	assert.Error(t, r.Register("a@b.co", "", ""))
}

func TestVotersByElection(t *testing.T) {
	r, _ := newTestRegistry(t, false)

	require.NoError(t, r.Register("a@example.com", "e1", ""))
	require.NoError(t, r.Register("b@example.com", "e2", ""))
	require.NoError(t, r.Register("c@example.com", "e1", ""))

	voters, err := r.Voters("e1")
	require.NoError(t, err)
	require.Len(t, voters, 2)
	for _, v := range voters {
		assert.Equal(t, "e1", v.ElectionID)
	}
}

func TestAutoSavePersists(t *testing.T) {
	r, path := newTestRegistry(t, true)

	require.NoError(t, r.Register("a@example.com", "e1", "s1"))
	require.NoError(t, r.Verify("a@example.com", "e1"))

	reopened, err := NewFileRegistry(RegistryConfig{VotersFilePath: path})
	require.NoError(t, err)
	assert.True(t, reopened.IsVerified("a@example.com", "e1"))
}

func TestSaveWithoutAutoSave(t *testing.T) {
	r, path := newTestRegistry(t, false)
	require.NoError(t, r.Register("a@example.com", "e1", ""))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, r.Save())
	reopened, err := NewFileRegistry(RegistryConfig{VotersFilePath: path})
	require.NoError(t, err)
	assert.True(t, reopened.IsRegistered("a@example.com", "e1"))
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voters.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"voters":[{"email":"broken","election_id":"e1"}]}`), 0644))

	_, err := NewFileRegistry(RegistryConfig{VotersFilePath: path})
	assert.ErrorIs(t, err, ErrInvalidEmail)
}
