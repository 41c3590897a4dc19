package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aeolun/linechat/pkg/credentials"
	"github.com/aeolun/linechat/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportAndDelete(t *testing.T) {
	dir := t.TempDir()
	db, err := database.Open(filepath.Join(dir, "users.db"))
	require.NoError(t, err)
	defer db.Close()

	file := filepath.Join(dir, "user_pass.txt")
	require.NoError(t, os.WriteFile(file, []byte("alice pw1\nbob pw2\n"), 0600))

	require.NoError(t, run(db, "import", []string{file}, false))
	// Existing users are skipped on a second import
	require.NoError(t, run(db, "import", []string{file}, false))

	store, err := credentials.FromDatabase(db)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, store.Usernames())
	assert.True(t, store.Verify("alice", "pw1"))

	creds, err := db.ListCredentials()
	require.NoError(t, err)
	for _, c := range creds {
		assert.True(t, credentials.IsHash(c.Password), c.Username)
	}

	require.NoError(t, run(db, "delete", []string{"bob"}, false))
	assert.ErrorIs(t, run(db, "delete", []string{"bob"}, false), database.ErrUserNotFound)
}

func TestRunErrors(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	defer db.Close()

	assert.Error(t, run(db, "frobnicate", nil, false))
	assert.Error(t, run(db, "delete", nil, false))
	assert.Error(t, run(db, "add", nil, false))

	_, err = storedPassword("", false)
	assert.Error(t, err)

	stored, err := storedPassword("pw", true)
	require.NoError(t, err)
	assert.Equal(t, "pw", stored)
}
