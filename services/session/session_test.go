package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/presensi/core"
)

func makeToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{ExpiresAt: exp.Unix(), Subject: "1"})
	signed, err := token.SignedString([]byte("secret"))
	require.NoError(t, err)
	return signed
}

func TestSession_Lifecycle(t *testing.T) {
	storages := map[string]Storage{
		"memory": NewMemoryStorage(),
		"file":   NewFileStorage(filepath.Join(t.TempDir(), "nested", "session.json")),
	}
	for name, storage := range storages {
		t.Run(name, func(t *testing.T) {
			s, err := New(storage, nil)
			require.NoError(t, err)
			assert.False(t, s.Authenticated())

			exp := time.Now().Add(time.Hour).Truncate(time.Second).UTC()
			access := makeToken(t, exp)
			op := core.Operator{ID: "1", Username: "admin", Name: "Admin"}
			require.NoError(t, s.Login(Tokens{Access: access, Refresh: "r1", Operator: op}))

			assert.True(t, s.Authenticated())
			assert.False(t, s.Expired())
			assert.Equal(t, exp, s.Tokens().ExpiresAt)

			// a second session over the same storage picks the tokens up
			restored, err := New(storage, nil)
			require.NoError(t, err)
			assert.Equal(t, access, restored.AccessToken())
			assert.Equal(t, "r1", restored.RefreshToken())
			assert.Equal(t, op, restored.Operator())

			require.NoError(t, s.Rotate("a2", ""))
			assert.Equal(t, "a2", s.AccessToken())
			assert.Equal(t, "r1", s.RefreshToken(), "refresh token kept")
			assert.True(t, s.Tokens().ExpiresAt.IsZero(), "opaque token has no known expiry")

			require.NoError(t, s.Logout())
			assert.False(t, s.Authenticated())
			assert.Equal(t, Tokens{}, s.Tokens())
			_, err = storage.Load()
			assert.Equal(t, ErrNoSession, err)

			assert.Equal(t, ErrNoSession, s.Rotate("a3", "r3"))
		})
	}
}

func TestSession_Login_Validation(t *testing.T) {
	s := NewMemory()
	err := s.Login(Tokens{Access: "a"})
	assert.True(t, core.IsValidation(err))
	assert.False(t, s.Authenticated())
}

func TestSession_Expired(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Login(Tokens{Access: makeToken(t, time.Now().Add(time.Minute)), Refresh: "r"}))

	nowFunc = func() time.Time { return time.Now().Add(2 * time.Minute) }
	defer func() { nowFunc = time.Now }()
	assert.True(t, s.Expired())
}

func TestFileStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	fs := NewFileStorage(path)

	_, err := fs.Load()
	assert.Equal(t, ErrNoSession, err)
	assert.NoError(t, fs.Clear(), "clearing a missing file is fine")

	require.NoError(t, fs.Save(Tokens{Access: "a", Refresh: "r"}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = fs.Load()
	assert.Error(t, err)
	_, err = New(fs, nil)
	assert.Error(t, err, "a corrupt session file is reported")
}
