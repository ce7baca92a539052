package token

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvProvider(t *testing.T) {
	t.Setenv("TEST_THREADS_TOKEN", "  abc  ")

	v, err := EnvProvider{Name: "TEST_THREADS_TOKEN"}.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	t.Setenv("TEST_THREADS_TOKEN", "")
	_, err = EnvProvider{Name: "TEST_THREADS_TOKEN"}.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStorage_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	fs := NewFileStorage(path)

	_, err := fs.Token(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, fs.Save("secret-token"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	v, err := fs.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret-token", v)

	assert.Error(t, fs.Save("   "))
}

func TestFileStorage_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStorage(path).Token(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	require.NoError(t, os.WriteFile(path, []byte(`{"OTHER":"x"}`), 0o600))
	_, err = NewFileStorage(path).Token(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

type errProvider struct{ err error }

func (p errProvider) Token(context.Context) (string, error) { return "", p.err }

func TestChain(t *testing.T) {
	ctx := context.Background()
	t.Setenv("TEST_CHAIN_EMPTY", "")
	t.Setenv("TEST_CHAIN_BLANK", " ")
	t.Setenv("TEST_CHAIN_SECOND", "second")
	empty := EnvProvider{Name: "TEST_CHAIN_EMPTY"}
	blank := EnvProvider{Name: "TEST_CHAIN_BLANK"}
	second := EnvProvider{Name: "TEST_CHAIN_SECOND"}

	v, err := Chain{empty, nil, second}.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", v)

	_, err = Chain{empty, blank}.Token(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	boom := errors.New("boom")
	_, err = Chain{errProvider{boom}, second}.Token(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "0123456789...klmnopqrst", Mask("0123456789abcdefghijklmnopqrst"))
	assert.Equal(t, "*****", Mask("short"))
	assert.Equal(t, "", Mask(""))
}
