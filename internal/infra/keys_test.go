package infra

import (
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyProvider_StoreAndGet(t *testing.T) {
	p := NewFileKeyProvider(t.TempDir())

	key := make([]byte, keySize)
	for i := range key {
		key[i] = byte(i)
	}
	require.NoError(t, p.StoreKey(key))
	assert.True(t, p.KeyExists())

	got, err := p.GetKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestFileKeyProvider_RejectsWrongSize(t *testing.T) {
	p := NewFileKeyProvider(t.TempDir())
	assert.Error(t, p.StoreKey(make([]byte, 16)))
}

func TestFileKeyProvider_MissingKey(t *testing.T) {
	p := NewFileKeyProvider(t.TempDir())
	assert.False(t, p.KeyExists())
	_, err := p.GetKey()
	assert.Error(t, err)
}

func TestFileKeyProvider_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	p := NewFileKeyProvider(t.TempDir())
	require.NoError(t, p.StoreKey(make([]byte, keySize)))

	info, err := os.Stat(p.keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestEnsureKey_GeneratesOnceThenReuses(t *testing.T) {
	p := NewFileKeyProvider(t.TempDir())

	key1, err := EnsureKey(p)
	require.NoError(t, err)
	require.Len(t, key1, keySize)

	key2, err := EnsureKey(p)
	require.NoError(t, err)
	assert.Equal(t, key1, key2)
}
