package daemon

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySecrets struct {
	values map[string]string
}

func (m *memorySecrets) GetSecret(key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *memorySecrets) SetSecret(key, value string) error {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

func (m *memorySecrets) Close() error { return nil }

func TestEnsureRPCToken_GeneratesOnce(t *testing.T) {
	secrets := &memorySecrets{}

	tok1, err := ensureRPCToken(secrets)
	require.NoError(t, err)
	assert.Len(t, tok1, 64) // 32 random bytes, hex encoded

	tok2, err := ensureRPCToken(secrets)
	require.NoError(t, err)
	assert.Equal(t, tok1, tok2)
}

func TestEnsureRPCToken_KeepsExisting(t *testing.T) {
	secrets := &memorySecrets{values: map[string]string{"rpc_token": "preset"}}

	tok, err := ensureRPCToken(secrets)
	require.NoError(t, err)
	assert.Equal(t, "preset", tok)
}

func TestDefaultDataDir_EnvOverride(t *testing.T) {
	t.Setenv("FOCUSGATE_DATA_DIR", "/tmp/fg-test")
	assert.Equal(t, "/tmp/fg-test", DefaultDataDir())
}
