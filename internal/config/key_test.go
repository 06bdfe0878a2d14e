package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadKey(t *testing.T) {
	path := writeConfig(t, `{"key": "0011223344556677889900112233445566778899001122334455667788990011"}`)

	key, err := ReadKey(path, discard())
	require.NoError(t, err)
	assert.Equal(t, "0011223344556677889900112233445566778899001122334455667788990011", key)
}

func TestReadKey_FieldPriority(t *testing.T) {
	// "key" wins over the newer field names when both are present.
	path := writeConfig(t, `{"encryptionKey": "second-key-0123456789abcdef0123456789", "key": "first-key-0123456789abcdef0123456789ab"}`)

	key, err := ReadKey(path, discard())
	require.NoError(t, err)
	assert.Equal(t, "first-key-0123456789abcdef0123456789ab", key)
}

func TestReadKey_AlternateFieldNames(t *testing.T) {
	for _, field := range []string{"encryptionKey", "safeStorageKey", "encrypted_key"} {
		path := writeConfig(t, `{"`+field+`": "abcdefabcdefabcdefabcdefabcdefabcdef"}`)

		key, err := ReadKey(path, discard())
		require.NoError(t, err, field)
		assert.Equal(t, "abcdefabcdefabcdefabcdefabcdefabcdef", key, field)
	}
}

func TestReadKey_MissingField(t *testing.T) {
	path := writeConfig(t, `{"theme": "dark", "zoomFactor": 1}`)

	_, err := ReadKey(path, discard())
	require.Error(t, err)
	// The diagnostic names the available fields so users can report format changes.
	assert.Contains(t, err.Error(), "theme")
}

func TestReadKey_BadJSON(t *testing.T) {
	path := writeConfig(t, `{"key": `)

	_, err := ReadKey(path, discard())
	assert.Error(t, err)
}

func TestReadKey_MissingFile(t *testing.T) {
	_, err := ReadKey(filepath.Join(t.TempDir(), "nope.json"), discard())
	assert.Error(t, err)
}

func TestReadKey_ShortKeyStillReturned(t *testing.T) {
	// A short key is suspicious but not fatal; decryption gets to try.
	path := writeConfig(t, `{"key": "abc123"}`)

	key, err := ReadKey(path, discard())
	require.NoError(t, err)
	assert.Equal(t, "abc123", key)
}
