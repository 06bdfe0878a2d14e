package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
)

// keyFields are the config.json fields that may hold the database key,
// checked in priority order. Signal has renamed this field over time.
var keyFields = []string{"key", "encryptionKey", "safeStorageKey", "encrypted_key"}

// minKeyLength below which a key is suspicious (the real key is a 64-char
// hex string).
const minKeyLength = 32

// ReadKey extracts the database encryption key from Signal's config.json.
func ReadKey(path string, logger *slog.Logger) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read config file %s: %w", path, err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("parse config file %s as JSON (the file appears to be corrupted): %w", path, err)
	}

	for _, name := range keyFields {
		v, ok := fields[name]
		if !ok {
			continue
		}
		key, ok := v.(string)
		if !ok {
			continue
		}
		logger.Info("found encryption key", "field", name)
		if len(key) < minKeyLength {
			logger.Warn("encryption key seems unusually short, decryption may fail", "length", len(key))
		}
		return key, nil
	}

	return "", fmt.Errorf("no encryption key in %s (available fields: %v); Signal may have changed its config format", path, fieldNames(fields))
}

func fieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
