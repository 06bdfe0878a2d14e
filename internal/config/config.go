// Package config holds the runtime options for an export run and knows how
// to locate the Signal Desktop data directory and its encryption key.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Config is the full option set for one export run. Flag values override the
// environment defaults produced by Load.
type Config struct {
	Dest            string // output directory
	Source          string // Signal data directory; empty means per-OS default
	Chats           string // comma-separated chat name allow-list
	OldExport       string // previous export to merge into the new one
	ListChats       bool
	Overwrite       bool
	Verbose         bool
	Manual          bool // force external-tool decryption
	MessagesPerPage int
}

// Load builds a Config from the environment. Flags registered in main use
// these values as their defaults.
func Load() Config {
	return Config{
		Dest:            envStr("SIGEXPORT_DEST", "output"),
		Source:          envStr("SIGNAL_SOURCE_DIR", ""),
		MessagesPerPage: envInt("SIGEXPORT_PAGE_SIZE", 100),
	}
}

// ChatNames splits the comma-separated allow-list. Empty means no filter.
func (c Config) ChatNames() []string {
	if strings.TrimSpace(c.Chats) == "" {
		return nil
	}
	parts := strings.Split(c.Chats, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, strings.TrimSpace(p))
	}
	return names
}

// SourceDir resolves the Signal data directory: the configured one if set,
// otherwise the platform default.
func (c Config) SourceDir() (string, error) {
	if c.Source != "" {
		return c.Source, nil
	}
	return DefaultSourceDir()
}

// DefaultSourceDir returns the per-OS Signal Desktop data directory.
func DefaultSourceDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	switch runtime.GOOS {
	case "linux":
		return filepath.Join(home, ".config", "Signal"), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Signal"), nil
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "Signal"), nil
	default:
		return "", fmt.Errorf("unsupported platform %q: specify the Signal directory with -source (it must contain config.json and sql/db.sqlite)", runtime.GOOS)
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
