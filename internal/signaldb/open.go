// Package signaldb opens Signal Desktop's SQLCipher database and loads the
// conversation, contact and message data out of it.
//
// Two openers exist: Direct links SQLCipher in-process and applies the cipher
// parameters Signal uses; ExternalTool shells out to the sqlcipher CLI to
// re-export the store as a plaintext sibling file when direct access fails.
// The plaintext sibling is a scoped secret: it is deleted before use if stale
// and again when the handle is closed.
package signaldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	_ "github.com/mutecomm/go-sqlcipher/v4" // registers "sqlite3"
	_ "modernc.org/sqlite"                  // registers "sqlite"
)

// Cipher parameters of Signal Desktop's database. These must match the
// encrypting application exactly or decryption yields garbage.
const (
	cipherPageSize = 4096
	kdfIterations  = 64000
	hmacAlgorithm  = "HMAC_SHA512"
	kdfAlgorithm   = "PBKDF2_HMAC_SHA512"
)

// decryptedName is the plaintext sibling produced by fallback decryption.
// The name is deterministic so a stale copy left by a crashed run can be
// found and removed.
const decryptedName = "db-decrypt.sqlite"

// ErrToolNotFound reports that the sqlcipher CLI is not on PATH.
var ErrToolNotFound = errors.New("sqlcipher CLI not found on PATH")

var hexKey = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// DB is an open handle onto the decrypted logical database. Close releases
// the connection and removes any plaintext sibling the opener created.
type DB struct {
	sql     *sql.DB
	cleanup func() error
}

// Close closes the handle and removes temporary plaintext artifacts.
func (d *DB) Close() error {
	err := d.sql.Close()
	if d.cleanup != nil {
		if cerr := d.cleanup(); err == nil {
			err = cerr
		}
	}
	return err
}

// Opener produces an open, queryable handle onto the decrypted database.
type Opener interface {
	Open(ctx context.Context, dbPath, key string) (*DB, error)
}

// Options selects and configures the decryption strategy.
type Options struct {
	Manual bool   // skip direct mode and go straight to the external tool
	Tool   string // external tool name, default "sqlcipher"
	Logger *slog.Logger
}

// Open opens the encrypted store, escalating from direct decryption to the
// external tool exactly once if the direct attempt fails.
func Open(ctx context.Context, dbPath, key string, opts Options) (*DB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if !opts.Manual {
		db, err := (Direct{Logger: logger}).Open(ctx, dbPath, key)
		if err == nil {
			return db, nil
		}
		logger.Warn("automatic decryption failed, falling back to manual decryption", "error", err)
	}

	return (ExternalTool{Tool: opts.Tool, Logger: logger}).Open(ctx, dbPath, key)
}

// Direct opens the encrypted file in-process, applies Signal's cipher
// parameters and verifies the key with a canary query before trusting the
// connection.
type Direct struct {
	Logger *slog.Logger
}

func (o Direct) Open(ctx context.Context, dbPath, key string) (*DB, error) {
	if !hexKey.MatchString(key) {
		return nil, fmt.Errorf("encryption key is not a hex string (length %d)", len(key))
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open encrypted database: %w", err)
	}
	// Cipher pragmas are per-connection; a single connection makes them
	// apply to every subsequent query.
	db.SetMaxOpenConns(1)

	// Pragmas cannot take bound parameters; the key was validated as hex
	// above so splicing it is safe.
	pragmas := []string{
		fmt.Sprintf(`PRAGMA key = "x'%s'"`, key),
		fmt.Sprintf("PRAGMA cipher_page_size = %d", cipherPageSize),
		fmt.Sprintf("PRAGMA kdf_iter = %d", kdfIterations),
		fmt.Sprintf("PRAGMA cipher_hmac_algorithm = %s", hmacAlgorithm),
		fmt.Sprintf("PRAGMA cipher_kdf_algorithm = %s", kdfAlgorithm),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply cipher parameters: %w", err)
		}
	}

	// Canary: a wrong key shows up here, not at open time.
	var n int
	if err := db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("canary query failed (wrong key or incompatible cipher settings): %w", err)
	}

	o.Logger.Debug("direct decryption succeeded", "path", dbPath)
	return &DB{sql: db}, nil
}

// ExternalTool decrypts by running the sqlcipher CLI to export the store
// into a plaintext sibling file, then opens that.
type ExternalTool struct {
	Tool   string // default "sqlcipher"
	Logger *slog.Logger
}

func (o ExternalTool) Open(ctx context.Context, dbPath, key string) (*DB, error) {
	tool := o.Tool
	if tool == "" {
		tool = "sqlcipher"
	}

	toolPath, err := exec.LookPath(tool)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (try without -manual, or %s)", ErrToolNotFound, tool, installHint())
	}

	plainPath := filepath.Join(filepath.Dir(dbPath), decryptedName)
	if err := os.Remove(plainPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale decrypted database %s: %w", plainPath, err)
	}

	o.Logger.Info("decrypting via sqlcipher CLI", "tool", toolPath, "db", dbPath)

	script := strings.Join([]string{
		fmt.Sprintf(`PRAGMA key = "x'%s'";`, key),
		fmt.Sprintf("ATTACH DATABASE '%s' AS plaintext KEY '';", plainPath),
		"SELECT sqlcipher_export('plaintext');",
		"DETACH DATABASE plaintext;",
	}, "\n")

	cmd := exec.CommandContext(ctx, toolPath, dbPath)
	cmd.Stdin = strings.NewReader(script)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(plainPath)
		return nil, fmt.Errorf("manual decryption failed (wrong key, corrupted database, or a changed encryption format): %w: %s", err, strings.TrimSpace(string(out)))
	}

	db, err := sql.Open("sqlite", plainPath)
	if err != nil {
		os.Remove(plainPath)
		return nil, fmt.Errorf("open decrypted database: %w", err)
	}

	return &DB{
		sql: db,
		cleanup: func() error {
			if err := os.Remove(plainPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove decrypted database %s: %w", plainPath, err)
			}
			return nil
		},
	}, nil
}

func installHint() string {
	switch runtime.GOOS {
	case "darwin":
		return "install it with: brew install sqlcipher"
	case "windows":
		return "download it from https://www.zetetic.net/sqlcipher/"
	default:
		return "install it with: sudo apt install sqlcipher (or your distro's equivalent)"
	}
}
