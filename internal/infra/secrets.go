package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/peva0411/focusgate/internal/domain"
)

const secretsDBName = "secrets.db"

// SecretKeyRPCToken is the key under which the RPC auth token is stored.
const SecretKeyRPCToken = "rpc_token"

// EncryptedSecrets implements domain.SecretStore using a SQLCipher encrypted
// SQLite database. Secrets (the RPC auth token) are generated once at first
// start and persist across restarts.
type EncryptedSecrets struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedSecrets opens (or creates) the encrypted secrets database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedSecrets(dataDir string, key []byte) (*EncryptedSecrets, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, secretsDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS secrets (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &EncryptedSecrets{db: db, dbPath: dbPath}, nil
}

// GetSecret retrieves a secret by key.
func (s *EncryptedSecrets) GetSecret(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM secrets WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("secret %q not found", key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return value, nil
}

// SetSecret stores a secret, replacing any previous value.
func (s *EncryptedSecrets) SetSecret(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO secrets (key, value, created_at) VALUES (?, ?, strftime('%s','now'))",
		key, value)
	if err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *EncryptedSecrets) Close() error {
	return s.db.Close()
}

var _ domain.SecretStore = (*EncryptedSecrets)(nil)
