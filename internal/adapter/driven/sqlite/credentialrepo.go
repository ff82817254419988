package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
	"github.com/ericfisherdev/ordersync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TokenStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the TokenStore port interface.
// Rows are append-only. When a key is configured, values are encrypted with
// AES-256-GCM before write and decrypted after read.
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil stores plaintext.
	now func() time.Time
}

// NewCredentialRepo creates a new CredentialRepo. key must be 32 bytes for
// AES-256-GCM, or nil to store credentials unencrypted.
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, key: key, now: time.Now}
}

// Save appends a new credential record.
func (r *CredentialRepo) Save(ctx context.Context, credential string) (model.Credential, error) {
	if strings.TrimSpace(credential) == "" {
		return model.Credential{}, errors.New("save credential: credential is empty")
	}

	stored := credential
	encrypted := 0
	if r.key != nil {
		var err error
		stored, err = r.encrypt(credential)
		if err != nil {
			return model.Credential{}, err
		}
		encrypted = 1
	}

	createdAt := r.now().UTC()

	const query = `INSERT INTO credentials (value, encrypted, created_at) VALUES (?, ?, ?)`
	res, err := r.db.Writer.ExecContext(ctx, query, stored, encrypted, formatTime(createdAt))
	if err != nil {
		return model.Credential{}, fmt.Errorf("save credential: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Credential{}, fmt.Errorf("read credential id: %w", err)
	}

	return model.Credential{ID: id, Value: credential, CreatedAt: createdAt}, nil
}

// Latest returns the most recently created credential, or nil if none exists.
func (r *CredentialRepo) Latest(ctx context.Context) (*model.Credential, error) {
	const query = `
		SELECT id, value, encrypted, created_at
		FROM credentials
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var (
		cred      model.Credential
		value     string
		encrypted int
		createdAt string
	)
	err := r.db.Reader.QueryRowContext(ctx, query).Scan(&cred.ID, &value, &encrypted, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest credential: %w", err)
	}

	if encrypted == 1 {
		if r.key == nil {
			return nil, driven.ErrEncryptionKeyNotSet
		}
		value, err = r.decrypt(value)
		if err != nil {
			return nil, fmt.Errorf("decrypt credential %d: %w", cred.ID, err)
		}
	}
	cred.Value = value

	cred.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for credential %d: %w", cred.ID, err)
	}

	return &cred, nil
}

// Prune deletes all but the newest keep credentials.
func (r *CredentialRepo) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("prune credentials: keep must be at least 1, got %d", keep)
	}

	const query = `
		DELETE FROM credentials
		WHERE id NOT IN (
			SELECT id FROM credentials ORDER BY created_at DESC, id DESC LIMIT ?
		)
	`
	res, err := r.db.Writer.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("prune credentials: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded string
// containing the nonce (12 bytes) prepended to the ciphertext.
func (r *CredentialRepo) encrypt(plaintext string) (string, error) {
	gcm, err := r.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	gcm, err := r.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}

func (r *CredentialRepo) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
