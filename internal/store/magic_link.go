package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dukerupert/calshare/internal/model"
	"golang.org/x/crypto/blake2b"
)

const linkCodeBytes = 32

type MagicLinkStore struct {
	db *sql.DB
}

func NewMagicLinkStore(db *sql.DB) *MagicLinkStore {
	return &MagicLinkStore{db: db}
}

func scanMagicLink(scanner interface{ Scan(...any) error }) (*model.MagicLink, error) {
	var ml model.MagicLink
	var usedAt sql.NullTime

	err := scanner.Scan(
		&ml.ID, &ml.Email, &ml.ReturnURL, &ml.ExpiresAt, &usedAt, &ml.Attempts, &ml.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if usedAt.Valid {
		ml.UsedAt = &usedAt.Time
	}
	return &ml, nil
}

const magicLinkCols = `id, email, return_url, expires_at, used_at, attempts, created_at`

// generateCode returns a URL-safe 256-bit one-time code.
func generateCode() (string, error) {
	b := make([]byte, linkCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// hashCode is the at-rest form of a code. Codes carry 256 bits of
// entropy, so an unsalted fast hash is enough.
func hashCode(code string) string {
	sum := blake2b.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// Create generates a new one-time code bound to email and returnURL.
// Any previous pending codes for the same email are invalidated first.
func (s *MagicLinkStore) Create(email, returnURL string, ttl time.Duration) (*model.MagicLink, error) {
	now := time.Now().UTC()

	_, err := s.db.Exec(
		`UPDATE magic_links SET used_at = ? WHERE email = ? AND used_at IS NULL AND expires_at > ?`,
		now, email, now,
	)
	if err != nil {
		return nil, fmt.Errorf("invalidate previous codes: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}

	result, err := s.db.Exec(
		`INSERT INTO magic_links (code_hash, email, return_url, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		hashCode(code), email, returnURL, now.Add(ttl), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert magic link: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+magicLinkCols+` FROM magic_links WHERE id = ?`, id)
	ml, err := scanMagicLink(row)
	if err != nil {
		return nil, fmt.Errorf("read magic link: %w", err)
	}
	ml.Code = code
	return ml, nil
}

// GetByCode returns the pending link for code, or nil if it is unknown,
// expired or already used.
func (s *MagicLinkStore) GetByCode(code string) (*model.MagicLink, error) {
	row := s.db.QueryRow(
		`SELECT `+magicLinkCols+` FROM magic_links WHERE code_hash = ? AND expires_at > ? AND used_at IS NULL`,
		hashCode(code), time.Now().UTC(),
	)
	ml, err := scanMagicLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get magic link by code: %w", err)
	}
	return ml, nil
}

// IncrementAttempts increments the attempt count and returns the new value.
func (s *MagicLinkStore) IncrementAttempts(id int64) (int, error) {
	var attempts int
	err := s.db.QueryRow(
		`UPDATE magic_links SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`,
		id,
	).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}

// Consume marks the link used and reports whether this call did so.
// A false result means another request consumed it first.
func (s *MagicLinkStore) Consume(id int64) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE magic_links SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("consume magic link: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *MagicLinkStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM magic_links WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired magic links: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
