package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// LookupToken resolves a bearer token to its user. Tokens are stored as
// SHA-256 hex digests; the raw token never touches the database.
// Returns "" when the token is unknown.
func (db *DB) LookupToken(ctx context.Context, token string) (string, error) {
	sum := sha256.Sum256([]byte(token))
	digest := hex.EncodeToString(sum[:])

	var userID string
	err := db.Pool.QueryRow(ctx,
		`SELECT user_id FROM api_tokens WHERE token_hash = $1`, digest,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup token: %w", err)
	}
	return userID, nil
}
