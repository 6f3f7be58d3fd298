package repository

import (
	"database/sql"
	"fmt"
	"time"

	"mixfm/db"
	"mixfm/model"
)

// AudiomackTokenRepository persists delegated OAuth1 tokens. It satisfies
// the acquisition layer's TokenStore interface.
type AudiomackTokenRepository struct {
	DB *sql.DB
}

// NewAudiomackTokenRepository creates a new token repository.
func NewAudiomackTokenRepository() *AudiomackTokenRepository {
	return &AudiomackTokenRepository{DB: db.DB}
}

// Get retrieves a user's token, nil when the user has never connected.
func (r *AudiomackTokenRepository) Get(userID int64) (*model.AudiomackToken, error) {
	query := `SELECT user_id, access_token, token_secret, expires_at, created_at, updated_at
	           FROM audiomack_tokens WHERE user_id = ?`
	row := r.DB.QueryRow(query, userID)

	token := &model.AudiomackToken{}
	err := row.Scan(&token.UserID, &token.AccessToken, &token.TokenSecret, &token.ExpiresAt, &token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan audiomack token for user %d: %w", userID, err)
	}
	return token, nil
}

// Save upserts a user's token; reconnecting replaces the old credentials.
func (r *AudiomackTokenRepository) Save(token *model.AudiomackToken) error {
	query := `INSERT INTO audiomack_tokens (user_id, access_token, token_secret, expires_at, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE access_token = VALUES(access_token), token_secret = VALUES(token_secret),
	           expires_at = VALUES(expires_at), updated_at = VALUES(updated_at)`
	now := time.Now()
	_, err := r.DB.Exec(query, token.UserID, token.AccessToken, token.TokenSecret, token.ExpiresAt, now, now)
	if err != nil {
		return fmt.Errorf("failed to save audiomack token for user %d: %w", token.UserID, err)
	}
	return nil
}

// Delete removes a user's token (disconnect).
func (r *AudiomackTokenRepository) Delete(userID int64) error {
	if _, err := r.DB.Exec(`DELETE FROM audiomack_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete audiomack token for user %d: %w", userID, err)
	}
	return nil
}
