package model

import "time"

// AudiomackToken is a user's delegated OAuth1 access token for Audiomack.
// Tokens are long-lived (about a year); expiry is checked against the
// stored timestamp so no network round trip is needed.
type AudiomackToken struct {
	UserID      int64     `json:"userId"`
	AccessToken string    `json:"-"`
	TokenSecret string    `json:"-"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Expired reports whether the delegated token needs reauthorization.
func (t *AudiomackToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
