package model

import "time"

// Jingle is a short clip in a user's library, stored durably in object
// storage and copied into staging when a mix references it.
type Jingle struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Name      string    `json:"name"`
	ObjectKey string    `json:"-"` // object storage key, not exposed in the API
	SizeBytes int64     `json:"sizeBytes"`
	Duration  float64   `json:"duration"` // seconds, 0 when the probe failed
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
