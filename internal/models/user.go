package models

import "time"

type User struct {
	ID        int       `json:"id" example:"1"`                   // User ID
	Email     string    `json:"email" example:"user@example.com"` // User email
	Name      string    `json:"name" example:"Jane Doe"`          // Display name
	AccountID string    `json:"accountId"`                        // Credit account owned by this user
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
