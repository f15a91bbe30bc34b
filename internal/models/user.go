package models

import "time"

type User struct {
	ID           int64      `json:"id" example:"1"`
	Email        string     `json:"email" example:"user@example.com"`
	PasswordHash string     `json:"-"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
