package models

import "time"

// Session describes one live conversation held by the server.
type Session struct {
	ID        string    `json:"session_id"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
