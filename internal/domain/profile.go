package domain

import "time"

// UserProfile is the persisted record for one WhatsApp identity.
type UserProfile struct {
	WaID         string            `json:"wa_id"`
	Name         string            `json:"name"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	MessageCount int               `json:"message_count"`
	Preferences  map[string]string `json:"preferences"`
	BusinessInfo map[string]string `json:"business_info"`
}

// UserSummary is one row of the monitoring listing.
type UserSummary struct {
	Name         string    `json:"name"`
	WaID         string    `json:"wa_id"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
}

// UserStats aggregates every known profile.
type UserStats struct {
	TotalUsers int           `json:"total_users"`
	Users      []UserSummary `json:"users"`
}
