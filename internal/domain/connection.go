package domain

import "time"

type ConnectionStatus string

const (
	ConnectionActive  ConnectionStatus = "active"
	ConnectionExpired ConnectionStatus = "expired"
	ConnectionRevoked ConnectionStatus = "revoked"
)

// Connection is a user's stored link to one platform. Token refresh happens
// elsewhere; the pipeline only reads these rows.
type Connection struct {
	UserID      string
	Platform    Platform
	AccountID   string
	AccountName string
	AccessToken string
	TokenSecret string
	BaseURL     string // instance URL for federated platforms (mastodon)
	Status      ConnectionStatus
	ExpiresAt   *time.Time
	UpdatedAt   time.Time
}

// Usable reports whether the connection can authenticate a call right now.
func (c *Connection) Usable(now time.Time) bool {
	if c.Status != ConnectionActive || c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
		return false
	}
	return true
}
