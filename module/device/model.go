package device

import "time"

// Session is the durable per-device record. It outlives transport
// connections: created on first registration, refreshed on every
// activity/sync, soft-invalidated on logout, hard-deleted by the
// retention sweep.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	DeviceID     string    `json:"device_id"`
	Platform     string    `json:"platform"` // web/ios/android/pc
	LastActivity time.Time `json:"last_activity"`
	LastSync     time.Time `json:"last_sync"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// PushToken binds a provider token to a device. Inactive tokens are
// kept for audit but excluded from multicast.
type PushToken struct {
	Token    string
	UserID   string
	DeviceID string
	Active   bool
}
