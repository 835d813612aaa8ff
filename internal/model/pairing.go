package model

import "time"

// PairingCode is an outstanding sync code owned by a pending mobile
// session. Token is a monotonic issuance counter; expiry timers are keyed
// by it so a stale timer can never invalidate a re-issued code string.
type PairingCode struct {
	Code            string    `json:"code"`
	MobileSessionID string    `json:"mobileSessionId"`
	DeviceType      string    `json:"deviceType"`
	IssuedAt        time.Time `json:"issuedAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
	Token           uint64    `json:"-"`
}

// PairingEvent is one row of the asynchronous pairing audit trail.
type PairingEvent struct {
	ID            string           `db:"id"`
	Type          PairingEventType `db:"event_type"`
	SessionID     string           `db:"session_id"`
	CounterpartID *string          `db:"counterpart_id"`
	Code          *string          `db:"code"`
	DeviceType    *string          `db:"device_type"`
	CreatedAt     time.Time        `db:"created_at"`
}
