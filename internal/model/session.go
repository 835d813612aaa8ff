package model

import "time"

// Session is the per-connection state held by the session directory. It
// lives only in process memory and dies with the connection.
type Session struct {
	ID              string      `json:"sessionId"`
	TokenHash       string      `json:"-"`
	Role            SessionRole `json:"role"`
	DeviceType      string      `json:"deviceType,omitempty"`
	PairedWith      string      `json:"pairedWith,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	Cart            []SaleItem  `json:"-"`
	DiscountPercent float64     `json:"-"`
}
