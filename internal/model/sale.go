package model

import "time"

// SaleItem is one line of a transaction. Prices are integer cents.
type SaleItem struct {
	Barcode    string `json:"barcode" db:"-"`
	Name       string `json:"name,omitempty" db:"-"`
	PriceCents int64  `json:"priceCents" db:"-"`
	Quantity   int    `json:"quantity" db:"-"`
}

// SaleRequest is the desktop's finalize_sale payload. Items may be empty,
// in which case the desktop session's accumulated cart scratch is used.
type SaleRequest struct {
	Items           []SaleItem `json:"items,omitempty"`
	DiscountPercent float64    `json:"discountPercent,omitempty"`
}

// Sale is a finalized transaction.
type Sale struct {
	ID               string     `json:"saleId" db:"id"`
	DesktopSessionID string     `json:"desktopSessionId" db:"desktop_session_id"`
	MobileSessionID  string     `json:"mobileSessionId,omitempty" db:"mobile_session_id"`
	Items            []SaleItem `json:"items" db:"-"`
	SubtotalCents    int64      `json:"subtotalCents" db:"subtotal_cents"`
	DiscountPercent  float64    `json:"discountPercent" db:"discount_percent"`
	TotalCents       int64      `json:"totalCents" db:"total_cents"`
	FinalizedAt      time.Time  `json:"finalizedAt" db:"finalized_at"`
}
