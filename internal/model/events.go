package model

// EventType is the logical message vocabulary of the broker. Inbound types
// arrive on POST /v1/events; outbound types are pushed on the SSE stream or
// returned as the caller reply.
type EventType string

const (
	// Inbound
	EventGenerateCode    EventType = "generate_code"
	EventConnectWithCode EventType = "connect_with_code"
	EventProductScanned  EventType = "product_scanned"
	EventCartUpdated     EventType = "cart_updated"
	EventFinalizeSale    EventType = "finalize_sale"
	EventDisconnectAll   EventType = "disconnect_all"

	// Outbound
	EventSyncCodeGenerated  EventType = "sync_code_generated"
	EventConnectionSuccess  EventType = "connection_success"
	EventDeviceConnected    EventType = "device_connected"
	EventDeviceDisconnected EventType = "device_disconnected"
	EventSaleFinalized      EventType = "sale_finalized"
	EventCodeExpired        EventType = "code_expired"
)

// InboundEvent is one device event. Only the fields relevant to Type are
// set; the router validates presence.
type InboundEvent struct {
	Type            EventType    `json:"type"`
	DeviceType      string       `json:"deviceType,omitempty"`
	Code            string       `json:"code,omitempty"`
	Product         *SaleItem    `json:"product,omitempty"`
	Items           []SaleItem   `json:"items,omitempty"`
	DiscountPercent float64      `json:"discountPercent,omitempty"`
	SaleData        *SaleRequest `json:"saleData,omitempty"`
}
