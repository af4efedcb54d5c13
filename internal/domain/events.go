package domain

import "time"

// Routing keys on the orders_topic exchange.
const (
	EventOrderCreated     = "order.created"
	EventPaymentSuccess   = "payment.successful"
	EventPaymentFailed    = "payment.failed"
	EventPaymentTimedOut  = "payment.timed_out"
	EventPaymentCancelled = "payment.cancelled"
)

type EventItem struct {
	ItemID    string `json:"id"`
	Name      string `json:"name"`
	UnitPrice Money  `json:"price"`
	Qty       int    `json:"qty"`
}

// OrderCreatedEvent is published once the order row exists, before payment
// initiation.
type OrderCreatedEvent struct {
	EventID          string      `json:"event_id"`
	OrderID          string      `json:"order_id"`
	OrderNumber      string      `json:"order_number"`
	VendorID         string      `json:"vendor_id"`
	VendorName       string      `json:"vendor_name"`
	Items            []EventItem `json:"items"`
	Total            Money       `json:"total"`
	DeliveryLocation string      `json:"delivery_location,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// PaymentResultEvent is published exactly once per session, when the
// confirmation engine reaches a terminal state.
type PaymentResultEvent struct {
	EventID        string        `json:"event_id"`
	OrderID        string        `json:"order_id"`
	CheckoutHandle string        `json:"checkout_handle"`
	Status         PaymentStatus `json:"status"`
	Amount         Money         `json:"amount"`
	Attempts       int           `json:"attempts"`
	OccurredAt     time.Time     `json:"occurred_at"`
}
