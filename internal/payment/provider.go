package payment

import (
	"context"
	"errors"

	"soko-orders/internal/domain"
)

// StatusProvider is the external payment processor's status query. A
// provider returns the processor-reported status for a checkout handle, or
// an error for failures that carry no information about the payment itself.
type StatusProvider interface {
	CheckStatus(ctx context.Context, checkoutHandle string) (domain.PaymentStatus, error)
}

// ErrTransport marks a transient status-query failure (network outage,
// processor 5xx, auth hiccup). The engine treats it as "no new information"
// and keeps polling; it never terminates a session by itself.
var ErrTransport = errors.New("payment status transport error")

var (
	// ErrSessionActive is returned by Start while a session is still polling.
	ErrSessionActive = errors.New("payment session already polling")
	// ErrNotPolling is returned by CheckNow when no session is active.
	ErrNotPolling = errors.New("no payment session polling")
)
