package domain

// PaymentStatus is the externally visible outcome of one payment attempt.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentSuccessful PaymentStatus = "SUCCESSFUL"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentTimedOut   PaymentStatus = "TIMED_OUT"
)

// Terminal reports whether no further automatic transition occurs.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentSuccessful, PaymentFailed, PaymentTimedOut:
		return true
	}
	return false
}

// PaymentSession is one checkout attempt being confirmed. The amount,
// vendor and phone fields are a snapshot of what was paid for and are
// immutable once polling starts; Status and Attempts are owned by the
// confirmation engine.
type PaymentSession struct {
	CheckoutHandle string
	OrderID        string
	Amount         Money
	VendorRef      string
	CustomerPhone  string

	Status   PaymentStatus
	Attempts int
}

// CheckoutRequest is what the payment-initiation collaborator needs to fire
// a charge at the customer's phone.
type CheckoutRequest struct {
	VendorID         string
	VendorName       string
	Amount           Money
	PhoneNumber      string
	Items            []CartLine
	DeliveryLocation string
	AccountRef       string
}

// CheckoutResponse carries the opaque handle the confirmation engine polls
// with, plus the processor's own reference for audit logs.
type CheckoutResponse struct {
	CheckoutHandle string
	MerchantRef    string
}

// Order statuses as persisted by the order repository. payment_undetermined
// is deliberately distinct from payment_failed: a timed-out confirmation may
// still have gone through on the processor side ("check your SMS").
const (
	OrderStatusPaymentPending      = "payment_pending"
	OrderStatusPaid                = "paid"
	OrderStatusPaymentFailed       = "payment_failed"
	OrderStatusPaymentUndetermined = "payment_undetermined"
)
