// Package checkout hands a cart snapshot to the payment processor and sees
// the attempt through to a terminal outcome: order row first, then the STK
// push, then the confirmation engine, then the exactly-once side effects
// (order status, cart reset, result event).
package checkout

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"soko-orders/internal/cart"
	"soko-orders/internal/domain"
	"soko-orders/internal/payment"
	"soko-orders/internal/repository"
)

// Initiator is the external payment-initiation collaborator.
type Initiator interface {
	InitiatePayment(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error)
}

// EventPublisher pushes order/payment events to the broker. Satisfied by
// *mq.Client.
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey, correlationID string, payload any) error
}

const sideEffectTimeout = 10 * time.Second

type Service struct {
	carts     *cart.Store
	orders    repository.Orders
	initiator Initiator
	engine    *payment.Engine
	events    EventPublisher
	lg        *zap.Logger
	now       func() time.Time

	mu sync.Mutex // serializes Checkout so only one confirmation is ever set up
}

// New wires the checkout flow. events may be nil (no broker configured).
func New(carts *cart.Store, orders repository.Orders, initiator Initiator, engine *payment.Engine, events EventPublisher, lg *zap.Logger) *Service {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Service{
		carts:     carts,
		orders:    orders,
		initiator: initiator,
		engine:    engine,
		events:    events,
		lg:        lg,
		now:       time.Now,
	}
}

// Result is what the UI needs to render the confirmation screen. Updates
// reports every engine transition, after the corresponding side effects have
// been applied, and is closed when the session ends.
type Result struct {
	OrderID        string
	OrderNumber    string
	CheckoutHandle string
	Amount         domain.Money
	Updates        <-chan payment.StateChange
}

// Checkout places the order for the current cart and starts payment
// confirmation. The cart itself is only cleared later, by the watcher, when
// the payment confirms — a failed payment keeps the cart for a retry.
func (s *Service) Checkout(ctx context.Context, phone, deliveryLocation string) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Refuse before creating an order row or charging the phone: a second
	// checkout while a confirmation is still polling would otherwise fire a
	// real STK push whose outcome nothing watches.
	if s.engine.State() == payment.StatePolling {
		return nil, payment.ErrSessionActive
	}

	snap := s.carts.Snapshot()
	if snap.IsEmpty() {
		return nil, domain.ErrCartEmpty
	}
	if strings.TrimSpace(phone) == "" {
		return nil, domain.ErrInvalidPhone
	}

	orderID := uuid.NewString()
	number := repository.NewOrderNumber(s.now())

	order := repository.Order{
		ID:               orderID,
		Number:           number,
		VendorID:         snap.VendorID,
		VendorName:       snap.VendorName,
		CustomerPhone:    phone,
		DeliveryLocation: deliveryLocation,
		Total:            snap.Total,
		Status:           domain.OrderStatusPaymentPending,
		Items:            snap.Items,
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	s.publish(ctx, domain.EventOrderCreated, orderID, domain.OrderCreatedEvent{
		EventID:          uuid.NewString(),
		OrderID:          orderID,
		OrderNumber:      number,
		VendorID:         snap.VendorID,
		VendorName:       snap.VendorName,
		Items:            eventItems(snap.Items),
		Total:            snap.Total,
		DeliveryLocation: deliveryLocation,
		CreatedAt:        s.now().UTC(),
	})

	resp, err := s.initiator.InitiatePayment(ctx, domain.CheckoutRequest{
		VendorID:         snap.VendorID,
		VendorName:       snap.VendorName,
		Amount:           snap.Total,
		PhoneNumber:      phone,
		Items:            snap.Items,
		DeliveryLocation: deliveryLocation,
		AccountRef:       number,
	})
	if err != nil {
		if serr := s.orders.SetStatus(ctx, orderID, domain.OrderStatusPaymentFailed); serr != nil {
			s.lg.Warn("order_status_update_failed", zap.String("order_id", orderID), zap.Error(serr))
		}
		return nil, err
	}
	if err := s.orders.SetCheckoutHandle(ctx, orderID, resp.CheckoutHandle); err != nil {
		s.lg.Warn("checkout_handle_update_failed", zap.String("order_id", orderID), zap.Error(err))
	}

	sess := domain.PaymentSession{
		CheckoutHandle: resp.CheckoutHandle,
		OrderID:        orderID,
		Amount:         snap.Total,
		VendorRef:      snap.VendorID,
		CustomerPhone:  phone,
	}
	changes, err := s.engine.Start(ctx, sess)
	if err != nil {
		return nil, err
	}

	updates := make(chan payment.StateChange, cap(changes))
	go s.watch(sess, changes, updates)

	s.lg.Info("checkout_started",
		zap.String("order_id", orderID),
		zap.String("order_number", number),
		zap.String("checkout_handle", resp.CheckoutHandle),
		zap.Int64("amount", int64(snap.Total)))

	return &Result{
		OrderID:        orderID,
		OrderNumber:    number,
		CheckoutHandle: resp.CheckoutHandle,
		Amount:         snap.Total,
		Updates:        updates,
	}, nil
}

// ConfirmNow triggers one immediate status query ("I've entered my PIN").
func (s *Service) ConfirmNow() error { return s.engine.CheckNow() }

// CancelConfirmation abandons the running confirmation (navigation away).
// The order row stays payment_pending for reconciliation.
func (s *Service) CancelConfirmation() { s.engine.Cancel() }

// watch forwards engine transitions to the caller, applying the terminal
// side effects first so the UI observes them in order. The engine emits
// exactly one terminal transition per session, so the side effects fire
// exactly once.
func (s *Service) watch(sess domain.PaymentSession, in <-chan payment.StateChange, out chan<- payment.StateChange) {
	defer close(out)
	for sc := range in {
		if sc.To.Terminal() {
			s.finalize(sess, sc)
		}
		out <- sc
	}
}

func (s *Service) finalize(sess domain.PaymentSession, sc payment.StateChange) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	var orderStatus, eventKey string
	switch sc.To {
	case payment.StateSuccessful:
		orderStatus, eventKey = domain.OrderStatusPaid, domain.EventPaymentSuccess
	case payment.StateFailed:
		orderStatus, eventKey = domain.OrderStatusPaymentFailed, domain.EventPaymentFailed
	default:
		// Undetermined is not failed: the charge may still have gone through
		// on the processor side.
		orderStatus, eventKey = domain.OrderStatusPaymentUndetermined, domain.EventPaymentTimedOut
	}

	if err := s.orders.RecordPaymentResult(ctx, sess.OrderID, orderStatus, sc.Attempts); err != nil {
		s.lg.Warn("payment_result_record_failed", zap.String("order_id", sess.OrderID), zap.Error(err))
	}
	if sc.To == payment.StateSuccessful {
		if _, err := s.carts.Clear(ctx); err != nil {
			s.lg.Warn("cart_clear_failed", zap.String("order_id", sess.OrderID), zap.Error(err))
		}
	}
	s.publish(ctx, eventKey, sess.OrderID, domain.PaymentResultEvent{
		EventID:        uuid.NewString(),
		OrderID:        sess.OrderID,
		CheckoutHandle: sess.CheckoutHandle,
		Status:         sc.To.PaymentStatus(),
		Amount:         sess.Amount,
		Attempts:       sc.Attempts,
		OccurredAt:     s.now().UTC(),
	})
}

// publish is best-effort: a broker outage must not fail a checkout or eat a
// payment outcome, so failures are logged and the flow continues.
func (s *Service) publish(ctx context.Context, key, correlationID string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJSON(ctx, key, correlationID, payload); err != nil {
		s.lg.Warn("event_publish_failed", zap.String("routing_key", key), zap.Error(err))
	}
}

func eventItems(lines []domain.CartLine) []domain.EventItem {
	out := make([]domain.EventItem, 0, len(lines))
	for _, ln := range lines {
		out = append(out, domain.EventItem{
			ItemID:    ln.ItemID,
			Name:      ln.Name,
			UnitPrice: ln.UnitPrice,
			Qty:       ln.Qty,
		})
	}
	return out
}
