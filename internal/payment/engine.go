// Package payment turns an opaque checkout handle into a terminal,
// user-visible payment outcome via bounded polling. The processor confirms
// asynchronously out-of-band (a mobile PIN prompt), so the engine polls a
// StatusProvider on a fixed cadence until it reports SUCCESSFUL or FAILED,
// or the attempt budget runs out.
package payment

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"soko-orders/internal/common/metrics"
	"soko-orders/internal/domain"
)

// State of the engine. Successful, Failed and TimedOut are terminal: once
// set, no further state-changing effect is applied, not even from a
// late-arriving provider response.
type State string

const (
	StateIdle       State = "IDLE"
	StatePolling    State = "POLLING"
	StateSuccessful State = "SUCCESSFUL"
	StateFailed     State = "FAILED"
	StateTimedOut   State = "TIMED_OUT"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateSuccessful || s == StateFailed || s == StateTimedOut
}

// PaymentStatus maps a terminal engine state to the session status.
func (s State) PaymentStatus() domain.PaymentStatus {
	switch s {
	case StateSuccessful:
		return domain.PaymentSuccessful
	case StateFailed:
		return domain.PaymentFailed
	case StateTimedOut:
		return domain.PaymentTimedOut
	default:
		return domain.PaymentPending
	}
}

// StateChange is emitted on every engine transition. The channel returned by
// Start is closed after the terminal transition (or on cancel, without one).
type StateChange struct {
	From     State
	To       State
	Attempts int
}

// Config bounds the polling loop. Both fields must be positive.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultConfig polls every 5s, 6 times: the confirmation window is bounded
// by a human entering a PIN, roughly half a minute.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, MaxAttempts: 6}
}

// Engine drives at most one PaymentSession at a time. A single goroutine
// owns all status queries, so there is never more than one outstanding query
// per session and the next query is scheduled only after the previous one
// completed.
type Engine struct {
	provider StatusProvider
	cfg      Config
	lg       *zap.Logger
	met      *metrics.Payment

	mu       sync.Mutex
	state    State
	sess     *domain.PaymentSession
	gen      uint64 // session generation; stale results carry an older gen
	events   chan StateChange
	checkNow chan struct{}
	cancelFn context.CancelFunc
}

// New builds an engine. Logger and metrics may be nil.
func New(provider StatusProvider, cfg Config, lg *zap.Logger, met *metrics.Payment) *Engine {
	if cfg.Interval <= 0 || cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Engine{provider: provider, cfg: cfg, lg: lg, met: met, state: StateIdle}
}

// Start begins confirming sess. Valid when no session is actively polling;
// a previous terminal session is discarded. The first status query fires
// after one full interval. The returned channel reports every transition and
// is closed once the session ends. Cancelling ctx discards the session like
// Cancel does: the engine returns to Idle and the channel closes without a
// terminal transition.
func (e *Engine) Start(ctx context.Context, sess domain.PaymentSession) (<-chan StateChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StatePolling {
		return nil, ErrSessionActive
	}

	sess.Status = domain.PaymentPending
	sess.Attempts = 0

	e.gen++
	e.sess = &sess
	e.events = make(chan StateChange, e.cfg.MaxAttempts+2)
	e.checkNow = make(chan struct{}, 1)

	runCtx, cancel := context.WithCancel(ctx)
	e.cancelFn = cancel

	from := e.state
	e.state = StatePolling
	e.events <- StateChange{From: from, To: StatePolling}

	e.lg.Info("payment_polling_started",
		zap.String("checkout_handle", sess.CheckoutHandle),
		zap.String("order_id", sess.OrderID),
		zap.Int("max_attempts", e.cfg.MaxAttempts))

	go e.run(runCtx, e.gen, sess.CheckoutHandle, e.events, e.checkNow)
	return e.events, nil
}

// Cancel stops scheduling synchronously and discards the session without a
// terminal outcome. The result of any in-flight query is ignored when it
// lands. Idempotent, including after a terminal state.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePolling {
		return
	}
	e.cancelFn()
	e.gen++ // invalidates the in-flight query's result
	e.state = StateIdle
	e.sess = nil
	close(e.events)
	e.lg.Info("payment_polling_cancelled")
}

// CheckNow requests one immediate out-of-band status query (the "I've
// entered my PIN" button) without waiting for the next tick. The query still
// counts against the attempt budget. Requests arriving while a query is in
// flight coalesce into a single extra check.
func (e *Engine) CheckNow() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePolling {
		return ErrNotPolling
	}
	select {
	case e.checkNow <- struct{}{}:
	default:
	}
	return nil
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Session returns a copy of the session being (or last) confirmed.
func (e *Engine) Session() (domain.PaymentSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return domain.PaymentSession{}, false
	}
	return *e.sess, true
}

// run owns the polling loop for one session. Exactly one query is in flight
// at any time; the next one is scheduled only after apply has seen the
// previous result.
func (e *Engine) run(ctx context.Context, gen uint64, handle string, events chan StateChange, checkNow <-chan struct{}) {
	timer := time.NewTimer(e.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.teardown(gen)
			return
		case <-timer.C:
		case <-checkNow:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		start := time.Now()
		status, err := e.provider.CheckStatus(ctx, handle)
		if e.met != nil {
			e.met.Attempts.Inc()
			e.met.LatencyMS.Observe(float64(time.Since(start).Milliseconds()))
		}
		if ctx.Err() != nil {
			// The result raced the cancellation; it no longer counts.
			e.teardown(gen)
			return
		}

		if done := e.apply(gen, events, status, err); done {
			return
		}
		timer.Reset(e.cfg.Interval)
	}
}

// teardown discards the session after its context was cancelled: same effect
// as Cancel, but driven from the polling goroutine. The gen guard makes it a
// no-op when Cancel or a terminal transition already ended the session.
func (e *Engine) teardown(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.gen || e.state != StatePolling {
		return
	}
	e.gen++
	e.state = StateIdle
	e.sess = nil
	close(e.events)
	e.lg.Info("payment_polling_stopped")
}

// apply folds one query result into the authoritative state. It returns true
// when the loop must stop: terminal state reached, or the result belongs to
// a cancelled/replaced session and is discarded.
func (e *Engine) apply(gen uint64, events chan StateChange, status domain.PaymentStatus, err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Monotonic terminal: anything arriving after cancel, after a terminal
	// state, or for a superseded session changes nothing.
	if gen != e.gen || e.state != StatePolling {
		return true
	}

	e.sess.Attempts++

	if err != nil {
		// Transient query failure carries no information about the payment.
		e.lg.Warn("payment_status_query_failed",
			zap.Int("attempt", e.sess.Attempts), zap.Error(err))
		status = domain.PaymentPending
	}

	switch status {
	case domain.PaymentSuccessful:
		e.finishLocked(events, StateSuccessful)
		return true
	case domain.PaymentFailed:
		e.finishLocked(events, StateFailed)
		return true
	default:
		if e.sess.Attempts >= e.cfg.MaxAttempts {
			e.finishLocked(events, StateTimedOut)
			return true
		}
		e.lg.Debug("payment_still_pending", zap.Int("attempt", e.sess.Attempts))
		return false
	}
}

func (e *Engine) finishLocked(events chan StateChange, to State) {
	from := e.state
	e.state = to
	e.sess.Status = to.PaymentStatus()
	if e.met != nil {
		e.met.Outcomes.WithLabelValues(string(e.sess.Status)).Inc()
	}
	e.lg.Info("payment_session_finished",
		zap.String("checkout_handle", e.sess.CheckoutHandle),
		zap.String("outcome", string(e.sess.Status)),
		zap.Int("attempts", e.sess.Attempts))
	events <- StateChange{From: from, To: to, Attempts: e.sess.Attempts}
	close(events)
	e.cancelFn()
}
