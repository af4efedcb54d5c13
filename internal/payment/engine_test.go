package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soko-orders/internal/domain"
)

type queryResult struct {
	status domain.PaymentStatus
	err    error
}

// scriptedProvider returns the scripted results in order; the last one
// repeats. With gate set, every call blocks until the gate is released.
type scriptedProvider struct {
	mu     sync.Mutex
	script []queryResult
	calls  int
	gate   chan struct{}
}

func (p *scriptedProvider) CheckStatus(ctx context.Context, handle string) (domain.PaymentStatus, error) {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	p.calls++
	r := p.script[i]
	return r.status, r.err
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testSession() domain.PaymentSession {
	return domain.PaymentSession{
		CheckoutHandle: "ws_CO_TEST123",
		OrderID:        "ord-1",
		Amount:         700,
	}
}

// drain collects every transition until the channel closes.
func drain(t *testing.T, ch <-chan StateChange) []StateChange {
	t.Helper()
	var out []StateChange
	deadline := time.After(5 * time.Second)
	for {
		select {
		case sc, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, sc)
		case <-deadline:
			t.Fatalf("transition channel never closed; got %v", out)
		}
	}
}

func TestPendingThenSuccessful(t *testing.T) {
	p := &scriptedProvider{script: []queryResult{
		{status: domain.PaymentPending},
		{status: domain.PaymentPending},
		{status: domain.PaymentSuccessful},
	}}
	e := New(p, Config{Interval: 5 * time.Millisecond, MaxAttempts: 6}, nil, nil)

	ch, err := e.Start(context.Background(), testSession())
	require.NoError(t, err)

	got := drain(t, ch)
	require.Len(t, got, 2)
	assert.Equal(t, StateChange{From: StateIdle, To: StatePolling}, got[0])
	assert.Equal(t, StateChange{From: StatePolling, To: StateSuccessful, Attempts: 3}, got[1])

	assert.Equal(t, StateSuccessful, e.State())
	assert.Equal(t, 3, p.callCount(), "loop must stop at the terminal result")

	sess, ok := e.Session()
	require.True(t, ok)
	assert.Equal(t, domain.PaymentSuccessful, sess.Status)
	assert.Equal(t, 3, sess.Attempts)
}

func TestFailedResultIsTerminal(t *testing.T) {
	p := &scriptedProvider{script: []queryResult{{status: domain.PaymentFailed}}}
	e := New(p, Config{Interval: 5 * time.Millisecond, MaxAttempts: 6}, nil, nil)

	ch, err := e.Start(context.Background(), testSession())
	require.NoError(t, err)

	got := drain(t, ch)
	require.Len(t, got, 2)
	assert.Equal(t, StateFailed, got[1].To)
	assert.Equal(t, 1, got[1].Attempts)
	assert.Equal(t, 1, p.callCount())
}

func TestTimedOutAfterAttemptBudget(t *testing.T) {
	p := &scriptedProvider{script: []queryResult{{status: domain.PaymentPending}}}
	e := New(p, Config{Interval: 5 * time.Millisecond, MaxAttempts: 3}, nil, nil)

	ch, err := e.Start(context.Background(), testSession())
	require.NoError(t, err)

	got := drain(t, ch)
	require.Len(t, got, 2)
	assert.Equal(t, StateChange{From: StatePolling, To: StateTimedOut, Attempts: 3}, got[1])

	// No further queries after the terminal transition.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, p.callCount())
	assert.Equal(t, StateTimedOut, e.State())
}

func TestTransportErrorCountsAsAttempt(t *testing.T) {
	p := &scriptedProvider{script: []queryResult{
		{err: errors.New("connection refused")},
		{status: domain.PaymentSuccessful},
	}}
	e := New(p, Config{Interval: 5 * time.Millisecond, MaxAttempts: 6}, nil, nil)

	ch, err := e.Start(context.Background(), testSession())
	require.NoError(t, err)

	got := drain(t, ch)
	require.Len(t, got, 2)
	assert.Equal(t, StateSuccessful, got[1].To)
	assert.Equal(t, 2, got[1].Attempts, "a failed query consumes an attempt without deciding the outcome")
}

func TestErrorsAloneExhaustBudget(t *testing.T) {
	p := &scriptedProvider{script: []queryResult{{err: ErrTransport}}}
	e := New(p, Config{Interval: 5 * time.Millisecond, MaxAttempts: 2}, nil, nil)

	ch, err := e.Start(context.Background(), testSession())
	require.NoError(t, err)

	got := drain(t, ch)
	assert.Equal(t, StateTimedOut, got[len(got)-1].To)
}

func TestCancelDiscardsInFlightResult(t *testing.T) {
	p := &scriptedProvider{
		script: []queryResult{{status: domain.PaymentSuccessful}},
		gate:   make(chan struct{}),
	}
	e := New(p, Config{Interval: time.Millisecond, MaxAttempts: 6}, nil, nil)

	ch, err := e.Start(context.Background(), testSession())
	require.NoError(t, err)

	// Let the query get in flight (blocked on the gate), then cancel
	// underneath it.
	time.Sleep(10 * time.Millisecond)
	e.Cancel()
	close(p.gate) // the SUCCESSFUL result lands after cancellation

	got := drain(t, ch)
	require.Len(t, got, 1, "no terminal transition after cancel")
	assert.Equal(t, StatePolling, got[0].To)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StateIdle, e.State(), "late result must not resurrect the session")
	_, ok := e.Session()
	assert.False(t, ok)
}

func TestCancelIsIdempotent(t *testing.T) {
	e := New(&scriptedProvider{script: []queryResult{{status: domain.PaymentPending}}},
		Config{Interval: time.Hour, MaxAttempts: 6}, nil, nil)

	e.Cancel() // idle: no-op

	_, err := e.Start(context.Background(), testSession())
	require.NoError(t, err)
	e.Cancel()
	e.Cancel() // second cancel: no-op, no panic on the closed channel
	assert.Equal(t, StateIdle, e.State())
}

func TestCheckNowQueriesWithoutWaiting(t *testing.T) {
	p := &scriptedProvider{script: []queryResult{{status: domain.PaymentSuccessful}}}
	// The interval is far longer than the test: only CheckNow can trigger
	// the query.
	e := New(p, Config{Interval: time.Hour, MaxAttempts: 6}, nil, nil)

	ch, err := e.Start(context.Background(), testSession())
	require.NoError(t, err)
	require.NoError(t, e.CheckNow())

	got := drain(t, ch)
	require.Len(t, got, 2)
	assert.Equal(t, StateSuccessful, got[1].To)
	assert.Equal(t, 1, got[1].Attempts, "the manual check consumes a regular attempt")
}

func TestCheckNowOutsidePolling(t *testing.T) {
	e := New(&scriptedProvider{script: []queryResult{{status: domain.PaymentSuccessful}}},
		Config{Interval: time.Hour, MaxAttempts: 6}, nil, nil)
	assert.ErrorIs(t, e.CheckNow(), ErrNotPolling)
}

func TestStartRefusedWhileActive(t *testing.T) {
	p := &scriptedProvider{script: []queryResult{{status: domain.PaymentPending}}}
	e := New(p, Config{Interval: time.Hour, MaxAttempts: 6}, nil, nil)

	_, err := e.Start(context.Background(), testSession())
	require.NoError(t, err)

	_, err = e.Start(context.Background(), testSession())
	assert.ErrorIs(t, err, ErrSessionActive)
	e.Cancel()
}

func TestStartAllowedAfterTerminal(t *testing.T) {
	p := &scriptedProvider{script: []queryResult{{status: domain.PaymentSuccessful}}}
	e := New(p, Config{Interval: 5 * time.Millisecond, MaxAttempts: 6}, nil, nil)

	ch, err := e.Start(context.Background(), testSession())
	require.NoError(t, err)
	drain(t, ch)
	require.Equal(t, StateSuccessful, e.State())

	ch, err = e.Start(context.Background(), testSession())
	require.NoError(t, err)
	got := drain(t, ch)
	assert.Equal(t, StateSuccessful, got[len(got)-1].To)
	assert.Equal(t, 2, p.callCount())
}

func TestContextCancellationDiscardsSession(t *testing.T) {
	p := &scriptedProvider{script: []queryResult{{status: domain.PaymentPending}}}
	e := New(p, Config{Interval: 5 * time.Millisecond, MaxAttempts: 1000}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := e.Start(ctx, testSession())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	cancel()

	// Same outcome as Cancel: channel closes with no terminal transition and
	// the engine is idle again.
	got := drain(t, ch)
	for _, sc := range got {
		assert.False(t, sc.To.Terminal(), "ctx cancellation must not emit a terminal transition")
	}
	assert.Equal(t, StateIdle, e.State())
	_, ok := e.Session()
	assert.False(t, ok)

	n := p.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, p.callCount(), "no queries after context cancellation")

	// The engine is reusable for the next confirmation.
	ch, err = e.Start(context.Background(), testSession())
	require.NoError(t, err)
	e.Cancel()
	drain(t, ch)
}

func TestStaleResultAfterTerminalIsDiscarded(t *testing.T) {
	p := &scriptedProvider{script: []queryResult{{status: domain.PaymentPending}}}
	e := New(p, Config{Interval: 5 * time.Millisecond, MaxAttempts: 2}, nil, nil)

	ch, err := e.Start(context.Background(), testSession())
	require.NoError(t, err)
	got := drain(t, ch)
	require.Equal(t, StateTimedOut, got[len(got)-1].To)

	// A SUCCESSFUL result that raced the attempt budget lands after the
	// terminal transition: it must change nothing.
	e.mu.Lock()
	gen := e.gen
	events := e.events
	e.mu.Unlock()
	assert.True(t, e.apply(gen, events, domain.PaymentSuccessful, nil))

	assert.Equal(t, StateTimedOut, e.State())
	sess, ok := e.Session()
	require.True(t, ok)
	assert.Equal(t, domain.PaymentTimedOut, sess.Status)
	assert.Equal(t, 2, sess.Attempts, "a discarded result must not consume an attempt")
}
