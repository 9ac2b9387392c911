package service

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/venue-booking-payments/internal/model"
	"github.com/iliyamo/venue-booking-payments/internal/queue"
	"github.com/iliyamo/venue-booking-payments/internal/reconcile"
)

func TestMessage(t *testing.T) {
	ev := reconcile.Event{
		Type:      reconcile.EventPaymentCompleted,
		PaymentID: 4,
		BookingID: 9,
		Provider:  model.ProviderPayme,
		Amount:    decimal.RequireFromString("500"),
		At:        time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, queue.PaymentEvent{
		Type: "payment_completed", PaymentID: 4, BookingID: 9, Provider: "payme",
		Amount: "500.00", OccurredAt: "2026-05-02T12:00:00Z",
	}, Message(ev))
}

func TestNotifyPublishesInBackground(t *testing.T) {
	n := NewRabbitNotifier("", zap.NewNop())
	var (
		mu   sync.Mutex
		got  []queue.PaymentEvent
		fail = true
	)
	n.publish = func(_ context.Context, body []byte) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			fail = false
			return errors.New("broker down")
		}
		var ev queue.PaymentEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return err
		}
		got = append(got, ev)
		return nil
	}

	n.Notify(reconcile.Event{Type: reconcile.EventPaymentCreated, PaymentID: 1})
	n.Wait()
	n.Notify(reconcile.Event{Type: reconcile.EventPaymentCancelled, PaymentID: 1})
	n.Wait()

	require.Len(t, got, 1)
	assert.Equal(t, "payment_cancelled", got[0].Type)
}

func TestPublishGivesUpOnSilentBroker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan net.Conn, 4)
	t.Cleanup(func() {
		_ = ln.Close()
		for {
			select {
			case conn := <-accepted:
				_ = conn.Close()
			default:
				return
			}
		}
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	n := NewRabbitNotifier("amqp://guest:guest@"+ln.Addr().String()+"/", zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.Error(t, n.publishAMQP(ctx, []byte(`{}`)))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestDialTimeout(t *testing.T) {
	assert.Equal(t, publishTimeout, dialTimeout(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	left := dialTimeout(ctx)
	assert.Greater(t, left, time.Duration(0))
	assert.LessOrEqual(t, left, time.Second)
}
