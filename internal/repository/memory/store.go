// Package memory is an in-process implementation of reconcile.Store.
// Transactions are serialized behind one mutex and work on a private
// copy of the data that replaces the shared copy only on commit, so an
// aborted transaction leaves no trace.  It enforces the same unique
// indexes as the MySQL schema.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/venue-booking-payments/internal/model"
	"github.com/iliyamo/venue-booking-payments/internal/reconcile"
)

var errReadOnly = errors.New("memory: write in read-only transaction")

type state struct {
	payments map[uint64]model.Payment
	bookings map[uint64]model.Booking
	seats    map[uint64]model.Seat
	txns     []model.Transaction
	nextPay  uint64
	nextTxn  uint64
}

func (s *state) clone() *state {
	c := &state{
		payments: make(map[uint64]model.Payment, len(s.payments)),
		bookings: make(map[uint64]model.Booking, len(s.bookings)),
		seats:    make(map[uint64]model.Seat, len(s.seats)),
		txns:     append([]model.Transaction(nil), s.txns...),
		nextPay:  s.nextPay,
		nextTxn:  s.nextTxn,
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.seats {
		c.seats[k] = v
	}
	return c
}

// Store keeps payments, bookings, seats and ledger entries in memory.
type Store struct {
	mu    sync.Mutex
	data  *state
	fail  map[string]error
	calls map[string]int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		data: &state{
			payments: map[uint64]model.Payment{},
			bookings: map[uint64]model.Booking{},
			seats:    map[uint64]model.Seat{},
		},
		fail:  map[string]error{},
		calls: map[string]int{},
	}
}

// WithTx implements reconcile.Store.
func (s *Store) WithTx(ctx context.Context, fn func(tx reconcile.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &txn{store: s, data: s.data.clone()}
	if err := fn(t); err != nil {
		return err
	}
	s.data = t.data
	return nil
}

// WithReadTx implements reconcile.Store.
func (s *Store) WithReadTx(ctx context.Context, fn func(tx reconcile.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&txn{store: s, data: s.data, readOnly: true})
}

// FailOn makes the next call to the named Tx method return err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[method] = err
}

// Calls returns how many times the named Tx method was invoked.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// AddSeat stores seat as is.
func (s *Store) AddSeat(seat model.Seat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.seats[seat.ID] = seat
}

// AddBooking stores booking as is.
func (s *Store) AddBooking(b model.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.bookings[b.ID] = b
}

// Payment returns a copy of payment id.
func (s *Store) Payment(id uint64) (model.Payment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.payments[id]
	return p, ok
}

// Booking returns a copy of booking id.
func (s *Store) Booking(id uint64) (model.Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data.bookings[id]
	return b, ok
}

// Seat returns a copy of seat id.
func (s *Store) Seat(id uint64) (model.Seat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat, ok := s.data.seats[id]
	return seat, ok
}

// Transactions returns every ledger entry in insertion order.
func (s *Store) Transactions() []model.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Transaction(nil), s.data.txns...)
}

type txn struct {
	store    *Store
	data     *state
	readOnly bool
}

// enter counts the call and returns an injected failure, if any.  The
// store mutex is held by the enclosing transaction.
func (t *txn) enter(method string, write bool) error {
	t.store.calls[method]++
	if err, ok := t.store.fail[method]; ok {
		delete(t.store.fail, method)
		return err
	}
	if write && t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *txn) externalTaken(p *model.Payment) bool {
	if p.ExternalID == nil {
		return false
	}
	for id, other := range t.data.payments {
		if id != p.ID && other.Provider == p.Provider && other.ExternalID != nil && *other.ExternalID == *p.ExternalID {
			return true
		}
	}
	return false
}

func (t *txn) CreatePayment(_ context.Context, p *model.Payment) error {
	if err := t.enter("CreatePayment", true); err != nil {
		return err
	}
	if t.externalTaken(p) {
		return reconcile.ErrDuplicateKey
	}
	t.data.nextPay++
	p.ID = t.data.nextPay
	t.data.payments[p.ID] = *p
	return nil
}

func (t *txn) PaymentByID(_ context.Context, id uint64) (*model.Payment, error) {
	if err := t.enter("PaymentByID", false); err != nil {
		return nil, err
	}
	p, ok := t.data.payments[id]
	if !ok {
		return nil, reconcile.ErrRecordNotFound
	}
	return &p, nil
}

func (t *txn) PaymentsByBooking(_ context.Context, bookingID uint64) ([]model.Payment, error) {
	if err := t.enter("PaymentsByBooking", false); err != nil {
		return nil, err
	}
	var out []model.Payment
	for _, p := range t.data.payments {
		if p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *txn) PendingPaymentsBefore(_ context.Context, before time.Time, afterID uint64, limit int) ([]model.Payment, error) {
	if err := t.enter("PendingPaymentsBefore", false); err != nil {
		return nil, err
	}
	var out []model.Payment
	for _, p := range t.data.payments {
		if p.Status == model.PaymentPending && p.CreatedAt.Before(before) && p.ID > afterID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *txn) UpdatePayment(_ context.Context, p *model.Payment) error {
	if err := t.enter("UpdatePayment", true); err != nil {
		return err
	}
	if _, ok := t.data.payments[p.ID]; !ok {
		return reconcile.ErrRecordNotFound
	}
	if t.externalTaken(p) {
		return reconcile.ErrDuplicateKey
	}
	t.data.payments[p.ID] = *p
	return nil
}

func (t *txn) BookingByID(_ context.Context, id uint64) (*model.Booking, error) {
	if err := t.enter("BookingByID", false); err != nil {
		return nil, err
	}
	b, ok := t.data.bookings[id]
	if !ok {
		return nil, reconcile.ErrRecordNotFound
	}
	return &b, nil
}

func (t *txn) UpdateBookingStatus(_ context.Context, id uint64, status model.BookingStatus, at time.Time) error {
	if err := t.enter("UpdateBookingStatus", true); err != nil {
		return err
	}
	b, ok := t.data.bookings[id]
	if !ok {
		return reconcile.ErrRecordNotFound
	}
	b.Status, b.UpdatedAt = status, at
	t.data.bookings[id] = b
	return nil
}

func (t *txn) SeatByID(_ context.Context, id uint64) (*model.Seat, error) {
	if err := t.enter("SeatByID", false); err != nil {
		return nil, err
	}
	s, ok := t.data.seats[id]
	if !ok {
		return nil, reconcile.ErrRecordNotFound
	}
	return &s, nil
}

func (t *txn) UpdateSeatStatus(_ context.Context, id uint64, status model.SeatStatus, at time.Time) error {
	if err := t.enter("UpdateSeatStatus", true); err != nil {
		return err
	}
	s, ok := t.data.seats[id]
	if !ok {
		return reconcile.ErrRecordNotFound
	}
	s.Status, s.UpdatedAt = status, at
	t.data.seats[id] = s
	return nil
}

func (t *txn) AppendTransaction(_ context.Context, tr *model.Transaction) error {
	if err := t.enter("AppendTransaction", true); err != nil {
		return err
	}
	if _, ok := t.data.payments[tr.PaymentID]; !ok {
		return fmt.Errorf("memory: payment %d: %w", tr.PaymentID, reconcile.ErrRecordNotFound)
	}
	if tr.IdempotencyKey != nil {
		for _, e := range t.data.txns {
			if e.IdempotencyKey != nil && *e.IdempotencyKey == *tr.IdempotencyKey {
				return reconcile.ErrDuplicateKey
			}
		}
	}
	t.data.nextTxn++
	tr.ID = t.data.nextTxn
	t.data.txns = append(t.data.txns, *tr)
	return nil
}

func (t *txn) TransactionByID(_ context.Context, id uint64) (*model.Transaction, error) {
	if err := t.enter("TransactionByID", false); err != nil {
		return nil, err
	}
	for _, e := range t.data.txns {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, reconcile.ErrRecordNotFound
}

func (t *txn) TransactionByKey(_ context.Context, key string) (*model.Transaction, error) {
	if err := t.enter("TransactionByKey", false); err != nil {
		return nil, err
	}
	for _, e := range t.data.txns {
		if e.IdempotencyKey != nil && *e.IdempotencyKey == key {
			return &e, nil
		}
	}
	return nil, reconcile.ErrRecordNotFound
}

func (t *txn) TransactionsByExternalID(_ context.Context, provider model.Provider, externalID string) ([]model.Transaction, error) {
	if err := t.enter("TransactionsByExternalID", false); err != nil {
		return nil, err
	}
	var out []model.Transaction
	for _, e := range t.data.txns {
		if e.Provider == provider && e.ExternalID != nil && *e.ExternalID == externalID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *txn) TransactionsByPayment(_ context.Context, paymentID uint64) ([]model.Transaction, error) {
	if err := t.enter("TransactionsByPayment", false); err != nil {
		return nil, err
	}
	var out []model.Transaction
	for _, e := range t.data.txns {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *txn) OpenedBetween(_ context.Context, provider model.Provider, from, to time.Time) ([]model.Transaction, error) {
	if err := t.enter("OpenedBetween", false); err != nil {
		return nil, err
	}
	var out []model.Transaction
	for _, e := range t.data.txns {
		if e.Provider != provider || e.Type != model.TxnOpen || e.Status != model.TxnSuccess {
			continue
		}
		if e.CreatedAt.Before(from) || e.CreatedAt.After(to) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *txn) IncrementRetry(_ context.Context, id uint64) error {
	if err := t.enter("IncrementRetry", true); err != nil {
		return err
	}
	for i := range t.data.txns {
		if t.data.txns[i].ID == id {
			t.data.txns[i].RetryCount++
			return nil
		}
	}
	return reconcile.ErrRecordNotFound
}
