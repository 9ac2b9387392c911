package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// TransactionType is the protocol step recorded by a ledger entry.
type TransactionType string

const (
    TxnOpen     TransactionType = "OPEN"
    TxnInspect  TransactionType = "INSPECT"
    TxnConfirm  TransactionType = "CONFIRM"
    TxnVoid     TransactionType = "VOID"
    TxnRefund   TransactionType = "REFUND"
    TxnPrepare  TransactionType = "PREPARE"
    TxnComplete TransactionType = "COMPLETE"
)

// Webhook reports whether entries of this type come from the two-phase
// webhook protocol and may therefore be retried manually.
func (t TransactionType) Webhook() bool {
    return t == TxnPrepare || t == TxnComplete
}

// TransactionStatus is the outcome of a ledger entry.
type TransactionStatus string

const (
    TxnPending TransactionStatus = "PENDING"
    TxnSuccess TransactionStatus = "SUCCESS"
    TxnFailed  TransactionStatus = "FAILED"
    TxnError   TransactionStatus = "ERROR"
)

// Transaction is an immutable ledger entry describing one protocol step
// applied to a payment.  Only RetryCount is ever updated after insert.
//
// Fields:
//  ID             – primary key identifier.
//  PaymentID      – payment the step applies to.
//  Provider       – gateway that drove the step.
//  Type           – OPEN, INSPECT, CONFIRM, VOID, REFUND, PREPARE or COMPLETE.
//  Amount         – amount in the major unit.
//  Status         – PENDING, SUCCESS, FAILED or ERROR.
//  ExternalID     – provider transaction id (nullable).
//  IdempotencyKey – provider:type:externalId when known (nullable, unique).
//  Reason         – provider reason code for VOID entries (nullable).
//  Note           – failure description for FAILED/ERROR entries.
//  RetryCount     – manual retries performed.
//  MaxRetries     – manual retries allowed.
//  CreatedAt      – creation timestamp.
type Transaction struct {
    ID             uint64            // payment_transactions.id
    PaymentID      uint64            // payment_transactions.payment_id
    Provider       Provider          // payment_transactions.provider
    Type           TransactionType   // payment_transactions.type
    Amount         decimal.Decimal   // payment_transactions.amount
    Status         TransactionStatus // payment_transactions.status
    ExternalID     *string           // payment_transactions.external_id (nullable)
    IdempotencyKey *string           // payment_transactions.idempotency_key (nullable)
    Reason         *int              // payment_transactions.reason (nullable)
    Note           string            // payment_transactions.note
    RetryCount     int               // payment_transactions.retry_count
    MaxRetries     int               // payment_transactions.max_retries
    CreatedAt      time.Time         // payment_transactions.created_at
}
