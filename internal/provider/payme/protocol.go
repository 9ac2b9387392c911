package payme

import (
	"encoding/json"
	"time"
)

// RPC method names.
const (
	MethodCheckPerformTransaction = "CheckPerformTransaction"
	MethodCreateTransaction       = "CreateTransaction"
	MethodPerformTransaction      = "PerformTransaction"
	MethodCancelTransaction       = "CancelTransaction"
	MethodCheckTransaction        = "CheckTransaction"
	MethodGetStatement            = "GetStatement"
)

// Error codes.
const (
	CodeInvalidAmount       = -31001
	CodeTransactionNotFound = -31003
	CodeCannotPerform       = -31008
	CodeOrderNotFound       = -31050
	CodeInvalidOrderState   = -31051
	CodeAlreadyDone         = -31060
	CodeInternal            = -32400
	CodeUnauthorized        = -32504
	CodeInvalidRequest      = -32600
	CodeMethodNotFound      = -32601
)

// Request is the JSON-RPC envelope posted by the provider.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     json.RawMessage `json:"id"`
}

// Response is the envelope returned for every call, successful or not.
// Exactly one of Result and Error is set.
type Response struct {
	Result any             `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
	ID     json.RawMessage `json:"id"`
}

// Message is a localized error text.
type Message struct {
	RU string `json:"ru"`
	UZ string `json:"uz"`
	EN string `json:"en"`
}

// Error is the RPC error object.  Data names the offending field when
// there is one.
type Error struct {
	Code    int     `json:"code"`
	Message Message `json:"message"`
	Data    string  `json:"data,omitempty"`
}

var messages = map[int]Message{
	CodeInvalidAmount:       {RU: "Неверная сумма", UZ: "Noto'g'ri summa", EN: "Invalid amount"},
	CodeTransactionNotFound: {RU: "Транзакция не найдена", UZ: "Tranzaksiya topilmadi", EN: "Transaction not found"},
	CodeCannotPerform:       {RU: "Невозможно выполнить операцию", UZ: "Amalni bajarib bo'lmaydi", EN: "Unable to perform operation"},
	CodeOrderNotFound:       {RU: "Заказ не найден", UZ: "Buyurtma topilmadi", EN: "Order not found"},
	CodeInvalidOrderState:   {RU: "Заказ недоступен для оплаты", UZ: "Buyurtmani to'lab bo'lmaydi", EN: "Order is not available for payment"},
	CodeAlreadyDone:         {RU: "Заказ уже оплачен", UZ: "Buyurtma allaqachon to'langan", EN: "Order already paid"},
	CodeInternal:            {RU: "Системная ошибка", UZ: "Tizim xatosi", EN: "System error"},
	CodeUnauthorized:        {RU: "Недостаточно привилегий", UZ: "Ruxsat yo'q", EN: "Insufficient privileges"},
	CodeInvalidRequest:      {RU: "Неверный запрос", UZ: "Noto'g'ri so'rov", EN: "Invalid request"},
	CodeMethodNotFound:      {RU: "Метод не найден", UZ: "Metod topilmadi", EN: "Method not found"},
}

func newError(code int, data string) *Error {
	return &Error{Code: code, Message: messages[code], Data: data}
}

type checkPerformParams struct {
	Amount  json.Number                `json:"amount"`
	Account map[string]json.RawMessage `json:"account"`
}

type createParams struct {
	ID      string                     `json:"id"`
	Time    int64                      `json:"time"`
	Amount  json.Number                `json:"amount"`
	Account map[string]json.RawMessage `json:"account"`
}

type transactionParams struct {
	ID     string `json:"id"`
	Reason *int   `json:"reason"`
}

type statementParams struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

type allowResult struct {
	Allow bool `json:"allow"`
}

type createResult struct {
	CreateTime  int64  `json:"create_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type performResult struct {
	Transaction string `json:"transaction"`
	PerformTime int64  `json:"perform_time"`
	State       int    `json:"state"`
}

type cancelResult struct {
	Transaction string `json:"transaction"`
	CancelTime  int64  `json:"cancel_time"`
	State       int    `json:"state"`
}

type checkResult struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
}

type statementEntry struct {
	ID          string            `json:"id"`
	Time        int64             `json:"time"`
	Amount      int64             `json:"amount"`
	Account     map[string]string `json:"account"`
	CreateTime  int64             `json:"create_time"`
	PerformTime int64             `json:"perform_time"`
	CancelTime  int64             `json:"cancel_time"`
	Transaction string            `json:"transaction"`
	State       int               `json:"state"`
	Reason      *int              `json:"reason"`
}

type statementResult struct {
	Transactions []statementEntry `json:"transactions"`
}

// millis renders t as Unix milliseconds, 0 for an unset time.
func millis(t *time.Time) int64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
