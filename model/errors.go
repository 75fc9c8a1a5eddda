package model

import "errors"

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("item not found")
	ErrAlreadySold       = errors.New("item already sold")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceOverflow   = errors.New("balance overflow")
	ErrSelfPurchase      = errors.New("cannot buy your own item")
	ErrSubscriberDropped = errors.New("event subscriber dropped")
	ErrLedgerClosed      = errors.New("ledger closed")
)

// Stable wire codes for the errors above.
const (
	CodeInvalidInput      = "invalid_input"
	CodeNotFound          = "not_found"
	CodeAlreadySold       = "already_sold"
	CodeInsufficientFunds = "insufficient_funds"
	CodeBalanceOverflow   = "balance_overflow"
	CodeSelfPurchase      = "self_purchase_forbidden"
	CodeSubscriberDropped = "subscriber_dropped"
	CodeLedgerClosed      = "ledger_closed"
	CodeInternalError     = "internal_error"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidInput, CodeInvalidInput},
	{ErrNotFound, CodeNotFound},
	{ErrAlreadySold, CodeAlreadySold},
	{ErrInsufficientFunds, CodeInsufficientFunds},
	{ErrBalanceOverflow, CodeBalanceOverflow},
	{ErrSelfPurchase, CodeSelfPurchase},
	{ErrSubscriberDropped, CodeSubscriberDropped},
	{ErrLedgerClosed, CodeLedgerClosed},
}

// CodeOf returns the wire code of err, or CodeInternalError if err wraps
// none of the ledger errors.
func CodeOf(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternalError
}

// ErrorForCode is the inverse of CodeOf. Unknown codes return nil.
func ErrorForCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
