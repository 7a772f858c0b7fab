package taptopay

import (
	"context"
	"fmt"
)

// Reader is the card-reader capability. Implementations wrap the platform's
// Tap to Pay SDK; simreader provides an in-process simulation.
type Reader interface {
	Configure(ctx context.Context, token string, merchant MerchantDescriptor) error
	IsAccountLinked(ctx context.Context) (bool, error)

	// EnableLinking presents the terms and conditions flow.
	EnableLinking(ctx context.Context) error

	ActivateReader(ctx context.Context) error
	Resume(ctx context.Context, token string) error
	PerformTransaction(ctx context.Context, req TransactionRequest) (*ReaderTransactionResult, error)

	// AbortTransaction reports false when card reading has already begun.
	AbortTransaction(ctx context.Context) (bool, error)

	EnablePerformanceLogging(enabled bool)
	Clear()

	// Events streams raw reader events until ctx is done, then closes the
	// channel.
	Events(ctx context.Context) <-chan RawEvent
}

// ReaderError is returned by readers for hardware-layer failures. Code is
// preserved in the SDK error surfaced to callers.
type ReaderError struct {
	Code    string
	Message string
}

func (e *ReaderError) Error() string {
	return fmt.Sprintf("reader error %s: %s", e.Code, e.Message)
}

// MerchantDescriptor is the merchant identity handed to the reader.
type MerchantDescriptor struct {
	BannerName        string
	CategoryCode      string
	CurrencyCode      string
	CountryCode       string
	TerminalProfileID string
}

// TransactionRequest is the reader-level transaction input. Amounts are
// already rounded to two decimals.
type TransactionRequest struct {
	Amount       float64
	CurrencyCode string
	Tip          *float64
	Discount     *float64
	Tax          *float64
	SubTotal     *float64
	OrderID      string

	// CustomData is passed through to the backend for reconciliation.
	CustomData map[string]string
}

// ReaderOutcome is the reader's raw transaction outcome.
type ReaderOutcome string

const (
	OutcomeApproved  ReaderOutcome = "approved"
	OutcomeDeclined  ReaderOutcome = "declined"
	OutcomeCancelled ReaderOutcome = "cancelled"
	OutcomeError     ReaderOutcome = "error"
)

// ReaderTransactionResult is returned by Reader.PerformTransaction.
type ReaderTransactionResult struct {
	TransactionID     string
	Outcome           ReaderOutcome
	Amount            float64
	CurrencyCode      string
	CardBrand         string
	CardLast4         string
	AuthorizationCode string
}

// RawEventKind enumerates the reader's native event union.
type RawEventKind string

const (
	RawProgress           RawEventKind = "updateProgress"
	RawReady              RawEventKind = "readerReady"
	RawNotReady           RawEventKind = "readerNotReady"
	RawCardDetected       RawEventKind = "cardDetected"
	RawCardReadSuccess    RawEventKind = "cardReadSuccess"
	RawCardReadRetry      RawEventKind = "cardReadRetry"
	RawCardReadCancelled  RawEventKind = "cardReadCancelled"
	RawPINRequested       RawEventKind = "pinEntryRequested"
	RawPINCompleted       RawEventKind = "pinEntryCompleted"
	RawTransactionStarted RawEventKind = "paymentStarted"
	RawTransactionEnded   RawEventKind = "paymentEnded"
)

// RawEvent is one native reader event. Progress is a fraction in [0, 1].
type RawEvent struct {
	Kind     RawEventKind
	Message  string
	Progress float64
}
