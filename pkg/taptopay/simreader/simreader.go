// Package simreader is an in-process Tap to Pay reader. It backs the CLI in
// sandbox mode and the taptopay tests, and can be scripted to fail, decline
// or hold transactions.
package simreader

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/aussiebroadwan/arise/pkg/taptopay"
)

// Operation names accepted by FailOn and Calls.
const (
	OpConfigure          = "configure"
	OpIsAccountLinked    = "is_account_linked"
	OpEnableLinking      = "enable_linking"
	OpActivateReader     = "activate_reader"
	OpResume             = "resume"
	OpPerformTransaction = "perform_transaction"
	OpAbortTransaction   = "abort_transaction"
	OpClear              = "clear"
)

// CodeNotConfigured is returned when an operation needs Configure first.
const CodeNotConfigured = "READER_NOT_CONFIGURED"

const eventBuffer = 64

// Reader simulates the platform card reader.
type Reader struct {
	mu sync.Mutex

	calls    map[string]int
	failures map[string]error

	linked         bool
	activated      bool
	configured     bool
	token          string
	merchant       taptopay.MerchantDescriptor
	perfLogging    bool
	outcome        taptopay.ReaderOutcome
	readingStarted bool

	hold     chan struct{}
	inflight context.CancelFunc
	aborted  bool
	last     *taptopay.TransactionRequest

	subs   map[int]chan taptopay.RawEvent
	nextID int
}

var _ taptopay.Reader = (*Reader)(nil)

// New returns a reader whose account is not yet linked and whose
// transactions are approved.
func New() *Reader {
	return &Reader{
		calls:    make(map[string]int),
		failures: make(map[string]error),
		outcome:  taptopay.OutcomeApproved,
		subs:     make(map[int]chan taptopay.RawEvent),
	}
}

// ============================================================================
// Scripting
// ============================================================================

// SetAccountLinked sets whether the merchant account is already linked.
func (r *Reader) SetAccountLinked(linked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.linked = linked
}

// FailOn makes op return err until FailOn(op, nil) is called.
func (r *Reader) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failures, op)
		return
	}
	r.failures[op] = err
}

// SetOutcome sets the outcome of later transactions.
func (r *Reader) SetOutcome(o taptopay.ReaderOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = o
}

// SetReadingStarted makes AbortTransaction report that the card is already
// being read.
func (r *Reader) SetReadingStarted(started bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readingStarted = started
}

// HoldTransactions parks later transactions until the returned func is
// called or they are aborted.
func (r *Reader) HoldTransactions() (release func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hold := make(chan struct{})
	r.hold = hold
	var once sync.Once
	return func() {
		once.Do(func() {
			close(hold)
			r.mu.Lock()
			if r.hold == hold {
				r.hold = nil
			}
			r.mu.Unlock()
		})
	}
}

// Calls returns how many times op was invoked.
func (r *Reader) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// TotalCalls returns the number of invocations across all operations.
func (r *Reader) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

// Token returns the device JWT last passed to Configure or Resume.
func (r *Reader) Token() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

// Merchant returns the descriptor last passed to Configure.
func (r *Reader) Merchant() taptopay.MerchantDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.merchant
}

// LastRequest returns a copy of the last transaction request.
func (r *Reader) LastRequest() *taptopay.TransactionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil
	}
	req := *r.last
	return &req
}

// PerformanceLogging reports the last value passed to EnablePerformanceLogging.
func (r *Reader) PerformanceLogging() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.perfLogging
}

// Subscribers returns the number of open event streams.
func (r *Reader) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Emit sends ev to every open event stream, dropping it for full streams.
func (r *Reader) Emit(ev taptopay.RawEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(ev)
}

func (r *Reader) emitLocked(ev taptopay.RawEvent) {
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// record counts op and returns its scripted failure, if any.
func (r *Reader) record(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[op]++
	return r.failures[op]
}

// ============================================================================
// taptopay.Reader
// ============================================================================

func (r *Reader) Configure(_ context.Context, token string, merchant taptopay.MerchantDescriptor) error {
	if err := r.record(OpConfigure); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configured = true
	r.token = token
	r.merchant = merchant
	r.emitLocked(taptopay.RawEvent{Kind: taptopay.RawProgress, Progress: 1})
	return nil
}

func (r *Reader) IsAccountLinked(context.Context) (bool, error) {
	if err := r.record(OpIsAccountLinked); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.linked, nil
}

func (r *Reader) EnableLinking(context.Context) error {
	if err := r.record(OpEnableLinking); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.linked = true
	return nil
}

func (r *Reader) ActivateReader(context.Context) error {
	if err := r.record(OpActivateReader); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.configured {
		return &taptopay.ReaderError{Code: CodeNotConfigured, Message: "configure the reader first"}
	}
	r.activated = true
	r.emitLocked(taptopay.RawEvent{Kind: taptopay.RawReady})
	return nil
}

func (r *Reader) Resume(_ context.Context, token string) error {
	if err := r.record(OpResume); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.configured {
		return &taptopay.ReaderError{Code: CodeNotConfigured, Message: "configure the reader first"}
	}
	r.token = token
	return nil
}

func (r *Reader) PerformTransaction(ctx context.Context, req taptopay.TransactionRequest) (*taptopay.ReaderTransactionResult, error) {
	r.mu.Lock()
	r.calls[OpPerformTransaction]++
	if err := r.failures[OpPerformTransaction]; err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if !r.configured {
		r.mu.Unlock()
		return nil, &taptopay.ReaderError{Code: CodeNotConfigured, Message: "configure the reader first"}
	}
	txCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.inflight = cancel
	r.aborted = false
	r.last = &req
	hold := r.hold
	r.emitLocked(taptopay.RawEvent{Kind: taptopay.RawTransactionStarted})
	r.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-txCtx.Done():
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight = nil

	if r.aborted {
		r.emitLocked(taptopay.RawEvent{Kind: taptopay.RawCardReadCancelled})
		r.emitLocked(taptopay.RawEvent{Kind: taptopay.RawTransactionEnded})
		return &taptopay.ReaderTransactionResult{
			TransactionID: uuid.NewString(),
			Outcome:       taptopay.OutcomeCancelled,
			Amount:        req.Amount,
			CurrencyCode:  req.CurrencyCode,
		}, nil
	}
	if err := ctx.Err(); err != nil {
		r.emitLocked(taptopay.RawEvent{Kind: taptopay.RawTransactionEnded})
		return nil, err
	}

	r.emitLocked(taptopay.RawEvent{Kind: taptopay.RawCardDetected})
	r.emitLocked(taptopay.RawEvent{Kind: taptopay.RawCardReadSuccess})
	r.emitLocked(taptopay.RawEvent{Kind: taptopay.RawTransactionEnded})

	res := &taptopay.ReaderTransactionResult{
		TransactionID: uuid.NewString(),
		Outcome:       r.outcome,
		Amount:        req.Amount,
		CurrencyCode:  req.CurrencyCode,
		CardBrand:     "visa",
		CardLast4:     "4242",
	}
	if r.outcome == taptopay.OutcomeApproved {
		res.AuthorizationCode = "SIM" + res.TransactionID[:6]
	}
	return res, nil
}

func (r *Reader) AbortTransaction(context.Context) (bool, error) {
	if err := r.record(OpAbortTransaction); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readingStarted {
		return false, nil
	}
	if r.inflight != nil {
		r.aborted = true
		r.inflight()
	}
	return true, nil
}

func (r *Reader) EnablePerformanceLogging(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perfLogging = enabled
}

func (r *Reader) Clear() {
	_ = r.record(OpClear)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configured = false
	r.activated = false
	r.token = ""
}

// Events returns a stream that is closed when ctx ends.
func (r *Reader) Events(ctx context.Context) <-chan taptopay.RawEvent {
	ch := make(chan taptopay.RawEvent, eventBuffer)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.mu.Unlock()

	context.AfterFunc(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
		close(ch)
	})
	return ch
}

// Activated reports whether ActivateReader succeeded since the last Clear.
func (r *Reader) Activated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activated
}
