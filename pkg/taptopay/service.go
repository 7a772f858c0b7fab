package taptopay

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aussiebroadwan/arise/pkg/api"
	"github.com/aussiebroadwan/arise/pkg/domain"
	"github.com/aussiebroadwan/arise/pkg/metrics"
	"github.com/aussiebroadwan/arise/pkg/slogx"
)

// ============================================================================
// Dependencies
// ============================================================================

// Backend is the slice of the backend facade used by Tap to Pay.
// *api.Authorized implements it.
type Backend interface {
	GetDevice(ctx context.Context, deviceID string) (*api.Device, error)
	IssueDeviceJWT(ctx context.Context, deviceID string) (*domain.DeviceJwtToken, error)
	ActivateTapToPay(ctx context.Context, deviceID string) error
	GetPaymentConfiguration(ctx context.Context) (*domain.MerchantConfiguration, error)
}

// Identity supplies the persistent device identifier.
type Identity interface {
	GetDeviceIdentifier(ctx context.Context) string
}

// Config wires a Service.
type Config struct {
	Reader   Reader
	Platform Platform
	Backend  Backend
	Identity Identity

	// Store persists the device JWT. Optional.
	Store JWTStore

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time

	PerformanceLogging bool
}

// ============================================================================
// State
// ============================================================================

// State is the local view of the Tap to Pay lifecycle.
type State string

const (
	StateNotChecked   State = "not_checked"
	StateCompatible   State = "compatible"
	StateIncompatible State = "incompatible"
	StateInactive     State = "inactive"
	StateActive       State = "active"
	StateActivating   State = "activating"
	StatePrepared     State = "prepared"
	StateTransacting  State = "transacting"
)

// Reader operation names used in logs and metrics.
const (
	opConfigure     = "configure"
	opAccountLinked = "is_account_linked"
	opEnableLinking = "enable_linking"
	opActivate      = "activate"
	opResume        = "resume"
	opTransaction   = "perform_transaction"
	opAbort         = "abort_transaction"
)

// ============================================================================
// Service
// ============================================================================

// Service drives the reader through compatibility, activation, preparation
// and transactions. Reader operations are serialized; AbortTransaction is
// the exception so it can interrupt a running transaction.
type Service struct {
	reader   Reader
	platform Platform
	backend  Backend
	identity Identity
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	perfLog  bool

	jwt    *jwtCache
	events *broadcaster

	opMu sync.Mutex

	mu          sync.Mutex
	state       State
	configured  bool
	transacting bool
}

// New validates cfg and builds a Service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Reader == nil:
		return nil, errors.New("taptopay: reader is required")
	case cfg.Platform == nil:
		return nil, errors.New("taptopay: platform is required")
	case cfg.Backend == nil:
		return nil, errors.New("taptopay: backend is required")
	case cfg.Identity == nil:
		return nil, errors.New("taptopay: identity is required")
	}

	logger := slogx.OrDefault(cfg.Logger).With(slog.String("component", "taptopay"))
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Service{
		reader:   cfg.Reader,
		platform: cfg.Platform,
		backend:  cfg.Backend,
		identity: cfg.Identity,
		logger:   logger,
		metrics:  cfg.Metrics,
		now:      now,
		perfLog:  cfg.PerformanceLogging,
		state:    StateNotChecked,
	}

	s.jwt = &jwtCache{
		store:   cfg.Store,
		logger:  logger,
		metrics: cfg.Metrics,
		now:     now,
		issue: func(ctx context.Context) (*domain.DeviceJwtToken, error) {
			return s.backend.IssueDeviceJWT(ctx, s.identity.GetDeviceIdentifier(ctx))
		},
	}
	s.events = newBroadcaster(cfg.Reader.Events, now)

	return s, nil
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *Service) isConfigured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

// CheckCompatibility runs the local device checks. It never calls the
// backend or the reader, and only records the result while no backend
// status has been observed yet.
func (s *Service) CheckCompatibility() domain.TapToPayCompatibility {
	compat := CheckCompatibility(s.platform)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateNotChecked, StateCompatible, StateIncompatible:
		if compat.IsCompatible {
			s.state = StateCompatible
		} else {
			s.state = StateIncompatible
		}
	}
	return compat
}

// GetStatus reads the activation flag from the backend. The result is never
// cached.
func (s *Service) GetStatus(ctx context.Context) (domain.TapToPayStatus, error) {
	status, err := s.fetchStatus(ctx)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case status == domain.TapToPayInactive && s.state != StateActivating:
		// Deactivated out of band
		s.state = StateInactive
		s.configured = false
	case status == domain.TapToPayActive && s.state != StatePrepared &&
		s.state != StateTransacting && s.state != StateActivating:
		s.state = StateActive
	}
	return status, nil
}

func (s *Service) fetchStatus(ctx context.Context) (domain.TapToPayStatus, error) {
	dev, err := s.backend.GetDevice(ctx, s.identity.GetDeviceIdentifier(ctx))
	if err != nil {
		return "", err
	}
	if dev.TapToPayEnabled {
		return domain.TapToPayActive, nil
	}
	return domain.TapToPayInactive, nil
}

// GetToken returns a valid device JWT, issuing one when the cached and
// persisted copies are missing or expired. Concurrent callers share one
// issuance.
func (s *Service) GetToken(ctx context.Context) (*domain.DeviceJwtToken, error) {
	return s.jwt.get(ctx)
}

// ============================================================================
// Activation
// ============================================================================

// Activate links the merchant account and activates the reader hardware,
// then records the activation with the backend. It is a no-op when the
// backend already reports the device as active.
func (s *Service) Activate(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	l := slogx.FromContext(ctx, s.logger)

	status, err := s.GetStatus(ctx)
	if err != nil {
		return err
	}
	if status == domain.TapToPayActive {
		l.Debug("tap to pay already active")
		return nil
	}

	if compat := s.CheckCompatibility(); !compat.IsCompatible {
		l.Warn("device not compatible with tap to pay", slog.Any("reasons", compat.Reasons))
		return domain.NewDeviceNotCompatible(compat.Reasons)
	}

	s.setState(StateActivating)
	if err := s.activate(ctx); err != nil {
		s.setState(StateInactive)
		l.Error("tap to pay activation failed", slog.Any("error", err))
		return err
	}

	s.mu.Lock()
	s.state = StateActive
	s.configured = true
	s.mu.Unlock()

	l.Info("tap to pay activated")
	return nil
}

func (s *Service) activate(ctx context.Context) error {
	if err := s.configure(ctx); err != nil {
		return err
	}

	linked, err := s.accountLinked(ctx)
	if err != nil {
		return err
	}
	if !linked {
		err := s.reader.EnableLinking(ctx)
		s.metrics.ObserveReaderOp(opEnableLinking, err)
		if err != nil {
			return activationFailed("failed to link merchant account", err)
		}
	}

	err = s.reader.ActivateReader(ctx)
	s.metrics.ObserveReaderOp(opActivate, err)
	if err != nil {
		return activationFailed("failed to activate reader", err)
	}

	deviceID := s.identity.GetDeviceIdentifier(ctx)
	if err := s.backend.ActivateTapToPay(ctx, deviceID); err != nil {
		return s.reconcileActivation(ctx, deviceID, err)
	}
	return nil
}

// reconcileActivation handles a reader that activated while the backend
// call recording it failed: the device counts as active if the backend
// already says so, or if one more persist attempt succeeds.
func (s *Service) reconcileActivation(ctx context.Context, deviceID string, cause error) error {
	l := slogx.FromContext(ctx, s.logger)
	l.Warn("failed to persist tap to pay activation, reconciling", slog.Any("error", cause))

	status, err := s.fetchStatus(ctx)
	if err == nil && status == domain.TapToPayActive {
		l.Info("backend already records tap to pay as active")
		return nil
	}

	if err := s.backend.ActivateTapToPay(ctx, deviceID); err != nil {
		return domain.NewActivationFailed(
			"reader activated but the backend did not record the activation",
			domain.CodeActivationNotPersisted,
			err,
		)
	}
	return nil
}

// configure hands the device JWT and merchant descriptor to the reader.
func (s *Service) configure(ctx context.Context) error {
	token, err := s.jwt.get(ctx)
	if err != nil {
		return err
	}

	cfg, err := s.backend.GetPaymentConfiguration(ctx)
	if err != nil {
		return err
	}

	s.reader.EnablePerformanceLogging(s.perfLog)

	err = s.reader.Configure(ctx, token.Token, merchantDescriptor(cfg))
	s.metrics.ObserveReaderOp(opConfigure, err)
	if err != nil {
		return activationFailed("failed to configure reader", err)
	}
	return nil
}

func (s *Service) accountLinked(ctx context.Context) (bool, error) {
	linked, err := s.reader.IsAccountLinked(ctx)
	s.metrics.ObserveReaderOp(opAccountLinked, err)
	if err != nil {
		return false, activationFailed("failed to read account link status", err)
	}
	return linked, nil
}

func merchantDescriptor(cfg *domain.MerchantConfiguration) MerchantDescriptor {
	return MerchantDescriptor{
		BannerName:        cfg.BannerName,
		CategoryCode:      cfg.CategoryCode,
		CurrencyCode:      cfg.CurrencyCode,
		CountryCode:       cfg.CountryCode,
		TerminalProfileID: cfg.TerminalProfileID,
	}
}

// ============================================================================
// Preparation
// ============================================================================

// Prepare configures the reader for an already-active device. It never
// presents the account linking flow; an unlinked account is an error.
// Calling it again once the reader is configured does nothing.
func (s *Service) Prepare(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	status, err := s.GetStatus(ctx)
	if err != nil {
		return err
	}
	if status != domain.TapToPayActive {
		return domain.ErrNotActive
	}

	if s.isConfigured() {
		s.setState(StatePrepared)
		return nil
	}

	if err := s.configure(ctx); err != nil {
		return err
	}

	linked, err := s.accountLinked(ctx)
	if err != nil {
		return err
	}
	if !linked {
		return domain.NewActivationFailed(
			"merchant account is not linked, activate tap to pay first",
			domain.CodeAccountNotLinked,
			nil,
		)
	}

	s.mu.Lock()
	s.configured = true
	s.state = StatePrepared
	s.mu.Unlock()

	slogx.FromContext(ctx, s.logger).Info("tap to pay reader prepared")
	return nil
}

// Resume warms the reader with a valid device JWT, e.g. when the host app
// returns to the foreground.
func (s *Service) Resume(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.resume(ctx)
}

func (s *Service) resume(ctx context.Context) error {
	if !s.isConfigured() {
		return domain.ErrSDKNotInitialized
	}

	token, err := s.jwt.get(ctx)
	if err != nil {
		return err
	}

	err = s.reader.Resume(ctx, token.Token)
	s.metrics.ObserveReaderOp(opResume, err)
	if err != nil {
		return activationFailed("failed to resume reader", err)
	}
	return nil
}

// ============================================================================
// Transactions
// ============================================================================

// PerformTransaction charges amount in the merchant's currency. Merchants
// using surcharge pricing must use PerformTransactionWithCalculation.
func (s *Service) PerformTransaction(ctx context.Context, amount float64) (*domain.TransactionResult, error) {
	if !s.beginTransaction() {
		return nil, domain.ErrTransactionInProgress
	}
	defer s.endTransaction()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	cfg, err := s.backend.GetPaymentConfiguration(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.RequiresCalculation() {
		return nil, domain.ErrCalculationRequired
	}

	return s.transact(ctx, cfg, TransactionRequest{Amount: amount})
}

// PerformTransactionWithCalculation charges the total of the debit or credit
// option of calc and passes its breakdown to the reader as custom data.
func (s *Service) PerformTransactionWithCalculation(
	ctx context.Context,
	calc domain.TransactionCalculation,
	isDebitCard bool,
) (*domain.TransactionResult, error) {
	option, method := calc.CreditCard, "creditCard"
	if isDebitCard {
		option, method = calc.DebitCard, "debitCard"
	}
	if option == nil {
		return nil, domain.NewMissingRequiredField(method, "TransactionCalculation")
	}

	if !s.beginTransaction() {
		return nil, domain.ErrTransactionInProgress
	}
	defer s.endTransaction()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	cfg, err := s.backend.GetPaymentConfiguration(ctx)
	if err != nil {
		return nil, err
	}

	subTotal := RoundAmount(option.BaseAmount)
	req := TransactionRequest{
		Amount:     option.TotalAmount,
		SubTotal:   &subTotal,
		CustomData: calculationData(option, method),
	}
	if option.TipAmount > 0 {
		tip := RoundAmount(option.TipAmount)
		req.Tip = &tip
	}

	return s.transact(ctx, cfg, req)
}

func calculationData(o *domain.CalculationOption, method string) map[string]string {
	data := map[string]string{
		"paymentMethod": method,
		"baseAmount":    FormatAmount(o.BaseAmount),
		"tipAmount":     FormatAmount(o.TipAmount),
		"totalAmount":   FormatAmount(o.TotalAmount),
	}
	rate := func(key string, v *float64) {
		if v != nil {
			data[key] = strconv.FormatFloat(*v, 'f', -1, 64)
		}
	}
	rate("surchargeRate", o.SurchargeRate)
	rate("percentageOffRate", o.PercentageOffRate)
	rate("tipRate", o.TipRate)
	return data
}

func (s *Service) transact(
	ctx context.Context,
	cfg *domain.MerchantConfiguration,
	req TransactionRequest,
) (*domain.TransactionResult, error) {
	l := slogx.FromContext(ctx, s.logger)

	if err := s.resume(ctx); err != nil {
		return nil, err
	}

	status, err := s.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	if status != domain.TapToPayActive {
		return nil, domain.ErrNotActive
	}

	req.Amount = RoundAmount(req.Amount)
	if req.Amount <= 0 {
		return nil, domain.NewTransactionFailed("amount must be greater than zero", domain.CodeInvalidAmount, nil)
	}
	req.CurrencyCode = cfg.CurrencyCode

	s.setState(StateTransacting)
	defer s.leaveTransacting()

	l.Info("starting transaction",
		slog.String("amount", FormatAmount(req.Amount)),
		slog.String("currency", req.CurrencyCode),
	)

	res, err := s.reader.PerformTransaction(ctx, req)
	s.metrics.ObserveReaderOp(opTransaction, err)
	if err != nil {
		code, _ := readerErrorDetails(err)
		l.Error("transaction failed", slog.String("code", code), slog.Any("error", err))
		return nil, domain.NewTransactionFailed("reader transaction failed", code, err)
	}

	result := &domain.TransactionResult{
		TransactionID:     res.TransactionID,
		Status:            transactionStatus(res.Outcome),
		Amount:            req.Amount,
		CurrencyCode:      req.CurrencyCode,
		CardBrand:         res.CardBrand,
		CardLast4:         res.CardLast4,
		AuthorizationCode: res.AuthorizationCode,
		CompletedAt:       s.now(),
	}
	if res.Amount > 0 {
		result.Amount = res.Amount
	}
	if res.CurrencyCode != "" {
		result.CurrencyCode = res.CurrencyCode
	}

	l.Info("transaction finished",
		slog.String("transaction_id", result.TransactionID),
		slog.String("status", string(result.Status)),
	)
	return result, nil
}

func transactionStatus(o ReaderOutcome) domain.TransactionStatus {
	switch o {
	case OutcomeApproved:
		return domain.TransactionCompleted
	case OutcomeDeclined:
		return domain.TransactionDeclined
	case OutcomeCancelled:
		return domain.TransactionAborted
	default:
		return domain.TransactionFailed
	}
}

// beginTransaction claims the single transaction slot.
func (s *Service) beginTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transacting {
		return false
	}
	s.transacting = true
	return true
}

func (s *Service) endTransaction() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transacting = false
}

func (s *Service) leaveTransacting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateTransacting {
		s.state = StatePrepared
	}
}

// AbortTransaction asks the reader to cancel the running transaction. It
// fails once card reading has started.
func (s *Service) AbortTransaction(ctx context.Context) error {
	ok, err := s.reader.AbortTransaction(ctx)
	s.metrics.ObserveReaderOp(opAbort, err)
	if err != nil {
		code, msg := readerErrorDetails(err)
		return domain.NewAbortFailed(msg, code)
	}
	if !ok {
		return domain.NewAbortFailed("card reading has already started", domain.CodeReadingStarted)
	}

	slogx.FromContext(ctx, s.logger).Info("transaction aborted")
	return nil
}

// ============================================================================
// Events & lifecycle
// ============================================================================

// Subscribe streams reader events until ctx ends or the returned func is
// called. Events are not replayed; a subscriber that stops reading misses
// events rather than blocking the reader.
func (s *Service) Subscribe(ctx context.Context) (<-chan domain.Event, func()) {
	return s.events.subscribe(ctx)
}

// Reset clears the reader and the device JWT and forgets local state. Event
// subscriptions stay open.
func (s *Service) Reset(ctx context.Context) {
	s.reader.Clear()
	s.jwt.clear(ctx)

	s.mu.Lock()
	s.configured = false
	s.state = StateNotChecked
	s.mu.Unlock()
}

// Teardown resets the service and ends every event subscription.
func (s *Service) Teardown(ctx context.Context) {
	s.Reset(ctx)
	s.events.shutdown()
}

// ============================================================================
// Helpers
// ============================================================================

func readerErrorDetails(err error) (code, message string) {
	var re *ReaderError
	if errors.As(err, &re) {
		return re.Code, re.Message
	}
	return "", err.Error()
}

func activationFailed(message string, err error) error {
	code, _ := readerErrorDetails(err)
	return domain.NewActivationFailed(message, code, err)
}
