package domain

import "time"

// ============================================================================
// Compatibility & Status
// ============================================================================

// LocationPermission mirrors the platform's location authorization state.
type LocationPermission string

const (
	LocationGranted      LocationPermission = "granted"
	LocationDenied       LocationPermission = "denied"
	LocationUndetermined LocationPermission = "undetermined"
)

// ParseLocationPermission maps free-form input onto a LocationPermission,
// defaulting to undetermined.
func ParseLocationPermission(s string) LocationPermission {
	switch LocationPermission(s) {
	case LocationGranted, LocationDenied:
		return LocationPermission(s)
	default:
		return LocationUndetermined
	}
}

// TapToPayCompatibility is a derived, non-persisted snapshot of the device's
// ability to run Tap to Pay.
type TapToPayCompatibility struct {
	DeviceModelOK        bool               `json:"deviceModelOk"`
	OSVersionOK          bool               `json:"osVersionOk"`
	LocationPermission   LocationPermission `json:"locationPermission"`
	EntitlementAvailable bool               `json:"entitlementAvailable"`
	IsCompatible         bool               `json:"isCompatible"`
	Reasons              []string           `json:"reasons"`
}

// TapToPayStatus is the backend's view of the device activation.
type TapToPayStatus string

const (
	TapToPayActive   TapToPayStatus = "active"
	TapToPayInactive TapToPayStatus = "inactive"
)

// ============================================================================
// Merchant Configuration
// ============================================================================

// ZeroCostProcessingSurcharge is the ZCP option id for surcharge pricing.
const ZeroCostProcessingSurcharge = 4

// MerchantConfiguration is fetched per activation/prepare call and never
// mutated by the SDK.
type MerchantConfiguration struct {
	BannerName        string
	CategoryCode      string
	CurrencyCode      string
	CountryCode       string
	TerminalProfileID string

	// Pricing settings
	ZeroCostProcessingOptionID *int
	SurchargeRate              *float64
	DualPricingRate            *float64
}

// RequiresCalculation reports whether surcharge-based zero cost processing is
// enabled, in which case simple-amount transactions would charge the wrong total.
func (m MerchantConfiguration) RequiresCalculation() bool {
	return m.ZeroCostProcessingOptionID != nil &&
		*m.ZeroCostProcessingOptionID == ZeroCostProcessingSurcharge &&
		m.SurchargeRate != nil
}

// ============================================================================
// Transactions
// ============================================================================

// CalculationOption is the breakdown of one payment method returned by the
// backend's transaction calculation.
type CalculationOption struct {
	BaseAmount        float64
	PercentageOffRate *float64
	SurchargeRate     *float64
	TipAmount         float64
	TipRate           *float64
	TotalAmount       float64
}

// TransactionCalculation holds the per-method calculation results.
type TransactionCalculation struct {
	Cash       *CalculationOption
	CreditCard *CalculationOption
	DebitCard  *CalculationOption
}

// TransactionStatus is the normalized outcome of a card-present transaction.
type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
	TransactionDeclined  TransactionStatus = "declined"
	TransactionAborted   TransactionStatus = "aborted"
	TransactionFailed    TransactionStatus = "failed"
)

// TransactionResult is the SDK-owned result of PerformTransaction.
type TransactionResult struct {
	TransactionID     string
	Status            TransactionStatus
	Amount            float64
	CurrencyCode      string
	CardBrand         string
	CardLast4         string
	AuthorizationCode string
	CompletedAt       time.Time
}

// ============================================================================
// Events
// ============================================================================

// EventType enumerates the SDK's reader/transaction lifecycle events.
type EventType string

const (
	EventReaderProgress     EventType = "readerProgress"
	EventReaderReady        EventType = "readerReady"
	EventReaderNotReady     EventType = "readerNotReady"
	EventCardDetected       EventType = "cardDetected"
	EventCardReadCompleted  EventType = "cardReadCompleted"
	EventCardReadRetry      EventType = "cardReadRetry"
	EventCardReadCancelled  EventType = "cardReadCancelled"
	EventPinEntryRequested  EventType = "pinEntryRequested"
	EventPinEntryCompleted  EventType = "pinEntryCompleted"
	EventTransactionStarted EventType = "transactionStarted"
	EventTransactionEnded   EventType = "transactionEnded"
	EventUnknown            EventType = "unknown"
)

// Event is a stable, SDK-owned reader lifecycle event.
type Event struct {
	Type     EventType
	Message  string
	Progress *int // percent, only for EventReaderProgress
	Time     time.Time
}
