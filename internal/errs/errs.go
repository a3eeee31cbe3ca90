package errs

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Kind classifies failures so the transport layer can map them without string matching
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindConflict
	KindIntegrity
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindIntegrity:
		return "integrity"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Stable reason codes returned to callers
const (
	CodeTraderNotActive         = "TRADER_NOT_ACTIVE"
	CodeTraderNotFound          = "TRADER_NOT_FOUND"
	CodeMissingFields           = "MISSING_FIELDS"
	CodeInvalidVolume           = "INVALID_VOLUME"
	CodeVolumeExceedsMaximum    = "VOLUME_EXCEEDS_MAXIMUM"
	CodeInvalidPrice            = "INVALID_PRICE"
	CodePriceOffMarket          = "PRICE_OFF_MARKET"
	CodeInsufficientBuyingPower = "INSUFFICIENT_BUYING_POWER"
	CodeDuplicateTrade          = "DUPLICATE_TRADE"
	CodeCounterpartyIneligible  = "COUNTERPARTY_NOT_ELIGIBLE"
	CodeCounterpartyNotFound    = "COUNTERPARTY_NOT_FOUND"
	CodeTradeNotFound           = "TRADE_NOT_FOUND"
	CodeTradeAlreadyClosed      = "TRADE_ALREADY_CLOSED"
	CodeTradeClosed             = "TRADE_CLOSED"
	CodeDeleteWindowExpired     = "DELETE_WINDOW_EXPIRED"
	CodeOTCDeleteForbidden      = "OTC_DELETE_FORBIDDEN"
	CodeMirrorMissing           = "MIRROR_MISSING"
	CodeMirrorInconsistent      = "MIRROR_INCONSISTENT"
	CodeStorageUnavailable      = "STORAGE_UNAVAILABLE"
	CodeInvalidRequest          = "INVALID_REQUEST"
	CodeInvalidCredentials      = "INVALID_CREDENTIALS"
	CodeDuplicateResource       = "DUPLICATE_RESOURCE"
	CodeNotFound                = "NOT_FOUND"
)

// Error is a classified failure with a stable code and a human readable message
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the whole operation may be retried safely
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}

func newf(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(code, format string, args ...interface{}) *Error {
	return newf(KindValidation, code, format, args...)
}

func Authorization(code, format string, args ...interface{}) *Error {
	return newf(KindAuthorization, code, format, args...)
}

func NotFound(code, format string, args ...interface{}) *Error {
	return newf(KindNotFound, code, format, args...)
}

func Conflict(code, format string, args ...interface{}) *Error {
	return newf(KindConflict, code, format, args...)
}

func Integrity(code, format string, args ...interface{}) *Error {
	return newf(KindIntegrity, code, format, args...)
}

func Transient(err error, format string, args ...interface{}) *Error {
	e := newf(KindTransient, CodeStorageUnavailable, format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of a classified error, KindUnknown otherwise
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the reason code of a classified error, or an empty string
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// FromStorage classifies an error returned by the storage layer.
// Already classified errors pass through unchanged.
func FromStorage(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: op + ": record not found", Err: err}
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &Error{Kind: KindConflict, Code: CodeDuplicateResource, Message: op + ": record already exists", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return Transient(err, "%s: storage timed out", op)
	case errors.Is(err, context.Canceled):
		return Transient(err, "%s: storage operation canceled", op)
	default:
		return Transient(err, "%s: storage failure", op)
	}
}
