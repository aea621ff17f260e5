package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

// FailureKind 为交易所错误分类。
type FailureKind string

const (
	// FailureTransient 表示网络抖动或限频等可重试错误。
	FailureTransient FailureKind = "transient"
	// FailureRejected 表示交易所明确拒绝请求，不可重试。
	FailureRejected FailureKind = "rejected"
	// FailureAuth 表示认证或权限错误，不可重试。
	FailureAuth FailureKind = "auth"
	// FailureUnknown 表示无法归类的错误。
	FailureUnknown FailureKind = "unknown"
)

// VenueError 携带分类信息的交易所错误。
type VenueError struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("exchange: %s 失败 (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *VenueError) Unwrap() error {
	return e.Err
}

// Classify 将底层错误映射为失败分类。
func Classify(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}

	var venueErr *VenueError
	if errors.As(err, &venueErr) {
		return venueErr.Kind
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.OnMaintenanceErrType:
			return FailureTransient
		case ccxt.AuthenticationErrorErrType,
			ccxt.PermissionDeniedErrType,
			ccxt.AccountSuspendedErrType:
			return FailureAuth
		case ccxt.InsufficientFundsErrType,
			ccxt.InvalidOrderErrType,
			ccxt.OrderNotFoundErrType,
			ccxt.BadRequestErrType,
			ccxt.BadSymbolErrType:
			return FailureRejected
		case ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return FailureTransient
		default:
			return FailureUnknown
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransient
	}

	return FailureUnknown
}

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err) == FailureTransient
}
