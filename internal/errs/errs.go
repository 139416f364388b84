package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind 错误类别，handler 层据此映射 HTTP 状态码
type Kind string

const (
	KindInvalidAmount              Kind = "InvalidAmount"
	KindInvalidRequest             Kind = "InvalidRequest"
	KindNotFound                   Kind = "NotFound"
	KindInsufficientFunds          Kind = "InsufficientFunds"
	KindAllocationExceedsAvailable Kind = "AllocationExceedsAvailable"
	KindCannotAllocateToMain       Kind = "CannotAllocateToMain"
	KindSameAccount                Kind = "SameAccount"
	KindMainAccountProtected       Kind = "MainAccountProtected"
	KindMainAccountImmutable       Kind = "MainAccountImmutable"
	KindNonZeroBalance             Kind = "NonZeroBalance"
	KindPairedTransactionImmutable Kind = "PairedTransactionImmutable"
	KindStorageUnavailable         Kind = "StorageUnavailable"
	KindUnauthenticated            Kind = "Unauthenticated"
	KindInternal                   Kind = "Internal"
)

// Error 账本领域错误，携带类别与可读信息
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按类别匹配：errors.Is(err, errs.ErrNotFound) 对任意 NotFound 均成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidAmount              = &Error{Kind: KindInvalidAmount, Message: "amount must be greater than zero"}
	ErrInvalidRequest             = &Error{Kind: KindInvalidRequest, Message: "invalid request"}
	ErrNotFound                   = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInsufficientFunds          = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrAllocationExceedsAvailable = &Error{Kind: KindAllocationExceedsAvailable, Message: "allocation exceeds unallocated revenue"}
	ErrCannotAllocateToMain       = &Error{Kind: KindCannotAllocateToMain, Message: "cannot allocate to the main account"}
	ErrSameAccount                = &Error{Kind: KindSameAccount, Message: "source and destination accounts are the same"}
	ErrMainAccountProtected       = &Error{Kind: KindMainAccountProtected, Message: "the main account cannot be deleted"}
	ErrMainAccountImmutable       = &Error{Kind: KindMainAccountImmutable, Message: "the main account designation cannot be changed"}
	ErrNonZeroBalance             = &Error{Kind: KindNonZeroBalance, Message: "account balance must be zero"}
	ErrPairedTransactionImmutable = &Error{Kind: KindPairedTransactionImmutable, Message: "paired transactions cannot be deleted individually"}
	ErrStorageUnavailable         = &Error{Kind: KindStorageUnavailable, Message: "storage unavailable, retry later", Retryable: true}
	ErrUnauthenticated            = &Error{Kind: KindUnauthenticated, Message: "caller identity required"}
)

// New 按类别构造带具体信息的错误
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound 资源不存在
func NotFound(resource, id string) *Error {
	return New(KindNotFound, "%s %s not found", resource, id)
}

// Unavailable 把基础设施故障包装为可重试的 StorageUnavailable
func Unavailable(op string, err error) *Error {
	return &Error{
		Kind:      KindStorageUnavailable,
		Message:   op,
		Retryable: true,
		Err:       err,
	}
}

// Classify 领域错误原样返回，其余（驱动错误、超时、锁等待失败）统一归为 StorageUnavailable
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Unavailable(op, err)
}

// KindOf 返回错误类别，非领域错误返回 KindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindStorageUnavailable
	}
	return KindInternal
}

// IsRetryable 判断调用方是否可以安全重试整个操作
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
