package ilp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes used by the connector.
const (
	CodeBadRequest            = "F00"
	CodeInvalidPacket         = "F01"
	CodeUnreachable           = "F02"
	CodeWrongCondition        = "F05"
	CodeAmountTooLarge        = "F08"
	CodeInternalError         = "T00"
	CodePeerUnreachable       = "T01"
	CodeInsufficientLiquidity = "T04"
	CodeRateLimited           = "T05"
	CodeTransferTimedOut      = "R00"
	CodeInsufficientTimeout   = "R02"
)

// Error is a failure that maps onto an ILP reject code.
type Error struct {
	Code    string
	Message string
	Data    []byte
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Reject renders the error as a Reject triggered by the given address.
func (e *Error) Reject(triggeredBy string) *Reject {
	return &Reject{
		Code:        e.Code,
		TriggeredBy: triggeredBy,
		Message:     e.Message,
		Data:        e.Data,
	}
}

// CodeOf extracts the ILP code of err, falling back to F00.
func CodeOf(err error) string {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code
	}
	return CodeBadRequest
}

func newError(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func RateLimitedError(format string, args ...interface{}) *Error {
	return newError(CodeRateLimited, format, args...)
}

func InsufficientLiquidityError(format string, args ...interface{}) *Error {
	return newError(CodeInsufficientLiquidity, format, args...)
}

func UnreachableError(format string, args ...interface{}) *Error {
	return newError(CodeUnreachable, format, args...)
}

func PeerUnreachableError(format string, args ...interface{}) *Error {
	return newError(CodePeerUnreachable, format, args...)
}

func WrongConditionError(format string, args ...interface{}) *Error {
	return newError(CodeWrongCondition, format, args...)
}

func TransferTimedOutError(format string, args ...interface{}) *Error {
	return newError(CodeTransferTimedOut, format, args...)
}

func InsufficientTimeoutError(format string, args ...interface{}) *Error {
	return newError(CodeInsufficientTimeout, format, args...)
}

func InternalError(format string, args ...interface{}) *Error {
	return newError(CodeInternalError, format, args...)
}

// AmountTooLargeError carries the received and maximum amounts in its data.
func AmountTooLargeError(received, maximum uint64) *Error {
	data, _ := json.Marshal(struct {
		ReceivedAmount uint64 `json:"receivedAmount,string"`
		MaximumAmount  uint64 `json:"maximumAmount,string"`
	}{received, maximum})
	return &Error{
		Code:    CodeAmountTooLarge,
		Message: fmt.Sprintf("packet size too large. maxAmount=%d actualAmount=%d", maximum, received),
		Data:    data,
	}
}
