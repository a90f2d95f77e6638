// Package buserrors defines the tagged error type used across the bus
// core instead of ad hoc string codes, per the design note that exception-
// driven error surfaces should become a result value the wire layer can
// map to an HTTP status.
package buserrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a domain error kind (spec §7).
type Code string

const (
	CodeQueueDoesNotExist       Code = "QueueDoesNotExist"
	CodeTopicNotFound           Code = "TopicNotFound"
	CodeSubscriptionNotFound    Code = "SubscriptionNotFound"
	CodeMoveTaskNotFound        Code = "MoveTaskNotFound"
	CodeQueueNameExists         Code = "QueueNameExists"
	CodeQueueDeletedRecently    Code = "QueueDeletedRecently"
	CodeReceiptHandleInvalid    Code = "ReceiptHandleIsInvalid"
	CodeInvalidParameter        Code = "InvalidParameter"
	CodeMessageTooLarge         Code = "MessageTooLarge"
	CodeBatchRequestTooLong     Code = "BatchRequestTooLong"
	CodeTooManyBatchEntries     Code = "TooManyEntriesInBatchRequest"
	CodeEmptyBatchRequest       Code = "EmptyBatchRequest"
	CodeBatchEntryIdsNotDistinct Code = "BatchEntryIdsNotDistinct"
	CodeInvalidBatchEntryId     Code = "InvalidBatchEntryId"
	CodeUnsupportedOperation    Code = "UnsupportedOperation"
	CodePurgeQueueInProgress    Code = "PurgeQueueInProgress"
	CodeInternalError           Code = "InternalError"
)

// statusByCode maps each Code to the HTTP status the wire layer emits.
var statusByCode = map[Code]int{
	CodeQueueDoesNotExist:        http.StatusBadRequest,
	CodeTopicNotFound:            http.StatusNotFound,
	CodeSubscriptionNotFound:     http.StatusNotFound,
	CodeMoveTaskNotFound:         http.StatusNotFound,
	CodeQueueNameExists:          http.StatusConflict,
	CodeQueueDeletedRecently:     http.StatusConflict,
	CodeReceiptHandleInvalid:     http.StatusBadRequest,
	CodeInvalidParameter:         http.StatusBadRequest,
	CodeMessageTooLarge:          http.StatusBadRequest,
	CodeBatchRequestTooLong:      http.StatusBadRequest,
	CodeTooManyBatchEntries:      http.StatusBadRequest,
	CodeEmptyBatchRequest:        http.StatusBadRequest,
	CodeBatchEntryIdsNotDistinct: http.StatusBadRequest,
	CodeInvalidBatchEntryId:      http.StatusBadRequest,
	CodeUnsupportedOperation:     http.StatusBadRequest,
	CodePurgeQueueInProgress:     http.StatusConflict,
	CodeInternalError:            http.StatusInternalServerError,
}

// BusError is the tagged error value every bus operation returns instead
// of a bare error, so the wire layer can recover the HTTP status without
// string-matching the message.
type BusError struct {
	Code    Code
	Message string
}

func (e *BusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a BusError for the given code.
func New(code Code, format string, args ...interface{}) *BusError {
	return &BusError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StatusFor returns the HTTP status for err, defaulting to 500 for any
// error that isn't a *BusError (a bug, not a validation failure).
func StatusFor(err error) int {
	var be *BusError
	if errors.As(err, &be) {
		if status, ok := statusByCode[be.Code]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// CodeFor extracts the Code from err, or CodeInternalError if err isn't a
// *BusError.
func CodeFor(err error) Code {
	var be *BusError
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeInternalError
}

// Is reports whether err is a *BusError with the given code.
func Is(err error, code Code) bool {
	var be *BusError
	return errors.As(err, &be) && be.Code == code
}
