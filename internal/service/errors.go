package service

import "errors"

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrContentTooLong         = errors.New("content exceeds 10000 characters")
	ErrInvalidStatus          = errors.New("invalid status")
	ErrInvalidStrategy        = errors.New("invalid assignment strategy")
	ErrSessionNotFound        = errors.New("session not found")
	ErrSessionClosed          = errors.New("session closed")
	ErrSessionAlreadyAssigned = errors.New("session already assigned to another operator")
	ErrOperatorNotFound       = errors.New("operator not found")
	ErrOperatorUnavailable    = errors.New("operator not available")
	ErrEmailTaken             = errors.New("email already registered")
	ErrNoAvailableOperators   = errors.New("no operators online")
	ErrNoSuitableOperators    = errors.New("no suitable operators after exclusions")
)

// Code es el identificador estable que viaja al cliente en los errores.
type Code string

const (
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeSessionNotFound        Code = "SESSION_NOT_FOUND"
	CodeSessionClosed          Code = "SESSION_CLOSED"
	CodeSessionAlreadyAssigned Code = "SESSION_ALREADY_ASSIGNED"
	CodeOperatorNotFound       Code = "OPERATOR_NOT_FOUND"
	CodeOperatorUnavailable    Code = "OPERATOR_UNAVAILABLE"
	CodeEmailTaken             Code = "EMAIL_TAKEN"
	CodeNoAvailableOperators   Code = "NO_AVAILABLE_OPERATORS"
	CodeNoSuitableOperators    Code = "NO_SUITABLE_OPERATORS"
	CodeInternal               Code = "INTERNAL_ERROR"
)

var errorCodes = []struct {
	err  error
	code Code
}{
	{ErrInvalidInput, CodeValidation},
	{ErrContentTooLong, CodeValidation},
	{ErrInvalidStatus, CodeValidation},
	{ErrInvalidStrategy, CodeValidation},
	{ErrSessionNotFound, CodeSessionNotFound},
	{ErrSessionClosed, CodeSessionClosed},
	{ErrSessionAlreadyAssigned, CodeSessionAlreadyAssigned},
	{ErrOperatorNotFound, CodeOperatorNotFound},
	{ErrOperatorUnavailable, CodeOperatorUnavailable},
	{ErrEmailTaken, CodeEmailTaken},
	{ErrNoAvailableOperators, CodeNoAvailableOperators},
	{ErrNoSuitableOperators, CodeNoSuitableOperators},
}

// ErrorCode traduce un error del dominio a su codigo. Lo desconocido es interno.
func ErrorCode(err error) Code {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}

// IsDomainError distingue fallos esperados de fallos de infraestructura.
func IsDomainError(err error) bool {
	return err != nil && ErrorCode(err) != CodeInternal
}
