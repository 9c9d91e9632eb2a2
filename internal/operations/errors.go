package operations

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
)

// Machine codes carried in error payloads.
const (
	CodeInvalidArgument        = "INVALID_ARGUMENT"
	CodeWeakPassword           = "WEAK_PASSWORD"
	CodeInvalidOTP             = "INVALID_OTP"
	CodeInvalidPIN             = "INVALID_PIN"
	CodePinExpired             = "PIN_EXPIRED"
	CodePinSequential          = "SEQUENTIAL"
	CodePinRepeated            = "REPEATED"
	CodeAccountLocked          = "ACCOUNT_LOCKED"
	CodePhoneNotRegistered     = "PHONE_NOT_REGISTERED"
	CodeEmailExists            = "EMAIL_EXISTS"
	CodePhoneExists            = "PHONE_EXISTS"
	CodeDuplicateVehicle       = "DUPLICATE_VEHICLE_NUMBER"
	CodeDuplicateEmail         = "DUPLICATE_EMAIL"
	CodeInvitationExpired      = "INVITATION_EXPIRED"
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeAlreadyAccepted        = "ALREADY_ACCEPTED"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeLastAdmin              = "LAST_ADMIN"
	CodeSelfAction             = "SELF_ACTION"
	CodeRateExceeded           = "RATE_EXCEEDED"
	CodeRegistrationNotFound   = "REGISTRATION_NOT_FOUND"
	CodeInvalidUPI             = "INVALID_UPI"
	CodeInvalidState           = "INVALID_STATE"
	CodeNotFound               = "NOT_FOUND"
	CodeInvalidCredentials     = "INVALID_CREDENTIALS"
	CodeDeadlineExceeded       = "DEADLINE_EXCEEDED"
	CodeInternal               = "INTERNAL"
)

// Error is the typed failure every operation returns. Status carries
// the canonical code the transport translates; the optional fields ride
// in the error payload.
type Error struct {
	Code              string
	Status            codes.Code
	Message           string
	RemainingAttempts *int
	LockedUntil       *time.Time
	Rules             []string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func invalidArgument(message string) *Error {
	return &Error{Code: CodeInvalidArgument, Status: codes.InvalidArgument, Message: message}
}

func notFound(code, message string) *Error {
	return &Error{Code: code, Status: codes.NotFound, Message: message}
}

func alreadyExists(code, message string) *Error {
	return &Error{Code: code, Status: codes.AlreadyExists, Message: message}
}

func failedPrecondition(code, message string) *Error {
	return &Error{Code: code, Status: codes.FailedPrecondition, Message: message}
}

func unauthenticated(code, message string) *Error {
	return &Error{Code: code, Status: codes.Unauthenticated, Message: message}
}

func permissionDenied(code, message string) *Error {
	return &Error{Code: code, Status: codes.PermissionDenied, Message: message}
}

func invalidUpi(message string) *Error {
	return &Error{Code: CodeInvalidUPI, Status: codes.InvalidArgument, Message: message}
}

func selfAction(message string) *Error {
	return &Error{Code: CodeSelfAction, Status: codes.InvalidArgument, Message: message}
}

func rateExceeded(message string) *Error {
	return &Error{Code: CodeRateExceeded, Status: codes.ResourceExhausted, Message: message}
}

func internal(message string) *Error {
	return &Error{Code: CodeInternal, Status: codes.Internal, Message: message}
}

func accountLocked(until time.Time) *Error {
	zero := 0
	return &Error{
		Code:              CodeAccountLocked,
		Status:            codes.PermissionDenied,
		Message:           "account locked, try again later",
		RemainingAttempts: &zero,
		LockedUntil:       &until,
	}
}

// wrap keeps typed errors as they are and folds everything else into
// INTERNAL, surfacing deadline expiry under its own code.
func wrap(err error, message string) *Error {
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeDeadlineExceeded, Status: codes.DeadlineExceeded, Message: "deadline exceeded"}
	}
	return internal(message)
}
