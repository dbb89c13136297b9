// Package gameerr defines the reason-coded errors returned when an operation
// is rejected by a game rule. Any error that does not carry a Code is an
// infrastructure failure (storage, decoding, transport).
package gameerr

import (
	"errors"
	"fmt"
)

// Code is a machine-readable rejection reason.
type Code string

const (
	// CodeUnknown marks errors that are not rule rejections.
	CodeUnknown Code = "UNKNOWN"

	// Catalog / ledger
	CodeInvalidArchetype       Code = "INVALID_ARCHETYPE"
	CodeNotOwner               Code = "NOT_OWNER"
	CodeMaxLevelReached        Code = "MAX_LEVEL_REACHED"
	CodeInsufficientExperience Code = "INSUFFICIENT_EXPERIENCE"
	CodeIncorrectPayment       Code = "INCORRECT_PAYMENT"
	CodeNotFound               Code = "NOT_FOUND"

	// Match lifecycle
	CodeInvalidStake        Code = "INVALID_STAKE"
	CodeMatchNotAvailable   Code = "MATCH_NOT_AVAILABLE"
	CodeCannotJoinOwnMatch  Code = "CANNOT_JOIN_OWN_MATCH"
	CodeIncorrectStake      Code = "INCORRECT_STAKE"
	CodeMatchNotOngoing     Code = "MATCH_NOT_ONGOING"
	CodeNotParticipant      Code = "NOT_PARTICIPANT"
	CodeTimeoutNotReached   Code = "TIMEOUT_NOT_REACHED"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodePaymentFailed       Code = "PAYMENT_FAILED"

	// Moves
	CodeNotYourTurn       Code = "NOT_YOUR_TURN"
	CodeInvalidAbility    Code = "INVALID_ABILITY"
	CodeAbilityOnCooldown Code = "ABILITY_ON_COOLDOWN"
	CodeInsufficientMana  Code = "INSUFFICIENT_MANA"

	// Transport-level validation of a payload
	CodeInvalidPayload Code = "INVALID_PAYLOAD"
)

// Error is a rule rejection. Metadata carries the identifying values that
// explain the rejection (ids, amounts) for clients that want to render them.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is lets errors.Is match two rule errors by code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// New returns a rule error with code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf returns a rule error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithMeta returns a copy of e carrying an extra metadata pair.
func (e *Error) WithMeta(key, value string) *Error {
	cp := *e
	cp.Metadata = make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		cp.Metadata[k] = v
	}
	cp.Metadata[key] = value
	return &cp
}

// Sentinel returns a message-less error usable as an errors.Is target.
func Sentinel(code Code) *Error {
	return &Error{Code: code}
}

// GetCode extracts the rule code from err, or CodeUnknown.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode reports whether err is a rule error with the given code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsRule reports whether err is a rule rejection rather than an
// infrastructure failure.
func IsRule(err error) bool {
	return err != nil && GetCode(err) != CodeUnknown
}
