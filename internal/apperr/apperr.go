// Package apperr holds the domain error taxonomy. Every error carries a Kind, a stable Code and
// the offending tracking numbers / ids so callers can present or retry with corrected input.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type Kind int

const (
	KindInvalidTransition Kind = iota + 1
	KindConsistency
	KindNotFound
	KindBusinessRule
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindInvalidTransition:
		return "invalid_transition"
	case KindConsistency:
		return "consistency_violation"
	case KindNotFound:
		return "not_found"
	case KindBusinessRule:
		return "business_rule_violation"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind            Kind
	Code            string
	Message         string
	TrackingNumbers []string
	IDs             []int64
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.TrackingNumbers) > 0 {
		fmt.Fprintf(&b, " (tracking numbers: %s)", strings.Join(e.TrackingNumbers, ", "))
	}
	if len(e.IDs) > 0 {
		fmt.Fprintf(&b, " (ids: %v)", e.IDs)
	}
	return b.String()
}

// Is matches on Code, so errors.Is(err, apperr.ErrAlreadyBoxed) works for any detailed copy.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) with(msg string) *Error {
	c := *e
	c.Message = msg
	c.TrackingNumbers = nil
	c.IDs = nil
	return &c
}

// New returns a copy of the sentinel with a message.
func (e *Error) New(format string, args ...any) *Error {
	return e.with(fmt.Sprintf(format, args...))
}

func (e *Error) WithTrackingNumbers(tns ...string) *Error {
	c := *e
	c.TrackingNumbers = append(append([]string(nil), e.TrackingNumbers...), tns...)
	return &c
}

func (e *Error) WithIDs(ids ...int64) *Error {
	c := *e
	c.IDs = append(append([]int64(nil), e.IDs...), ids...)
	return &c
}

var (
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Code: "InvalidTransition"}

	ErrAgentCodeMismatch        = &Error{Kind: KindConsistency, Code: "AgentCodeMismatch"}
	ErrInvalidAgentCodeForChain = &Error{Kind: KindConsistency, Code: "InvalidAgentCodeForChain"}
	ErrAlreadyBoxed             = &Error{Kind: KindConsistency, Code: "AlreadyBoxed"}
	ErrPieceNotBoxed            = &Error{Kind: KindConsistency, Code: "PieceNotBoxed"}
	ErrBoxCommitted             = &Error{Kind: KindConsistency, Code: "BoxCommitted"}
	ErrAlreadyCommitted         = &Error{Kind: KindConsistency, Code: "AlreadyCommitted"}
	ErrParcelHasBoxedPieces     = &Error{Kind: KindConsistency, Code: "ParcelHasBoxedPieces"}
	ErrMultiPieceChain          = &Error{Kind: KindConsistency, Code: "MultiPieceChain"}
	ErrPieceParcelMismatch      = &Error{Kind: KindConsistency, Code: "PieceParcelMismatch"}
	ErrParcelOnHold             = &Error{Kind: KindConsistency, Code: "ParcelOnHold"}

	ErrNotFound = &Error{Kind: KindNotFound, Code: "NotFound"}

	ErrAgentCodeRequired                = &Error{Kind: KindBusinessRule, Code: "AgentCodeRequired"}
	ErrPieceIDRequired                  = &Error{Kind: KindBusinessRule, Code: "PieceIdRequired"}
	ErrInvalidSplit                     = &Error{Kind: KindBusinessRule, Code: "InvalidSplit"}
	ErrInsufficientPackingRequestCredit = &Error{Kind: KindBusinessRule, Code: "InsufficientPackingRequestCredit"}
	ErrTrackingItemsAreBeingHold        = &Error{Kind: KindBusinessRule, Code: "TrackingItemsAreBeingHold"}
	ErrTrackingItemsAreAlreadyBoxed     = &Error{Kind: KindBusinessRule, Code: "TrackingItemsAreAlreadyBoxed"}
	ErrTrackingItemsAreAlreadyRepacked  = &Error{Kind: KindBusinessRule, Code: "TrackingItemsAreAlreadyRepacked"}
	ErrRequestTypeMismatch              = &Error{Kind: KindBusinessRule, Code: "RequestTypeMismatch"}

	ErrInvalidArgument = &Error{Kind: KindValidation, Code: "InvalidArgument"}
)

// NotFound builds a not-found error for an entity.
func NotFound(entity string, id int64) *Error {
	return ErrNotFound.New("%s %d not found", entity, id).WithIDs(id)
}

// KindOf returns the kind of the first *Error in the chain, or 0 for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
