package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the failure taxonomy shared by every stage
type ErrorKind string

const (
	KindConfig     ErrorKind = "config"
	KindBypass     ErrorKind = "bypass"
	KindAuth       ErrorKind = "auth"
	KindCheckIn    ErrorKind = "checkin"
	KindRedemption ErrorKind = "redemption"
	KindTransport  ErrorKind = "transport"
)

// ErrIncompleteCredentials is returned before any I/O when an identity lacks username or password
var ErrIncompleteCredentials = errors.New("incomplete credentials")

// StageError is a classified failure of one stage
type StageError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Reason is the user facing message without the kind prefix
func (e *StageError) Reason() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func NewConfigError(msg string) *StageError { return &StageError{Kind: KindConfig, Message: msg} }

// IncompleteCredentials is the config failure of an identity without username or password
func IncompleteCredentials() *StageError {
	return &StageError{Kind: KindConfig, Err: ErrIncompleteCredentials}
}

func NewBypassError(msg string, err error) *StageError {
	return &StageError{Kind: KindBypass, Message: msg, Err: err}
}

func NewAuthError(msg string, err error) *StageError {
	return &StageError{Kind: KindAuth, Message: msg, Err: err}
}

func NewCheckInError(msg string, err error) *StageError {
	return &StageError{Kind: KindCheckIn, Message: msg, Err: err}
}

func NewRedemptionError(msg string, err error) *StageError {
	return &StageError{Kind: KindRedemption, Message: msg, Err: err}
}

func NewTransportError(msg string, err error) *StageError {
	return &StageError{Kind: KindTransport, Message: msg, Err: err}
}

// KindOf returns the kind of a stage error, or empty for unclassified errors
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// ReasonOf returns the user facing reason of any error
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Reason()
	}
	return err.Error()
}
