package domain

import "errors"

// Code is a stable, client-visible failure reason.
type Code string

const (
	CodeAlreadyHasSession Code = "AlreadyHasSession"
	CodeSessionNotFound   Code = "SessionNotFound"
	CodeSelfJoin          Code = "SelfJoin"
	CodeNotAParticipant   Code = "NotAParticipant"
	CodeOutOfTurn         Code = "OutOfTurn"
	CodeInvalidCell       Code = "InvalidCell"
	CodeCellOccupied      Code = "CellOccupied"
	CodeCapacityExceeded  Code = "CapacityExceeded"
	CodeAlreadyConnected  Code = "AlreadyConnected"
	CodeStoreUnavailable  Code = "StoreUnavailable"
	CodeBrokerUnavailable Code = "BrokerUnavailable"
	CodeOperationFailed   Code = "OperationFailed"
	CodeGameFinished      Code = "GameFinished"
	CodeUnauthorized      Code = "Unauthorized"
	CodeBadRequest        Code = "BadRequest"
)

// Error is a coded failure. Two Errors match under errors.Is when their codes
// are equal, so sentinels can be compared against wrapped instances.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrAlreadyHasSession = &Error{Code: CodeAlreadyHasSession, Message: "participant already has a waiting or active session"}
	ErrSessionNotFound   = &Error{Code: CodeSessionNotFound, Message: "session not found"}
	ErrSelfJoin          = &Error{Code: CodeSelfJoin, Message: "cannot join your own session"}
	ErrNotAParticipant   = &Error{Code: CodeNotAParticipant, Message: "not a participant of this session"}
	ErrOutOfTurn         = &Error{Code: CodeOutOfTurn, Message: "not your turn"}
	ErrInvalidCell       = &Error{Code: CodeInvalidCell, Message: "cell index out of range"}
	ErrCellOccupied      = &Error{Code: CodeCellOccupied, Message: "cell already occupied"}
	ErrCapacityExceeded  = &Error{Code: CodeCapacityExceeded, Message: "session already has two participants"}
	ErrAlreadyConnected  = &Error{Code: CodeAlreadyConnected, Message: "participant already connected"}
	ErrStoreUnavailable  = &Error{Code: CodeStoreUnavailable, Message: "session store unavailable"}
	ErrBrokerUnavailable = &Error{Code: CodeBrokerUnavailable, Message: "event broker unavailable"}
	ErrOperationFailed   = &Error{Code: CodeOperationFailed, Message: "operation failed"}
	ErrGameFinished      = &Error{Code: CodeGameFinished, Message: "game already finished"}
	ErrUnauthorized      = &Error{Code: CodeUnauthorized, Message: "authentication failed"}
	ErrBadRequest        = &Error{Code: CodeBadRequest, Message: "bad request"}
)

var defaults = map[Code]*Error{}

func init() {
	for _, e := range []*Error{
		ErrAlreadyHasSession, ErrSessionNotFound, ErrSelfJoin, ErrNotAParticipant,
		ErrOutOfTurn, ErrInvalidCell, ErrCellOccupied, ErrCapacityExceeded,
		ErrAlreadyConnected, ErrStoreUnavailable, ErrBrokerUnavailable,
		ErrOperationFailed, ErrGameFinished, ErrUnauthorized, ErrBadRequest,
	} {
		defaults[e.Code] = e
	}
}

// Wrap attaches cause to a coded error.
func Wrap(code Code, cause error) error {
	msg := string(code)
	if d, ok := defaults[code]; ok {
		msg = d.Message
	}
	return &Error{Code: code, Message: msg, Err: cause}
}

// CodeOf returns the outermost code in err's chain, OperationFailed for
// foreign errors and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeOperationFailed
}

// DefaultMessage returns the built-in text for code.
func DefaultMessage(code Code) string {
	if d, ok := defaults[code]; ok {
		return d.Message
	}
	return string(code)
}

// IsClientError reports whether code describes a caller mistake rather than
// a backend fault.
func IsClientError(code Code) bool {
	switch code {
	case CodeStoreUnavailable, CodeBrokerUnavailable, CodeOperationFailed, "":
		return false
	}
	return true
}

// IsBackendFault reports whether err carries a store or broker outage
// anywhere in its chain.
func IsBackendFault(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrBrokerUnavailable)
}
