package domain

import (
	"errors"
	"fmt"
)

// Kind classifica o erro para a fronteira HTTP
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindConflict            Kind = "conflict"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindNotFound            Kind = "not_found"
	KindAuthorization       Kind = "authorization_error"
	KindInternal            Kind = "internal"
)

// Error é um erro de negócio com tipo conhecido.
// Use como sentinel e acrescente detalhe com fmt.Errorf("%w: ...", ErrX).
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newErr(k Kind, msg string) *Error { return &Error{Kind: k, Msg: msg} }

var (
	ErrValidation          = newErr(KindValidation, "invalid input")
	ErrInvalidStake        = newErr(KindValidation, "stake must be a positive integer")
	ErrInvalidOdds         = newErr(KindValidation, "odds must be >= 1.01 with at most two decimals")
	ErrInvalidMarket       = newErr(KindValidation, "invalid market definition")
	ErrInvalidAmount       = newErr(KindValidation, "amount must be non-zero")
	ErrSelectionNotFound   = newErr(KindValidation, "selection not found")
	ErrWinnerNotInMarket   = newErr(KindValidation, "winning selection does not belong to market")
	ErrInvalidStatus       = newErr(KindValidation, "unknown status")
	ErrNotFound            = newErr(KindNotFound, "not found")
	ErrUserNotFound        = newErr(KindNotFound, "user not found")
	ErrMarketNotFound      = newErr(KindNotFound, "market not found")
	ErrBetNotFound         = newErr(KindNotFound, "bet not found")
	ErrTournamentNotFound  = newErr(KindNotFound, "tournament not found")
	ErrEventNotFound       = newErr(KindNotFound, "event not found")
	ErrMarketNotOpen       = newErr(KindConflict, "market is not open for betting")
	ErrMarketNotLocked     = newErr(KindConflict, "market must be locked")
	ErrInvalidTransition   = newErr(KindConflict, "invalid status transition")
	ErrRequiresSettlement  = newErr(KindConflict, "settled/voided must go through settlement")
	ErrAlreadyResolved     = newErr(KindConflict, "market already resolved")
	ErrResolutionMismatch  = newErr(KindConflict, "market has a different pending resolution")
	ErrResolutionPending   = newErr(KindConflict, "market has a pending resolution")
	ErrBetTerminal         = newErr(KindConflict, "bet already in a terminal state")
	ErrOddsChanged         = newErr(KindConflict, "odds changed")
	ErrOddsLocked          = newErr(KindConflict, "odds can no longer be changed")
	ErrDuplicate           = newErr(KindConflict, "already exists")
	ErrInsufficientBalance = newErr(KindInsufficientBalance, "insufficient balance")
	ErrForbidden           = newErr(KindAuthorization, "admin role required")
	ErrUserInactive        = newErr(KindAuthorization, "account is deactivated")
)

// KindOf retorna o tipo do erro; erros desconhecidos são internos
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Errorf acrescenta detalhe legível mantendo o sentinel na cadeia
func Errorf(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
