package smartquery

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownAttribute    = errors.New("unknown attribute")
	ErrUnknownOperator     = errors.New("unknown operator")
	ErrUnknownRelation     = errors.New("unknown relation")
	ErrInvalidLoadStrategy = errors.New("invalid load strategy")
	ErrInvalidFilterValue  = errors.New("invalid filter value")
	ErrNotFound            = errors.New("not found")
	ErrMultipleFound       = errors.New("multiple rows found")
)

// TokenError привязывает ошибку разбора к токену фильтра/сортировки/пути.
type TokenError struct {
	Token  string
	Detail string
	Err    error
}

func (e *TokenError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v: %q", e.Err, e.Token)
	}
	return fmt.Sprintf("%v: %q: %s", e.Err, e.Token, e.Detail)
}

func (e *TokenError) Unwrap() error { return e.Err }

func tokenErr(err error, token, detail string, args ...any) error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &TokenError{Token: token, Detail: detail, Err: err}
}
