package xerr

import (
	"errors"
	"fmt"
)

// Error codes. They decide how the operator reacts: ConfigInvalid stops the process at
// startup, everything else aborts the current cycle only.
const (
	OK            = 0
	ConfigInvalid = 100
	ChainRead     = 200
	Submission    = 300
	Unconfirmed   = 301
	Internal      = 500
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Err  error  `json:"-"`
}

func (e *CodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.Err }

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func Newf(code int, format string, args ...interface{}) error {
	return &CodeError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches code and msg to err. A nil err stays nil.
func Wrap(code int, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, Err: err}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// CodeOf returns the outermost code in err's chain, Internal for foreign errors and OK
// for nil.
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return Internal
}

// Is reports whether any CodeError in err's chain carries code.
func Is(err error, code int) bool {
	for err != nil {
		var ce *CodeError
		if !errors.As(err, &ce) {
			return false
		}
		if ce.Code == code {
			return true
		}
		err = ce.Err
	}
	return false
}

func MapErrMsg(code int) string {
	switch code {
	case ConfigInvalid:
		return "invalid configuration"
	case ChainRead:
		return "chain read failed"
	case Submission:
		return "submission failed"
	case Unconfirmed:
		return "transaction broadcast but not confirmed"
	case Internal:
		return "internal error"
	default:
		return "unknown error"
	}
}
