package gnoracle

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Error is a wrapper around an standard error that allows
// to print the stack trace from the call of the constructor.
type Error struct {
	err   error
	msg   string
	fatal bool
	frame xerrors.Frame
}

// ErrorOrNil returns the error if any with the stack trace
// beginning at the call of the function.
func ErrorOrNil(err error, msg string) error {
	return errorOrNilSkip(err, msg, false, 1)
}

// ErrorOrNilSkip returns the error if any with the stack trace
// beginning at the call of the skip-nth caller.
func ErrorOrNilSkip(err error, msg string, skip int) error {
	return errorOrNilSkip(err, msg, false, skip)
}

// Fatal marks the error as one that must stop the oracle. Only the loss of
// the block subscription is treated that way, a failing request is logged
// and skipped.
func Fatal(err error, msg string) error {
	return errorOrNilSkip(err, msg, true, 1)
}

// IsFatal returns true if any error of the chain has been created by Fatal.
func IsFatal(err error) bool {
	var e *Error
	for err != nil {
		if !xerrors.As(err, &e) {
			return false
		}
		if e.fatal {
			return true
		}
		err = e.err
	}
	return false
}

func errorOrNilSkip(err error, msg string, fatal bool, skip int) error {
	if err == nil {
		return nil
	}
	return &Error{
		err:   err,
		msg:   msg,
		fatal: fatal,
		frame: xerrors.Caller(skip + 1),
	}
}

func (e *Error) Error() string {
	if e.msg != "" {
		return e.msg + ": " + fmt.Sprintf("%v", e.err)
	}
	return fmt.Sprintf("%v", e.err)
}

// Unwrap returns the next error in the chain.
func (e *Error) Unwrap() error {
	return e.err
}

// Format prints the error to the formatter.
func (e *Error) Format(f fmt.State, c rune) {
	xerrors.FormatError(e, f, c)
}

// FormatError prints the error to the printer. It prints
// the stack trace when the '+' is used in combination with
// 'v'.
func (e *Error) FormatError(p xerrors.Printer) error {
	if e.msg != "" {
		p.Printf("%s: %v", e.msg, e.err)
	} else {
		p.Printf("%v", e.err)
	}

	if p.Detail() {
		e.frame.Format(p)
		p.Printf("%+v", e.err)
	}
	return nil
}
