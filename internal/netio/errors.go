package netio

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/hewenhao2008/dispatch-ng/internal/dispatcherr"
)

// classify maps a raw syscall errno (or any other error) onto the closed Kind taxonomy.
// This is the single place where OS errors get mapped into that closed set — every other
// package only ever sees a *dispatcherr.Error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var errno unix.Errno
	if !errors.As(err, &errno) {
		return dispatcherr.New(dispatcherr.KindGeneric, op, err)
	}

	switch errno {
	case unix.EAGAIN, unix.EWOULDBLOCK:
		return dispatcherr.New(dispatcherr.KindAgain, op, err)
	case unix.EINPROGRESS:
		return dispatcherr.New(dispatcherr.KindInProgress, op, err)
	case unix.EALREADY, unix.EISCONN:
		return dispatcherr.New(dispatcherr.KindAlreadyConnected, op, err)
	case unix.EBADF, unix.ENOTSOCK:
		return dispatcherr.New(dispatcherr.KindInvalidHandle, op, err)
	case unix.EAFNOSUPPORT, unix.EINVAL, unix.EADDRNOTAVAIL:
		return dispatcherr.New(dispatcherr.KindInvalidAddress, op, err)
	case unix.ETIMEDOUT:
		return dispatcherr.New(dispatcherr.KindTimeout, op, err)
	case unix.ENETUNREACH, unix.ENETDOWN:
		return dispatcherr.New(dispatcherr.KindNetUnreachable, op, err)
	case unix.EHOSTUNREACH, unix.EHOSTDOWN:
		return dispatcherr.New(dispatcherr.KindHostUnreachable, op, err)
	case unix.ECONNREFUSED:
		return dispatcherr.New(dispatcherr.KindConnectionRefused, op, err)
	case unix.EPROTONOSUPPORT, unix.EOPNOTSUPP, unix.EPFNOSUPPORT:
		return dispatcherr.New(dispatcherr.KindUnsupported, op, err)
	default:
		return dispatcherr.New(dispatcherr.KindGeneric, op, err)
	}
}

// ErrorFilter drops the noisy "closing an already-closed handle" class of error so
// callers logging session teardown don't spam a message for the routine case.
func ErrorFilter(err error) error {
	if err == nil {
		return nil
	}
	if dispatcherr.Is(err, dispatcherr.KindInvalidHandle) {
		return nil
	}
	return err
}
