//go:build linux

// Package reactor implements a single-threaded readiness-multiplexing loop over a Linux
// epoll instance (golang.org/x/sys/unix). Registration is (fd, interest, callback) ->
// Token; changing interest reuses the token. The reactor owns no business state, only
// event registrations, dispatching each readiness event to a single callback per
// registration.
package reactor

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"
)

// Interest is a bitmask of readiness a registration cares about.
type Interest uint8

const (
	Read Interest = 1 << iota
	Write
)

func (i Interest) epollEvents() uint32 {
	var ev uint32
	if i&Read != 0 {
		ev |= unix.EPOLLIN
	}
	if i&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Action tells the reactor what to do after a callback runs.
type Action int

const (
	// None leaves the registration untouched.
	None Action = iota
	// Unregister removes the registration entirely (the session is done with this fd).
	Unregister
)

// Callback is invoked with the readiness that fired. readable/writable/hup mirror the
// three conditions a socket state machine cares about: data to read, room to write, and
// peer hang-up/error.
type Callback func(readable, writable, hup bool) Action

// Token identifies one registration; re-registration with Modify reuses it.
type Token int

type registration struct {
	fd       int
	interest Interest
	cb       Callback
	timeout  time.Time // zero means no deadline
	onIdle   Callback  // invoked with (false,false,true) on idle timeout, may be nil
}

// Reactor is a single-threaded epoll event loop. All exported methods except Run are
// intended to be called only from within a Callback (i.e. on the reactor's own
// goroutine); no locking protects the registration map.
type Reactor struct {
	epfd      int
	regs      map[Token]*registration
	fdToToken map[int]Token
	next      Token
	log       hclog.Logger
	wake      [2]int // self-pipe, written on ctx cancellation to break EpollWait
	idleD     time.Duration // 0 disables idle sweeps
}

// New creates an epoll instance. idleSweep, if non-zero, is the granularity at which the
// loop checks registrations against their idle deadline.
func New(log hclog.Logger, idleSweep time.Duration) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	r := &Reactor{
		epfd:      epfd,
		regs:      make(map[Token]*registration),
		fdToToken: make(map[int]Token),
		log:       log,
		idleD:     idleSweep,
	}

	fds, err := selfPipe()
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	r.wake = fds

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, r.wake[0], &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(r.wake[0])}); err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl(wake): %w", err)
	}

	return r, nil
}

func selfPipe() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fds, fmt.Errorf("pipe2: %w", err)
	}
	return fds, nil
}

// Register adds fd to the epoll set with the given interest and callback, returning a
// Token for later Modify/Unregister calls.
func (r *Reactor) Register(fd int, interest Interest, cb Callback) (Token, error) {
	tok := r.next
	r.next++

	reg := &registration{fd: fd, interest: interest, cb: cb}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: interest.epollEvents(), Fd: int32(fd)}); err != nil {
		return 0, fmt.Errorf("epoll_ctl(add, fd=%d): %w", fd, err)
	}

	r.regs[tok] = reg
	r.fdToToken[fd] = tok
	if r.log != nil {
		r.log.Trace("registered", "fd", fd, "token", int(tok), "interest", interest)
	}
	return tok, nil
}

// Modify changes the interest for an existing registration, reusing its Token.
func (r *Reactor) Modify(tok Token, interest Interest) error {
	reg, ok := r.regs[tok]
	if !ok {
		return fmt.Errorf("reactor: unknown token %d", tok)
	}
	reg.interest = interest
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, reg.fd, &unix.EpollEvent{Events: interest.epollEvents(), Fd: int32(reg.fd)})
}

// SetIdleDeadline arms (or clears, with a zero time) an idle deadline on tok. When the
// deadline passes without any readiness firing for tok, onTimeout is invoked with
// hup=true, matching how a session reacts to a peer hang-up.
func (r *Reactor) SetIdleDeadline(tok Token, deadline time.Time, onTimeout Callback) {
	if reg, ok := r.regs[tok]; ok {
		reg.timeout = deadline
		reg.onIdle = onTimeout
	}
}

// Unregister removes tok from the epoll set. It does not close the underlying fd — that
// remains the owning caller's responsibility.
func (r *Reactor) Unregister(tok Token) error {
	reg, ok := r.regs[tok]
	if !ok {
		return nil
	}
	delete(r.regs, tok)
	delete(r.fdToToken, reg.fd)
	if r.log != nil {
		r.log.Trace("unregistered", "fd", reg.fd, "token", int(tok))
	}
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, reg.fd, nil)
}

// Len reports the number of live registrations, for tests and shutdown logging.
func (r *Reactor) Len() int { return len(r.regs) }

// Close releases the epoll fd and self-pipe. The loop must have already returned.
func (r *Reactor) Close() error {
	_ = unix.Close(r.wake[0])
	_ = unix.Close(r.wake[1])
	return unix.Close(r.epfd)
}

// Run drives the event loop until ctx is cancelled or epoll_wait returns a fatal error.
// Listeners are registered for the process lifetime, so in practice this only returns on
// external cancellation.
func (r *Reactor) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		var b [1]byte
		_, _ = unix.Write(r.wake[1], b[:])
	}()

	events := make([]unix.EpollEvent, 128)
	timeoutMs := -1
	if r.idleD > 0 {
		timeoutMs = int(r.idleD / time.Millisecond)
		if timeoutMs <= 0 {
			timeoutMs = 1
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, err := unix.EpollWait(r.epfd, events, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		if r.idleD > 0 {
			r.sweepIdle()
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)
			if fd == r.wake[0] {
				var buf [64]byte
				_, _ = unix.Read(r.wake[0], buf[:])
				continue
			}

			tok, ok := r.fdToToken[fd]
			if !ok {
				continue
			}
			reg := r.regs[tok]
			if reg == nil {
				continue
			}
			reg.timeout = time.Time{} // readiness resets the idle clock

			readable := ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0
			writable := ev.Events&unix.EPOLLOUT != 0
			hup := ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0

			r.dispatch(tok, reg, readable, writable, hup)
		}
	}
}

func (r *Reactor) runCallback(tok Token, cb Callback, readable, writable, hup bool) {
	if cb == nil {
		return
	}
	if action := cb(readable, writable, hup); action == Unregister {
		_ = r.Unregister(tok)
	}
}

func (r *Reactor) dispatch(tok Token, reg *registration, readable, writable, hup bool) {
	r.runCallback(tok, reg.cb, readable, writable, hup)
}

func (r *Reactor) sweepIdle() {
	now := time.Now()
	// Collect first: runCallback may call Unregister, which would mutate r.regs while
	// we range over it.
	var fired []Token
	for tok, reg := range r.regs {
		if reg.timeout.IsZero() || reg.onIdle == nil || now.Before(reg.timeout) {
			continue
		}
		fired = append(fired, tok)
	}
	for _, tok := range fired {
		reg, ok := r.regs[tok]
		if !ok {
			continue
		}
		reg.timeout = time.Time{}
		r.runCallback(tok, reg.onIdle, false, false, true)
	}
}
