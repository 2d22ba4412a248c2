//go:build linux

// Package netio is a thin portable socket layer: it exposes non-blocking stream sockets
// (bind, listen, accept, connect, read, write, status retrieval) over raw syscalls,
// mapping every OS error through classify so the rest of the dispatcher never touches a
// syscall.Errno directly.
//
// The reactor integration point (Register in the reactor package) takes a Handle's file
// descriptor directly rather than wrapping epoll itself in this package, keeping
// connection state separate from the event loop that drives it.
package netio

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/hewenhao2008/dispatch-ng/internal/address"
	"github.com/hewenhao2008/dispatch-ng/internal/dispatcherr"
)

// Handle wraps a single non-blocking stream socket file descriptor. The zero value is
// not valid; construct one with BindSocket or Accept.
type Handle struct {
	mu     sync.Mutex
	fd     int
	family address.Family
	closed bool
}

// Fd returns the raw file descriptor, for reactor registration. Only valid while the
// Handle is open.
func (h *Handle) Fd() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fd
}

func toSockaddr(sa address.SocketAddress) (unix.Sockaddr, error) {
	switch sa.Host.Family() {
	case address.FamilyInet:
		b, _ := sa.Host.V4()
		return &unix.SockaddrInet4{Port: int(sa.Port), Addr: b}, nil
	case address.FamilyInet6:
		b, _ := sa.Host.V6()
		return &unix.SockaddrInet6{Port: int(sa.Port), Addr: b}, nil
	default:
		return nil, dispatcherr.New(dispatcherr.KindInvalidAddress, "unknown family", nil)
	}
}

func fromSockaddr(sa unix.Sockaddr) (address.SocketAddress, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return address.SocketAddress{Host: address.HostFromV4(v.Addr), Port: uint16(v.Port)}, nil
	case *unix.SockaddrInet6:
		return address.SocketAddress{Host: address.HostFromV6(v.Addr), Port: uint16(v.Port)}, nil
	default:
		return address.SocketAddress{}, dispatcherr.New(dispatcherr.KindUnsupported, "unsupported sockaddr", nil)
	}
}

func domainFor(f address.Family) (int, error) {
	switch f {
	case address.FamilyInet:
		return unix.AF_INET, nil
	case address.FamilyInet6:
		return unix.AF_INET6, nil
	default:
		return 0, dispatcherr.New(dispatcherr.KindInvalidAddress, "unknown family", nil)
	}
}

// BindSocket creates a non-blocking stream socket in the family of src.Host, sets
// SO_REUSEADDR, and binds it to src. Used both for inbound listeners and for
// outbound-before-connect sockets bound to a chosen Interface's source address.
func BindSocket(src address.SocketAddress) (*Handle, error) {
	domain, err := domainFor(src.Host.Family())
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, classify("socket", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, classify("setsockopt(SO_REUSEADDR)", err)
	}

	sa, err := toSockaddr(src)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, classify("bind", err)
	}

	return &Handle{fd: fd, family: src.Host.Family()}, nil
}

// Listen marks h as a passive socket with the system-maximum backlog.
func Listen(h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return dispatcherr.New(dispatcherr.KindInvalidHandle, "listen", nil)
	}
	return classify("listen", unix.Listen(h.fd, unix.SOMAXCONN))
}

// Accept accepts one pending connection on listener h. A KindAgain error means no
// connection is currently pending; the caller re-arms Read interest and retries on the
// next readiness event.
func Accept(h *Handle) (*Handle, address.SocketAddress, error) {
	h.mu.Lock()
	fd := h.fd
	closed := h.closed
	h.mu.Unlock()

	if closed {
		return nil, address.SocketAddress{}, dispatcherr.New(dispatcherr.KindInvalidHandle, "accept", nil)
	}

	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, address.SocketAddress{}, classify("accept", err)
	}

	peer, err := fromSockaddr(sa)
	if err != nil {
		_ = unix.Close(nfd)
		return nil, address.SocketAddress{}, err
	}

	family := address.FamilyInet
	if peer.Host.Family() == address.FamilyInet6 {
		family = address.FamilyInet6
	}

	return &Handle{fd: nfd, family: family}, peer, nil
}

// Connect starts a non-blocking connect to dst. The expected success path is a
// KindInProgress error; the caller registers Write interest and checks GetError once the
// socket becomes writable.
func Connect(h *Handle, dst address.SocketAddress) error {
	sa, err := toSockaddr(dst)
	if err != nil {
		return err
	}

	h.mu.Lock()
	fd := h.fd
	h.mu.Unlock()

	err = unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	return classify("connect", err)
}

// Read reads into buf. A KindAgain error means no data is currently available.
func Read(h *Handle, buf []byte) (int, error) {
	h.mu.Lock()
	fd := h.fd
	closed := h.closed
	h.mu.Unlock()

	if closed {
		return 0, dispatcherr.New(dispatcherr.KindInvalidHandle, "read", nil)
	}

	n, err := unix.Read(fd, buf)
	if err != nil {
		return 0, classify("read", err)
	}
	return n, nil
}

// Write writes buf. A KindAgain error means the socket's send buffer is currently full.
func Write(h *Handle, buf []byte) (int, error) {
	h.mu.Lock()
	fd := h.fd
	closed := h.closed
	h.mu.Unlock()

	if closed {
		return 0, dispatcherr.New(dispatcherr.KindInvalidHandle, "write", nil)
	}

	n, err := unix.Write(fd, buf)
	if err != nil {
		return 0, classify("write", err)
	}
	return n, nil
}

// SetBlocking toggles O_NONBLOCK on h. Every Handle starts non-blocking; this exists for
// API completeness and is not exercised by the reactor-driven session path.
func SetBlocking(h *Handle, blocking bool) error {
	h.mu.Lock()
	fd := h.fd
	h.mu.Unlock()
	return classify("set_blocking", unix.SetNonblock(fd, !blocking))
}

// GetError reads the pending SO_ERROR socket-level error, used after a writable-readiness
// event completes a non-blocking connect. A nil return means the connect succeeded.
func GetError(h *Handle) error {
	h.mu.Lock()
	fd := h.fd
	h.mu.Unlock()

	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return classify("getsockopt(SO_ERROR)", err)
	}
	if errno == 0 {
		return nil
	}
	return classify("connect", unix.Errno(errno))
}

// ShutdownWrite half-closes h's write side, used by a relay to propagate an EOF seen on
// one direction to the other peer once all buffered bytes have been flushed.
func ShutdownWrite(h *Handle) error {
	h.mu.Lock()
	fd := h.fd
	closed := h.closed
	h.mu.Unlock()

	if closed {
		return nil
	}
	return classify("shutdown(SHUT_WR)", unix.Shutdown(fd, unix.SHUT_WR))
}

// LocalAddr returns h's locally bound SocketAddress, used to populate BND.ADDR/BND.PORT
// in a successful CONNECT reply.
func LocalAddr(h *Handle) (address.SocketAddress, error) {
	h.mu.Lock()
	fd := h.fd
	h.mu.Unlock()

	sa, err := unix.Getsockname(fd)
	if err != nil {
		return address.SocketAddress{}, classify("getsockname", err)
	}
	return fromSockaddr(sa)
}

// Close always releases the OS file descriptor, even if already closed (idempotent).
func Close(h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return classify("close", unix.Close(h.fd))
}
