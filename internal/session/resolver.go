//go:build linux

package session

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/hewenhao2008/dispatch-ng/internal/address"
	"github.com/hewenhao2008/dispatch-ng/internal/dispatcherr"
)

// Resolver looks up a domain name requested via ATYP=3 and returns one address to dial.
// The reactor's own loop never blocks; a Resolver implementation is free to do so because
// every call to it runs on a dedicated goroutine, which signals completion back onto the
// reactor goroutine through a readiness event rather than a direct callback (see
// resolveJob).
type Resolver interface {
	Resolve(name string, preferV6 bool) (address.HostAddress, error)
}

// systemResolver uses the standard net package. Name resolution is the one documented
// exception to this dispatcher's no-blocking-call rule: a domain name must be turned into
// an address before a connect can even be attempted, and the stub resolver offers no
// non-blocking form.
type systemResolver struct{}

// NewSystemResolver returns the default Resolver, backed by the OS stub resolver.
func NewSystemResolver() Resolver { return systemResolver{} }

func (systemResolver) Resolve(name string, preferV6 bool) (address.HostAddress, error) {
	ips, err := net.LookupIP(name)
	if err != nil {
		return address.HostAddress{}, dispatcherr.New(dispatcherr.KindHostUnreachable, "resolve "+name, err)
	}

	var firstV4, firstV6 *net.IP
	for i := range ips {
		ip := ips[i]
		if v4 := ip.To4(); v4 != nil {
			if firstV4 == nil {
				firstV4 = &ips[i]
			}
			continue
		}
		if firstV6 == nil {
			firstV6 = &ips[i]
		}
	}

	pick := firstV4
	if preferV6 && firstV6 != nil {
		pick = firstV6
	}
	if pick == nil {
		pick = firstV6
	}
	if pick == nil {
		return address.HostAddress{}, dispatcherr.New(dispatcherr.KindHostUnreachable, "no address for "+name, nil)
	}

	if v4 := pick.To4(); v4 != nil {
		var b [4]byte
		copy(b[:], v4)
		return address.HostFromV4(b), nil
	}
	var b [16]byte
	copy(b[:], pick.To16())
	return address.HostFromV6(b), nil
}

// resolveJob runs one Resolve call on its own goroutine and signals completion to the
// reactor goroutine through a pipe, so the result can be picked up as an ordinary
// readiness event instead of requiring the reactor to support arbitrary channel selects.
type resolveJob struct {
	readFd, writeFd int

	mu     sync.Mutex
	host   address.HostAddress
	err    error
	done   bool
}

func startResolveJob(r Resolver, name string, preferV6 bool) (*resolveJob, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, dispatcherr.New(dispatcherr.KindGeneric, "resolve pipe", err)
	}

	j := &resolveJob{readFd: fds[0], writeFd: fds[1]}
	go func() {
		host, err := r.Resolve(name, preferV6)
		j.mu.Lock()
		j.host, j.err, j.done = host, err, true
		j.mu.Unlock()
		var b [1]byte
		_, _ = unix.Write(j.writeFd, b[:])
	}()
	return j, nil
}

// result returns the job's outcome. Only meaningful once the pipe has signalled readable.
func (j *resolveJob) result() (address.HostAddress, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.host, j.err
}

func (j *resolveJob) close() {
	_ = unix.Close(j.readFd)
	_ = unix.Close(j.writeFd)
}
