//go:build linux

package session_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"context"
	"net"

	"github.com/hashicorp/go-hclog"

	"github.com/hewenhao2008/dispatch-ng/internal/address"
	"github.com/hewenhao2008/dispatch-ng/internal/balancer"
	"github.com/hewenhao2008/dispatch-ng/internal/listener"
	"github.com/hewenhao2008/dispatch-ng/internal/reactor"
	"github.com/hewenhao2008/dispatch-ng/internal/session"
)

func TestSession(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Session State Machine Suite")
}

// freeLoopbackAddr reserves and immediately releases a loopback TCP port, for tests that
// need a deterministic address to bind the dispatcher's own listener to.
func freeLoopbackAddr() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).ToNot(HaveOccurred())
	defer l.Close()
	return l.Addr().String()
}

// dispatcherHarness runs a single-listener dispatcher (one configured interface per
// element of ifaceAddrs) against a real loopback socket, driven by its own reactor
// goroutine, so tests can dial it exactly like a real SOCKS5 client would.
type dispatcherHarness struct {
	addr string
	bal  *balancer.Manager
	lis  *listener.Listener
	stop context.CancelFunc
	done chan struct{}
}

func startDispatcher(ifaceAddrs ...string) *dispatcherHarness {
	react, err := reactor.New(hclog.NewNullLogger(), 0)
	Expect(err).ToNot(HaveOccurred())

	bal := balancer.NewManager()
	for _, a := range ifaceAddrs {
		host, err := address.HostFromString(a)
		Expect(err).ToNot(HaveOccurred())
		bal.Add(host, 1)
	}

	bindAddr := freeLoopbackAddr()
	sockAddr, err := address.SocketFromString(bindAddr, false)
	Expect(err).ToNot(HaveOccurred())

	resolver := session.NewSystemResolver()
	lis, err := listener.New(sockAddr, react, bal, resolver, nil, 0, hclog.NewNullLogger())
	Expect(err).ToNot(HaveOccurred())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = react.Run(ctx)
		_ = react.Close()
	}()

	// Give the reactor goroutine a moment to enter EpollWait before the first dial.
	time.Sleep(10 * time.Millisecond)

	return &dispatcherHarness{addr: bindAddr, bal: bal, lis: lis, stop: cancel, done: done}
}

func (h *dispatcherHarness) Close() {
	h.stop()
	<-h.done
	_ = h.lis.Close()
}

// echoServer starts a plain TCP listener that echoes whatever it receives back to the
// client, standing in for the real destination a CONNECT request targets.
func echoServer() (addr string, stop func()) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).ToNot(HaveOccurred())

	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 4096)
				for {
					n, err := c.Read(buf)
					if n > 0 {
						if _, werr := c.Write(buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						return
					}
				}
			}(c)
		}
	}()

	return l.Addr().String(), func() { _ = l.Close() }
}
