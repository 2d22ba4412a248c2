//go:build linux

// Package listener binds the dispatcher's inbound addresses and hands every accepted
// connection off to a new session.
package listener

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/hewenhao2008/dispatch-ng/internal/address"
	"github.com/hewenhao2008/dispatch-ng/internal/balancer"
	"github.com/hewenhao2008/dispatch-ng/internal/dispatcherr"
	"github.com/hewenhao2008/dispatch-ng/internal/netio"
	"github.com/hewenhao2008/dispatch-ng/internal/reactor"
	"github.com/hewenhao2008/dispatch-ng/internal/session"
)

// Listener owns one bound, listening socket and the sessions it has spawned.
type Listener struct {
	addr address.SocketAddress
	h    *netio.Handle
	tok  reactor.Token
	log  hclog.Logger

	react    *reactor.Reactor
	bal      *balancer.Manager
	resolver session.Resolver
	rec      session.Recorder
	idleD    time.Duration

	live map[*session.Session]struct{}
}

// New binds and listens on addr, registering it with react for Read readiness. Bind or
// listen failure is returned so the caller can abort startup.
func New(addr address.SocketAddress, react *reactor.Reactor, bal *balancer.Manager, resolver session.Resolver, rec session.Recorder, idleD time.Duration, log hclog.Logger) (*Listener, error) {
	h, err := netio.BindSocket(addr)
	if err != nil {
		return nil, err
	}
	if err := netio.Listen(h); err != nil {
		_ = netio.Close(h)
		return nil, err
	}

	l := &Listener{
		addr:     addr,
		h:        h,
		log:      log,
		react:    react,
		bal:      bal,
		resolver: resolver,
		rec:      rec,
		idleD:    idleD,
		live:     make(map[*session.Session]struct{}),
	}

	tok, err := react.Register(h.Fd(), reactor.Read, l.onReadable)
	if err != nil {
		_ = netio.Close(h)
		return nil, err
	}
	l.tok = tok
	return l, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() address.SocketAddress { return l.addr }

// SessionCount reports how many sessions this listener has spawned that are still alive.
func (l *Listener) SessionCount() int { return len(l.live) }

// onReadable accepts every pending connection in a loop until Accept returns KindAgain, as
// required for edge-triggered-equivalent level readiness under epoll.
func (l *Listener) onReadable(bool, bool, bool) reactor.Action {
	for {
		conn, peer, err := netio.Accept(l.h)
		if err != nil {
			if dispatcherr.KindOf(err) == dispatcherr.KindAgain {
				return reactor.None
			}
			if l.log != nil {
				l.log.Warn("accept failed", "listener", address.SocketToString(l.addr), "kind", dispatcherr.KindOf(err))
			}
			return reactor.None
		}

		id := uuid.NewString()
		if l.log != nil {
			l.log.Debug("accepted", "session", id, "listener", address.SocketToString(l.addr), "peer", address.SocketToString(peer))
		}

		sess := session.New(id, l.log, l.react, l.bal, l.resolver, l.rec, l.idleD, conn, l.onSessionClosed)
		l.live[sess] = struct{}{}
		if err := sess.Start(); err != nil {
			if l.log != nil {
				l.log.Warn("session start failed", "session", id, "err", err)
			}
			delete(l.live, sess)
			_ = netio.Close(conn)
		}
	}
}

func (l *Listener) onSessionClosed(s *session.Session) {
	delete(l.live, s)
}

// Close unregisters and closes the listening socket. It does not touch live sessions.
func (l *Listener) Close() error {
	_ = l.react.Unregister(l.tok)
	return netio.Close(l.h)
}
