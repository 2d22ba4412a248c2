//go:build linux

package session

import (
	"encoding/binary"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hewenhao2008/dispatch-ng/internal/address"
	"github.com/hewenhao2008/dispatch-ng/internal/balancer"
	"github.com/hewenhao2008/dispatch-ng/internal/dispatcherr"
	"github.com/hewenhao2008/dispatch-ng/internal/netio"
	"github.com/hewenhao2008/dispatch-ng/internal/reactor"
)

// Recorder receives session lifecycle events for metrics export. A nil Recorder is valid;
// every call site checks before invoking it.
type Recorder interface {
	SessionOpened()
	SessionClosed(outcome string)
	BytesRelayed(n int)
}

// Session drives one client connection through the SOCKS5 dialogue: greeting, CONNECT
// request, outbound connect, full-duplex relay, and a final reply-then-close path for any
// failure along the way. A Session never blocks; every step is driven by a reactor
// readiness callback, except the one resolveJob goroutine used for ATYP=domain lookups.
type Session struct {
	id  string
	log hclog.Logger

	react    *reactor.Reactor
	bal      *balancer.Manager
	resolver Resolver
	rec      Recorder
	idleD    time.Duration

	inbound *netio.Handle
	inTok   reactor.Token

	outbound *netio.Handle
	outTok   reactor.Token

	iface *balancer.Interface

	state State

	parseBuf []byte
	parseLen int

	reqATYP   byte
	reqDomain string
	reqPort   uint16
	reqHost   address.HostAddress

	resolve    *resolveJob
	resolveTok reactor.Token

	reply    []byte
	replyPos int
	thenDone bool // after writing reply, transition straight to StateDone instead of relaying

	c2r, r2c *pipe

	onClose func(*Session)
}

// New builds a Session around an already-accepted inbound connection. Call Start to
// register it with the reactor and begin the greeting read.
func New(id string, log hclog.Logger, react *reactor.Reactor, bal *balancer.Manager, resolver Resolver, rec Recorder, idleD time.Duration, inbound *netio.Handle, onClose func(*Session)) *Session {
	return &Session{
		id:       id,
		log:      log,
		react:    react,
		bal:      bal,
		resolver: resolver,
		rec:      rec,
		idleD:    idleD,
		inbound:  inbound,
		state:    StateGreetingRead,
		parseBuf: make([]byte, maxRequestBytes),
		onClose:  onClose,
	}
}

// Start registers the inbound socket for read readiness and begins the greeting exchange.
func (s *Session) Start() error {
	tok, err := s.react.Register(s.inbound.Fd(), reactor.Read, s.onInbound)
	if err != nil {
		return err
	}
	s.inTok = tok
	s.armIdle(tok)
	if s.rec != nil {
		s.rec.SessionOpened()
	}
	return nil
}

func (s *Session) armIdle(tok reactor.Token) {
	if s.idleD <= 0 {
		return
	}
	s.react.SetIdleDeadline(tok, time.Now().Add(s.idleD), func(bool, bool, bool) reactor.Action {
		return s.fail("idle timeout", dispatcherr.New(dispatcherr.KindTimeout, "idle", nil))
	})
}

// onInbound is the Callback registered against s.inbound's token.
func (s *Session) onInbound(readable, writable, hup bool) reactor.Action {
	if hup && !readable && !writable {
		return s.fail("inbound hangup", dispatcherr.New(dispatcherr.KindConnectionRefused, "peer hangup", nil))
	}

	switch s.state {
	case StateGreetingRead:
		return s.readGreeting()
	case StateGreetingWrite:
		return s.writeGreeting()
	case StateRequestRead:
		return s.readRequest()
	case StateReplyWriteThenClose:
		return s.writeReply()
	case StateRelaying:
		return s.relayInbound(readable, writable)
	default:
		return reactor.None
	}
}

// onOutbound is the Callback registered against s.outbound's token, once one exists.
func (s *Session) onOutbound(readable, writable, hup bool) reactor.Action {
	switch s.state {
	case StateConnecting:
		return s.finishConnect()
	case StateRelaying:
		return s.relayOutbound(readable, writable)
	default:
		return reactor.None
	}
}

func (s *Session) readGreeting() reactor.Action {
	n, err := netio.Read(s.inbound, s.parseBuf[s.parseLen:maxGreetingBytes])
	if err != nil {
		if dispatcherr.KindOf(err) == dispatcherr.KindAgain {
			return reactor.None
		}
		return s.fail("read greeting", err)
	}
	if n == 0 {
		return s.fail("eof during greeting", dispatcherr.New(dispatcherr.KindConnectionRefused, "eof", nil))
	}
	s.parseLen += n

	if s.parseLen < 2 {
		return reactor.None
	}
	nmethods := int(s.parseBuf[1])
	want := 2 + nmethods
	if s.parseLen < want {
		if s.parseLen >= maxGreetingBytes {
			return s.fail("greeting overflow", dispatcherr.New(dispatcherr.KindUnsupported, "greeting too long", nil))
		}
		return reactor.None
	}

	if s.parseBuf[0] != socksVersion {
		return s.fail("bad version", dispatcherr.New(dispatcherr.KindUnsupported, "not socks5", nil))
	}

	s.parseLen = 0
	s.state = StateGreetingWrite
	s.reply = []byte{socksVersion, authNoAuth}
	s.replyPos = 0
	return s.writeGreeting()
}

func (s *Session) writeGreeting() reactor.Action {
	n, err := netio.Write(s.inbound, s.reply[s.replyPos:])
	if err != nil {
		if dispatcherr.KindOf(err) == dispatcherr.KindAgain {
			_ = s.react.Modify(s.inTok, reactor.Read|reactor.Write)
			return reactor.None
		}
		return s.fail("write greeting", err)
	}
	s.replyPos += n
	if s.replyPos < len(s.reply) {
		_ = s.react.Modify(s.inTok, reactor.Read|reactor.Write)
		return reactor.None
	}

	s.reply = nil
	s.replyPos = 0
	s.state = StateRequestRead
	_ = s.react.Modify(s.inTok, reactor.Read)
	return reactor.None
}

func (s *Session) readRequest() reactor.Action {
	n, err := netio.Read(s.inbound, s.parseBuf[s.parseLen:])
	if err != nil {
		if dispatcherr.KindOf(err) == dispatcherr.KindAgain {
			return reactor.None
		}
		return s.fail("read request", err)
	}
	if n == 0 {
		return s.fail("eof during request", dispatcherr.New(dispatcherr.KindConnectionRefused, "eof", nil))
	}
	s.parseLen += n

	if s.parseLen < 4 {
		return reactor.None
	}

	atyp := s.parseBuf[3]
	var addrLen, need int
	switch atyp {
	case atypIPv4:
		addrLen = 4
	case atypDomain:
		if s.parseLen < 5 {
			return reactor.None
		}
		addrLen = 1 + int(s.parseBuf[4])
	case atypIPv6:
		addrLen = 16
	default:
		return s.replyAndClose(dispatcherr.ReplyAddressNotSupported)
	}
	need = 4 + addrLen + 2
	if s.parseLen < need {
		return reactor.None
	}

	if s.parseBuf[0] != socksVersion {
		return s.fail("bad request version", dispatcherr.New(dispatcherr.KindUnsupported, "not socks5", nil))
	}
	if s.parseBuf[1] != cmdConnect {
		return s.replyAndClose(dispatcherr.ReplyCommandNotSupported)
	}

	s.reqATYP = atyp
	portOff := 4 + addrLen
	s.reqPort = binary.BigEndian.Uint16(s.parseBuf[portOff : portOff+2])

	switch atyp {
	case atypIPv4:
		var b [4]byte
		copy(b[:], s.parseBuf[4:8])
		s.reqHost = address.HostFromV4(b)
		return s.haveDestination()
	case atypIPv6:
		var b [16]byte
		copy(b[:], s.parseBuf[4:20])
		s.reqHost = address.HostFromV6(b)
		return s.haveDestination()
	case atypDomain:
		dlen := int(s.parseBuf[4])
		s.reqDomain = string(s.parseBuf[5 : 5+dlen])
		return s.beginResolve()
	}
	return reactor.None
}

func (s *Session) beginResolve() reactor.Action {
	job, err := startResolveJob(s.resolver, s.reqDomain, false)
	if err != nil {
		return s.replyAndClose(dispatcherr.ReplyGeneralFailure)
	}
	s.resolve = job

	tok, err := s.react.Register(job.readFd, reactor.Read, s.onResolveReady)
	if err != nil {
		job.close()
		return s.replyAndClose(dispatcherr.ReplyGeneralFailure)
	}
	s.resolveTok = tok
	return reactor.None
}

func (s *Session) onResolveReady(bool, bool, bool) reactor.Action {
	host, err := s.resolve.result()
	s.resolve.close()
	s.resolve = nil

	if err != nil {
		s.writeFailureAndClose(dispatcherr.KindOf(err).ReplyCode())
		return reactor.Unregister
	}

	s.reqHost = host
	// haveDestination's returned Action applies to the resolve-pipe registration
	// currently dispatching (s.resolveTok), not to inTok/outTok, which it manages
	// directly via react.Register/Unregister calls.
	s.haveDestination()
	return reactor.Unregister
}

func (s *Session) haveDestination() reactor.Action {
	familyMask := s.reqHost.Family().FamilyMask()
	iface := s.bal.Acquire(familyMask)
	if iface == nil {
		return s.replyAndClose(dispatcherr.ReplyNetworkUnreachable)
	}
	s.iface = iface

	src := address.SocketAddress{Host: iface.Addr(), Port: 0}
	h, err := netio.BindSocket(src)
	if err != nil {
		s.bal.Release(iface)
		s.iface = nil
		return s.replyAndClose(dispatcherr.KindOf(err).ReplyCode())
	}

	dst := address.SocketAddress{Host: s.reqHost, Port: s.reqPort}
	if err := netio.Connect(h, dst); err != nil && dispatcherr.KindOf(err) != dispatcherr.KindInProgress {
		_ = netio.Close(h)
		s.bal.Release(iface)
		s.iface = nil
		return s.replyAndClose(dispatcherr.KindOf(err).ReplyCode())
	}

	s.outbound = h
	tok, err := s.react.Register(h.Fd(), reactor.Write, s.onOutbound)
	if err != nil {
		_ = netio.Close(h)
		s.bal.Release(iface)
		s.iface = nil
		return s.replyAndClose(dispatcherr.ReplyGeneralFailure)
	}
	s.outTok = tok
	s.state = StateConnecting
	return reactor.None
}

func (s *Session) finishConnect() reactor.Action {
	if err := netio.GetError(s.outbound); err != nil {
		s.writeFailureAndClose(dispatcherr.KindOf(err).ReplyCode())
		return reactor.None
	}

	local, err := netio.LocalAddr(s.outbound)
	if err != nil {
		local = address.SocketAddress{}
	}

	s.reply = buildReply(dispatcherr.ReplySucceeded, local)
	s.replyPos = 0
	s.thenDone = false
	s.state = StateReplyWriteThenClose
	_ = s.react.Modify(s.inTok, reactor.Read|reactor.Write)
	return s.writeReply()
}

// replyAndClose prepares a failure reply with no bound address and transitions to
// StateReplyWriteThenClose, where the inbound socket is still writable.
func (s *Session) replyAndClose(rep byte) reactor.Action {
	s.reply = failureReply(rep)
	s.replyPos = 0
	s.thenDone = true
	s.state = StateReplyWriteThenClose
	_ = s.react.Modify(s.inTok, reactor.Read|reactor.Write)
	return reactor.None
}

// writeFailureAndClose is replyAndClose for failures discovered after the request was fully
// parsed (connect and resolve failures): it first closes the outbound socket and releases
// the interface, if either is held.
func (s *Session) writeFailureAndClose(rep byte) {
	if s.outbound != nil {
		_ = s.react.Unregister(s.outTok)
		_ = netio.Close(s.outbound)
		s.outbound = nil
	}
	if s.iface != nil {
		s.bal.Release(s.iface)
		s.iface = nil
	}
	s.replyAndClose(rep)
}

func (s *Session) writeReply() reactor.Action {
	n, err := netio.Write(s.inbound, s.reply[s.replyPos:])
	if err != nil {
		if dispatcherr.KindOf(err) == dispatcherr.KindAgain {
			return reactor.None
		}
		return s.fail("write reply", err)
	}
	s.replyPos += n
	if s.replyPos < len(s.reply) {
		return reactor.None
	}

	if s.thenDone {
		return s.finish("rejected")
	}

	s.reply = nil
	s.c2r = newPipe(relayBufferSize)
	s.r2c = newPipe(relayBufferSize)
	s.state = StateRelaying
	_ = s.react.Modify(s.inTok, reactor.Read)
	_ = s.react.Modify(s.outTok, reactor.Read)
	return reactor.None
}

// relayInbound handles readiness on the client-facing socket: readable means more bytes
// for c2r to pick up on the next fillFrom, writable means r2c has room to flush into it.
// Both buffers are actually drained in pumpRelay, which runs after every readiness event
// regardless of which socket fired, so a single direction draining fast never starves the
// other.
func (s *Session) relayInbound(readable, writable bool) reactor.Action {
	if readable {
		if err := s.c2r.fillFrom(s.inbound); err != nil && dispatcherr.KindOf(err) != dispatcherr.KindAgain {
			return s.fail("relay read inbound", err)
		}
	}
	return s.pumpRelay()
}

func (s *Session) relayOutbound(readable, writable bool) reactor.Action {
	if readable {
		if err := s.r2c.fillFrom(s.outbound); err != nil && dispatcherr.KindOf(err) != dispatcherr.KindAgain {
			return s.fail("relay read outbound", err)
		}
	}
	return s.pumpRelay()
}

// pumpRelay drains whatever is flushable in both directions, propagates half-close once a
// source is drained dry, and decides each socket's next interest set.
func (s *Session) pumpRelay() reactor.Action {
	n1, err := s.r2c.flushTo(s.inbound)
	if err != nil && dispatcherr.KindOf(err) != dispatcherr.KindAgain {
		return s.fail("relay flush inbound", err)
	}
	n2, err := s.c2r.flushTo(s.outbound)
	if err != nil && dispatcherr.KindOf(err) != dispatcherr.KindAgain {
		return s.fail("relay flush outbound", err)
	}
	if s.rec != nil && n1+n2 > 0 {
		s.rec.BytesRelayed(n1 + n2)
	}

	if s.c2r.srcClosed && !s.c2r.pending() && !s.c2r.sinkClosed {
		_ = netio.ShutdownWrite(s.outbound)
		s.c2r.sinkClosed = true
	}
	if s.r2c.srcClosed && !s.r2c.pending() && !s.r2c.sinkClosed {
		_ = netio.ShutdownWrite(s.inbound)
		s.r2c.sinkClosed = true
	}

	if s.c2r.sinkClosed && s.r2c.sinkClosed {
		return s.finish("relayed")
	}

	inInterest := reactor.Interest(0)
	if !s.c2r.srcClosed {
		inInterest |= reactor.Read
	}
	if s.r2c.pending() {
		inInterest |= reactor.Write
	}
	_ = s.react.Modify(s.inTok, inInterest)

	outInterest := reactor.Interest(0)
	if !s.r2c.srcClosed {
		outInterest |= reactor.Read
	}
	if s.c2r.pending() {
		outInterest |= reactor.Write
	}
	_ = s.react.Modify(s.outTok, outInterest)

	// Readiness clears each token's deadline in the reactor loop; re-arm both so
	// --relay-idle keeps protecting the relay, not just the pre-relay handshake.
	s.armIdle(s.inTok)
	s.armIdle(s.outTok)

	return reactor.None
}

func (s *Session) fail(reason string, err error) reactor.Action {
	if s.log != nil {
		s.log.Debug("session failing", "session", s.id, "state", s.state, "reason", reason, "kind", dispatcherr.KindOf(err))
	}
	return s.finish("error")
}

// finish tears down every resource the session holds and invokes onClose exactly once.
func (s *Session) finish(outcome string) reactor.Action {
	if s.state == StateDone {
		return reactor.Unregister
	}
	s.state = StateDone

	if s.resolve != nil {
		_ = s.react.Unregister(s.resolveTok)
		s.resolve.close()
		s.resolve = nil
	}
	if s.outbound != nil {
		_ = s.react.Unregister(s.outTok)
		_ = netio.Close(s.outbound)
		s.outbound = nil
	}
	if s.iface != nil {
		s.bal.Release(s.iface)
		s.iface = nil
	}
	// Unregister explicitly rather than relying on the caller's returned Action: finish
	// may run from either the inbound or the outbound callback, and the reactor only
	// auto-unregisters whichever token is currently dispatching. Unregister of an
	// already-removed token is a no-op, so calling it here is always safe.
	_ = s.react.Unregister(s.inTok)
	_ = netio.Close(s.inbound)

	if s.rec != nil {
		s.rec.SessionClosed(outcome)
	}
	if s.onClose != nil {
		s.onClose(s)
	}

	return reactor.Unregister
}
