//go:build linux

package session

import (
	"testing"
	"time"

	"github.com/hewenhao2008/dispatch-ng/internal/address"
	"github.com/hewenhao2008/dispatch-ng/internal/dispatcherr"
	"github.com/hewenhao2008/dispatch-ng/internal/netio"
)

// connectedPair returns two netio.Handles joined by a loopback TCP connection, retrying
// the non-blocking accept/connect handshake until both sides are ready.
func connectedPair(t *testing.T) (a, b *netio.Handle) {
	t.Helper()

	loopback, err := address.SocketFromString("127.0.0.1:0", true)
	if err != nil {
		t.Fatalf("SocketFromString: %v", err)
	}

	listener, err := netio.BindSocket(loopback)
	if err != nil {
		t.Fatalf("BindSocket(listener): %v", err)
	}
	defer netio.Close(listener)
	if err := netio.Listen(listener); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	local, err := netio.LocalAddr(listener)
	if err != nil {
		t.Fatalf("LocalAddr: %v", err)
	}

	client, err := netio.BindSocket(loopback)
	if err != nil {
		t.Fatalf("BindSocket(client): %v", err)
	}
	if err := netio.Connect(client, local); err != nil && !dispatcherr.Is(err, dispatcherr.KindInProgress) {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var server *netio.Handle
	for server == nil || netio.GetError(client) != nil {
		if server == nil {
			if s, _, aerr := netio.Accept(listener); aerr == nil {
				server = s
			} else if !dispatcherr.Is(aerr, dispatcherr.KindAgain) {
				t.Fatalf("Accept: %v", aerr)
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out establishing loopback pair")
		}
		time.Sleep(time.Millisecond)
	}

	return client, server
}

func TestPipe_FillAndFlush(t *testing.T) {
	client, server := connectedPair(t)
	defer netio.Close(client)
	defer netio.Close(server)

	if _, err := netio.Write(server, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	p := newPipe(relayBufferSize)
	deadline := time.Now().Add(2 * time.Second)
	for !p.pending() {
		if err := p.fillFrom(client); err != nil && !dispatcherr.Is(err, dispatcherr.KindAgain) {
			t.Fatalf("fillFrom: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for data")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := p.flushTo(server); err != nil {
		t.Fatalf("flushTo: %v", err)
	}

	buf := make([]byte, 16)
	var n int
	deadline = time.Now().Add(2 * time.Second)
	for n == 0 {
		got, err := netio.Read(client, buf)
		if err != nil && !dispatcherr.Is(err, dispatcherr.KindAgain) {
			t.Fatalf("Read: %v", err)
		}
		n = got
		if time.Now().After(deadline) {
			t.Fatal("timed out reading relayed data")
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	if string(buf[:n]) != "hello" {
		t.Errorf("relayed = %q, want %q", buf[:n], "hello")
	}
}

func TestPipe_SrcClosedOnEOF(t *testing.T) {
	client, server := connectedPair(t)
	defer netio.Close(client)

	_ = netio.Close(server)

	p := newPipe(relayBufferSize)
	deadline := time.Now().Add(2 * time.Second)
	for !p.srcClosed {
		if err := p.fillFrom(client); err != nil && !dispatcherr.Is(err, dispatcherr.KindAgain) {
			t.Fatalf("fillFrom: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for srcClosed")
		}
		time.Sleep(time.Millisecond)
	}
}
