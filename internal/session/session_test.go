//go:build linux

package session_test

import (
	"net"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func dialDispatcher(addr string) net.Conn {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	Expect(err).ToNot(HaveOccurred())
	return conn
}

func readN(conn net.Conn, n int) []byte {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	_, err := readFull(conn, buf)
	Expect(err).ToNot(HaveOccurred())
	return buf
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func ipv4ConnectRequest(ip net.IP, port uint16) []byte {
	req := []byte{0x05, 0x01, 0x00, 0x01}
	req = append(req, ip.To4()...)
	req = append(req, byte(port>>8), byte(port))
	return req
}

var _ = Describe("SOCKS5 session dialogue", func() {
	It("relays bytes end to end on a successful IPv4 CONNECT", func() {
		h := startDispatcher("127.0.0.1")
		defer h.Close()

		targetAddr, stopTarget := echoServer()
		defer stopTarget()
		targetHost, targetPortStr, err := net.SplitHostPort(targetAddr)
		Expect(err).ToNot(HaveOccurred())
		targetPort, err := strconv.Atoi(targetPortStr)
		Expect(err).ToNot(HaveOccurred())

		conn := dialDispatcher(h.addr)
		defer conn.Close()

		_, err = conn.Write([]byte{0x05, 0x01, 0x00})
		Expect(err).ToNot(HaveOccurred())
		Expect(readN(conn, 2)).To(Equal([]byte{0x05, 0x00}))

		_, err = conn.Write(ipv4ConnectRequest(net.ParseIP(targetHost), uint16(targetPort)))
		Expect(err).ToNot(HaveOccurred())

		reply := readN(conn, 10)
		Expect(reply[0]).To(Equal(byte(0x05)))
		Expect(reply[1]).To(Equal(byte(0x00)), "expected success reply")
		Expect(reply[3]).To(Equal(byte(0x01)), "expected ATYP=IPv4 bound address")

		_, err = conn.Write([]byte("hello, relay"))
		Expect(err).ToNot(HaveOccurred())
		echoed := readN(conn, len("hello, relay"))
		Expect(string(echoed)).To(Equal("hello, relay"))
	})

	It("rejects an unsupported command with reply 0x07 and closes", func() {
		h := startDispatcher("127.0.0.1")
		defer h.Close()

		conn := dialDispatcher(h.addr)
		defer conn.Close()

		_, err := conn.Write([]byte{0x05, 0x01, 0x00})
		Expect(err).ToNot(HaveOccurred())
		Expect(readN(conn, 2)).To(Equal([]byte{0x05, 0x00}))

		// CMD=0x02 (BIND) instead of CONNECT.
		_, err = conn.Write([]byte{0x05, 0x02, 0x00, 0x01, 0x7F, 0x00, 0x00, 0x01, 0x00, 0x50})
		Expect(err).ToNot(HaveOccurred())

		reply := readN(conn, 10)
		Expect(reply).To(Equal([]byte{0x05, 0x07, 0x00, 0x01, 0, 0, 0, 0, 0, 0}))

		buf := make([]byte, 1)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err = conn.Read(buf)
		Expect(err).To(HaveOccurred(), "connection should be closed after the reply")
	})

	It("replies network-unreachable when no interface matches the requested family", func() {
		h := startDispatcher("::1")
		defer h.Close()

		conn := dialDispatcher(h.addr)
		defer conn.Close()

		_, err := conn.Write([]byte{0x05, 0x01, 0x00})
		Expect(err).ToNot(HaveOccurred())
		Expect(readN(conn, 2)).To(Equal([]byte{0x05, 0x00}))

		_, err = conn.Write(ipv4ConnectRequest(net.ParseIP("93.184.216.34"), 80))
		Expect(err).ToNot(HaveOccurred())

		reply := readN(conn, 10)
		Expect(reply[1]).To(Equal(byte(0x03)))
	})

	It("passes through connection-refused as reply 0x05", func() {
		h := startDispatcher("127.0.0.1")
		defer h.Close()

		// Reserve a port and close it immediately so nothing is listening there.
		l, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).ToNot(HaveOccurred())
		refusedAddr := l.Addr().(*net.TCPAddr)
		Expect(l.Close()).To(Succeed())

		conn := dialDispatcher(h.addr)
		defer conn.Close()

		_, err = conn.Write([]byte{0x05, 0x01, 0x00})
		Expect(err).ToNot(HaveOccurred())
		Expect(readN(conn, 2)).To(Equal([]byte{0x05, 0x00}))

		_, err = conn.Write(ipv4ConnectRequest(refusedAddr.IP, uint16(refusedAddr.Port)))
		Expect(err).ToNot(HaveOccurred())

		reply := readN(conn, 10)
		Expect(reply[1]).To(Equal(byte(0x05)))
	})

	It("closes the connection without a reply on a malformed greeting", func() {
		h := startDispatcher("127.0.0.1")
		defer h.Close()

		conn := dialDispatcher(h.addr)
		defer conn.Close()

		// VER=0x04 instead of 0x05.
		_, err := conn.Write([]byte{0x04, 0x01, 0x00})
		Expect(err).ToNot(HaveOccurred())

		buf := make([]byte, 1)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err = conn.Read(buf)
		Expect(err).To(HaveOccurred())
	})
})
