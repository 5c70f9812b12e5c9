package discover

import (
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/eth2030/discovery/common/mclock"
	"github.com/eth2030/discovery/log"
	"github.com/eth2030/discovery/p2p/enode"
)

// fakePacket is one datagram in flight between two fakeConn endpoints.
type fakePacket struct {
	data []byte
	from *net.UDPAddr
}

// fakeConn is an in-memory UDPConn connecting exactly two protocol
// instances in a test, so the handshake and call-correlation machinery can
// be exercised without a real socket.
type fakeConn struct {
	laddr *net.UDPAddr
	recv  chan fakePacket
	peer  *fakeConn
}

func newFakeConnPair(addrA, addrB *net.UDPAddr) (*fakeConn, *fakeConn) {
	a := &fakeConn{laddr: addrA, recv: make(chan fakePacket, 64)}
	b := &fakeConn{laddr: addrB, recv: make(chan fakePacket, 64)}
	a.peer, b.peer = b, a
	return a, b
}

func (c *fakeConn) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) {
	p, ok := <-c.recv
	if !ok {
		return 0, nil, net.ErrClosed
	}
	n := copy(b, p.data)
	return n, p.from, nil
}

func (c *fakeConn) WriteToUDP(b []byte, addr *net.UDPAddr) (n int, err error) {
	defer func() {
		// The peer may have closed its receive channel during test teardown;
		// treat that the same as a dropped datagram rather than panicking.
		if recover() != nil {
			n, err = len(b), nil
		}
	}()
	cp := append([]byte(nil), b...)
	select {
	case c.peer.recv <- fakePacket{cp, c.laddr}:
	default:
	}
	return len(b), nil
}

func (c *fakeConn) Close() error {
	close(c.recv)
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr { return c.laddr }

func newTestProtocol(t *testing.T, conn UDPConn, ip net.IP, port int) (*UDPv5, *enode.LocalNode) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	ln := enode.NewLocalNode(key, ip, uint16(port), uint16(port))
	cfg := Config{
		PrivateKey:      key,
		Log:             log.Default().Module("discover-test"),
		Clock:           mclock.System{},
		RespTimeout:     2 * time.Second,
		RefreshInterval: time.Hour,
		BucketIPLimit:   10,
		TableIPLimit:    50,
	}
	p, err := newUDPv5(conn, ln, cfg)
	if err != nil {
		t.Fatal(err)
	}
	p.tab.start()
	p.wg.Add(2)
	go p.readLoop()
	go p.dispatch()
	t.Cleanup(p.Close)
	return p, ln
}

func TestUDPv5PingPongWithHandshake(t *testing.T) {
	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 30301}
	addrB := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 30302}
	connA, connB := newFakeConnPair(addrA, addrB)

	protoA, _ := newTestProtocol(t, connA, addrA.IP, addrA.Port)
	protoB, lnB := newTestProtocol(t, connB, addrB.IP, addrB.Port)

	target := lnB.Node()
	target.IP = addrB.IP
	target.UDP = uint16(addrB.Port)

	pong, err := protoA.Ping(target)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if pong.ENRSeq != lnB.Seq() {
		t.Fatalf("pong.ENRSeq = %d, want %d", pong.ENRSeq, lnB.Seq())
	}

	if protoB.tab.getNode(protoA.Self().ID) == nil {
		t.Error("expected B to have learned A's node via the handshake")
	}
}

func TestUDPv5TalkRequest(t *testing.T) {
	addrA := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 30311}
	addrB := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 30312}
	connA, connB := newFakeConnPair(addrA, addrB)

	protoA, _ := newTestProtocol(t, connA, addrA.IP, addrA.Port)
	protoB, lnB := newTestProtocol(t, connB, addrB.IP, addrB.Port)

	protoB.RegisterTalkHandler("echo", func(from enode.NodeID, addr string, req []byte) []byte {
		out := append([]byte("echo:"), req...)
		return out
	})

	target := lnB.Node()
	target.IP = addrB.IP
	target.UDP = uint16(addrB.Port)

	resp, err := protoA.TalkRequest(target, "echo", []byte("hi"))
	if err != nil {
		t.Fatalf("TalkRequest: %v", err)
	}
	if string(resp) != "echo:hi" {
		t.Fatalf("resp = %q, want %q", resp, "echo:hi")
	}
}
