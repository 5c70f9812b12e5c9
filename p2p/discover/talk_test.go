package discover

import (
	"testing"

	"github.com/eth2030/discovery/p2p/enode"
)

func TestTalkSystemRegisterAndHandle(t *testing.T) {
	ts := newTalkSystem()
	var gotReq []byte
	ts.register("portal", func(from enode.NodeID, addr string, req []byte) []byte {
		gotReq = req
		return []byte("pong-payload")
	})

	resp := ts.handle(enode.NodeID{1}, "1.2.3.4:9000", "portal", []byte("ping-payload"))
	if string(resp) != "pong-payload" {
		t.Fatalf("resp = %q, want %q", resp, "pong-payload")
	}
	if string(gotReq) != "ping-payload" {
		t.Fatalf("handler saw %q, want %q", gotReq, "ping-payload")
	}
}

func TestTalkSystemUnknownProtocol(t *testing.T) {
	ts := newTalkSystem()
	if resp := ts.handle(enode.NodeID{1}, "addr", "unregistered", []byte("x")); resp != nil {
		t.Fatalf("expected nil response for unregistered protocol, got %q", resp)
	}
}

func TestTalkSystemUnregister(t *testing.T) {
	ts := newTalkSystem()
	ts.register("portal", func(enode.NodeID, string, []byte) []byte { return []byte("x") })
	ts.register("portal", nil)
	if resp := ts.handle(enode.NodeID{1}, "addr", "portal", nil); resp != nil {
		t.Fatal("expected nil response after unregister")
	}
}
