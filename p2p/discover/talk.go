package discover

import (
	"sync"

	"github.com/eth2030/discovery/p2p/enode"
)

// TalkRequestHandler answers an incoming TALKREQ for a registered protocol,
// returning the response payload to send back. An empty response is sent
// back as a TALKRESP with an empty payload.
type TalkRequestHandler func(fromID enode.NodeID, fromAddr string, request []byte) []byte

// talkSystem dispatches incoming TALKREQ packets to registered protocol
// handlers. Outgoing requests and their TALKRESP replies are handled by
// UDPv5's call machinery, not here.
type talkSystem struct {
	mu       sync.Mutex
	handlers map[string]TalkRequestHandler
}

func newTalkSystem() *talkSystem {
	return &talkSystem{handlers: make(map[string]TalkRequestHandler)}
}

// register installs h as the handler for protocol. Passing a nil handler
// unregisters it.
func (t *talkSystem) register(protocol string, h TalkRequestHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h == nil {
		delete(t.handlers, protocol)
		return
	}
	t.handlers[protocol] = h
}

// handle runs the registered handler for protocol and returns the
// response bytes to send, or nil if no handler is registered.
func (t *talkSystem) handle(fromID enode.NodeID, fromAddr string, protocol string, request []byte) []byte {
	t.mu.Lock()
	h := t.handlers[protocol]
	t.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(fromID, fromAddr, request)
}
