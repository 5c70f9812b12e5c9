package v5wire

import "testing"

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	ping := &Ping{ReqID: []byte{1, 2, 3, 4}, ENRSeq: 7}
	enc, err := EncodeMessage(ping)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if enc[0] != PingMsg {
		t.Fatalf("kind tag = %d, want %d", enc[0], PingMsg)
	}

	dec, err := DecodeMessage(enc[0], enc[1:])
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	got, ok := dec.(*Ping)
	if !ok {
		t.Fatalf("decoded type = %T, want *Ping", dec)
	}
	if got.ENRSeq != ping.ENRSeq {
		t.Fatalf("ENRSeq = %d, want %d", got.ENRSeq, ping.ENRSeq)
	}
	if string(got.ReqID) != string(ping.ReqID) {
		t.Fatalf("ReqID = %v, want %v", got.ReqID, ping.ReqID)
	}
}

func TestDecodeMessageRejectsLongReqID(t *testing.T) {
	ping := &Ping{ReqID: make([]byte, 9)}
	enc, err := EncodeMessage(ping)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if _, err := DecodeMessage(enc[0], enc[1:]); err != ErrInvalidReqID {
		t.Fatalf("expected ErrInvalidReqID, got %v", err)
	}
}

func TestDecodeMessageUnknownType(t *testing.T) {
	if _, err := DecodeMessage(0xAB, nil); err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestTalkRequestRoundTrip(t *testing.T) {
	req := &TalkRequest{ReqID: []byte{9}, Protocol: "portal", Message: []byte("hello")}
	enc, err := EncodeMessage(req)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	dec, err := DecodeMessage(enc[0], enc[1:])
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	got := dec.(*TalkRequest)
	if got.Protocol != req.Protocol || string(got.Message) != string(req.Message) {
		t.Fatalf("got %+v, want %+v", got, req)
	}
}
