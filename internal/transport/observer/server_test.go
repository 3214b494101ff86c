package observer

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"anvil.sim/internal/observerproto"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(RunInfo{RunID: "run-1", Mode: "normal", SimHz: 60, Seed: 0xDEADBEEFCAFEBABE}, log.New(io.Discard, "", 0))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, sub observerproto.SubscribeMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return conn
}

func waitSessions(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Sessions() != n {
		if time.Now().After(deadline) {
			t.Fatalf("sessions=%d want=%d", s.Sessions(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestObserver_StreamsTickHashes(t *testing.T) {
	s, ts := newTestServer(t)
	plain := dial(t, ts, observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version})
	detailed := dial(t, ts, observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version, Parts: true})
	waitSessions(t, s, 2)

	s.Publish(600, 0xABCDEF, map[string]uint64{"position": 1})

	for i, conn := range []*websocket.Conn{plain, detailed} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg observerproto.TickHashMsg
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("conn %d read: %v", i, err)
		}
		if msg.Type != observerproto.TypeTickHash || msg.Tick != 600 || msg.Hash != "0000000000abcdef" {
			t.Fatalf("conn %d msg=%+v", i, msg)
		}
		if wantParts := i == 1; (msg.Parts != nil) != wantParts {
			t.Fatalf("conn %d parts=%v", i, msg.Parts)
		}
	}
}

func TestObserver_RejectsBadSubscribe(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts, observerproto.SubscribeMsg{Type: "HELLO", ProtocolVersion: observerproto.Version})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if s.Sessions() != 0 {
		t.Fatalf("sessions=%d", s.Sessions())
	}
}

func TestObserver_Bootstrap(t *testing.T) {
	s, ts := newTestServer(t)
	s.Publish(1200, 7, nil)

	resp, err := http.Get(ts.URL + "/observer/bootstrap")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var got observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "run-1" || got.SimHz != 60 || got.Seed != "0xdeadbeefcafebabe" || got.Tick != 1200 || got.Hash != "0000000000000007" {
		t.Fatalf("bootstrap=%+v", got)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.2:5555":  false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want=%v", in, got, want)
		}
	}
}

func TestObserver_PassiveSubscriberKeptAlive(t *testing.T) {
	s, ts := newTestServer(t)
	s.pongWait = 300 * time.Millisecond
	s.pingPeriod = 100 * time.Millisecond

	conn := dial(t, ts, observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version})
	waitSessions(t, s, 1)

	// Reading answers pings; the client never writes.
	got := make(chan observerproto.TickHashMsg, 1)
	go func() {
		var msg observerproto.TickHashMsg
		if err := conn.ReadJSON(&msg); err == nil {
			got <- msg
		}
		close(got)
	}()

	time.Sleep(4 * s.pongWait)
	if s.Sessions() != 1 {
		t.Fatalf("idle subscriber dropped: sessions=%d", s.Sessions())
	}
	s.Publish(9, 1, nil)
	select {
	case msg, ok := <-got:
		if !ok || msg.Tick != 9 {
			t.Fatalf("msg=%+v ok=%v", msg, ok)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message after idle period")
	}
}

func TestObserver_UnresponsiveSubscriberDropped(t *testing.T) {
	s, ts := newTestServer(t)
	s.pongWait = 200 * time.Millisecond
	s.pingPeriod = time.Hour

	dial(t, ts, observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version})
	waitSessions(t, s, 1)
	waitSessions(t, s, 0)
}
