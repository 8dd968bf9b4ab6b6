package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type call struct {
	method    string
	sessionID string
	userID    string
	args      []string
}

// fakeGateway records calls and answers irc:connect with irc:registered
type fakeGateway struct {
	calls   chan call
	sendErr error

	mu    sync.Mutex
	sinks map[string]Sink
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: make(chan call, 32), sinks: make(map[string]Sink)}
}

func (g *fakeGateway) Connect(sessionID, userID string, id Identity, sink Sink) error {
	g.mu.Lock()
	g.sinks[sessionID] = sink
	g.mu.Unlock()
	g.calls <- call{"connect", sessionID, userID, []string{id.Nick, id.Password}}
	sink.Send(TypeRegistered, nil)
	return nil
}

func (g *fakeGateway) SendMessage(sessionID, channel, message string) error {
	g.calls <- call{"message", sessionID, "", []string{channel, message}}
	return g.sendErr
}

func (g *fakeGateway) SetPresence(sessionID, status string) error {
	g.calls <- call{"presence", sessionID, "", []string{status}}
	return nil
}

func (g *fakeGateway) DisconnectSession(sessionID string) {
	g.calls <- call{"disconnect", sessionID, "", nil}
}

func (g *fakeGateway) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-g.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for gateway call")
	}
	return call{}
}

type tokens map[string]string

func (m tokens) UserIDForToken(token string) (string, error) {
	id, ok := m[token]
	if !ok {
		return "", errors.New("not found")
	}
	return id, nil
}

func newTestRelay(t *testing.T, opts Options) (*fakeGateway, string) {
	t.Helper()
	gw := newFakeGateway()
	return gw, startRelay(t, gw, opts)
}

func startRelay(t *testing.T, gw *fakeGateway, opts Options) string {
	t.Helper()
	srv := httptest.NewServer(NewServer(gw, tokens{"good": "user-1"}, opts).Handler())
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url+"?token=good", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendFrame(t *testing.T, ws *websocket.Conn, frameType string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteJSON(Frame{Type: frameType, Data: raw}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

var defaultOpts = Options{PerSecond: 100, Burst: 100}

func TestRejectsMissingAndInvalidTokens(t *testing.T) {
	_, url := newTestRelay(t, defaultOpts)

	for _, suffix := range []string{"", "?token=bad"} {
		_, resp, err := websocket.DefaultDialer.Dial(url+suffix, nil)
		if err == nil {
			t.Fatalf("%q: expected dial failure", suffix)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%q: expected 401, got %v", suffix, resp)
		}
	}
}

func TestConnectAndRelay(t *testing.T) {
	gw, url := newTestRelay(t, defaultOpts)
	ws := dial(t, url)

	sendFrame(t, ws, TypeConnect, ConnectParams{Config: Identity{Nick: "Bob", Password: "secret"}})
	c := gw.next(t)
	if c.method != "connect" || c.userID != "user-1" || c.args[0] != "Bob" || c.args[1] != "secret" {
		t.Fatalf("unexpected call %+v", c)
	}
	if f := readFrame(t, ws); f.Type != TypeRegistered || len(f.Data) != 0 {
		t.Fatalf("unexpected frame %+v", f)
	}

	sendFrame(t, ws, TypeMessage, MessageParams{Channel: "#g", Message: "hello"})
	m := gw.next(t)
	if m.method != "message" || m.sessionID != c.sessionID || m.args[0] != "#g" || m.args[1] != "hello" {
		t.Fatalf("unexpected call %+v", m)
	}

	sendFrame(t, ws, TypePresence, PresenceParams{Status: "dnd"})
	if p := gw.next(t); p.method != "presence" || p.args[0] != "dnd" {
		t.Fatalf("unexpected call %+v", p)
	}

	ws.Close()
	if d := gw.next(t); d.method != "disconnect" || d.sessionID != c.sessionID {
		t.Fatalf("unexpected call %+v", d)
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	gw, url := newTestRelay(t, defaultOpts)
	ws := dial(t, url)

	ws.WriteMessage(websocket.TextMessage, []byte("not json"))
	sendFrame(t, ws, TypeMessage, MessageParams{Channel: "#g"})
	sendFrame(t, ws, TypeMessage, map[string]int{"channel": 1})
	ws.WriteJSON(Frame{Type: TypeMessage})
	sendFrame(t, ws, "irc:unknown", map[string]string{})
	sendFrame(t, ws, TypePresence, PresenceParams{Status: "idle"})

	// only the well-formed presence frame reaches the gateway
	if c := gw.next(t); c.method != "presence" {
		t.Fatalf("malformed frame reached gateway: %+v", c)
	}
}

func TestGatewayErrorsBecomeErrorFrames(t *testing.T) {
	gw := newFakeGateway()
	gw.sendErr = errors.New("IRC session not ready")
	url := startRelay(t, gw, defaultOpts)
	ws := dial(t, url)

	sendFrame(t, ws, TypeMessage, MessageParams{Channel: "#g", Message: "hi"})
	gw.next(t)

	f := readFrame(t, ws)
	var msg string
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		t.Fatal(err)
	}
	if f.Type != TypeError || msg != "IRC session not ready" {
		t.Fatalf("unexpected frame %s %q", f.Type, msg)
	}
}

func TestRateLimit(t *testing.T) {
	gw, url := newTestRelay(t, Options{PerSecond: 0.001, Burst: 2})
	ws := dial(t, url)

	for i := 0; i < 3; i++ {
		sendFrame(t, ws, TypePresence, PresenceParams{Status: "online"})
	}
	gw.next(t)
	gw.next(t)

	f := readFrame(t, ws)
	var msg string
	json.Unmarshal(f.Data, &msg)
	if f.Type != TypeError || msg != "Rate limit exceeded" {
		t.Fatalf("unexpected frame %s %q", f.Type, msg)
	}
	select {
	case c := <-gw.calls:
		t.Fatalf("limited frame reached gateway: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewServer(newFakeGateway(), tokens{}, defaultOpts).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
