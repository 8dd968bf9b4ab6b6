package irc

import (
	"net"
	"testing"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/matt0x6f/ironcord-gateway/internal/events"
)

const waitTimeout = 2 * time.Second

var testConfig = Config{
	Host:     "localhost",
	Port:     6667,
	Nick:     "TestUser",
	Username: "testuser",
	Realname: "Test User",
	Password: "testpass",
}

// lineSink collects the lines a client writes
type lineSink struct {
	lines chan string
}

func newLineSink(conn net.Conn) *lineSink {
	s := &lineSink{lines: make(chan string, 128)}
	go func() {
		readLines(conn, func(line string) { s.lines <- line })
		close(s.lines)
	}()
	return s
}

func (s *lineSink) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got, ok := <-s.lines:
		if !ok {
			t.Fatalf("connection closed, wanted %q", want)
		}
		if got != want {
			t.Fatalf("got line %q, want %q", got, want)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func (s *lineSink) next(t *testing.T) string {
	t.Helper()
	select {
	case got := <-s.lines:
		return got
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a line")
	}
	return ""
}

func (s *lineSink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case got, ok := <-s.lines:
		if ok {
			t.Fatalf("unexpected line %q", got)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

// recorder captures every event a client emits
type recorder struct {
	ch chan events.Event
}

func newRecorder(c *Client) *recorder {
	r := &recorder{ch: make(chan events.Event, 256)}
	c.Subscribe(events.Wildcard, events.SubscriberFunc(func(e events.Event) {
		r.ch <- e
	}))
	return r
}

// drain returns the events already emitted
func (r *recorder) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

// wait blocks for the next event of the given type, discarding others
func (r *recorder) wait(t *testing.T, eventType string) events.Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case e := <-r.ch:
			if e.Type == eventType {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

// expectNoType fails if an event of the given type arrives within d
func (r *recorder) expectNoType(t *testing.T, eventType string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case e := <-r.ch:
			if e.Type == eventType {
				t.Fatalf("unexpected %s event: %+v", eventType, e.Payload)
			}
		case <-deadline:
			return
		}
	}
}

func ofType(evs []events.Event, eventType string) []events.Event {
	var out []events.Event
	for _, e := range evs {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// newPipeClient returns a client whose socket is one end of a net.Pipe, as
// if the connect event had already fired
func newPipeClient(t *testing.T, cfg Config) (*Client, *lineSink, *recorder) {
	t.Helper()
	c, err := NewClient(cfg, &ReconnectOptions{MaxRetries: 0})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	clientSide, serverSide := net.Pipe()
	c.mu.Lock()
	c.conn = clientSide
	c.state = StateRegistering
	c.mu.Unlock()

	sink := newLineSink(serverSide)
	rec := newRecorder(c)
	t.Cleanup(func() {
		clientSide.Close()
		serverSide.Close()
	})
	return c, sink, rec
}

func mustMessage(command string, params ...string) ircmsg.Message {
	return ircmsg.MakeMessage(nil, "", command, params...)
}
