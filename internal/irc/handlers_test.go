package irc

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestPingReplies(t *testing.T) {
	c, sink, rec := newPipeClient(t, testConfig)
	c.handleLine("PING :server.example.com")
	sink.expect(t, "PONG :server.example.com")
	if evs := rec.drain(); len(evs) != 0 {
		t.Fatalf("PING must not emit events, got %d", len(evs))
	}
}

func TestCapLSRequestsSupportedCapabilities(t *testing.T) {
	c, sink, _ := newPipeClient(t, testConfig)
	c.handleLine(":server CAP * LS :sasl echo-message server-time message-tags batch unknown-cap")
	sink.expect(t, "CAP REQ :sasl echo-message server-time message-tags batch")
}

func TestCapLSMultilineRequestsPerLine(t *testing.T) {
	c, sink, _ := newPipeClient(t, testConfig)
	c.handleLine(":server CAP * LS * :sasl echo-message")
	sink.expect(t, "CAP REQ :sasl echo-message")
	c.handleLine(":server CAP * LS :server-time batch")
	sink.expect(t, "CAP REQ :server-time batch")
	sink.expectNone(t)

	c.stateMu.Lock()
	advertised := strings.Join(c.advertised, " ")
	c.stateMu.Unlock()
	if advertised != "sasl echo-message server-time batch" {
		t.Fatalf("advertised caps not accumulated: %q", advertised)
	}
}

func TestCapLSEndOnlyOnFinalLine(t *testing.T) {
	c, sink, _ := newPipeClient(t, testConfig)
	c.handleLine(":server CAP * LS * :foo bar")
	sink.expectNone(t)
	c.handleLine(":server CAP * LS :baz")
	sink.expect(t, "CAP END")
}

func TestCapLSWithoutPasswordSkipsSASL(t *testing.T) {
	cfg := testConfig
	cfg.Password = ""
	c, sink, _ := newPipeClient(t, cfg)
	c.handleLine(":server CAP * LS :sasl echo-message")
	sink.expect(t, "CAP REQ :echo-message")

	c.handleLine(":server CAP * LS :sasl")
	sink.expect(t, "CAP END")
}

func TestCapLSValuesAndChathistory(t *testing.T) {
	c, sink, _ := newPipeClient(t, testConfig)
	c.handleLine(":server CAP * LS :sasl=PLAIN,SCRAM-SHA-256 chathistory draft/chathistory")
	sink.expect(t, "CAP REQ :sasl draft/chathistory")

	c.handleLine(":server CAP * LS :chathistory")
	sink.expect(t, "CAP REQ :chathistory")
}

func TestCapACK(t *testing.T) {
	c, sink, _ := newPipeClient(t, testConfig)
	c.handleLine(":server CAP * ACK :sasl batch")
	sink.expect(t, "AUTHENTICATE PLAIN")
	if !c.HasCapability("batch") || !c.HasCapability("sasl") {
		t.Fatal("acknowledged caps not recorded")
	}

	c.handleLine(":server CAP * ACK :server-time")
	sink.expect(t, "CAP END")
}

func TestCapACKWithoutSASLEndsNegotiation(t *testing.T) {
	c, sink, _ := newPipeClient(t, testConfig)
	c.handleLine(":server CAP * LS * :sasl echo-message")
	sink.expect(t, "CAP REQ :sasl echo-message")
	c.handleLine(":server CAP * LS :server-time")
	sink.expect(t, "CAP REQ :server-time")

	c.handleLine(":server CAP * ACK :sasl echo-message")
	sink.expect(t, "AUTHENTICATE PLAIN")
	// the second line's ACK ends negotiation even with SASL in flight
	c.handleLine(":server CAP * ACK :server-time")
	sink.expect(t, "CAP END")
	if !c.HasCapability("server-time") || !c.HasCapability("sasl") {
		t.Fatal("acknowledged caps not recorded")
	}
}

func TestCapNAKEndsNegotiation(t *testing.T) {
	c, sink, _ := newPipeClient(t, testConfig)
	c.handleLine(":server CAP * NAK :sasl")
	sink.expect(t, "CAP END")
}

func TestAuthenticatePlainPayload(t *testing.T) {
	c, sink, _ := newPipeClient(t, testConfig)
	c.handleLine("AUTHENTICATE +")

	line := sink.next(t)
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "AUTHENTICATE" {
		t.Fatalf("unexpected line %q", line)
	}
	decoded, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	if string(decoded) != "TestUser\x00TestUser\x00testpass" {
		t.Fatalf("decoded payload %q", decoded)
	}
}

func TestAuthenticateWithoutPasswordIgnored(t *testing.T) {
	cfg := testConfig
	cfg.Password = ""
	c, sink, _ := newPipeClient(t, cfg)
	c.handleLine("AUTHENTICATE +")
	sink.expectNone(t)
}

func TestSASLNumericsEndNegotiation(t *testing.T) {
	lines := []string{
		":server 903 TestUser :SASL authentication successful",
		":server 900 TestUser TestUser!u@h TestUser :You are now logged in as TestUser",
		":server 907 TestUser :You have already authenticated",
		":NickServ!NickServ@services NOTICE TestUser :Account successfully registered",
	}
	for _, line := range lines {
		c, sink, _ := newPipeClient(t, testConfig)
		c.handleLine(line)
		sink.expect(t, "CAP END")
	}
}

func TestSASLFailureEmitsError(t *testing.T) {
	c, sink, rec := newPipeClient(t, testConfig)
	c.handleLine(":server 904 TestUser :SASL authentication failed")
	sink.expectNone(t)

	errs := ofType(rec.drain(), EventError)
	if len(errs) != 1 {
		t.Fatalf("expected one error event, got %d", len(errs))
	}
	err := errs[0].Payload.(error)
	if !errors.Is(err, ErrSASLFailed) || err.Error() != "SASL Authentication Failed" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSASLFailureMissingAccountRegisters(t *testing.T) {
	c, sink, rec := newPipeClient(t, testConfig)
	c.handleLine(":server 904 TestUser :Account does not exist")
	sink.expect(t, "REGISTER TestUser testpass")
	if errs := ofType(rec.drain(), EventError); len(errs) != 0 {
		t.Fatalf("missing account must not surface an error, got %v", errs[0].Payload)
	}
}

func TestWelcomeEmitsRegistered(t *testing.T) {
	c, _, rec := newPipeClient(t, testConfig)
	c.handleLine(":server 001 TestUser :Welcome to the IRC network")
	if got := ofType(rec.drain(), EventRegistered); len(got) != 1 {
		t.Fatalf("expected one registered event, got %d", len(got))
	}
	if c.State() != StateRegistered {
		t.Fatalf("state = %s", c.State())
	}
}

func TestPrivmsgEmitsMessage(t *testing.T) {
	c, _, rec := newPipeClient(t, testConfig)
	c.handleLine(":alice!u@h PRIVMSG #g :hi")
	c.handleLine("@time=2024-03-01T12:30:45.123Z :bob!u@h PRIVMSG #g :hello there")

	msgs := ofType(rec.drain(), EventMessage)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 message events, got %d", len(msgs))
	}
	first := msgs[0].Payload.(Message)
	if first.Author != "alice" || first.Channel != "#g" || first.Content != "hi" {
		t.Fatalf("unexpected message %+v", first)
	}
	if first.ID == "" || !first.Timestamp.IsZero() {
		t.Fatalf("expected fresh id and unset timestamp, got %+v", first)
	}

	second := msgs[1].Payload.(Message)
	want := time.Date(2024, 3, 1, 12, 30, 45, 123000000, time.UTC)
	if !second.Timestamp.Equal(want) || second.Content != "hello there" {
		t.Fatalf("unexpected message %+v", second)
	}
	if second.ID == first.ID {
		t.Fatal("message ids must be unique")
	}
}

func TestBatchCollectsHistory(t *testing.T) {
	c, _, rec := newPipeClient(t, testConfig)
	c.handleLine(":server BATCH +abc chathistory #g")
	c.handleLine("@batch=abc;time=2024-03-01T10:00:00.000Z :alice!u@h PRIVMSG #g :one")
	c.handleLine("@batch=abc;time=2024-03-01T10:00:01.000Z :bob!u@h PRIVMSG #g :two")
	c.handleLine("@batch=abc;time=2024-03-01T10:00:02.000Z :alice!u@h PRIVMSG #g :three")
	c.handleLine(":server BATCH -abc")

	evs := rec.drain()
	if msgs := ofType(evs, EventMessage); len(msgs) != 0 {
		t.Fatalf("batched messages must not be emitted live, got %d", len(msgs))
	}
	history := ofType(evs, EventHistory)
	if len(history) != 1 {
		t.Fatalf("expected one history event, got %d", len(history))
	}
	list := history[0].Payload.([]Message)
	var contents []string
	for _, m := range list {
		contents = append(contents, m.Content)
	}
	if strings.Join(contents, ",") != "one,two,three" {
		t.Fatalf("history out of order: %v", contents)
	}
}

func TestEmptyBatchEmitsNothing(t *testing.T) {
	c, _, rec := newPipeClient(t, testConfig)
	c.handleLine(":server BATCH +empty chathistory #g")
	c.handleLine(":server BATCH -empty")
	if evs := rec.drain(); len(evs) != 0 {
		t.Fatalf("expected no events, got %d", len(evs))
	}

	c.stateMu.Lock()
	open := len(c.session.batches)
	c.stateMu.Unlock()
	if open != 0 {
		t.Fatal("closed batch was not deleted")
	}
}

func TestUnknownBatchTagIsLive(t *testing.T) {
	c, _, rec := newPipeClient(t, testConfig)
	c.handleLine("@batch=nope :alice!u@h PRIVMSG #g :live")
	if msgs := ofType(rec.drain(), EventMessage); len(msgs) != 1 {
		t.Fatalf("expected live message, got %d", len(msgs))
	}
}

func TestMalformedLinesIgnored(t *testing.T) {
	c, sink, rec := newPipeClient(t, testConfig)
	for _, line := range []string{":", "@", "@a=b", ":prefix-only", "CAP", "CAP *", "BATCH", "BATCH +", "JOIN", "PRIVMSG #g", "KICK #g", "353 x", "999 whatever"} {
		c.handleLine(line)
	}
	sink.expectNone(t)
	if evs := rec.drain(); len(evs) != 0 {
		t.Fatalf("malformed input produced %d events", len(evs))
	}
}

func TestCommands(t *testing.T) {
	c, sink, _ := newPipeClient(t, testConfig)

	c.Join("#test-channel")
	sink.expect(t, "JOIN #test-channel")

	c.Privmsg("#test-channel", "Hello!")
	sink.expect(t, "PRIVMSG #test-channel :Hello!")

	c.Privmsg("#test-channel", "hi")
	sink.expect(t, "PRIVMSG #test-channel :hi")

	c.FetchHistory("#test-channel", 25)
	sink.expect(t, "CHATHISTORY LATEST #test-channel * 25")

	c.FetchHistory("#test-channel", 0)
	sink.expect(t, "CHATHISTORY LATEST #test-channel * 50")
}

func TestSetPresence(t *testing.T) {
	c, sink, _ := newPipeClient(t, testConfig)
	cases := []struct {
		status Presence
		want   string
	}{
		{PresenceOnline, "AWAY"},
		{PresenceIdle, "AWAY :Idle"},
		{PresenceDND, "AWAY :Do Not Disturb"},
		{PresenceInvisible, "AWAY :Invisible"},
	}
	for _, tc := range cases {
		if err := c.SetPresence(tc.status); err != nil {
			t.Fatalf("SetPresence(%s): %v", tc.status, err)
		}
		sink.expect(t, tc.want)
	}

	if err := c.SetPresence("busy"); err == nil {
		t.Fatal("expected error for unknown presence")
	}
	sink.expectNone(t)
}

func TestCommandsDroppedWhenNotConnected(t *testing.T) {
	c, err := NewClient(testConfig, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := newRecorder(c)
	c.Join("#x")
	c.Privmsg("#x", "hi")
	if evs := rec.drain(); len(evs) != 0 {
		t.Fatalf("dropped writes must be silent, got %d events", len(evs))
	}
}

func TestRedactHidesCredentials(t *testing.T) {
	c, sink, _ := newPipeClient(t, testConfig)
	c.send("REGISTER", "TestUser", "testpass")
	sink.expect(t, "REGISTER TestUser testpass")

	if got := redact(mustMessage("REGISTER", "TestUser", "testpass")); strings.Contains(got, "testpass") {
		t.Fatalf("password leaked into log line %q", got)
	}
	if got := redact(mustMessage("AUTHENTICATE", "c2VjcmV0")); strings.Contains(got, "c2VjcmV0") {
		t.Fatalf("payload leaked into log line %q", got)
	}
	if got := redact(mustMessage("AUTHENTICATE", "PLAIN")); got != "AUTHENTICATE PLAIN" {
		t.Fatalf("got %q", got)
	}
}
