package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/ergochat/irc-go/ircreader"
	"github.com/matt0x6f/ironcord-gateway/internal/constants"
	"github.com/matt0x6f/ironcord-gateway/internal/events"
	"github.com/matt0x6f/ironcord-gateway/internal/logger"
	"github.com/matt0x6f/ironcord-gateway/internal/validation"
	"golang.org/x/net/proxy"
)

// Config describes one IRC identity. It is immutable once the client is built.
type Config struct {
	Host     string
	Port     int
	TLS      bool
	Nick     string
	Username string // defaults to Nick
	Realname string // defaults to Nick
	Password string // SASL password; empty disables SASL

	// SASLMechanism is PLAIN (default), SCRAM-SHA-256 or SCRAM-SHA-512
	SASLMechanism string
}

// State is the lifecycle position of a client
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateRegistering
	StateRegistered
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRegistering:
		return "registering"
	case StateRegistered:
		return "registered"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Client bridges a single user onto an IRC network over one TCP session.
// All protocol state changes happen on the connection's read loop; events
// are delivered synchronously, in order, from that loop.
type Client struct {
	cfg       Config
	reconnect ReconnectOptions
	bus       *events.EventBus

	mu          sync.Mutex
	conn        net.Conn
	state       State
	intentional bool
	attempts    int
	timer       *time.Timer
	ctx         context.Context
	cancel      context.CancelFunc
	gen         uint64

	writeMu sync.Mutex

	stateMu    sync.Mutex
	session    *sessionState
	advertised []string
	enabled    map[string]bool
	sasl       saslMechanism
}

// NewClient creates a new IRC client. A nil reconnect uses
// DefaultReconnectOptions; a non-nil value is taken as given, so
// MaxRetries: 0 disables reconnection. Zero delays fall back to the defaults.
func NewClient(cfg Config, reconnect *ReconnectOptions) (*Client, error) {
	if err := validation.ValidateConnectionConfig(cfg.Host, cfg.Port, cfg.Nick); err != nil {
		return nil, fmt.Errorf("invalid IRC config: %w", err)
	}
	if cfg.Password != "" {
		if _, err := newSASLMechanism(cfg); err != nil {
			return nil, fmt.Errorf("invalid IRC config: %w", err)
		}
	}
	if cfg.Username == "" {
		cfg.Username = cfg.Nick
	}
	if cfg.Realname == "" {
		cfg.Realname = cfg.Nick
	}

	opts := DefaultReconnectOptions()
	if reconnect != nil {
		opts.MaxRetries = reconnect.MaxRetries
		if reconnect.InitialDelay > 0 {
			opts.InitialDelay = reconnect.InitialDelay
		}
		if reconnect.MaxDelay > 0 {
			opts.MaxDelay = reconnect.MaxDelay
		}
	}

	return &Client{
		cfg:       cfg,
		reconnect: opts,
		bus:       events.NewEventBus(),
		session:   newSessionState(),
		enabled:   make(map[string]bool),
	}, nil
}

// Subscribe registers a subscriber for one event type (or events.Wildcard).
// Subscribers run on the read loop and must not block for long.
func (c *Client) Subscribe(eventType string, sub events.Subscriber) (unsubscribe func()) {
	return c.bus.Subscribe(eventType, sub)
}

// State returns the current lifecycle state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Members returns the known members of a channel, sorted
func (c *Client) Members(channel string) []string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.session.snapshot(channel).Members
}

// HasCapability reports whether the server acknowledged a capability on the
// current connection
func (c *Client) HasCapability(name string) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.enabled[name]
}

// Connect starts connecting in the background. Failures surface as error and
// close events and feed the reconnect policy. Calling Connect on an active
// client restarts it.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	old := c.conn
	c.conn = nil
	c.intentional = false
	c.gen++
	gen := c.gen
	c.ctx, c.cancel = context.WithCancel(context.Background())
	ctx := c.ctx
	c.state = StateConnecting
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go c.run(ctx, gen)
}

// Disconnect closes the connection and cancels any pending reconnect. It is
// safe to call in any state and more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	if conn != nil {
		logger.Log.Info().Str("server", c.addr()).Str("nick", c.cfg.Nick).Msg("Disconnecting from IRC server")
		conn.Close()
	}
}

// Join joins a channel. Membership arrives later via NAMES and JOIN.
func (c *Client) Join(channel string) {
	c.send("JOIN", channel)
}

// Privmsg sends a message to a channel or nick
func (c *Client) Privmsg(target, message string) {
	c.sendTrailing("PRIVMSG", target, message)
}

// FetchHistory requests the latest messages of a channel. The reply arrives
// as a history event. limit <= 0 requests the default.
func (c *Client) FetchHistory(channel string, limit int) {
	if limit <= 0 {
		limit = constants.DefaultHistoryLimit
	}
	c.send("CHATHISTORY", "LATEST", channel, "*", strconv.Itoa(limit))
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

func (c *Client) setState(gen uint64, state State) {
	c.mu.Lock()
	if gen == c.gen && !c.intentional {
		c.state = state
	}
	c.mu.Unlock()
}

// run owns one connection attempt: dial, register, read until closed
func (c *Client) run(ctx context.Context, gen uint64) {
	c.setState(gen, StateConnecting)
	logger.Log.Info().Str("server", c.addr()).Str("nick", c.cfg.Nick).Msg("Connecting to IRC server")

	conn, err := c.dial(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Log.Warn().Err(err).Str("server", c.addr()).Msg("IRC connection failed")
			c.emit(EventError, err)
		}
		c.closed(gen)
		return
	}

	c.mu.Lock()
	if c.intentional || gen != c.gen {
		c.mu.Unlock()
		conn.Close()
		c.closed(gen)
		return
	}
	c.conn = conn
	c.attempts = 0
	c.state = StateRegistering
	c.mu.Unlock()

	c.resetSession()
	logger.Log.Info().Str("server", c.addr()).Msg("TCP connected")

	c.send("CAP", "LS", "302")
	c.send("NICK", c.cfg.Nick)
	c.sendTrailing("USER", c.cfg.Username, "0", "*", c.cfg.Realname)

	err = readLines(conn, c.handleLine)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	quiet := c.intentional || gen != c.gen
	c.mu.Unlock()
	conn.Close()

	if err != nil && !quiet && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		logger.Log.Warn().Err(err).Str("server", c.addr()).Msg("IRC connection error")
		c.emit(EventError, err)
	}
	c.closed(gen)
}

// readLines frames a byte stream into IRC lines. Both \r\n and bare \n
// terminate a line; a trailing partial line waits for the next read. A line
// longer than the reader's buffer is dropped and framing resumes after its
// terminator.
func readLines(r io.Reader, handle func(line string)) error {
	reader := ircreader.NewIRCReader(r)
	discarding := false
	for {
		line, err := reader.ReadLine()
		if errors.Is(err, ircreader.ErrReadQ) {
			// the buffer holds only the unterminated prefix, so a fresh
			// reader loses nothing but the overlong line itself
			if !discarding {
				logger.Log.Debug().Msg("Dropping overlong inbound line")
			}
			reader = ircreader.NewIRCReader(r)
			discarding = true
			continue
		}
		if err != nil {
			return err
		}
		if discarding {
			discarding = false
			continue
		}
		text := strings.TrimRight(string(line), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		handle(text)
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DialTimeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: constants.DialTimeout}
	d := proxy.FromEnvironmentUsing(dialer)

	var conn net.Conn
	var err error
	if cd, ok := d.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", c.addr())
	} else {
		conn, err = d.Dial("tcp", c.addr())
	}
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if c.cfg.TLS {
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName: c.cfg.Host,
			NextProtos: []string{"irc"},
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}
	return conn, nil
}

// closed runs after a connection attempt ends, whatever the cause
func (c *Client) closed(gen uint64) {
	c.mu.Lock()
	quiet := c.intentional || gen != c.gen
	if c.intentional && gen == c.gen {
		c.state = StateClosed
	}
	c.mu.Unlock()

	logger.Log.Info().Str("server", c.addr()).Bool("intentional", quiet).Msg("IRC socket closed")
	c.emit(EventClose, nil)

	if !quiet {
		c.attemptReconnect(gen)
	}
}

func (c *Client) attemptReconnect(gen uint64) {
	c.mu.Lock()
	if c.intentional || gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.reconnect.MaxRetries {
		c.state = StateClosed
		c.mu.Unlock()
		logger.Log.Error().Int("max_retries", c.reconnect.MaxRetries).Str("server", c.addr()).Msg("Max reconnection attempts reached")
		c.emit(EventReconnectFailed, nil)
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := c.reconnect.Delay(attempt)
	c.state = StateReconnecting
	ctx := c.ctx
	c.mu.Unlock()

	logger.Log.Info().
		Int("attempt", attempt).
		Int("max_retries", c.reconnect.MaxRetries).
		Dur("delay", delay).
		Msg("Reconnecting to IRC server")
	c.emit(EventReconnecting, Reconnecting{Attempt: attempt, Delay: delay})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.intentional || gen != c.gen {
		return
	}
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.intentional || gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.mu.Unlock()
		c.run(ctx, gen)
	})
}

// resetSession clears per-connection protocol state
func (c *Client) resetSession() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.session = newSessionState()
	c.advertised = nil
	c.enabled = make(map[string]bool)
	c.sasl = nil
}

func (c *Client) emit(eventType string, payload interface{}) {
	c.bus.Emit(events.Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		Source:    events.EventSourceIRC,
	})
}

// send writes a command whose last parameter is a plain middle parameter
func (c *Client) send(command string, params ...string) {
	c.write(ircmsg.MakeMessage(nil, "", command, params...))
}

// sendTrailing writes a command whose last parameter is always ':'-prefixed
func (c *Client) sendTrailing(command string, params ...string) {
	msg := ircmsg.MakeMessage(nil, "", command, params...)
	msg.ForceTrailing()
	c.write(msg)
}

// write is best effort: with no open socket the line is dropped
func (c *Client) write(msg ircmsg.Message) {
	line, err := msg.Line()
	if err != nil {
		logger.Log.Warn().Err(err).Str("command", msg.Command).Msg("Dropping invalid IRC line")
		return
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		logger.Log.Debug().Str("command", msg.Command).Msg("Socket not writable, dropping line")
		return
	}

	logger.Log.Debug().Str("line", redact(msg)).Msg(">>>")

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
	_, err = io.WriteString(conn, line)
	c.writeMu.Unlock()

	if err != nil {
		c.mu.Lock()
		quiet := c.intentional || c.conn != conn
		c.mu.Unlock()
		if !quiet {
			c.emit(EventError, fmt.Errorf("write: %w", err))
		}
	}
}

// redact hides credentials from the outbound debug log
func redact(msg ircmsg.Message) string {
	const placeholder = "<removed>"
	d := msg
	switch msg.Command {
	case "AUTHENTICATE":
		if len(d.Params) >= 1 {
			switch d.Params[0] {
			case "*", "+", "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
			default:
				d.Params = []string{placeholder}
			}
		}
	case "REGISTER":
		if len(d.Params) >= 2 {
			d.Params = append([]string{d.Params[0]}, placeholder)
		}
	}
	line, err := d.Line()
	if err != nil {
		return msg.Command
	}
	return strings.TrimRight(line, "\r\n")
}
