package irc

import (
	"fmt"
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/google/uuid"
	"github.com/matt0x6f/ironcord-gateway/internal/logger"
)

// handleLine parses one framed line and dispatches it. Unparseable or
// unknown input is ignored.
func (c *Client) handleLine(line string) {
	logger.Log.Debug().Str("line", line).Msg("<<<")

	msg, err := ircmsg.ParseLine(line)
	if err != nil {
		logger.Log.Debug().Err(err).Str("line", line).Msg("Ignoring malformed IRC line")
		return
	}

	switch strings.ToUpper(msg.Command) {
	case "PING":
		c.handlePing(msg)
	case "CAP":
		c.handleCap(msg)
	case "AUTHENTICATE":
		c.handleAuthenticate(msg)
	case RPL_SASLSUCCESS, RPL_LOGGEDIN, ERR_SASLALREADY:
		c.send("CAP", "END")
	case ERR_SASLFAIL, ERR_SASLTOOLONG:
		c.handleSASLFailure(line)
	case RPL_WELCOME:
		c.handleWelcome()
	case RPL_NAMREPLY:
		c.handleNames(msg)
	case "JOIN":
		c.handleJoin(msg)
	case "PART":
		c.handlePart(msg)
	case "KICK":
		c.handleKick(msg)
	case "QUIT":
		c.handleQuit(msg)
	case "NICK":
		c.handleNick(msg)
	case "BATCH":
		c.handleBatch(msg)
	case "PRIVMSG":
		c.handlePrivmsg(msg)
	default:
		// Account registration confirmations arrive as NOTICE or REGISTER
		// replies depending on the server
		if strings.Contains(line, accountRegisteredText) {
			logger.Log.Info().Str("nick", c.cfg.Nick).Msg("Account registered")
			c.send("CAP", "END")
		}
	}
}

func (c *Client) handlePing(msg ircmsg.Message) {
	token := ""
	if len(msg.Params) > 0 {
		token = msg.Params[0]
	}
	c.sendTrailing("PONG", token)
}

// handleCap drives capability negotiation: CAP <target> <sub> [*] :<caps>
func (c *Client) handleCap(msg ircmsg.Message) {
	if len(msg.Params) < 3 {
		return
	}
	list := strings.Fields(msg.Params[len(msg.Params)-1])

	switch strings.ToUpper(msg.Params[1]) {
	case "LS":
		// A "*" before the final parameter marks a continued multi-line reply
		continued := len(msg.Params) >= 4 && msg.Params[2] == "*"

		c.stateMu.Lock()
		c.advertised = append(c.advertised, list...)
		c.stateMu.Unlock()

		req := requestedCapabilities(list, c.cfg.Password != "")
		if len(req) > 0 {
			c.sendTrailing("CAP", "REQ", strings.Join(req, " "))
		} else if !continued {
			c.send("CAP", "END")
		}
	case "ACK":
		c.stateMu.Lock()
		for _, capability := range list {
			name := capName(capability)
			if strings.HasPrefix(name, "-") {
				delete(c.enabled, name[1:])
			} else {
				c.enabled[name] = true
			}
		}
		c.stateMu.Unlock()

		// Every ACK either starts SASL or ends negotiation, one ACK per REQ.
		// With a multi-line LS the ACK for a later line can send CAP END while
		// SASL is in flight. That is intended; registration is driven by 001
		// either way.
		if hasCapability(list, "sasl") {
			c.startSASL()
		} else {
			c.send("CAP", "END")
		}
	case "NAK":
		logger.Log.Warn().Strs("caps", list).Msg("Server rejected capability request")
		c.send("CAP", "END")
	}
}

// saslMechanismLocked returns the current exchange's mechanism, creating it
// on first use. Caller holds stateMu.
func (c *Client) saslMechanismLocked() saslMechanism {
	if c.sasl == nil && c.cfg.Password != "" {
		mech, err := newSASLMechanism(c.cfg)
		if err != nil {
			logger.Log.Error().Err(err).Msg("Cannot start SASL")
			return nil
		}
		c.sasl = mech
	}
	return c.sasl
}

func (c *Client) startSASL() {
	c.stateMu.Lock()
	c.sasl = nil
	mech := c.saslMechanismLocked()
	c.stateMu.Unlock()

	if mech == nil {
		c.send("CAP", "END")
		return
	}
	logger.Log.Info().Str("mechanism", mech.Name()).Str("nick", c.cfg.Nick).Msg("Starting SASL authentication")
	c.send("AUTHENTICATE", mech.Name())
}

func (c *Client) handleAuthenticate(msg ircmsg.Message) {
	if len(msg.Params) == 0 {
		return
	}

	c.stateMu.Lock()
	mech := c.saslMechanismLocked()
	c.stateMu.Unlock()
	if mech == nil {
		return
	}

	resp, err := mech.Respond(msg.Params[0])
	if err != nil {
		logger.Log.Warn().Err(err).Str("mechanism", mech.Name()).Msg("SASL exchange aborted")
		c.send("AUTHENTICATE", "*")
		c.emit(EventError, fmt.Errorf("%w: %v", ErrSASLFailed, err))
		return
	}
	for _, chunk := range authenticateChunks(resp) {
		c.send("AUTHENTICATE", chunk)
	}
}

// handleSASLFailure tells a missing account (register it) apart from a
// terminal failure (surface it, leave the socket to the caller)
func (c *Client) handleSASLFailure(line string) {
	c.stateMu.Lock()
	c.sasl = nil
	c.stateMu.Unlock()

	if strings.Contains(line, accountMissingText) {
		logger.Log.Info().Str("nick", c.cfg.Nick).Msg("Account does not exist, attempting to register")
		c.send("REGISTER", c.cfg.Nick, c.cfg.Password)
		return
	}
	logger.Log.Error().Str("nick", c.cfg.Nick).Msg("SASL authentication failed")
	c.emit(EventError, ErrSASLFailed)
}

func (c *Client) handleWelcome() {
	c.mu.Lock()
	if !c.intentional {
		c.state = StateRegistered
	}
	c.mu.Unlock()

	logger.Log.Info().Str("server", c.addr()).Str("nick", c.cfg.Nick).Msg("Registered with IRC network")
	c.emit(EventRegistered, nil)
}

// handleNames records RPL_NAMREPLY: <me> <type> <channel> :<names>
func (c *Client) handleNames(msg ircmsg.Message) {
	if len(msg.Params) < 4 {
		return
	}
	c.stateMu.Lock()
	snapshot := c.session.addNames(msg.Params[2], msg.Params[len(msg.Params)-1])
	c.stateMu.Unlock()

	c.emit(EventMembers, snapshot)
}

func (c *Client) handleJoin(msg ircmsg.Message) {
	nick := msg.Nick()
	if len(msg.Params) < 1 || nick == "" {
		return
	}
	c.stateMu.Lock()
	snapshot := c.session.join(msg.Params[0], nick)
	c.stateMu.Unlock()

	c.emit(EventMembers, snapshot)
}

func (c *Client) handlePart(msg ircmsg.Message) {
	if len(msg.Params) < 1 {
		return
	}
	c.removeMember(msg.Params[0], msg.Nick())
}

// handleKick removes the kicked nick, not the kicker
func (c *Client) handleKick(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}
	c.removeMember(msg.Params[0], msg.Params[1])
}

func (c *Client) removeMember(channel, nick string) {
	c.stateMu.Lock()
	snapshot, ok := c.session.leave(channel, nick)
	c.stateMu.Unlock()

	if ok {
		c.emit(EventMembers, snapshot)
	}
}

func (c *Client) handleQuit(msg ircmsg.Message) {
	nick := msg.Nick()
	if nick == "" {
		return
	}
	c.stateMu.Lock()
	changed := c.session.quit(nick)
	c.stateMu.Unlock()

	for _, snapshot := range changed {
		c.emit(EventMembers, snapshot)
	}
}

func (c *Client) handleNick(msg ircmsg.Message) {
	oldNick := msg.Nick()
	if len(msg.Params) < 1 || oldNick == "" {
		return
	}
	c.stateMu.Lock()
	changed := c.session.rename(oldNick, msg.Params[0])
	c.stateMu.Unlock()

	for _, snapshot := range changed {
		c.emit(EventMembers, snapshot)
	}
}

// handleBatch opens (+id) or flushes (-id) a history batch
func (c *Client) handleBatch(msg ircmsg.Message) {
	if len(msg.Params) < 1 || len(msg.Params[0]) < 2 {
		return
	}
	ref := msg.Params[0]
	id := ref[1:]

	switch ref[0] {
	case '+':
		c.stateMu.Lock()
		c.session.openBatch(id)
		c.stateMu.Unlock()
	case '-':
		c.stateMu.Lock()
		messages := c.session.closeBatch(id)
		c.stateMu.Unlock()

		if len(messages) > 0 {
			c.emit(EventHistory, messages)
		}
	}
}

func (c *Client) handlePrivmsg(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}

	m := Message{
		ID:      uuid.NewString(),
		Author:  msg.Nick(),
		Channel: msg.Params[0],
		Content: msg.Params[1],
	}
	if present, value := msg.GetTag("time"); present {
		if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
			m.Timestamp = ts
		}
	}

	if present, batchID := msg.GetTag("batch"); present {
		c.stateMu.Lock()
		buffered := c.session.appendBatch(batchID, m)
		c.stateMu.Unlock()
		if buffered {
			return
		}
	}
	c.emit(EventMessage, m)
}
