package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matt0x6f/ironcord-gateway/internal/config"
	"github.com/matt0x6f/ironcord-gateway/internal/constants"
	"github.com/matt0x6f/ironcord-gateway/internal/events"
	"github.com/matt0x6f/ironcord-gateway/internal/irc"
	"github.com/matt0x6f/ironcord-gateway/internal/logger"
	"github.com/matt0x6f/ironcord-gateway/internal/relay"
	"github.com/matt0x6f/ironcord-gateway/internal/storage"
	"github.com/matt0x6f/ironcord-gateway/internal/validation"
)

// Errors surfaced to the browser verbatim as irc:error
var (
	ErrNoSession = errors.New("No active IRC connection")
	ErrNotReady  = errors.New("IRC session not ready")
)

const reconnectFailedText = "Connection failed after max retries"

// Store is the persistence the session layer depends on
type Store interface {
	GetUser(userID string) (*storage.User, error)
	GetUserChannels(userID string) ([]string, error)
	WriteMessage(msg storage.Message) error
	WriteMessageSync(msg storage.Message) error
}

// App owns one IRC client per relay session
type App struct {
	cfg   config.Config
	store Store

	mu       sync.Mutex
	sessions map[string]*session
}

// NewApp creates the session layer
func NewApp(cfg config.Config, store Store) *App {
	return &App{
		cfg:      cfg,
		store:    store,
		sessions: make(map[string]*session),
	}
}

// withTimestamp substitutes the receive time when the server sent no time tag
func withTimestamp(m irc.Message) irc.Message {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	m.Timestamp = m.Timestamp.UTC()
	return m
}

// reconnectInfo carries the delay in milliseconds
type reconnectInfo struct {
	Attempt int   `json:"attempt"`
	Delay   int64 `json:"delay"`
}

// session ties one relay connection to one IRC client
type session struct {
	app         *App
	id          string
	userID      string
	nick        string
	client      *irc.Client
	sink        relay.Sink
	unsubscribe func()

	mu     sync.Mutex
	ready  bool
	closed bool
	timers []*time.Timer
}

// Connect starts an IRC session for a relay connection. Host, port and TLS
// come from gateway configuration; the nick defaults to the user's stored
// IRC nick. A second Connect on the same session replaces the first.
func (a *App) Connect(sessionID, userID string, identity relay.Identity, sink relay.Sink) error {
	nick := identity.Nick
	if nick == "" {
		user, err := a.store.GetUser(userID)
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		nick = user.IRCNick
	}

	reconnect := a.cfg.Reconnect
	client, err := irc.NewClient(irc.Config{
		Host:          a.cfg.IRC.Host,
		Port:          a.cfg.IRC.Port,
		TLS:           a.cfg.IRC.TLS,
		Nick:          nick,
		Username:      identity.Username,
		Realname:      identity.Realname,
		Password:      identity.Password,
		SASLMechanism: a.cfg.IRC.SASLMechanism,
	}, &reconnect)
	if err != nil {
		return err
	}

	s := &session{
		app:    a,
		id:     sessionID,
		userID: userID,
		nick:   nick,
		client: client,
		sink:   sink,
	}
	s.unsubscribe = client.Subscribe(events.Wildcard, s)

	a.mu.Lock()
	old := a.sessions[sessionID]
	a.sessions[sessionID] = s
	a.mu.Unlock()

	if old != nil {
		logger.Log.Info().Str("session", sessionID).Msg("Replacing existing IRC session")
		old.shutdown()
	}

	logger.Log.Info().Str("session", sessionID).Str("user", userID).Str("nick", nick).Msg("Starting IRC session")
	client.Connect()
	return nil
}

func (a *App) session(sessionID string) *session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[sessionID]
}

// SendMessage sends a PRIVMSG on behalf of a registered session
func (a *App) SendMessage(sessionID, channel, message string) error {
	s := a.session(sessionID)
	if s == nil {
		logger.Log.Warn().Str("session", sessionID).Msg("Dropping message; no IRC client is attached")
		return ErrNoSession
	}
	if !s.isReady() {
		logger.Log.Warn().Str("session", sessionID).Msg("Dropping message; IRC client is not registered yet")
		return ErrNotReady
	}

	channel = validation.NormalizeChannel(channel)
	if err := validation.ValidateChannelName(channel); err != nil {
		return err
	}
	s.client.Privmsg(channel, message)

	// With echo-message the server reflects it back and it is archived as live
	if !s.client.HasCapability("echo-message") {
		err := a.store.WriteMessageSync(storage.Message{
			Channel: channel,
			Author:  s.nick,
			Content: message,
			Source:  storage.SourceSent,
		})
		if err != nil {
			logger.Log.Warn().Err(err).Str("session", sessionID).Msg("Failed to archive sent message")
		}
	}
	return nil
}

// SetPresence maps a browser presence status onto AWAY. Sessions without a
// client ignore it.
func (a *App) SetPresence(sessionID, status string) error {
	s := a.session(sessionID)
	if s == nil {
		logger.Log.Debug().Str("session", sessionID).Msg("Ignoring presence; no IRC client is attached")
		return nil
	}
	if err := s.client.SetPresence(irc.Presence(status)); err != nil {
		return err
	}
	logger.Log.Info().Str("session", sessionID).Str("status", status).Msg("Presence updated")
	return nil
}

// DisconnectSession tears down the session's IRC client, if any
func (a *App) DisconnectSession(sessionID string) {
	a.mu.Lock()
	s := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	a.mu.Unlock()

	if s != nil {
		s.shutdown()
	}
}

// Shutdown disconnects every session
func (a *App) Shutdown() {
	logger.Log.Info().Msg("Session layer shutdown initiated")

	a.mu.Lock()
	sessions := make([]*session, 0, len(a.sessions))
	for id, s := range a.sessions {
		sessions = append(sessions, s)
		delete(a.sessions, id)
	}
	a.mu.Unlock()

	for _, s := range sessions {
		s.shutdown()
	}
	if len(sessions) > 0 {
		// let read loops observe the closed sockets before storage goes away
		time.Sleep(constants.ConnectionCleanupDelay)
	}
	logger.Log.Info().Int("sessions", len(sessions)).Msg("Session layer shutdown complete")
}

func (s *session) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *session) setReady(ready bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ready = ready
	return true
}

// after runs fn once d has elapsed unless the session is shut down first
func (s *session) after(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.timers = append(s.timers, time.AfterFunc(d, fn))
}

// cancelPending stops scheduled callbacks; fired timers are dropped with them
func (s *session) cancelPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

func (s *session) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.ready = false
	s.mu.Unlock()
	s.cancelPending()

	s.unsubscribe()
	s.client.Disconnect()
}

// OnEvent relays client events to the browser
func (s *session) OnEvent(event events.Event) {
	switch event.Type {
	case irc.EventRegistered:
		s.onRegistered()
	case irc.EventMessage:
		msg, ok := event.Payload.(irc.Message)
		if !ok {
			return
		}
		msg = withTimestamp(msg)
		s.archive(msg, storage.SourceLive)
		s.sink.Send(relay.TypeMessage, msg)
	case irc.EventHistory:
		msgs, ok := event.Payload.([]irc.Message)
		if !ok {
			return
		}
		out := make([]irc.Message, 0, len(msgs))
		for _, m := range msgs {
			m = withTimestamp(m)
			s.archive(m, storage.SourceHistory)
			out = append(out, m)
		}
		s.sink.Send(relay.TypeHistory, out)
	case irc.EventMembers:
		s.sink.Send(relay.TypeMembers, event.Payload)
	case irc.EventReconnecting:
		r, ok := event.Payload.(irc.Reconnecting)
		if !ok {
			return
		}
		s.sink.Send(relay.TypeReconnecting, reconnectInfo{Attempt: r.Attempt, Delay: r.Delay.Milliseconds()})
	case irc.EventReconnectFailed:
		s.sink.Send(relay.TypeError, reconnectFailedText)
	case irc.EventError:
		if err, ok := event.Payload.(error); ok {
			s.sink.Send(relay.TypeError, err.Error())
		}
	case irc.EventClose:
		s.setReady(false)
		s.cancelPending()
		s.sink.Send(relay.TypeDisconnected, nil)
	}
}

// onRegistered marks the session ready, auto-joins the user's channels and
// schedules a history fetch for each
func (s *session) onRegistered() {
	if !s.setReady(true) {
		return
	}
	logger.Log.Info().Str("session", s.id).Str("user", s.userID).Msg("IRC registration complete")
	s.sink.Send(relay.TypeRegistered, nil)
	// history fetches scheduled by an earlier registration are superseded
	s.cancelPending()

	channels, err := s.app.store.GetUserChannels(s.userID)
	if err != nil {
		logger.Log.Error().Err(err).Str("user", s.userID).Msg("Error auto-joining channels")
		s.sink.Send(relay.TypeError, "Failed to auto-join some channels")
		return
	}

	history := s.app.cfg.History
	for _, name := range channels {
		channel := validation.NormalizeChannel(name)
		s.client.Join(channel)
		s.after(history.Delay, func() {
			s.client.FetchHistory(channel, history.Limit)
		})
	}
}

func (s *session) archive(msg irc.Message, source string) {
	err := s.app.store.WriteMessage(storage.Message{
		Channel:   msg.Channel,
		Author:    msg.Author,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		Source:    source,
	})
	if err != nil {
		logger.Log.Warn().Err(err).Str("channel", msg.Channel).Msg("Failed to archive message")
	}
}
