package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/matt0x6f/ironcord-gateway/internal/constants"
	"github.com/matt0x6f/ironcord-gateway/internal/logger"
	"golang.org/x/time/rate"
)

// Sink delivers outbound frames to one browser connection. Implementations
// must be safe for concurrent use.
type Sink interface {
	Send(frameType string, data interface{})
}

// Gateway is the session layer behind the relay. sessionID identifies one
// browser connection for its whole lifetime.
type Gateway interface {
	Connect(sessionID, userID string, identity Identity, sink Sink) error
	SendMessage(sessionID, channel, message string) error
	SetPresence(sessionID, status string) error
	DisconnectSession(sessionID string)
}

// TokenResolver maps a bearer token to a user id
type TokenResolver interface {
	UserIDForToken(token string) (string, error)
}

// Options tunes the relay
type Options struct {
	// PerSecond and Burst bound inbound frames per connection
	PerSecond float64
	Burst     int
}

// Server upgrades authenticated HTTP requests to relay WebSockets
type Server struct {
	gateway  Gateway
	tokens   TokenResolver
	upgrader websocket.Upgrader
	limit    rate.Limit
	burst    int
}

func NewServer(gateway Gateway, tokens TokenResolver, opts Options) *Server {
	return &Server{
		gateway: gateway,
		tokens:  tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Access is gated by the bearer token, not by origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limit: rate.Limit(opts.PerSecond),
		burst: opts.Burst,
	}
}

// Handler returns the relay's HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	userID, err := s.tokens.UserIDForToken(token)
	if err != nil {
		logger.Log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Rejected relay token")
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	sessionID := uuid.NewString()
	conn := &wsConn{conn: ws}
	log := logger.Log.With().Str("session", sessionID).Str("user", userID).Logger()
	log.Info().Str("remote", r.RemoteAddr).Msg("Relay client connected")

	defer func() {
		s.gateway.DisconnectSession(sessionID)
		conn.close()
		log.Info().Msg("Relay client disconnected")
	}()

	limiter := rate.NewLimiter(s.limit, s.burst)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Relay read failed")
			}
			return
		}
		if !limiter.Allow() {
			conn.Send(TypeError, "Rate limit exceeded")
			continue
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Debug().Err(err).Msg("Dropping malformed frame")
			continue
		}
		s.dispatch(sessionID, userID, conn, f)
	}
}

var errMissingData = errors.New("missing frame data")

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return errMissingData
	}
	return json.Unmarshal(data, v)
}

func (s *Server) dispatch(sessionID, userID string, conn *wsConn, f Frame) {
	switch f.Type {
	case TypeConnect:
		var p ConnectParams
		if err := decode(f.Data, &p); err != nil {
			logger.Log.Warn().Err(err).Str("session", sessionID).Msg("Dropping malformed irc:connect payload")
			return
		}
		if err := s.gateway.Connect(sessionID, userID, p.Config, conn); err != nil {
			conn.Send(TypeError, err.Error())
		}
	case TypeMessage:
		var p MessageParams
		if err := decode(f.Data, &p); err != nil || p.Channel == "" || p.Message == "" {
			logger.Log.Warn().Str("session", sessionID).Msg("Dropping malformed irc:message payload")
			return
		}
		if err := s.gateway.SendMessage(sessionID, p.Channel, p.Message); err != nil {
			conn.Send(TypeError, err.Error())
		}
	case TypePresence:
		var p PresenceParams
		if err := decode(f.Data, &p); err != nil || p.Status == "" {
			logger.Log.Warn().Str("session", sessionID).Msg("Dropping malformed irc:presence payload")
			return
		}
		if err := s.gateway.SetPresence(sessionID, p.Status); err != nil {
			conn.Send(TypeError, err.Error())
		}
	default:
		logger.Log.Debug().Str("session", sessionID).Str("type", f.Type).Msg("Ignoring unknown frame type")
	}
}

// wsConn serializes writes to a WebSocket; gorilla allows one writer at a time
type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (c *wsConn) Send(frameType string, data interface{}) {
	f := Frame{Type: frameType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			logger.Log.Error().Err(err).Str("type", frameType).Msg("Cannot encode frame")
			return
		}
		f.Data = raw
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
	if err := c.conn.WriteJSON(f); err != nil {
		logger.Log.Debug().Err(err).Str("type", frameType).Msg("Relay write failed")
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.conn.Close()
}
