package storage

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/matt0x6f/ironcord-gateway/internal/logger"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrClosed             = errors.New("storage is closed")
)

const insertMessageQuery = `INSERT OR IGNORE INTO messages (id, channel, author, content, timestamp, source)
          VALUES (:id, :channel, :author, :content, :timestamp, :source)`

// Storage handles database operations
type Storage struct {
	db            *sqlx.DB
	writeBuffer   chan Message
	flushInterval time.Duration
	mu            sync.Mutex // serializes flushes
	stopCh        chan struct{}
	wg            sync.WaitGroup

	// Writers hold closedMu for reading while they touch writeBuffer
	closedMu sync.RWMutex
	closed   bool
}

// NewStorage opens (or creates) the sqlite database at dbPath and starts the
// archive flusher
func NewStorage(dbPath string, bufferSize int, flushInterval time.Duration) (*Storage, error) {
	db, err := sqlx.Connect("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection in WAL mode
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	if bufferSize <= 0 {
		bufferSize = 1
	}
	s := &Storage{
		db:            db,
		writeBuffer:   make(chan Message, bufferSize),
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.flushLoop()

	return s, nil
}

// Close flushes buffered messages and closes the database. Safe to call twice.
func (s *Storage) Close() error {
	s.closedMu.Lock()
	if s.closed {
		s.closedMu.Unlock()
		return nil
	}
	s.closed = true
	s.closedMu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Storage) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.flushBuffer()
			return
		case <-ticker.C:
			s.flushBuffer()
		}
	}
}

// flushBuffer drains the write buffer into one batch insert
func (s *Storage) flushBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]Message, 0, len(s.writeBuffer))
drain:
	for {
		select {
		case msg := <-s.writeBuffer:
			messages = append(messages, msg)
		default:
			break drain
		}
	}
	if len(messages) == 0 {
		return
	}

	if _, err := s.db.NamedExec(insertMessageQuery, messages); err != nil {
		logger.Log.Error().Err(err).Int("count", len(messages)).Msg("Error flushing messages")
	}
}

func normalizeMessage(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Timestamp = msg.Timestamp.UTC()
	if msg.Source == "" {
		msg.Source = SourceLive
	}
	return msg
}

// WriteMessage queues a message for batch insertion. Duplicates (same
// channel, author, time and content) are ignored, so replayed history can
// be archived freely.
func (s *Storage) WriteMessage(msg Message) error {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	msg = normalizeMessage(msg)
	select {
	case s.writeBuffer <- msg:
		return nil
	default:
	}

	// Buffer full, flush immediately
	s.flushBuffer()
	select {
	case s.writeBuffer <- msg:
		return nil
	default:
		return fmt.Errorf("write buffer full and flush failed")
	}
}

// WriteMessageSync writes a message immediately, after anything already
// buffered. Use this for messages that must be readable right away.
func (s *Storage) WriteMessageSync(msg Message) error {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	s.flushBuffer()
	_, err := s.db.NamedExec(insertMessageQuery, normalizeMessage(msg))
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// GetMessages returns the latest limit messages of a channel in
// chronological order
func (s *Storage) GetMessages(channel string, limit int) ([]Message, error) {
	var messages []Message
	err := s.db.Select(&messages,
		`SELECT id, channel, author, content, timestamp, source FROM messages
		 WHERE channel = ?
		 ORDER BY timestamp DESC
		 LIMIT ?`,
		channel, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}

	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CreateUser registers a gateway account. The password is stored as a bcrypt hash.
func (s *Storage) CreateUser(email, password, ircNick string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: string(hash),
		IRCNick:      ircNick,
		CreatedAt:    time.Now().UTC(),
	}

	_, err = s.db.NamedExec(`INSERT INTO users (id, email, password_hash, irc_nick, created_at)
	          VALUES (:id, :email, :password_hash, :irc_nick, :created_at)`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Authenticate checks an email/password pair
func (s *Storage) Authenticate(email, password string) (*User, error) {
	var user User
	err := s.db.Get(&user, "SELECT * FROM users WHERE email = ?", strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// GetUser retrieves a user by ID
func (s *Storage) GetUser(userID string) (*User, error) {
	var user User
	err := s.db.Get(&user, "SELECT * FROM users WHERE id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by (case-insensitive) email
func (s *Storage) GetUserByEmail(email string) (*User, error) {
	var user User
	err := s.db.Get(&user, "SELECT * FROM users WHERE email = ?", strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// channelSlug lowercases a display name and strips whitespace
func channelSlug(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "")
}

// CreateGuild creates a guild with namespace prefix "#<slug>-" and adds the
// owner as its first member
func (s *Storage) CreateGuild(name, ownerID string) (*Guild, error) {
	guild := &Guild{
		ID:                 uuid.NewString(),
		Name:               name,
		OwnerID:            ownerID,
		IRCNamespacePrefix: "#" + channelSlug(name) + "-",
		CreatedAt:          time.Now().UTC(),
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExec(`INSERT INTO guilds (id, name, owner_id, irc_namespace_prefix, created_at)
	          VALUES (:id, :name, :owner_id, :irc_namespace_prefix, :created_at)`, guild)
	if err != nil {
		return nil, fmt.Errorf("failed to create guild: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO guild_members (guild_id, user_id) VALUES (?, ?)", guild.ID, ownerID); err != nil {
		return nil, fmt.Errorf("failed to add guild owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit guild: %w", err)
	}
	return guild, nil
}

// AddGuildMember adds a user to a guild; adding an existing member is a no-op
func (s *Storage) AddGuildMember(guildID, userID string) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO guild_members (guild_id, user_id) VALUES (?, ?)", guildID, userID)
	if err != nil {
		return fmt.Errorf("failed to add guild member: %w", err)
	}
	return nil
}

// CreateChannel creates a guild channel backed by IRC channel
// <guild prefix><slug>
func (s *Storage) CreateChannel(guildID, name, topic string) (*Channel, error) {
	var prefix string
	err := s.db.Get(&prefix, "SELECT irc_namespace_prefix FROM guilds WHERE id = ?", guildID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("guild %s: %w", guildID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get guild: %w", err)
	}

	channel := &Channel{
		ID:             uuid.NewString(),
		GuildID:        guildID,
		Name:           name,
		IRCChannelName: prefix + channelSlug(name),
		Topic:          topic,
		CreatedAt:      time.Now().UTC(),
	}
	_, err = s.db.NamedExec(`INSERT INTO channels (id, guild_id, name, irc_channel_name, topic, created_at)
	          VALUES (:id, :guild_id, :name, :irc_channel_name, :topic, :created_at)`, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	return channel, nil
}

// GetUserGuilds returns the guilds a user is a member of, by name
func (s *Storage) GetUserGuilds(userID string) ([]Guild, error) {
	var guilds []Guild
	err := s.db.Select(&guilds, `
		SELECT g.* FROM guilds g
		JOIN guild_members gm ON g.id = gm.guild_id
		WHERE gm.user_id = ?
		ORDER BY g.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user guilds: %w", err)
	}
	return guilds, nil
}

// GetGuildChannels returns a guild's channels ordered by IRC channel name
func (s *Storage) GetGuildChannels(guildID string) ([]Channel, error) {
	var channels []Channel
	err := s.db.Select(&channels,
		"SELECT * FROM channels WHERE guild_id = ? ORDER BY irc_channel_name", guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get guild channels: %w", err)
	}
	return channels, nil
}

// GetUserChannels returns the IRC channel names of every channel in every
// guild the user belongs to
func (s *Storage) GetUserChannels(userID string) ([]string, error) {
	var names []string
	err := s.db.Select(&names, `
		SELECT c.irc_channel_name FROM channels c
		JOIN guild_members gm ON c.guild_id = gm.guild_id
		WHERE gm.user_id = ?
		ORDER BY c.irc_channel_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user channels: %w", err)
	}
	return names, nil
}

// CreateAuthToken issues a bearer token for userID valid for ttl
func (s *Storage) CreateAuthToken(userID string, ttl time.Duration) (*AuthToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	now := time.Now().UTC()
	token := &AuthToken{
		Token:     base64.RawURLEncoding.EncodeToString(raw),
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	_, err := s.db.NamedExec(`INSERT INTO auth_tokens (token, user_id, expires_at, created_at)
	          VALUES (:token, :user_id, :expires_at, :created_at)`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}
	return token, nil
}

// UserIDForToken resolves a bearer token. Unknown and expired tokens both
// return ErrNotFound.
func (s *Storage) UserIDForToken(token string) (string, error) {
	var t AuthToken
	err := s.db.Get(&t, "SELECT * FROM auth_tokens WHERE token = ?", token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	if !time.Now().Before(t.ExpiresAt) {
		return "", ErrNotFound
	}
	return t.UserID, nil
}
