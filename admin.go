package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/matt0x6f/ironcord-gateway/internal/constants"
	"github.com/matt0x6f/ironcord-gateway/internal/storage"
	"github.com/matt0x6f/ironcord-gateway/internal/validation"
)

// tokenTTL matches the lifetime of browser login sessions
const tokenTTL = 24 * time.Hour

var errUsage = errors.New("invalid arguments, see -help")

// runAdmin executes one account-management command against the store
func runAdmin(store *storage.Storage, w io.Writer, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd := strings.Join(args[:min(2, len(args))], " ")
	switch {
	case cmd == "user add":
		if len(args) != 5 {
			return errUsage
		}
		if err := validation.ValidateNickname(args[4]); err != nil {
			return err
		}
		user, err := store.CreateUser(args[2], args[3], args[4])
		if err != nil {
			return err
		}
		fmt.Fprintln(w, user.ID)

	case args[0] == "token":
		if len(args) != 3 {
			return errUsage
		}
		user, err := store.Authenticate(args[1], args[2])
		if err != nil {
			return err
		}
		token, err := store.CreateAuthToken(user.ID, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, token.Token)

	case cmd == "guild add":
		if len(args) != 4 {
			return errUsage
		}
		owner, err := store.GetUserByEmail(args[2])
		if err != nil {
			return fmt.Errorf("owner %q: %w", args[2], err)
		}
		guild, err := store.CreateGuild(args[3], owner.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %s\n", guild.ID, guild.IRCNamespacePrefix)

	case cmd == "guild join":
		if len(args) != 4 {
			return errUsage
		}
		user, err := store.GetUserByEmail(args[3])
		if err != nil {
			return fmt.Errorf("user %q: %w", args[3], err)
		}
		return store.AddGuildMember(args[2], user.ID)

	case cmd == "channel add":
		if len(args) < 4 || len(args) > 5 {
			return errUsage
		}
		topic := ""
		if len(args) == 5 {
			topic = args[4]
		}
		channel, err := store.CreateChannel(args[2], args[3], topic)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, channel.IRCChannelName)

	case cmd == "guild list":
		if len(args) != 3 {
			return errUsage
		}
		user, err := store.GetUserByEmail(args[2])
		if err != nil {
			return fmt.Errorf("user %q: %w", args[2], err)
		}
		guilds, err := store.GetUserGuilds(user.ID)
		if err != nil {
			return err
		}
		for _, g := range guilds {
			fmt.Fprintf(w, "%s %s %s\n", g.ID, g.IRCNamespacePrefix, g.Name)
		}

	case cmd == "channel list":
		if len(args) != 3 {
			return errUsage
		}
		channels, err := store.GetGuildChannels(args[2])
		if err != nil {
			return err
		}
		for _, c := range channels {
			fmt.Fprintf(w, "%s %s\n", c.IRCChannelName, c.Topic)
		}

	case args[0] == "messages":
		if len(args) < 2 || len(args) > 3 {
			return errUsage
		}
		channel := validation.NormalizeChannel(args[1])
		if err := validation.ValidateChannelName(channel); err != nil {
			return err
		}
		limit := constants.DefaultHistoryLimit
		if len(args) == 3 {
			n, err := strconv.Atoi(args[2])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid limit %q", args[2])
			}
			limit = n
		}
		msgs, err := store.GetMessages(channel, limit)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Fprintf(w, "%s <%s> %s\n", m.Timestamp.UTC().Format(time.RFC3339), m.Author, m.Content)
		}

	default:
		return fmt.Errorf("unknown command %q", strings.Join(args, " "))
	}
	return nil
}
