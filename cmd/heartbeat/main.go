// Command heartbeat checks that an IRC network accepts a registration with
// the gateway's bridge: connect, authenticate, wait for the welcome and quit.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/gen2brain/beeep"
	"github.com/matt0x6f/ironcord-gateway/internal/events"
	"github.com/matt0x6f/ironcord-gateway/internal/irc"
	"github.com/matt0x6f/ironcord-gateway/internal/logger"
	"github.com/matt0x6f/ironcord-gateway/internal/security"
)

type options struct {
	host      string
	port      int
	tls       bool
	nick      string
	password  string
	mechanism string
	timeout   time.Duration
}

var errClosed = errors.New("connection closed before registration")

func main() {
	var opts options
	flag.StringVar(&opts.host, "host", "localhost", "IRC server host")
	flag.IntVar(&opts.port, "port", 6667, "IRC server port")
	flag.BoolVar(&opts.tls, "tls", false, "connect with TLS")
	flag.StringVar(&opts.nick, "nick", "heartbeat", "nickname to register")
	flag.StringVar(&opts.password, "password", "", "SASL password (default: look up the OS keychain)")
	flag.StringVar(&opts.mechanism, "sasl-mechanism", "PLAIN", "SASL mechanism")
	flag.DurationVar(&opts.timeout, "timeout", 15*time.Second, "time allowed for registration")
	save := flag.Bool("save-password", false, "store -password in the OS keychain")
	notify := flag.Bool("notify", false, "show a desktop notification with the result")
	verbose := flag.Bool("v", false, "log protocol traffic")
	flag.Parse()

	levelName := "warn"
	if *verbose {
		levelName = "debug"
	}
	level, _ := logger.ParseLevel(levelName)
	logger.SetLevel(level)

	keychain := security.NewKeychain()
	account := security.AccountKey(opts.nick, opts.host)
	if opts.password == "" {
		pw, err := keychain.GetPassword(account)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("Keychain lookup failed; continuing without SASL")
		}
		opts.password = pw
	} else if *save {
		if err := keychain.StorePassword(account, opts.password); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	elapsed, err := check(opts)
	report(os.Stdout, opts, elapsed, err)

	if *notify {
		title, body := "IRC heartbeat OK", fmt.Sprintf("%s registered on %s", opts.nick, opts.host)
		if err != nil {
			title, body = "IRC heartbeat failed", err.Error()
		}
		if nerr := beeep.Notify(title, body, ""); nerr != nil {
			logger.Log.Warn().Err(nerr).Msg("Failed to send desktop notification")
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

// check connects, waits for registration (or the first failure) and disconnects
func check(opts options) (time.Duration, error) {
	client, err := irc.NewClient(irc.Config{
		Host:          opts.host,
		Port:          opts.port,
		TLS:           opts.tls,
		Nick:          opts.nick,
		Password:      opts.password,
		SASLMechanism: opts.mechanism,
	}, &irc.ReconnectOptions{MaxRetries: 0})
	if err != nil {
		return 0, err
	}

	result := make(chan error, 1)
	done := func(err error) {
		select {
		case result <- err:
		default:
		}
	}
	unsubscribe := client.Subscribe(events.Wildcard, events.SubscriberFunc(func(event events.Event) {
		switch event.Type {
		case irc.EventRegistered:
			done(nil)
		case irc.EventError:
			if err, ok := event.Payload.(error); ok {
				done(err)
			}
		case irc.EventReconnectFailed:
			done(errClosed)
		}
	}))
	defer unsubscribe()

	start := time.Now()
	client.Connect()
	defer client.Disconnect()

	select {
	case err := <-result:
		return time.Since(start), err
	case <-time.After(opts.timeout):
		return time.Since(start), fmt.Errorf("no registration within %s", opts.timeout)
	}
}

func report(w io.Writer, opts options, elapsed time.Duration, err error) {
	target := fmt.Sprintf("%s@%s:%d", opts.nick, opts.host, opts.port)
	if err != nil {
		fmt.Fprintf(w, "%s %s: %v\n", color.RedString("FAIL"), target, err)
		return
	}
	fmt.Fprintf(w, "%s %s registered in %s\n", color.GreenString("OK"), target, elapsed.Round(time.Millisecond))
}
