package config

import (
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const (
	defaultAPIListenAddr = ":8080"
	defaultWSListenAddr  = ":5000"
	defaultLogLevel      = "info"
	defaultOutboxSize    = 64
	defaultPingInterval  = 5 * time.Second
	defaultPongWait      = 7 * time.Second
)

var (
	ErrParse      = errors.New("failed to parse command line arguments")
	ErrLogLevel   = errors.New("failed to parse loglevel")
	ErrKeepalive  = errors.New("pong wait must be greater than ping interval")
	ErrOutboxSize = errors.New("outbox size must be positive")
)

type Config struct {
	APIListenAddr string
	WSListenAddr  string
	LogLevel      zerolog.Level
	OutboxSize    int
	PingInterval  time.Duration
	PongWait      time.Duration
}

// Parse reads command line arguments. Flags take precedence over
// environment variables, which take precedence over defaults.
func Parse(args []string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	fs := pflag.NewFlagSet("matchmaker", pflag.ContinueOnError)

	var (
		apiListenAddr = fs.StringP("api-listen-addr", "a",
			envOr(getenv, defaultAPIListenAddr, "API_LISTEN_ADDR"), "api listen address")
		wsListenAddr = fs.StringP("ws-listen-addr", "w",
			envOr(getenv, defaultWSListenAddr, "WS_LISTEN_ADDR", "PORT"), "websocket signaling listen address")
		logLevel = fs.StringP("log-level", "l",
			envOr(getenv, defaultLogLevel, "LOG_LEVEL"), "log level")
		outboxSize   = fs.Int("outbox-size", defaultOutboxSize, "per connection outbound event queue size")
		pingInterval = fs.Duration("ping-interval", defaultPingInterval, "websocket ping interval")
		pongWait     = fs.Duration("pong-wait", defaultPongWait, "websocket pong wait")
	)
	if err := fs.Parse(args); err != nil {
		return nil, errors.Join(ErrParse, err)
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		return nil, errors.Join(ErrLogLevel, err)
	}
	if *pongWait <= *pingInterval {
		return nil, ErrKeepalive
	}
	if *outboxSize <= 0 {
		return nil, ErrOutboxSize
	}

	return &Config{
		APIListenAddr: *apiListenAddr,
		WSListenAddr:  listenAddr(*wsListenAddr),
		LogLevel:      lvl,
		OutboxSize:    *outboxSize,
		PingInterval:  *pingInterval,
		PongWait:      *pongWait,
	}, nil
}

// envOr returns value of the first non-empty variable or default.
func envOr(getenv func(string) string, def string, keys ...string) string {
	for _, key := range keys {
		if v := getenv(key); v != "" {
			return v
		}
	}
	return def
}

// listenAddr turns bare port into listen address.
func listenAddr(addr string) string {
	if addr == "" {
		return addr
	}
	for _, c := range addr {
		if c < '0' || c > '9' {
			return addr
		}
	}
	return ":" + addr
}
