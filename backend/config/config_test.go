package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string {
		return vars[key]
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
		want Config
		err  error
	}{
		{
			name: "defaults",
			want: Config{
				APIListenAddr: ":8080",
				WSListenAddr:  ":5000",
				LogLevel:      zerolog.InfoLevel,
				OutboxSize:    64,
				PingInterval:  5 * time.Second,
				PongWait:      7 * time.Second,
			},
		},
		{
			name: "port from env",
			env:  map[string]string{"PORT": "9000", "LOG_LEVEL": "trace"},
			want: Config{
				APIListenAddr: ":8080",
				WSListenAddr:  ":9000",
				LogLevel:      zerolog.TraceLevel,
				OutboxSize:    64,
				PingInterval:  5 * time.Second,
				PongWait:      7 * time.Second,
			},
		},
		{
			name: "flags override env",
			args: []string{"-w", "127.0.0.1:7000", "--api-listen-addr=:81", "-l", "debug",
				"--outbox-size", "8", "--ping-interval", "1s", "--pong-wait", "3s"},
			env: map[string]string{"WS_LISTEN_ADDR": ":6000", "API_LISTEN_ADDR": ":82"},
			want: Config{
				APIListenAddr: ":81",
				WSListenAddr:  "127.0.0.1:7000",
				LogLevel:      zerolog.DebugLevel,
				OutboxSize:    8,
				PingInterval:  time.Second,
				PongWait:      3 * time.Second,
			},
		},
		{
			name: "bad level",
			args: []string{"-l", "loud"},
			err:  ErrLogLevel,
		},
		{
			name: "bad keepalive",
			args: []string{"--ping-interval", "5s", "--pong-wait", "5s"},
			err:  ErrKeepalive,
		},
		{
			name: "bad outbox",
			args: []string{"--outbox-size", "0"},
			err:  ErrOutboxSize,
		},
		{
			name: "unknown flag",
			args: []string{"--nope"},
			err:  ErrParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse(tt.args, env(tt.env))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *cfg)
		})
	}
}
