package internal

import (
	"chat-relay/infrastructure/peer"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	PeerHosts            string        `env:"ZMQ_HOST,default=localhost"`
	Host                 string        `env:"HOST,default=0.0.0.0"`
	Port                 int           `env:"PORT,default=5002"`
	PublishHost          string        `env:"PUBLISH_HOST,default=0.0.0.0"`
	PublishPort          int           `env:"PUBLISH_PORT,default=5555"`
	LogLevel             string        `env:"LOG_LEVEL,default=INFO"`
	ConnectAttempts      int           `env:"CONNECT_ATTEMPTS,default=5"`
	ConnectDelay         time.Duration `env:"CONNECT_DELAY,default=5s"`
	DialTimeout          time.Duration `env:"DIAL_TIMEOUT,default=2s"`
	PollInterval         time.Duration `env:"POLL_INTERVAL,default=10ms"`
	HistoryLimit         int           `env:"HISTORY_LIMIT,default=50"`
	SubscriberBufferSize int           `env:"SUBSCRIBER_BUFFER_SIZE,default=256"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL,default=30s"`
	MaxMessageLength     int           `env:"MAX_MESSAGE_LENGTH,default=4096"`
	MaxVoiceBytes        int           `env:"MAX_VOICE_BYTES,default=5242880"`
	StaticDir            string        `env:"STATIC_DIR"`
}

// LoadConfig reads the configuration from the given environment, defaults filled in.
func LoadConfig(es env.EnvSet) (Config, error) {
	var config Config
	if err := env.Unmarshal(es, &config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if config.ConnectAttempts <= 0 {
		return Config{}, fmt.Errorf("config error: CONNECT_ATTEMPTS must be positive, got %d", config.ConnectAttempts)
	}
	return config, nil
}

func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) PublishAddr() string {
	return net.JoinHostPort(c.PublishHost, strconv.Itoa(c.PublishPort))
}

// Peers parses ZMQ_HOST; bare hosts get the publish port.
func (c Config) Peers() ([]peer.Peer, error) {
	return peer.ParsePeers(c.PeerHosts, c.PublishPort)
}

func (c Config) PeerOptions() peer.Options {
	return peer.Options{
		PublishAddr:          c.PublishAddr(),
		SubscriberBufferSize: c.SubscriberBufferSize,
		Retry: peer.RetryPolicy{
			MaxAttempts: c.ConnectAttempts,
			Delay:       c.ConnectDelay,
			DialTimeout: c.DialTimeout,
		},
	}
}
