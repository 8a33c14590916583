package internal

import (
	"chat-relay/infrastructure/peer"
	"testing"
	"time"

	"github.com/Netflix/go-env"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	req := require.New(t)

	config, err := LoadConfig(env.EnvSet{})
	req.NoError(err)

	req.Equal("localhost", config.PeerHosts)
	req.Equal("0.0.0.0:5002", config.ListenAddr())
	req.Equal("0.0.0.0:5555", config.PublishAddr())
	req.Equal(5, config.ConnectAttempts)
	req.Equal(5*time.Second, config.ConnectDelay)
	req.Equal(10*time.Millisecond, config.PollInterval)
	req.Equal(50, config.HistoryLimit)
	req.Equal(200*time.Millisecond, config.RestartInterval)
	req.Equal(5*1024*1024, config.MaxVoiceBytes)
	req.Empty(config.StaticDir)

	peers, err := config.Peers()
	req.NoError(err)
	req.Equal([]peer.Peer{{Host: "localhost", Port: 5555}}, peers)
}

func TestLoadConfig_Overrides(t *testing.T) {
	req := require.New(t)

	config, err := LoadConfig(env.EnvSet{
		"ZMQ_HOST":         "10.0.0.2, 10.0.0.3:6000,",
		"PUBLISH_PORT":     "7000",
		"CONNECT_ATTEMPTS": "3",
		"CONNECT_DELAY":    "1s",
	})
	req.NoError(err)

	peers, err := config.Peers()
	req.NoError(err)
	req.Equal([]peer.Peer{{Host: "10.0.0.2", Port: 7000}, {Host: "10.0.0.3", Port: 6000}}, peers)

	options := config.PeerOptions()
	req.Equal("0.0.0.0:7000", options.PublishAddr)
	req.Equal(3, options.Retry.MaxAttempts)
	req.Equal(time.Second, options.Retry.Delay)
}

func TestLoadConfig_Rejects_Bad_Values(t *testing.T) {
	req := require.New(t)

	_, err := LoadConfig(env.EnvSet{"PORT": "not-a-number"})
	req.Error(err)

	_, err = LoadConfig(env.EnvSet{"CONNECT_ATTEMPTS": "0"})
	req.Error(err)
}
