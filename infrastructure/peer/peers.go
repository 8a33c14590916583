package peer

import (
	"chat-relay/errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Peer is one remote instance whose publisher we subscribe to.
type Peer struct {
	Host string
	Port int
}

func (p Peer) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// ParsePeers reads a comma-separated peer list.
// A bare host uses defaultPort, "host:port" overrides it. Blank entries are skipped
// and duplicates collapse, first occurrence wins.
func ParsePeers(raw string, defaultPort int) ([]Peer, error) {
	entries := lo.Filter(lo.Map(strings.Split(raw, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	}), func(item string, _ int) bool {
		return item != ""
	})

	peers := make([]Peer, 0, len(entries))
	for _, entry := range entries {
		p, err := parsePeer(entry, defaultPort)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return lo.UniqBy(peers, Peer.Address), nil
}

func parsePeer(entry string, defaultPort int) (Peer, error) {
	if !strings.Contains(entry, ":") {
		return Peer{Host: entry, Port: defaultPort}, nil
	}
	host, rawPort, err := net.SplitHostPort(entry)
	if err != nil {
		return Peer{}, fmt.Errorf("%w: %q: %v", errors.ErrInvalidPeer, entry, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port <= 0 || port > 65535 || host == "" {
		return Peer{}, fmt.Errorf("%w: %q", errors.ErrInvalidPeer, entry)
	}
	return Peer{Host: host, Port: port}, nil
}
