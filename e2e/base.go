package e2e

import (
	"chat-relay/domain/chat"
	"chat-relay/infrastructure/api"
	"chat-relay/internal"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

type BaseRelaySuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseRelaySuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
}

// Node is one in-process relay instance reachable over HTTP.
type Node struct {
	Name     string
	Instance *internal.Instance
	Server   *httptest.Server
	Publish  int
}

// FreePort reserves then releases a loopback port.
func (s *BaseRelaySuite) FreePort() int {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	port := lis.Addr().(*net.TCPAddr).Port
	s.Require().NoError(lis.Close())
	return port
}

// StartNode boots an instance publishing on publishPort and subscribed to peerPorts.
func (s *BaseRelaySuite) StartNode(name string, publishPort int, peerPorts ...int) *Node {
	s.Step(fmt.Sprintf("Starting %s on publish port %d", name, publishPort))
	peers := make([]string, 0, len(peerPorts))
	for _, port := range peerPorts {
		peers = append(peers, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	}

	config, err := internal.LoadConfig(env.EnvSet{
		"ZMQ_HOST":           strings.Join(peers, ","),
		"PUBLISH_HOST":       "127.0.0.1",
		"PUBLISH_PORT":       strconv.Itoa(publishPort),
		"CONNECT_DELAY":      "100ms",
		"DIAL_TIMEOUT":       "500ms",
		"HEARTBEAT_INTERVAL": "1h",
		"LOG_LEVEL":          s.Config.LogLevel,
	})
	s.Require().NoError(err)

	log := logs.GetLoggerFromString(config.LogLevel).With("node", name)
	instance, err := internal.NewInstance(log, config, uuid.NewString())
	s.Require().NoError(err)
	s.Require().NoError(instance.Start(context.Background()))

	node := &Node{Name: name, Instance: instance, Server: httptest.NewServer(instance.Handler()), Publish: publishPort}
	s.T().Cleanup(func() {
		instance.Stop()
		node.Server.Close()
	})
	return node
}

// Step prints a colorized header for a scenario step.
func (s *BaseRelaySuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// Frame is an outbound websocket frame with its payload left raw.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (f Frame) ChatEvent() chat.Event {
	var evt chat.Event
	_ = json.Unmarshal(f.Data, &evt)
	return evt
}

func (f Frame) Users() []string {
	var payload chat.UserListPayload
	_ = json.Unmarshal(f.Data, &payload)
	return payload.Users
}

// Client is a browser-like websocket session.
type Client struct {
	suite *BaseRelaySuite
	name  string
	conn  *websocket.Conn
}

func (s *BaseRelaySuite) Connect(node *Node, name string) *Client {
	url := "ws" + strings.TrimPrefix(node.Server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err, "Failed to open websocket on "+node.Name)
	s.T().Cleanup(func() { _ = conn.Close() })
	return &Client{suite: s, name: name, conn: conn}
}

func (c *Client) Send(event string, data any) {
	c.suite.Require().NoError(c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// Await reads frames until one matches, failing after the configured timeout.
func (c *Client) Await(description string, match func(Frame) bool) Frame {
	deadline := time.Now().Add(c.suite.Config.Timeout)
	_ = c.conn.SetReadDeadline(deadline)
	for {
		var frame Frame
		err := c.conn.ReadJSON(&frame)
		c.suite.Require().NoError(err, "%s never received %s", c.name, description)
		if c.suite.Config.DebugJSON {
			c.suite.T().Logf("%s <- %s %s", c.name, frame.Event, string(frame.Data))
		}
		if match(frame) {
			return frame
		}
	}
}

func (c *Client) Close() {
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}

// History fetches GET /history from a node.
func (s *BaseRelaySuite) History(node *Node) []chat.Event {
	resp, err := http.Get(node.Server.URL + "/history")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var body api.HistoryResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	return body.History
}
