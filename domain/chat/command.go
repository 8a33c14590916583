package chat

// Command is an intent sent by a connected client through the session gateway.
type Command interface {
	Session() string
}

type JoinCommand struct {
	SessionID string `validate:"required"`
	Username  string `validate:"max=64"`
}

func (c JoinCommand) Session() string { return c.SessionID }

type PostMessageCommand struct {
	SessionID string `validate:"required"`
	Text      string `validate:"required"`
}

func (c PostMessageCommand) Session() string { return c.SessionID }

type PostVoiceCommand struct {
	SessionID string `validate:"required"`
	Payload   string `validate:"required"`
}

func (c PostVoiceCommand) Session() string { return c.SessionID }

type DisconnectCommand struct {
	SessionID string `validate:"required"`
}

func (c DisconnectCommand) Session() string { return c.SessionID }
