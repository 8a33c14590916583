package chat

// Names of the events pushed back to connected clients.
const (
	EventChatHistory  = "chat_history"
	EventChatMessage  = "chat_message"
	EventVoiceMessage = "voice_message"
	EventUserList     = "user_list"
)

// Names of the events clients send.
const (
	EventJoin       = "join"
	EventDisconnect = "disconnect"
)

// Outbound is a named event pushed to one session or to every local session.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type HistoryPayload struct {
	History []Event `json:"history"`
}

type UserListPayload struct {
	Users []string `json:"users"`
}
