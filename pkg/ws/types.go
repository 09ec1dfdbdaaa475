// Package ws holds the JSON frames exchanged on the /ws/chat socket.
package ws

// Frame types
const (
	TypeChat  = "chat"
	TypePing  = "ping"
	TypePong  = "pong"
	TypeReply = "reply"
	TypeError = "error"
)

// Inbound is a frame sent by the client. Type defaults to chat.
type Inbound struct {
	Type           string `json:"type,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// Outbound is a frame sent to the client
type Outbound struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	AIResponse     string `json:"ai_response,omitempty"`
	Code           string `json:"code,omitempty"`
	Error          string `json:"error,omitempty"`
}

// IsChat reports whether the frame carries a chat message
func (in Inbound) IsChat() bool {
	return in.Type == "" || in.Type == TypeChat
}
