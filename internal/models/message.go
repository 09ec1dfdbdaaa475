package models

import (
	"encoding/json"
	"time"
)

// Roles used when a message is sent upstream
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation, authored by the user or the assistant
type Message struct {
	ID             uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	ConversationID string    `json:"conversation_id" gorm:"type:varchar(36);not null;index:idx_messages_conversation_order,priority:1"`
	Content        string    `json:"content" gorm:"type:text;not null"`
	IsUser         bool      `json:"is_user" gorm:"not null"`
	Model          string    `json:"model,omitempty" gorm:"type:varchar(128)"`
	CreatedAt      time.Time `json:"created_at" gorm:"index:idx_messages_conversation_order,priority:2"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Role reports the upstream role tag for the message
func (m Message) Role() string {
	if m.IsUser {
		return RoleUser
	}
	return RoleAssistant
}

// MarshalJSON adds the derived role to the stored fields
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	return json.Marshal(struct {
		plain
		Role string `json:"role"`
	}{plain(m), m.Role()})
}
