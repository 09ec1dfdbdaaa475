package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation is an ordered collection of messages sharing one identifier
type Conversation struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	Messages  []Message `json:"messages" gorm:"constraint:OnDelete:CASCADE"`
}

// BeforeCreate assigns a UUID when the caller did not
func (c *Conversation) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
