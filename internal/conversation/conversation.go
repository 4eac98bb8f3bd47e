// Package conversation holds the append-only message log of one chat session.
package conversation

import (
	"sync"
	"time"

	"codesmith/internal/models"
)

// Greeting seeds every new conversation as the first assistant message.
const Greeting = "Hello! I'm CodeSmith AI. How can I assist with your coding today? 🚀"

// Conversation is an ordered, append-only log of role-tagged messages.
// Messages are never edited, reordered or removed. One writer appends;
// readers may call All concurrently.
type Conversation struct {
	mu       sync.RWMutex
	messages []models.Message
	now      func() time.Time
}

// New returns an initialized conversation holding only the greeting.
func New() *Conversation {
	c := &Conversation{}
	c.Initialize()
	return c
}

// Initialize seeds the greeting when the log is empty. Calling it again is a no-op.
func (c *Conversation) Initialize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) > 0 {
		return
	}
	c.messages = append(c.messages, models.Message{
		Role:      models.RoleAssistant,
		Content:   Greeting,
		CreatedAt: c.timestamp(),
	})
}

// Append adds a message at the end of the log and returns it. Empty
// assistant content is accepted as a degenerate reply.
func (c *Conversation) Append(role models.Role, content string) (models.Message, error) {
	if err := models.CheckRole(role); err != nil {
		return models.Message{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := models.Message{Role: role, Content: content, CreatedAt: c.timestamp()}
	c.messages = append(c.messages, msg)
	return msg, nil
}

// All returns a copy of the full log in insertion order.
func (c *Conversation) All() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages in the log.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

func (c *Conversation) timestamp() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now().UTC()
}
