package assistant

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"codesmith/internal/models"
)

// SystemInstruction is the fixed persona placed before every request.
const SystemInstruction = "You are CodeSmith AI, an expert AI coding assistant. Provide precise, well-structured solutions " +
	"with effective debugging strategies. Always respond in clear and concise English."

const historyKey = "history"

// BuildRequest turns the whole conversation into one request: the system
// instruction followed by one slot per message, role and content verbatim.
// History is never truncated, so requests grow with the conversation.
func BuildRequest(ctx context.Context, history []models.Message, systemInstruction string) ([]*schema.Message, error) {
	slots, err := convertMessages(history)
	if err != nil {
		return nil, err
	}
	// history goes through a placeholder so message text is never parsed as a template
	tpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(systemInstruction),
		schema.MessagesPlaceholder(historyKey, true),
	)
	request, err := tpl.Format(ctx, map[string]any{historyKey: slots})
	if err != nil {
		return nil, fmt.Errorf("format request: %w", err)
	}
	return request, nil
}

func convertMessages(history []models.Message) ([]*schema.Message, error) {
	messages := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleUser:
			role = schema.User
		case models.RoleAssistant:
			role = schema.Assistant
		default:
			return nil, models.CheckRole(msg.Role)
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return messages, nil
}
