package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"codesmith/internal/conversation"
	"codesmith/internal/models"
)

// ErrEmptyInput is returned for submissions that are blank after trimming.
var ErrEmptyInput = errors.New("content is required")

// Generator is the model backend a turn is delivered to.
type Generator interface {
	Invoke(ctx context.Context, request []*schema.Message) (string, error)
	Stream(ctx context.Context, request []*schema.Message, onChunk func(string) error) (string, error)
}

// Service runs conversation turns against a Generator.
type Service struct {
	instruction string
}

// NewService builds a service using the fixed CodeSmith persona.
func NewService() *Service {
	return &Service{instruction: SystemInstruction}
}

// Instruction returns the system instruction sent with every request.
func (s *Service) Instruction() string { return s.instruction }

// Accept records a user submission. Blank input is rejected before it can
// reach the conversation.
func (s *Service) Accept(conv *conversation.Conversation, input string) (models.Message, error) {
	if conv == nil {
		return models.Message{}, errors.New("conversation cannot be nil")
	}
	if strings.TrimSpace(input) == "" {
		return models.Message{}, ErrEmptyInput
	}
	return conv.Append(models.RoleUser, input)
}

// Respond sends the whole conversation to gen and appends the reply. A nil
// onChunk makes a single blocking call; otherwise the reply is streamed.
// On failure nothing is appended and the error is returned unchanged.
func (s *Service) Respond(ctx context.Context, conv *conversation.Conversation, gen Generator, onChunk func(string) error) (models.Message, error) {
	if conv == nil {
		return models.Message{}, errors.New("conversation cannot be nil")
	}
	if gen == nil {
		return models.Message{}, errors.New("generator unavailable")
	}
	request, err := BuildRequest(ctx, conv.All(), s.instruction)
	if err != nil {
		return models.Message{}, fmt.Errorf("build request: %w", err)
	}

	var reply string
	if onChunk != nil {
		reply, err = gen.Stream(ctx, request, onChunk)
	} else {
		reply, err = gen.Invoke(ctx, request)
	}
	if err != nil {
		return models.Message{}, err
	}
	return conv.Append(models.RoleAssistant, reply)
}

// Reply runs one full turn: accept the input, then respond to it. When the
// model fails the user message is returned along with the error since it
// stays in the conversation.
func (s *Service) Reply(ctx context.Context, conv *conversation.Conversation, gen Generator, input string, onChunk func(string) error) (user, reply models.Message, err error) {
	user, err = s.Accept(conv, input)
	if err != nil {
		return models.Message{}, models.Message{}, err
	}
	reply, err = s.Respond(ctx, conv, gen, onChunk)
	return user, reply, err
}
