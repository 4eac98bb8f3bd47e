package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrGeneration matches every *GenerationError via errors.Is.
var ErrGeneration = errors.New("generation failed")

var errMalformedResponse = errors.New("malformed response")

// GenerationError reports that the model backend could not be reached, timed
// out, or answered with something that is not plain text.
type GenerationError struct {
	Op    string
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// Client sends assembled requests to one chat model.
type Client struct {
	chatModel model.BaseChatModel
	model     string
	timeout   time.Duration
}

// NewClient wraps chatModel. A positive timeout bounds every call.
func NewClient(chatModel model.BaseChatModel, modelName string, timeout time.Duration) *Client {
	return &Client{chatModel: chatModel, model: modelName, timeout: timeout}
}

// Model returns the model name the client talks to.
func (c *Client) Model() string { return c.model }

// Invoke blocks until the full reply is available and returns its text.
func (c *Client) Invoke(ctx context.Context, request []*schema.Message) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.chatModel.Generate(ctx, request)
	if err != nil {
		return "", c.fail("generate", err)
	}
	if resp == nil {
		return "", c.fail("generate", errMalformedResponse)
	}
	return resp.Content, nil
}

// Stream delivers the reply incrementally. onChunk receives the accumulated
// text after every chunk; the returned string is the full reply.
func (c *Client) Stream(ctx context.Context, request []*schema.Message, onChunk func(string) error) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	streamReader, err := c.chatModel.Stream(ctx, request)
	if err != nil {
		return "", c.fail("stream", err)
	}
	if streamReader == nil {
		return "", c.fail("stream", errMalformedResponse)
	}
	defer streamReader.Close()

	var fullContent string
	for {
		chunk, err := streamReader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", c.fail("stream", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		fullContent += chunk.Content
		if onChunk != nil {
			if err := onChunk(fullContent); err != nil {
				return "", fmt.Errorf("deliver chunk: %w", err)
			}
		}
	}
	return fullContent, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

func (c *Client) fail(op string, err error) error {
	return &GenerationError{Op: op, Model: c.model, Err: err}
}
