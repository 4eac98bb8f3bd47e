package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"codesmith/internal/models"
	"codesmith/internal/service/ai"
	"codesmith/internal/service/assistant"
	"codesmith/internal/worker"
)

// Capabilities is the blurb shown next to the model picker.
var Capabilities = []string{
	"Python Coding Assistance",
	"Debugging Support",
	"Code Documentation",
	"Solution Architecture",
}

type WorkerManager interface {
	Models() []string
	DefaultModel() string
	Start(ctx context.Context, modelName string) (*models.Session, []models.Message, error)
	Messages(sessionID string) (*models.Session, []models.Message, error)
	Submit(req worker.TurnRequest) (*worker.TurnResult, error)
	End(sessionID string) error
}

// Handler wires HTTP routes to the session manager.
type Handler struct {
	workers WorkerManager
}

// NewHandler constructs a Handler instance.
func NewHandler(workers WorkerManager) *Handler {
	return &Handler{workers: workers}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/models", h.listModels)
	api.POST("/sessions", h.startSession)
	api.GET("/sessions/:id/messages", h.getSessionMessages)
	api.POST("/sessions/:id/messages", h.captureInput)
	api.DELETE("/sessions/:id", h.endSession)
}

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":        h.workers.Models(),
		"default_model": h.workers.DefaultModel(),
		"capabilities":  Capabilities,
	})
}

type startRequest struct {
	Model string `json:"model"`
}

func (h *Handler) startSession(c *gin.Context) {
	var req startRequest
	// empty body means default model
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	session, messages, err := h.workers.Start(c.Request.Context(), req.Model)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sessionPayload(session, messages))
}

func (h *Handler) getSessionMessages(c *gin.Context) {
	session, messages, err := h.workers.Messages(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sessionPayload(session, messages))
}

func (h *Handler) endSession(c *gin.Context) {
	if err := h.workers.End(c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type inputRequest struct {
	Content string `json:"content"`
}

func (h *Handler) captureInput(c *gin.Context) {
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": assistant.ErrEmptyInput.Error()})
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	stream := &sseWriter{w: c.Writer, flusher: flusher}
	defer stream.close()

	result, err := h.workers.Submit(worker.TurnRequest{
		Context:   c.Request.Context(),
		SessionID: c.Param("id"),
		Content:   req.Content,
		AckFn: func(msg models.Message) error {
			return stream.send("ack", gin.H{"message": msg})
		},
		ChunkFn: func(acc string) error {
			return stream.send("stream", gin.H{"content": acc})
		},
	})
	if err != nil {
		if !stream.started() {
			// nothing reached the conversation, answer with a plain status
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		_ = stream.send("error", gin.H{"message": errorNotice(err)})
		return
	}
	_ = stream.send("done", gin.H{
		"user_message": result.UserMessage,
		"ai_message":   result.Reply,
	})
}

func sessionPayload(session *models.Session, messages []models.Message) gin.H {
	return gin.H{
		"session_id": session.ID,
		"model":      session.Model,
		"messages":   messages,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, assistant.ErrEmptyInput), errors.Is(err, ai.ErrUnknownModel):
		return http.StatusBadRequest
	case errors.Is(err, worker.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, worker.ErrSessionBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, ai.ErrGeneration):
		return http.StatusBadGateway
	case errors.Is(err, worker.ErrManagerClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorNotice(err error) string {
	if errors.Is(err, ai.ErrGeneration) {
		return "the model could not produce a reply: " + err.Error()
	}
	return err.Error()
}

// sseWriter sends server-sent events. Headers go out with the first event so
// requests rejected before any work can still get a JSON error.
type sseWriter struct {
	mu      sync.Mutex
	w       gin.ResponseWriter
	flusher http.Flusher
	begun   bool
	closed  bool
}

func (s *sseWriter) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begun
}

func (s *sseWriter) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *sseWriter) send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	if !s.begun {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.Header().Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.begun = true
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		log.Printf("write %s event failed: %v", event, err)
		return err
	}
	s.flusher.Flush()
	return nil
}
