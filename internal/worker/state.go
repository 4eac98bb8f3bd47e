package worker

import (
	"sync"
	"time"

	"codesmith/internal/conversation"
	"codesmith/internal/models"
)

type turnReturn struct {
	userMessage *models.Message
	reply       *models.Message
	err         error
}

func (r turnReturn) result() (*TurnResult, error) {
	if r.err != nil {
		return &TurnResult{UserMessage: r.userMessage}, r.err
	}
	return &TurnResult{UserMessage: r.userMessage, Reply: r.reply}, nil
}

type turnTask struct {
	req      TurnRequest
	resultCh chan turnReturn
}

// sessionState is everything the manager keeps for one live session. The
// conversation is written only by the session's own goroutine.
type sessionState struct {
	conv   *conversation.Conversation
	taskCh chan turnTask
	stopCh chan struct{}
	once   sync.Once

	mu       sync.Mutex
	session  models.Session
	lastUsed time.Time
	running  bool
}

func newSessionState(session models.Session, queueSize int) *sessionState {
	if queueSize < 1 {
		queueSize = 1
	}
	return &sessionState{
		conv:     conversation.New(),
		taskCh:   make(chan turnTask, queueSize),
		stopCh:   make(chan struct{}),
		session:  session,
		lastUsed: session.CreatedAt,
	}
}

func (s *sessionState) snapshot() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *sessionState) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.session.UpdatedAt = now
	s.mu.Unlock()
}

func (s *sessionState) setRunning(running bool, now time.Time) {
	s.mu.Lock()
	s.running = running
	s.lastUsed = now
	if !running {
		s.session.UpdatedAt = now
	}
	s.mu.Unlock()
}

// idle reports whether the session has had no activity for ttl and has
// nothing in flight.
func (s *sessionState) idle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || len(s.taskCh) > 0 {
		return false
	}
	return now.Sub(s.lastUsed) >= ttl
}

func (s *sessionState) stop() {
	s.once.Do(func() { close(s.stopCh) })
}
