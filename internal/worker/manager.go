package worker

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"codesmith/internal/models"
	"codesmith/internal/service/ai"
	"codesmith/internal/service/assistant"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionBusy     = errors.New("session busy")
	ErrManagerClosed   = errors.New("session manager closed")
)

const (
	defaultQueueSize = 4
	maxSweepInterval = time.Minute
)

// Options tunes session lifetime and per-session backlog.
type Options struct {
	// TTL ends sessions idle for longer than this. Zero keeps them forever.
	TTL       time.Duration
	QueueSize int
}

// TurnRequest is one user submission for a session.
type TurnRequest struct {
	Context   context.Context
	SessionID string
	Content   string
	// AckFn is called once the user message is in the conversation.
	AckFn func(models.Message) error
	// ChunkFn receives the accumulated reply text; nil disables streaming.
	ChunkFn func(string) error
}

// TurnResult carries the messages produced by a turn.
type TurnResult struct {
	UserMessage *models.Message
	Reply       *models.Message
}

// Manager owns every live session. Each session gets one goroutine that runs
// its turns in submission order, so a conversation never sees two turns at
// once while different sessions proceed in parallel.
type Manager struct {
	assistant *assistant.Service
	registry  *ai.Registry
	opts      Options
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState
	closed   bool
	quit     chan struct{}
	wg       sync.WaitGroup
}

func NewManager(asst *assistant.Service, registry *ai.Registry, opts Options) *Manager {
	if opts.QueueSize < 1 {
		opts.QueueSize = defaultQueueSize
	}
	m := &Manager{
		assistant: asst,
		registry:  registry,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		sessions:  make(map[string]*sessionState),
		quit:      make(chan struct{}),
	}
	if opts.TTL > 0 {
		go m.purgeStaleSessions()
	}
	return m
}

// Models lists the selectable model names.
func (m *Manager) Models() []string { return m.registry.Models() }

// DefaultModel is the model used when Start is given an empty name.
func (m *Manager) DefaultModel() string { return m.registry.Default() }

// Start opens a new session on modelName, seeded with the greeting.
func (m *Manager) Start(ctx context.Context, modelName string) (*models.Session, []models.Message, error) {
	resolved, err := m.registry.Resolve(modelName)
	if err != nil {
		return nil, nil, err
	}
	// build the client now so a broken provider fails the session up front
	if _, err := m.registry.Client(ctx, resolved); err != nil {
		return nil, nil, err
	}

	now := m.now()
	session := models.Session{
		ID:        uuid.New().String(),
		Model:     resolved,
		CreatedAt: now,
		UpdatedAt: now,
	}
	state := newSessionState(session, m.opts.QueueSize)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, ErrManagerClosed
	}
	m.sessions[session.ID] = state
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runSession(state)
	debugLog("session %s started on model %s", session.ID, resolved)
	return &session, state.conv.All(), nil
}

// Messages returns the session and a copy of its conversation.
func (m *Manager) Messages(sessionID string) (*models.Session, []models.Message, error) {
	state := m.getState(sessionID)
	if state == nil {
		return nil, nil, ErrSessionNotFound
	}
	session := state.snapshot()
	return &session, state.conv.All(), nil
}

// Submit queues a turn and waits for it to finish. Blank content is refused
// before anything is queued; a full backlog returns ErrSessionBusy. If the
// request context ends first Submit returns its error, and a turn that has
// not started yet is dropped without touching the conversation.
func (m *Manager) Submit(req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, assistant.ErrEmptyInput
	}
	if req.Context == nil {
		req.Context = context.Background()
	}
	if err := req.Context.Err(); err != nil {
		return nil, err
	}
	state := m.getState(req.SessionID)
	if state == nil {
		return nil, ErrSessionNotFound
	}

	resultCh := make(chan turnReturn, 1)
	select {
	case state.taskCh <- turnTask{req: req, resultCh: resultCh}:
	default:
		return nil, ErrSessionBusy
	}
	state.touch(m.now())

	select {
	case ret := <-resultCh:
		return ret.result()
	case <-req.Context.Done():
		return nil, req.Context.Err()
	case <-state.stopCh:
		select {
		case ret := <-resultCh:
			if ret.err == nil {
				return ret.result()
			}
		default:
		}
		return nil, ErrSessionNotFound
	}
}

// End discards a session and its conversation.
func (m *Manager) End(sessionID string) error {
	m.mu.Lock()
	state, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	state.stop()
	debugLog("session %s ended", sessionID)
	return nil
}

// Close ends every session and waits for their goroutines to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.quit)
	states := make([]*sessionState, 0, len(m.sessions))
	for id, state := range m.sessions {
		states = append(states, state)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, state := range states {
		state.stop()
	}
	m.wg.Wait()
}

func (m *Manager) getState(sessionID string) *sessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

func (m *Manager) runSession(state *sessionState) {
	defer m.wg.Done()
	for {
		select {
		case <-state.stopCh:
			return
		case task := <-state.taskCh:
			state.setRunning(true, m.now())
			task.resultCh <- m.handleTurn(state, task.req)
			state.setRunning(false, m.now())
		}
	}
}

func (m *Manager) handleTurn(state *sessionState, req TurnRequest) turnReturn {
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}
	session := state.snapshot()
	// the caller left while the turn was queued
	if err := ctx.Err(); err != nil {
		debugLog("session %s dropped abandoned turn: %v", session.ID, err)
		return turnReturn{err: err}
	}

	client, err := m.registry.Client(ctx, session.Model)
	if err != nil {
		return turnReturn{err: err}
	}
	userMsg, err := m.assistant.Accept(state.conv, req.Content)
	if err != nil {
		return turnReturn{err: err}
	}
	if req.AckFn != nil {
		if err := req.AckFn(userMsg); err != nil {
			log.Printf("ack for session %s failed: %v", session.ID, err)
		}
	}

	reply, err := m.assistant.Respond(ctx, state.conv, client, req.ChunkFn)
	if err != nil {
		log.Printf("turn for session %s failed: %v", session.ID, err)
		return turnReturn{userMessage: &userMsg, err: err}
	}
	debugLog("session %s now holds %d messages", session.ID, state.conv.Len())
	return turnReturn{userMessage: &userMsg, reply: &reply}
}

func (m *Manager) purgeStaleSessions() {
	interval := m.opts.TTL / 2
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}
	if interval <= 0 {
		interval = m.opts.TTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			m.expireIdle(m.now())
		}
	}
}

// expireIdle ends sessions idle for at least the TTL and returns how many.
func (m *Manager) expireIdle(now time.Time) int {
	if m.opts.TTL <= 0 {
		return 0
	}
	var stale []*sessionState
	m.mu.Lock()
	for id, state := range m.sessions {
		if state.idle(now, m.opts.TTL) {
			stale = append(stale, state)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, state := range stale {
		state.stop()
		log.Printf("session %s expired after %s idle", state.snapshot().ID, m.opts.TTL)
	}
	return len(stale)
}
