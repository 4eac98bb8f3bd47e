package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"codesmith/internal/conversation"
	"codesmith/internal/models"
	"codesmith/internal/service/ai"
	"codesmith/internal/service/assistant"
)

type fakeChatModel struct {
	mu       sync.Mutex
	reply    func(input []*schema.Message) string
	err      error
	started  chan struct{}
	release  chan struct{}
	requests [][]*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.requests = append(f.requests, input)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	text := "ok"
	if f.reply != nil {
		text = f.reply(input)
	}
	return schema.AssistantMessage(text, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	f.requests = append(f.requests, input)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return schema.StreamReaderFromArray([]*schema.Message{
		schema.AssistantMessage("par", nil),
		schema.AssistantMessage("tial", nil),
	}), nil
}

func (f *fakeChatModel) requestSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, 0, len(f.requests))
	for _, r := range f.requests {
		sizes = append(sizes, len(r))
	}
	return sizes
}

func newTestManager(t *testing.T, fake *fakeChatModel, opts Options) *Manager {
	t.Helper()
	reg := ai.NewRegistryWithFactory([]string{"codesmith-1.5b", "codesmith-3b"}, "codesmith-1.5b", time.Second,
		func(ctx context.Context, modelName string) (model.BaseChatModel, error) {
			return fake, nil
		})
	m := NewManager(assistant.NewService(), reg, opts)
	t.Cleanup(m.Close)
	return m
}

func TestStartSeedsGreeting(t *testing.T) {
	m := newTestManager(t, &fakeChatModel{}, Options{})

	session, messages, err := m.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := uuid.Parse(session.ID); err != nil {
		t.Fatalf("session id is not a uuid: %q", session.ID)
	}
	if session.Model != "codesmith-1.5b" {
		t.Fatalf("expected default model, got %q", session.Model)
	}
	if len(messages) != 1 || messages[0].Role != models.RoleAssistant || messages[0].Content != conversation.Greeting {
		t.Fatalf("unexpected seed: %#v", messages)
	}

	if _, _, err := m.Start(context.Background(), "gpt-9"); !errors.Is(err, ai.ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestSubmitRunsTurn(t *testing.T) {
	fake := &fakeChatModel{reply: func([]*schema.Message) string { return "use slices.Reverse" }}
	m := newTestManager(t, fake, Options{})
	session, _, err := m.Start(context.Background(), "codesmith-3b")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var acked []models.Message
	res, err := m.Submit(TurnRequest{
		Context:   context.Background(),
		SessionID: session.ID,
		Content:   "reverse a slice",
		AckFn: func(msg models.Message) error {
			acked = append(acked, msg)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(acked) != 1 || acked[0].Content != "reverse a slice" {
		t.Fatalf("ack not delivered: %#v", acked)
	}
	if res.UserMessage.Content != "reverse a slice" || res.Reply.Content != "use slices.Reverse" {
		t.Fatalf("unexpected result %#v %#v", res.UserMessage, res.Reply)
	}

	_, messages, err := m.Messages(session.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(messages) != 3 || messages[2].Role != models.RoleAssistant {
		t.Fatalf("unexpected conversation %#v", messages)
	}
}

func TestSubmitStreamsChunks(t *testing.T) {
	m := newTestManager(t, &fakeChatModel{}, Options{})
	session, _, err := m.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var chunks []string
	res, err := m.Submit(TurnRequest{
		SessionID: session.ID,
		Content:   "hi",
		ChunkFn: func(acc string) error {
			chunks = append(chunks, acc)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Reply.Content != "partial" || strings.Join(chunks, "|") != "par|partial" {
		t.Fatalf("unexpected stream %q %v", res.Reply.Content, chunks)
	}
}

func TestSubmitValidation(t *testing.T) {
	m := newTestManager(t, &fakeChatModel{}, Options{})
	session, _, err := m.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := m.Submit(TurnRequest{SessionID: session.ID, Content: "  "}); !errors.Is(err, assistant.ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := m.Submit(TurnRequest{SessionID: "missing", Content: "hi"}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, msgs, _ := m.Messages(session.ID); len(msgs) != 1 {
		t.Fatalf("rejected input must not touch the conversation: %#v", msgs)
	}
}

func TestSubmitGenerationFailureKeepsUserMessage(t *testing.T) {
	fake := &fakeChatModel{err: errors.New("connection refused")}
	m := newTestManager(t, fake, Options{})
	session, _, err := m.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	res, err := m.Submit(TurnRequest{SessionID: session.ID, Content: "anyone there?"})
	if !errors.Is(err, ai.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	if res == nil || res.UserMessage == nil || res.Reply != nil {
		t.Fatalf("expected user message only, got %#v", res)
	}
	_, messages, _ := m.Messages(session.ID)
	if len(messages) != 2 || messages[1].Role != models.RoleUser {
		t.Fatalf("expected greeting + user message, got %#v", messages)
	}
}

func TestTurnsAreSerializedPerSession(t *testing.T) {
	fake := &fakeChatModel{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	m := newTestManager(t, fake, Options{QueueSize: 1})
	session, _, err := m.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	submit := func(content string) {
		defer wg.Done()
		_, err := m.Submit(TurnRequest{SessionID: session.ID, Content: content})
		errs <- err
	}

	wg.Add(1)
	go submit("first")
	<-fake.started // first turn is running, queue is empty

	wg.Add(1)
	go submit("second")
	deadline := time.After(2 * time.Second)
	for {
		st := m.getState(session.ID)
		if len(st.taskCh) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("second turn never queued")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := m.Submit(TurnRequest{SessionID: session.ID, Content: "third"}); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}

	fake.release <- struct{}{}
	<-fake.started
	fake.release <- struct{}{}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	// second request saw the first turn completed: system + greeting + 2 + user
	sizes := fake.requestSizes()
	if len(sizes) != 2 || sizes[0] != 3 || sizes[1] != 5 {
		t.Fatalf("unexpected request sizes %v", sizes)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	m := newTestManager(t, &fakeChatModel{}, Options{})
	a, _, _ := m.Start(context.Background(), "")
	b, _, _ := m.Start(context.Background(), "")

	if _, err := m.Submit(TurnRequest{SessionID: a.ID, Content: "only in a"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, msgsA, _ := m.Messages(a.ID)
	_, msgsB, _ := m.Messages(b.ID)
	if len(msgsA) != 3 || len(msgsB) != 1 {
		t.Fatalf("sessions leaked into each other: %d %d", len(msgsA), len(msgsB))
	}
}

func TestEndDiscardsSession(t *testing.T) {
	m := newTestManager(t, &fakeChatModel{}, Options{})
	session, _, _ := m.Start(context.Background(), "")

	if err := m.End(session.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, _, err := m.Messages(session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := m.End(session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second end should fail, got %v", err)
	}
}

func TestExpireIdle(t *testing.T) {
	m := newTestManager(t, &fakeChatModel{}, Options{TTL: time.Hour})
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	stale, _, _ := m.Start(context.Background(), "")
	fresh, _, _ := m.Start(context.Background(), "")
	m.getState(fresh.ID).touch(base.Add(50 * time.Minute))

	if n := m.expireIdle(base.Add(30 * time.Minute)); n != 0 {
		t.Fatalf("nothing should expire yet, expired %d", n)
	}
	if n := m.expireIdle(base.Add(65 * time.Minute)); n != 1 {
		t.Fatalf("expected one expired session, got %d", n)
	}
	if _, _, err := m.Messages(stale.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("stale session should be gone, got %v", err)
	}
	if _, _, err := m.Messages(fresh.ID); err != nil {
		t.Fatalf("fresh session should survive: %v", err)
	}
}

func TestCloseRejectsNewSessions(t *testing.T) {
	m := newTestManager(t, &fakeChatModel{}, Options{})
	session, _, _ := m.Start(context.Background(), "")
	m.Close()

	if _, _, err := m.Messages(session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after close, got %v", err)
	}
	if _, _, err := m.Start(context.Background(), ""); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}
}

func TestSubmitDropsTurnAbandonedWhileQueued(t *testing.T) {
	fake := &fakeChatModel{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	m := newTestManager(t, fake, Options{QueueSize: 2})
	session, _, err := m.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	firstDone := make(chan error, 1)
	go func() {
		_, err := m.Submit(TurnRequest{SessionID: session.ID, Content: "first"})
		firstDone <- err
	}()
	<-fake.started

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() {
		_, err := m.Submit(TurnRequest{Context: ctx, SessionID: session.ID, Content: "abandoned"})
		abandoned <- err
	}()
	deadline := time.After(2 * time.Second)
	for len(m.getState(session.ID).taskCh) != 1 {
		select {
		case <-deadline:
			t.Fatalf("turn never queued")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-abandoned:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("submit still blocked after its context was cancelled")
	}

	close(fake.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first turn: %v", err)
	}
	// queued behind the dropped turn, so it runs only after that turn was skipped
	if _, err := m.Submit(TurnRequest{SessionID: session.ID, Content: "after"}); err != nil {
		t.Fatalf("follow-up turn: %v", err)
	}

	_, messages, _ := m.Messages(session.ID)
	var contents []string
	for _, msg := range messages[1:] {
		contents = append(contents, string(msg.Role)+":"+msg.Content)
	}
	if got := strings.Join(contents, ","); got != "user:first,assistant:ok,user:after,assistant:ok" {
		t.Fatalf("abandoned turn reached the conversation: %s", got)
	}
}

func TestSubmitWithCancelledContext(t *testing.T) {
	fake := &fakeChatModel{}
	m := newTestManager(t, fake, Options{})
	session, _, _ := m.Start(context.Background(), "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Submit(TurnRequest{Context: ctx, SessionID: session.ID, Content: "hi"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, msgs, _ := m.Messages(session.ID); len(msgs) != 1 {
		t.Fatalf("cancelled turn touched the conversation: %#v", msgs)
	}
	if len(fake.requestSizes()) != 0 {
		t.Fatalf("model should not be called")
	}
}

func TestSetDebugWhileSessionsRun(t *testing.T) {
	t.Cleanup(func() { SetDebug(false) })
	m := newTestManager(t, &fakeChatModel{}, Options{})
	session, _, _ := m.Start(context.Background(), "")

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(TurnRequest{SessionID: session.ID, Content: "hi"})
		done <- err
	}()
	SetDebug(true)
	if err := <-done; err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !workerDebugEnabled.Load() {
		t.Fatalf("debug logging should be enabled")
	}
	SetDebug(false)
	if workerDebugEnabled.Load() {
		t.Fatalf("debug logging should be disabled")
	}
}
