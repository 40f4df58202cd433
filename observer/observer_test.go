package observer

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	switchboard "github.com/switchboard-ai/switchboard"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// memStore backs the contexts the wrappers run against.
type memStore struct {
	mu    sync.Mutex
	logs  map[string]switchboard.Log
	cache map[string]string
}

func newMemStore() *memStore {
	return &memStore{logs: map[string]switchboard.Log{}, cache: map[string]string{}}
}

func (s *memStore) GetOrCreateLog(_ context.Context, key string, _ []switchboard.Tag, _ bool) (switchboard.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log, ok := s.logs[key]; ok {
		return log, nil
	}
	log := switchboard.Log{ID: switchboard.NewID(), ContextKey: key}
	s.logs[key] = log
	return log, nil
}

func (s *memStore) AppendLogMessage(context.Context, string, switchboard.LogMessage) error {
	return nil
}

func (s *memStore) LogMessages(context.Context, string, int) ([]switchboard.LogMessage, error) {
	return nil, nil
}

func (s *memStore) CacheGet(_ context.Context, name, scope, fp string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache[name+"|"+scope+"|"+fp]
	return v, ok, nil
}

func (s *memStore) CachePut(_ context.Context, name, scope, fp, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[name+"|"+scope+"|"+fp] = result
	return nil
}

func (s *memStore) GetConfig(context.Context, string, string) (string, error) { return "", nil }
func (s *memStore) SetConfig(context.Context, string, string, string) error  { return nil }
func (s *memStore) Init(context.Context) error                               { return nil }
func (s *memStore) Close() error                                             { return nil }

// mockAgent for observer tests.
type mockAgent struct {
	name   string
	blocks []switchboard.Block
	err    error
}

func (m *mockAgent) Name() string { return m.name }
func (m *mockAgent) Run(context.Context, *switchboard.AgentContext) ([]switchboard.Block, error) {
	return m.blocks, m.err
}

// mockTool for observer tests.
type mockTool struct {
	name   string
	output []switchboard.Block
	err    error
}

func (m *mockTool) Name() string { return m.name }
func (m *mockTool) Run(context.Context, *switchboard.AgentContext, []switchboard.Block) ([]switchboard.Block, error) {
	return m.output, m.err
}

// mockTransport for observer tests.
type mockTransport struct {
	name    string
	result  switchboard.ParseResult
	sendErr error
	sent    [][]switchboard.Block
}

func (m *mockTransport) Name() string { return m.name }
func (m *mockTransport) ParseInbound(context.Context, []byte) switchboard.ParseResult {
	return m.result
}
func (m *mockTransport) Send(_ context.Context, blocks []switchboard.Block, _ switchboard.Metadata) error {
	m.sent = append(m.sent, blocks)
	return m.sendErr
}
func (m *mockTransport) InstanceInit(context.Context) error           { return nil }
func (m *mockTransport) Register(*http.ServeMux, *switchboard.Service) {}

// testInstruments creates a no-op Instruments using the global OTEL
// providers (no-ops by default). Safe for testing delegation behavior
// without a real OTEL backend.
func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments()
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

func testContext(t *testing.T) *switchboard.AgentContext {
	t.Helper()
	actx, err := switchboard.GetOrCreateContext(context.Background(), newMemStore(), switchboard.ConversationKeys("obs-test"))
	if err != nil {
		t.Fatalf("GetOrCreateContext: %v", err)
	}
	return actx
}

// ---------------------------------------------------------------------------
// ObservedAgent tests
// ---------------------------------------------------------------------------

func TestObservedAgentName(t *testing.T) {
	oa := WrapAgent(&mockAgent{name: "test-agent"}, testInstruments(t))
	if got := oa.Name(); got != "test-agent" {
		t.Errorf("Name() = %q, want %q", got, "test-agent")
	}
}

func TestObservedAgentRun(t *testing.T) {
	want := []switchboard.Block{switchboard.TextBlock("answer")}
	oa := WrapAgent(&mockAgent{name: "a", blocks: want}, testInstruments(t))

	got, err := oa.Run(context.Background(), testContext(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 1 || got[0].Text != "answer" {
		t.Errorf("Run() = %+v, want %+v", got, want)
	}
}

func TestObservedAgentRunError(t *testing.T) {
	wantErr := errors.New("boom")
	oa := WrapAgent(&mockAgent{name: "a", err: wantErr}, testInstruments(t))

	_, err := oa.Run(context.Background(), testContext(t))
	if !errors.Is(err, wantErr) {
		t.Errorf("Run error = %v, want %v", err, wantErr)
	}
}

// ---------------------------------------------------------------------------
// ObservedTool tests
// ---------------------------------------------------------------------------

func TestObservedToolRun(t *testing.T) {
	want := []switchboard.Block{switchboard.TextBlock("result")}
	ot := WrapTool(&mockTool{name: "calc", output: want}, testInstruments(t))

	if got := ot.Name(); got != "calc" {
		t.Errorf("Name() = %q, want %q", got, "calc")
	}
	got, err := ot.Run(context.Background(), testContext(t), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 1 || got[0].Text != "result" {
		t.Errorf("Run() = %+v, want %+v", got, want)
	}
}

func TestObservedToolRunError(t *testing.T) {
	wantErr := errors.New("tool exploded")
	ot := WrapTool(&mockTool{name: "calc", err: wantErr}, testInstruments(t))

	_, err := ot.Run(context.Background(), testContext(t), nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("Run error = %v, want %v", err, wantErr)
	}
}

// ---------------------------------------------------------------------------
// Observed cache tests
// ---------------------------------------------------------------------------

func TestObservedActionCacheDelegates(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	inner, err := switchboard.GetOrCreateActionCache(ctx, store, switchboard.ConversationKeys("c"))
	if err != nil {
		t.Fatalf("GetOrCreateActionCache: %v", err)
	}
	oc := WrapActionCache(inner, testInstruments(t))

	if !oc.Enabled() {
		t.Error("Enabled() = false, want true")
	}

	action := &switchboard.Action{Tool: "calc", Input: []switchboard.Block{switchboard.TextBlock("2+2")}}
	if _, ok, err := oc.Lookup(ctx, action); err != nil || ok {
		t.Fatalf("Lookup before update = (%v, %v), want miss", ok, err)
	}

	want := []switchboard.Block{switchboard.TextBlock("4")}
	if err := oc.Update(ctx, action, want); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, ok, err := oc.Lookup(ctx, action)
	if err != nil || !ok {
		t.Fatalf("Lookup after update = (%v, %v), want hit", ok, err)
	}
	if len(got) != 1 || got[0].Text != "4" {
		t.Errorf("Lookup() = %+v, want %+v", got, want)
	}
}

func TestObservedLLMCacheDelegates(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	inner, err := switchboard.GetOrCreateLLMCache(ctx, store, switchboard.ConversationKeys("c"))
	if err != nil {
		t.Fatalf("GetOrCreateLLMCache: %v", err)
	}
	oc := WrapLLMCache(inner, testInstruments(t))

	req := switchboard.CompletionRequest{
		Model:    "test-model",
		Messages: []switchboard.Block{switchboard.TextBlock("hi")},
	}
	if _, ok, err := oc.Lookup(ctx, req); err != nil || ok {
		t.Fatalf("Lookup before update = (%v, %v), want miss", ok, err)
	}
	if err := oc.Update(ctx, req, []switchboard.Block{switchboard.TextBlock("hello")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, ok, err := oc.Lookup(ctx, req)
	if err != nil || !ok {
		t.Fatalf("Lookup after update = (%v, %v), want hit", ok, err)
	}
	if got[0].Text != "hello" {
		t.Errorf("Lookup() = %+v, want hello", got)
	}
}

// ---------------------------------------------------------------------------
// ObservedTransport tests
// ---------------------------------------------------------------------------

func TestObservedTransportDelegates(t *testing.T) {
	block := switchboard.TextBlock("hi")
	inner := &mockTransport{name: "mock", result: switchboard.ParsedMessage(block)}
	ot := WrapTransport(inner, testInstruments(t))

	if got := ot.Name(); got != "mock" {
		t.Errorf("Name() = %q, want %q", got, "mock")
	}

	res := ot.ParseInbound(context.Background(), []byte(`{}`))
	if msg, ok := res.Message(); !ok || msg.Text != "hi" {
		t.Errorf("ParseInbound() = %+v, want parsed %q", res, "hi")
	}

	if err := ot.Send(context.Background(), []switchboard.Block{block}, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(inner.sent) != 1 {
		t.Errorf("inner sends = %d, want 1", len(inner.sent))
	}
}

func TestObservedTransportSendError(t *testing.T) {
	wantErr := errors.New("delivery failed")
	ot := WrapTransport(&mockTransport{name: "mock", sendErr: wantErr}, testInstruments(t))

	if err := ot.Send(context.Background(), nil, nil); !errors.Is(err, wantErr) {
		t.Errorf("Send error = %v, want %v", err, wantErr)
	}
}
