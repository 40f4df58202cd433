package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/switchboard-ai/switchboard"
)

// memStore is an in-memory switchboard.Store for transport tests.
type memStore struct {
	mu     sync.Mutex
	logs   map[string]switchboard.Log
	msgs   map[string][]switchboard.LogMessage
	config map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		logs:   map[string]switchboard.Log{},
		msgs:   map[string][]switchboard.LogMessage{},
		config: map[string]string{},
	}
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

func (s *memStore) AppendLogMessage(_ context.Context, logID string, msg switchboard.LogMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.Seq = int64(len(s.msgs[logID]) + 1)
	s.msgs[logID] = append(s.msgs[logID], msg)
	return nil
}

func (s *memStore) LogMessages(_ context.Context, logID string, limit int) ([]switchboard.LogMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.msgs[logID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]switchboard.LogMessage(nil), msgs...), nil
}

func (s *memStore) CacheGet(context.Context, string, string, string) (string, bool, error) {
	return "", false, nil
}

func (s *memStore) CachePut(context.Context, string, string, string, string) error { return nil }

func (s *memStore) GetConfig(_ context.Context, namespace, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config[namespace+"|"+key], nil
}

func (s *memStore) SetConfig(_ context.Context, namespace, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[namespace+"|"+key] = value
	return nil
}

func (s *memStore) Init(context.Context) error { return nil }
func (s *memStore) Close() error               { return nil }

// botAPI is a stub Telegram Bot API recording method calls.
type botAPI struct {
	mu    sync.Mutex
	calls []url.Values // one entry per API call, including the method under "_method"
	fail  map[string]string
}

func newBotAPI(t *testing.T) (*botAPI, *httptest.Server) {
	t.Helper()
	api := &botAPI{fail: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Path: /<token>/<method>
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
		method := parts[len(parts)-1]

		params := r.URL.Query()
		params.Set("_method", method)
		api.mu.Lock()
		api.calls = append(api.calls, params)
		desc, failing := api.fail[method]
		api.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if failing {
			fmt.Fprintf(w, `{"ok":false,"error_code":400,"description":%q}`, desc)
			return
		}
		switch method {
		case "getFile":
			fmt.Fprintf(w, `{"ok":true,"result":{"file_id":%q,"file_path":"voice/file_7.oga"}}`, params.Get("file_id"))
		default:
			fmt.Fprint(w, `{"ok":true,"result":{}}`)
		}
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func (a *botAPI) callsTo(method string) []url.Values {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []url.Values
	for _, c := range a.calls {
		if c.Get("_method") == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestTransport(t *testing.T, srv *httptest.Server, store switchboard.Store) *Transport {
	t.Helper()
	return New(store, Config{
		BotToken: "test-token",
		APIBase:  srv.URL + "/",
		FileBase: srv.URL + "/files/",
	})
}

// echoAgent answers with a fixed text block.
type echoAgent struct{ answer string }

func (a *echoAgent) Name() string { return "echo" }

func (a *echoAgent) Run(context.Context, *switchboard.AgentContext) ([]switchboard.Block, error) {
	return []switchboard.Block{switchboard.TextBlock(a.answer)}, nil
}

// failingAgent always errors.
type failingAgent struct{}

func (failingAgent) Name() string { return "failing" }

func (failingAgent) Run(context.Context, *switchboard.AgentContext) ([]switchboard.Block, error) {
	return nil, errors.New("model unavailable")
}

func TestParseInboundText(t *testing.T) {
	_, srv := newBotAPI(t)
	tr := newTestTransport(t, srv, newMemStore())

	payload := []byte(`{"message_id": 42, "chat": {"id": 1337}, "text": "hello there"}`)
	res := tr.ParseInbound(context.Background(), payload)

	msg, ok := res.Message()
	if !ok {
		t.Fatalf("expected parsed message, got %+v", res)
	}
	if msg.Text != "hello there" {
		t.Errorf("text = %q, want %q", msg.Text, "hello there")
	}
	if msg.ChatID != "1337" {
		t.Errorf("chat id = %q, want %q", msg.ChatID, "1337")
	}
	if msg.MessageID != "42" {
		t.Errorf("message id = %q, want %q", msg.MessageID, "42")
	}
	if len(msg.Tags) != 1 || msg.Tags[0].Kind != switchboard.TagKindProvenance || msg.Tags[0].Name != "telegram" {
		t.Errorf("expected provenance tag, got %+v", msg.Tags)
	}
}

func TestParseInboundRejections(t *testing.T) {
	_, srv := newBotAPI(t)
	tr := newTestTransport(t, srv, newMemStore())

	tests := []struct {
		name    string
		payload string
	}{
		{"empty payload", ``},
		{"not json", `{{{`},
		{"missing chat", `{"message_id": 1, "text": "hi"}`},
		{"string chat id", `{"message_id": 1, "chat": {"id": "oops"}, "text": "hi"}`},
		{"string message id", `{"message_id": "oops", "chat": {"id": 7}, "text": "hi"}`},
		{"missing message id", `{"chat": {"id": 7}, "text": "hi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tr.ParseInbound(context.Background(), []byte(tt.payload))
			if _, bad := res.Malformed(); !bad {
				t.Errorf("expected malformed result, got %+v", res)
			}
		})
	}
}

func TestParseInboundTextlessIsNoOp(t *testing.T) {
	_, srv := newBotAPI(t)
	tr := newTestTransport(t, srv, newMemStore())

	// A group-join event: chat and message id but no text, no media.
	payload := []byte(`{"message_id": 5, "chat": {"id": 9}, "new_chat_members": [{"id": 77}]}`)
	res := tr.ParseInbound(context.Background(), payload)
	if !res.IsNoOp() {
		t.Fatalf("expected no-op, got %+v", res)
	}
}

func TestParseInboundVoiceResolvesFileURL(t *testing.T) {
	api, srv := newBotAPI(t)
	tr := newTestTransport(t, srv, newMemStore())

	payload := []byte(`{"message_id": 3, "chat": {"id": 21}, "voice": {"file_id": "AwAC_xyz"}}`)
	res := tr.ParseInbound(context.Background(), payload)

	msg, ok := res.Message()
	if !ok {
		t.Fatalf("expected parsed message, got %+v", res)
	}
	wantURL := srv.URL + "/files/test-token/voice/file_7.oga"
	if msg.URL != wantURL {
		t.Errorf("url = %q, want %q", msg.URL, wantURL)
	}
	if msg.MimeType != switchboard.MimeOGGAudio {
		t.Errorf("mime = %q, want %q", msg.MimeType, switchboard.MimeOGGAudio)
	}
	if msg.Text != "" {
		t.Errorf("text = %q, want empty (voice message had none)", msg.Text)
	}
	calls := api.callsTo("getFile")
	if len(calls) != 1 || calls[0].Get("file_id") != "AwAC_xyz" {
		t.Errorf("unexpected getFile calls: %+v", calls)
	}
}

func TestWebhookRespondsOKAndDeliversAnswer(t *testing.T) {
	api, srv := newBotAPI(t)
	store := newMemStore()
	tr := newTestTransport(t, srv, store)

	svc := switchboard.NewService(store, &echoAgent{answer: "hi there"})
	svc.RegisterTransport(tr)

	app := httptest.NewServer(svc.Handler())
	defer app.Close()

	update := `{"update_id": 1, "message": {"message_id": 10, "chat": {"id": 55}, "text": "hello"}}`
	resp, err := http.Post(app.URL+"/telegram_respond", "application/json", strings.NewReader(update))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	sends := api.callsTo("sendMessage")
	if len(sends) != 1 {
		t.Fatalf("sendMessage calls = %d, want 1", len(sends))
	}
	if got := sends[0].Get("text"); got != "hi there" {
		t.Errorf("sent text = %q, want %q", got, "hi there")
	}
	if got := sends[0].Get("chat_id"); got != "55" {
		t.Errorf("sent chat_id = %q, want %q", got, "55")
	}
}

func TestWebhookRecordsConversation(t *testing.T) {
	_, srv := newBotAPI(t)
	store := newMemStore()
	tr := newTestTransport(t, srv, store)

	svc := switchboard.NewService(store, &echoAgent{answer: "the answer"})
	svc.RegisterTransport(tr)

	app := httptest.NewServer(svc.Handler())
	defer app.Close()

	update := `{"update_id": 1, "message": {"message_id": 10, "chat": {"id": 55}, "text": "the question"}}`
	if _, err := http.Post(app.URL+"/telegram_respond", "application/json", strings.NewReader(update)); err != nil {
		t.Fatal(err)
	}

	key := switchboard.ConversationKeys("55").Key()
	log, err := store.GetOrCreateLog(context.Background(), key, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := store.LogMessages(context.Background(), log.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("history length = %d, want 2", len(msgs))
	}
	if msgs[0].Role != switchboard.RoleUser || msgs[0].Text != "the question" {
		t.Errorf("first entry = %+v, want user question", msgs[0])
	}
	if msgs[1].Role != switchboard.RoleAssistant || msgs[1].Text != "the answer" {
		t.Errorf("second entry = %+v, want agent answer", msgs[1])
	}
}

func TestWebhookFailOpenOnAgentError(t *testing.T) {
	api, srv := newBotAPI(t)
	store := newMemStore()
	tr := newTestTransport(t, srv, store)

	svc := switchboard.NewService(store, failingAgent{})
	svc.RegisterTransport(tr)

	app := httptest.NewServer(svc.Handler())
	defer app.Close()

	update := `{"update_id": 1, "message": {"message_id": 10, "chat": {"id": 55}, "text": "hello"}}`
	resp, err := http.Post(app.URL+"/telegram_respond", "application/json", strings.NewReader(update))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// Telegram still gets its acknowledgement.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	// The user gets a readable error block.
	sends := api.callsTo("sendMessage")
	if len(sends) != 1 {
		t.Fatalf("sendMessage calls = %d, want 1", len(sends))
	}
	if got := sends[0].Get("text"); !strings.Contains(got, "error happened") {
		t.Errorf("error text = %q, want error message", got)
	}
	if got := sends[0].Get("chat_id"); got != "55" {
		t.Errorf("error delivered to chat %q, want %q", got, "55")
	}
}

func TestWebhookFailOpenOnMalformedUpdate(t *testing.T) {
	_, srv := newBotAPI(t)
	store := newMemStore()
	tr := newTestTransport(t, srv, store)

	svc := switchboard.NewService(store, &echoAgent{answer: "hi"})
	svc.RegisterTransport(tr)

	app := httptest.NewServer(svc.Handler())
	defer app.Close()

	resp, err := http.Post(app.URL+"/telegram_respond", "application/json", strings.NewReader(`not json at all`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestConnectPersistsTokenAndSetsWebhook(t *testing.T) {
	api, srv := newBotAPI(t)
	store := newMemStore()
	tr := New(store, Config{
		APIBase:    srv.URL + "/",
		FileBase:   srv.URL + "/files/",
		WebhookURL: "https://bot.example.com",
	})

	svc := switchboard.NewService(store, &echoAgent{answer: "hi"}, switchboard.WithAPIToken("secret"))
	svc.RegisterTransport(tr)

	app := httptest.NewServer(svc.Handler())
	defer app.Close()

	req, _ := http.NewRequest(http.MethodPost, app.URL+"/connect_telegram", strings.NewReader(`{"bot_token": "fresh-token"}`))
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	stored, err := store.GetConfig(context.Background(), ConfigNamespace, "bot_token")
	if err != nil {
		t.Fatal(err)
	}
	if stored != "fresh-token" {
		t.Errorf("persisted token = %q, want %q", stored, "fresh-token")
	}

	hooks := api.callsTo("setWebhook")
	if len(hooks) != 1 {
		t.Fatalf("setWebhook calls = %d, want 1", len(hooks))
	}
	if got := hooks[0].Get("url"); got != "https://bot.example.com/telegram_respond" {
		t.Errorf("webhook url = %q", got)
	}
}

func TestConnectRequiresAuth(t *testing.T) {
	_, srv := newBotAPI(t)
	store := newMemStore()
	tr := newTestTransport(t, srv, store)

	svc := switchboard.NewService(store, &echoAgent{answer: "hi"}, switchboard.WithAPIToken("secret"))
	svc.RegisterTransport(tr)

	app := httptest.NewServer(svc.Handler())
	defer app.Close()

	resp, err := http.Post(app.URL+"/connect_telegram", "application/json", strings.NewReader(`{"bot_token": "x"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSendFallsBackToPlainText(t *testing.T) {
	api, srv := newBotAPI(t)
	tr := newTestTransport(t, srv, newMemStore())

	// Every sendMessage is rejected; the retry must drop parse_mode.
	api.mu.Lock()
	api.fail["sendMessage"] = "can't parse entities"
	api.mu.Unlock()

	block := switchboard.TextBlock("plain enough")
	block.ChatID = "9"
	err := tr.Send(context.Background(), []switchboard.Block{block}, nil)
	// Both attempts fail against the stub, so the error surfaces.
	var upstream *switchboard.ErrUpstreamDelivery
	if !errors.As(err, &upstream) {
		t.Fatalf("expected upstream delivery error, got %v", err)
	}

	sends := api.callsTo("sendMessage")
	if len(sends) != 2 {
		t.Fatalf("sendMessage calls = %d, want 2 (html then plain)", len(sends))
	}
	if sends[0].Get("parse_mode") != "HTML" {
		t.Errorf("first attempt parse_mode = %q, want HTML", sends[0].Get("parse_mode"))
	}
	if sends[1].Get("parse_mode") != "" {
		t.Errorf("retry parse_mode = %q, want none", sends[1].Get("parse_mode"))
	}
}

func TestSendTextNoRetryOnTransportError(t *testing.T) {
	// A server that never speaks the API envelope: every call fails at the
	// decode step, not as a provider rejection.
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = io.WriteString(w, "not an envelope")
	}))
	defer srv.Close()

	tr := New(newMemStore(), Config{
		BotToken: "test-token",
		APIBase:  srv.URL + "/",
		FileBase: srv.URL + "/files/",
	})

	block := switchboard.TextBlock("hello")
	block.ChatID = "9"
	err := tr.Send(context.Background(), []switchboard.Block{block}, nil)
	if err == nil {
		t.Fatal("expected error from undecodable response")
	}
	var upstream *switchboard.ErrUpstreamDelivery
	if errors.As(err, &upstream) {
		t.Fatalf("decode failure misreported as provider rejection: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("sendMessage calls = %d, want 1 (no plain-text retry)", got)
	}
}

func TestSendUnsupportedBlockDropped(t *testing.T) {
	api, srv := newBotAPI(t)
	tr := newTestTransport(t, srv, newMemStore())

	block := switchboard.Block{MimeType: "application/zip", URL: "https://example.com/a.zip", ChatID: "4"}
	if err := tr.Send(context.Background(), []switchboard.Block{block}, nil); err != nil {
		t.Fatalf("unsupported block should be dropped, got %v", err)
	}
	if n := len(api.callsTo("sendMessage")); n != 0 {
		t.Errorf("sendMessage calls = %d, want 0", n)
	}
}

func TestSplitMessage(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		chunks := splitMessage("hello")
		if len(chunks) != 1 || chunks[0] != "hello" {
			t.Errorf("chunks = %+v", chunks)
		}
	})

	t.Run("long text splits at newlines", func(t *testing.T) {
		line := strings.Repeat("a", 1000) + "\n"
		text := strings.Repeat(line, 10) // 10010 chars
		chunks := splitMessage(text)
		if len(chunks) < 3 {
			t.Fatalf("chunks = %d, want >= 3", len(chunks))
		}
		for i, c := range chunks {
			if len(c) > maxMessageLength {
				t.Errorf("chunk %d length = %d, exceeds limit", i, len(c))
			}
		}
		if strings.Join(chunks, "") != text {
			t.Error("chunks do not reassemble into the original text")
		}
	})

	t.Run("unbroken multibyte text splits on rune boundaries", func(t *testing.T) {
		text := strings.Repeat("日", 2000) // 3 bytes each, no newlines
		chunks := splitMessage(text)
		if len(chunks) < 2 {
			t.Fatalf("chunks = %d, want >= 2", len(chunks))
		}
		for i, c := range chunks {
			if len(c) > maxMessageLength {
				t.Errorf("chunk %d length = %d, exceeds limit", i, len(c))
			}
			if !utf8.ValidString(c) {
				t.Errorf("chunk %d is not valid UTF-8", i)
			}
		}
		if strings.Join(chunks, "") != text {
			t.Error("chunks do not reassemble into the original text")
		}
	})

	t.Run("unbroken text splits hard", func(t *testing.T) {
		text := strings.Repeat("b", maxMessageLength+100)
		chunks := splitMessage(text)
		if len(chunks) != 2 {
			t.Fatalf("chunks = %d, want 2", len(chunks))
		}
		if len(chunks[0]) != maxMessageLength {
			t.Errorf("first chunk length = %d, want %d", len(chunks[0]), maxMessageLength)
		}
	})
}

func TestIntField(t *testing.T) {
	if _, err := intField(json.RawMessage(`17`)); err != nil {
		t.Errorf("integer rejected: %v", err)
	}
	if _, err := intField(nil); err == nil {
		t.Error("missing field accepted")
	}
	if _, err := intField(json.RawMessage(`"17"`)); err == nil {
		t.Error("string field accepted")
	}
	if _, err := intField(json.RawMessage(`1.5`)); err == nil {
		t.Error("fractional field accepted")
	}
}
