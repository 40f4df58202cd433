// Package telegram implements the switchboard.Transport for Telegram
// bots: webhook intake, provisioning endpoints, and block delivery via
// the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/switchboard-ai/switchboard"
)

const (
	// ConfigNamespace is the conversation-independent key-value namespace
	// holding the transport's persisted configuration.
	ConfigNamespace = "_telegram_config"
	// botTokenKey stores the bot token inside ConfigNamespace.
	botTokenKey = "bot_token"

	defaultAPIBase   = "https://api.telegram.org/bot"
	defaultFileBase  = "https://api.telegram.org/file/bot"
	maxMessageLength = 4096

	ackBody = "OK"
)

// Config configures the Telegram transport.
type Config struct {
	// BotToken is the secret token for the bot. When empty, the token
	// persisted via the connect endpoint is used.
	BotToken string
	// APIBase is the root of the Bot API. Defaults to the public API.
	APIBase string
	// FileBase is the root for file downloads. Defaults to the public API.
	FileBase string
	// WebhookURL is the public base URL of this service; InstanceInit
	// registers WebhookURL + "/telegram_respond" with Telegram.
	WebhookURL string
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets a structured logger for transport events.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithHTTPClient replaces the HTTP client used for Bot API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.httpClient = c }
}

// Transport is the Telegram communication channel.
type Transport struct {
	store      switchboard.Store
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

var _ switchboard.Transport = (*Transport)(nil)

// New creates a Telegram transport on the given store.
func New(store switchboard.Store, cfg Config, opts ...Option) *Transport {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.FileBase == "" {
		cfg.FileBase = defaultFileBase
	}
	t := &Transport{
		store:      store,
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     slog.New(discardHandler{}),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Name identifies the transport.
func (t *Transport) Name() string { return "telegram" }

// token resolves the bot token: explicit config first, then the
// persisted value from the key-value store.
func (t *Transport) token(ctx context.Context) string {
	if t.cfg.BotToken != "" {
		return t.cfg.BotToken
	}
	tok, err := t.store.GetConfig(ctx, ConfigNamespace, botTokenKey)
	if err != nil {
		t.logger.Error("telegram: load bot token", "error", err)
		return ""
	}
	return tok
}

func (t *Transport) apiRoot(ctx context.Context) string {
	return t.cfg.APIBase + t.token(ctx)
}

// InstanceInit registers the webhook with Telegram. Idempotent: Telegram
// treats repeated setWebhook calls for the same URL as a no-op. Skipped
// when no token is configured yet.
func (t *Transport) InstanceInit(ctx context.Context) error {
	if t.token(ctx) == "" {
		t.logger.Info("telegram: no bot token, skipping webhook registration")
		return nil
	}
	if t.cfg.WebhookURL == "" {
		t.logger.Info("telegram: no webhook url, skipping webhook registration")
		return nil
	}

	webhookURL := strings.TrimSuffix(t.cfg.WebhookURL, "/") + "/telegram_respond"
	t.logger.Info("telegram: setting webhook", "url", webhookURL)

	params := url.Values{}
	params.Set("url", webhookURL)
	params.Set("allowed_updates", `["message"]`)
	params.Set("drop_pending_updates", "true")
	if err := t.callAPI(ctx, "setWebhook", params, nil); err != nil {
		return fmt.Errorf("set webhook %s: %w", webhookURL, err)
	}
	return nil
}

// Register mounts the transport's endpoints. telegram_respond is public:
// Telegram cannot pass a bearer token.
func (t *Transport) Register(mux *http.ServeMux, svc *switchboard.Service) {
	mux.HandleFunc("POST /telegram_respond", t.respond(svc))
	mux.HandleFunc("POST /connect_telegram", svc.Private(t.connect(svc)))
	mux.HandleFunc("POST /telegram_webhook_info", svc.Private(t.webhookInfo))
	mux.HandleFunc("POST /telegram_disconnect_webhook", svc.Private(t.disconnectWebhook))
}

// ParseInbound parses the `message` object of a Telegram update.
// Voice and video-note messages resolve their file id into a remote file
// URL; messages with neither text nor media (group joins and similar
// system events) are a deliberate no-op.
func (t *Transport) ParseInbound(ctx context.Context, payload []byte) switchboard.ParseResult {
	if len(payload) == 0 {
		return switchboard.ParseMalformed("empty message payload")
	}
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return switchboard.ParseMalformed(fmt.Sprintf("undecodable message: %v", err))
	}

	if msg.Chat == nil {
		return switchboard.ParseMalformed("no 'chat' found in message")
	}
	chatID, err := intField(msg.Chat.ID)
	if err != nil {
		return switchboard.ParseMalformed(fmt.Sprintf("bad 'chat.id': %v", err))
	}
	messageID, err := intField(msg.MessageID)
	if err != nil {
		return switchboard.ParseMalformed(fmt.Sprintf("bad 'message_id': %v", err))
	}

	var text string
	if msg.Text != nil {
		text = *msg.Text
	}

	if media, mime := firstMedia(msg); media != nil {
		fileURL, err := t.fileURL(ctx, media.FileID)
		if err != nil {
			return switchboard.ParseMalformed(fmt.Sprintf("resolve file %s: %v", media.FileID, err))
		}
		block := switchboard.Block{
			Text:      text,
			URL:       fileURL,
			MimeType:  mime,
			ChatID:    strconv.FormatInt(chatID, 10),
			MessageID: strconv.FormatInt(messageID, 10),
			Tags:      []switchboard.Tag{switchboard.ProvenanceTag("telegram")},
		}
		return switchboard.ParsedMessage(block)
	}

	// Some incoming messages (like the group join message) carry no text.
	// Treated as a no-op rather than an error.
	if msg.Text == nil {
		return switchboard.ParseNoOp()
	}

	block := switchboard.TextBlock(text)
	block.ChatID = strconv.FormatInt(chatID, 10)
	block.MessageID = strconv.FormatInt(messageID, 10)
	block.Tags = []switchboard.Tag{switchboard.ProvenanceTag("telegram")}
	return switchboard.ParsedMessage(block)
}

func firstMedia(msg message) (*mediaRef, string) {
	if msg.Voice != nil {
		return msg.Voice, switchboard.MimeOGGAudio
	}
	if msg.VideoNote != nil {
		return msg.VideoNote, switchboard.MimeMP4Video
	}
	return nil, ""
}

// intField decodes a required integer field, rejecting absent values and
// wrong types (Telegram ids are integers on the wire).
func intField(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing")
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("not an integer: %s", string(raw))
	}
	return v, nil
}

// respond implements the Telegram webhook contract. The fixed "OK" body
// is returned regardless of internal success or failure: propagating
// application errors to Telegram only causes retry storms.
func (t *Transport) respond(svc *switchboard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = io.WriteString(w, ackBody)
		}()

		ctx := r.Context()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.logger.Error("telegram: read webhook body", "error", err)
			return
		}

		var update Update
		if err := json.Unmarshal(body, &update); err != nil {
			t.logger.Error("telegram: undecodable update", "error", err)
			return
		}

		// Best-effort chat id for error delivery, resolved before strict
		// parsing so failures can still reach the user.
		chatID := peekChatID(update.Message)

		res := t.ParseInbound(ctx, update.Message)
		if res.IsNoOp() {
			return
		}
		if reason, bad := res.Malformed(); bad {
			t.logger.Error("telegram: malformed payload", "reason", reason)
			t.deliverError(ctx, svc, &switchboard.ErrMalformedPayload{Transport: "telegram", Reason: reason}, chatID)
			return
		}
		msg, _ := res.Message()

		if err := t.handleMessage(ctx, svc, msg); err != nil {
			t.logger.Error("telegram: handle message failed", "chat_id", msg.ChatID, "error", err)
			t.deliverError(ctx, svc, err, msg.ChatID)
		}
	}
}

// handleMessage runs the contextualize/execute/emit steps for one parsed
// inbound message.
func (t *Transport) handleMessage(ctx context.Context, svc *switchboard.Service, msg switchboard.Block) error {
	actx, err := svc.BuildContext(ctx, msg.ChatID)
	if err != nil {
		return err
	}

	if _, err := actx.ChatHistory.AppendUserMessage(ctx, msg.Text, msg.Tags...); err != nil {
		return err
	}

	actx.ResetEmit(t.emitTo(ctx, msg.ChatID))

	blocks, err := svc.RunAgent(ctx, svc.Agent(), actx)
	if err != nil {
		return err
	}

	if answer := joinText(blocks); answer != "" {
		if _, err := actx.ChatHistory.AppendAgentMessage(ctx, answer); err != nil {
			return err
		}
	}
	return nil
}

// emitTo builds the emission callback routing agent output back through
// this transport to one chat.
func (t *Transport) emitTo(ctx context.Context, chatID string) switchboard.EmitFunc {
	return func(blocks []switchboard.Block, meta switchboard.Metadata) {
		addressed := make([]switchboard.Block, len(blocks))
		for i, b := range blocks {
			b.ChatID = chatID
			addressed[i] = b
		}
		if err := t.Send(ctx, addressed, meta); err != nil {
			t.logger.Error("telegram: emit failed", "chat_id", chatID, "error", err)
		}
	}
}

// deliverError sends the user-visible error block when a destination was
// resolved; without one the error is swallowed (nowhere to deliver).
func (t *Transport) deliverError(ctx context.Context, svc *switchboard.Service, cause error, chatID string) {
	if chatID == "" {
		return
	}
	if err := t.Send(ctx, []switchboard.Block{svc.ErrorBlock(cause, chatID)}, nil); err != nil {
		t.logger.Error("telegram: error delivery failed", "chat_id", chatID, "error", err)
	}
}

// peekChatID extracts chat.id without full validation.
func peekChatID(raw json.RawMessage) string {
	var probe struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Chat.ID == 0 {
		return ""
	}
	return strconv.FormatInt(probe.Chat.ID, 10)
}

// Send delivers blocks to their chats via the Bot API. Text goes through
// sendMessage with markdown rendered to Telegram HTML (plain-text retry
// on rejection); media goes through sendPhoto/sendAudio/sendVideo with a
// multipart body. Blocks with no mapping are logged and dropped.
func (t *Transport) Send(ctx context.Context, blocks []switchboard.Block, _ switchboard.Metadata) error {
	for _, block := range blocks {
		if block.ChatID == "" {
			t.logger.Error("telegram: block without chat id dropped")
			continue
		}
		var err error
		switch {
		case block.IsText() && block.URL == "":
			err = t.sendText(ctx, block.ChatID, block.Text)
		case block.IsImage():
			err = t.sendMedia(ctx, "sendPhoto", "photo", block)
		case block.IsAudio():
			err = t.sendMedia(ctx, "sendAudio", "audio", block)
		case block.IsVideo():
			err = t.sendMedia(ctx, "sendVideo", "video", block)
		default:
			uerr := &switchboard.ErrUnsupportedContent{Transport: "telegram", MimeType: block.MimeType}
			t.logger.Error("telegram: unsupported block dropped", "mime_type", block.MimeType, "error", uerr)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) sendText(ctx context.Context, chatID, text string) error {
	for _, chunk := range splitMessage(text) {
		params := url.Values{}
		params.Set("chat_id", chatID)
		params.Set("text", MarkdownToHTML(chunk))
		params.Set("parse_mode", "HTML")
		err := t.callAPI(ctx, "sendMessage", params, nil)
		if err == nil {
			continue
		}

		// Retry as plain text only when the provider rejected the HTML
		// payload; transport failures would just double-send.
		var upstream *switchboard.ErrUpstreamDelivery
		if !errors.As(err, &upstream) {
			return err
		}
		params.Set("text", chunk)
		params.Del("parse_mode")
		if err := t.callAPI(ctx, "sendMessage", params, nil); err != nil {
			return err
		}
	}
	return nil
}

// sendMedia fetches the block's remote content and re-uploads it as a
// multipart file body.
func (t *Transport) sendMedia(ctx context.Context, method, field string, block switchboard.Block) error {
	data, err := t.fetch(ctx, block.URL)
	if err != nil {
		return fmt.Errorf("fetch media %s: %w", block.URL, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, field)
	if err != nil {
		return fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("build multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("build multipart body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s?chat_id=%s", t.apiRoot(ctx), method, url.QueryEscape(block.ChatID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &switchboard.ErrUpstreamDelivery{Provider: "telegram", Status: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

func (t *Transport) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &switchboard.ErrUpstreamDelivery{Provider: "telegram", Status: resp.StatusCode, Body: string(body)}
	}
	return io.ReadAll(resp.Body)
}

// fileURL resolves a file id into a downloadable URL via getFile.
func (t *Transport) fileURL(ctx context.Context, fileID string) (string, error) {
	params := url.Values{}
	params.Set("file_id", fileID)
	var file tgFile
	if err := t.callAPI(ctx, "getFile", params, &file); err != nil {
		return "", err
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file_path for file id %s", fileID)
	}
	return t.cfg.FileBase + t.token(ctx) + "/" + file.FilePath, nil
}

// --- Provisioning endpoints ---

// connect persists a new bot token and re-registers the webhook.
func (t *Transport) connect(svc *switchboard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			BotToken string `json:"bot_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.BotToken == "" {
			http.Error(w, "missing bot_token", http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		if err := t.store.SetConfig(ctx, ConfigNamespace, botTokenKey, payload.BotToken); err != nil {
			http.Error(w, fmt.Sprintf("could not persist bot token: %v", err), http.StatusInternalServerError)
			return
		}
		t.cfg.BotToken = payload.BotToken

		if err := t.InstanceInit(ctx); err != nil {
			_, _ = fmt.Fprintf(w, "Could not set webhook for bot: %v", err)
			return
		}
		_, _ = io.WriteString(w, ackBody)
	}
}

// webhookInfo proxies Telegram's getWebhookInfo.
func (t *Transport) webhookInfo(w http.ResponseWriter, r *http.Request) {
	var info json.RawMessage
	if err := t.callAPI(r.Context(), "getWebhookInfo", nil, &info); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(info)
}

// disconnectWebhook unsubscribes from Telegram updates.
func (t *Transport) disconnectWebhook(w http.ResponseWriter, r *http.Request) {
	if err := t.callAPI(r.Context(), "deleteWebhook", nil, nil); err != nil {
		t.logger.Error("telegram: delete webhook failed", "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

// callAPI issues a Bot API method call with query parameters and decodes
// the response envelope.
func (t *Transport) callAPI(ctx context.Context, method string, params url.Values, result any) error {
	endpoint := t.apiRoot(ctx) + "/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w (body: %s)", method, err, string(respBody))
	}
	if !envelope.OK {
		return &switchboard.ErrUpstreamDelivery{
			Provider: "telegram",
			Status:   envelope.ErrorCode,
			Body:     envelope.Description,
		}
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// splitMessage splits text into chunks that fit within Telegram's
// 4096-char limit, preferring newline boundaries.
func splitMessage(text string) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > 0 {
		if len(remaining) <= maxMessageLength {
			chunks = append(chunks, remaining)
			break
		}
		splitPos := strings.LastIndex(remaining[:maxMessageLength], "\n")
		if splitPos == -1 {
			splitPos = maxMessageLength
			// Back up so no chunk ends mid-rune.
			for splitPos > 0 && !utf8.RuneStart(remaining[splitPos]) {
				splitPos--
			}
		} else {
			splitPos++ // include the newline in the current chunk
		}
		chunks = append(chunks, remaining[:splitPos])
		remaining = remaining[splitPos:]
	}
	return chunks
}

func joinText(blocks []switchboard.Block) string {
	var parts []string
	for _, b := range blocks {
		if b.IsText() && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
