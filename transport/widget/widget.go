// Package widget implements the switchboard.Transport for an embeddable
// web chat widget. Unlike webhook transports, delivery is synchronous:
// the agent's blocks are buffered and returned in the HTTP response.
package widget

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/switchboard-ai/switchboard"
)

// defaultSession names the conversation used when the widget does not
// send a chat_session_id.
const defaultSession = "default"

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets a structured logger for transport events.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// Transport is the web widget communication channel.
type Transport struct {
	logger *slog.Logger
}

var _ switchboard.Transport = (*Transport)(nil)

// New creates a widget transport.
func New(opts ...Option) *Transport {
	t := &Transport{logger: slog.New(discardHandler{})}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Name identifies the transport.
func (t *Transport) Name() string { return "widget" }

// question is the /answer request payload.
type question struct {
	Question      string `json:"question"`
	ChatSessionID string `json:"chat_session_id"`
}

// ParseInbound parses an /answer payload. An empty question is malformed:
// the widget always submits user-typed text.
func (t *Transport) ParseInbound(_ context.Context, payload []byte) switchboard.ParseResult {
	var q question
	if err := json.Unmarshal(payload, &q); err != nil {
		return switchboard.ParseMalformed(fmt.Sprintf("undecodable payload: %v", err))
	}
	if q.Question == "" {
		return switchboard.ParseMalformed("missing 'question'")
	}
	if q.ChatSessionID == "" {
		q.ChatSessionID = defaultSession
	}
	block := switchboard.TextBlock(q.Question)
	block.ChatID = q.ChatSessionID
	block.Tags = []switchboard.Tag{switchboard.ProvenanceTag("widget")}
	return switchboard.ParsedMessage(block)
}

// Send is a no-op: the widget receives blocks in the /answer response
// body, not through a push channel.
func (t *Transport) Send(context.Context, []switchboard.Block, switchboard.Metadata) error {
	return nil
}

// InstanceInit requires no provider-side setup.
func (t *Transport) InstanceInit(context.Context) error { return nil }

// Register mounts the widget endpoints. /answer is public: it is called
// from the visitor's browser.
func (t *Transport) Register(mux *http.ServeMux, svc *switchboard.Service) {
	mux.HandleFunc("POST /answer", t.answer(svc))
}

// answer runs the agent synchronously and returns its blocks. Execution
// failures degrade to a one-element error block list with HTTP 200 so
// the widget can render them like any other answer.
func (t *Transport) answer(svc *switchboard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var body json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "undecodable payload", http.StatusBadRequest)
			return
		}
		res := t.ParseInbound(ctx, body)
		if reason, bad := res.Malformed(); bad {
			http.Error(w, reason, http.StatusBadRequest)
			return
		}
		msg, _ := res.Message()

		blocks, err := t.run(ctx, svc, msg)
		if err != nil {
			t.logger.Error("widget: answer failed", "chat_session_id", msg.ChatID, "error", err)
			blocks = []switchboard.Block{svc.ErrorBlock(err, msg.ChatID)}
		}
		if blocks == nil {
			blocks = []switchboard.Block{}
		}
		switchboard.WriteJSON(w, blocks)
	}
}

// run executes the contextualize/execute steps and buffers emissions as
// the response.
func (t *Transport) run(ctx context.Context, svc *switchboard.Service, msg switchboard.Block) ([]switchboard.Block, error) {
	actx, err := svc.BuildContext(ctx, msg.ChatID)
	if err != nil {
		return nil, err
	}

	if _, err := actx.ChatHistory.AppendUserMessage(ctx, msg.Text, msg.Tags...); err != nil {
		return nil, err
	}

	var buffered []switchboard.Block
	actx.ResetEmit(func(blocks []switchboard.Block, _ switchboard.Metadata) {
		buffered = append(buffered, blocks...)
	})

	blocks, err := svc.RunAgent(ctx, svc.Agent(), actx)
	if err != nil {
		return nil, err
	}

	if answer := joinText(blocks); answer != "" {
		if _, err := actx.ChatHistory.AppendAgentMessage(ctx, answer); err != nil {
			return nil, err
		}
	}
	return buffered, nil
}

func joinText(blocks []switchboard.Block) string {
	var answer string
	for _, b := range blocks {
		if !b.IsText() || b.Text == "" {
			continue
		}
		if answer != "" {
			answer += "\n"
		}
		answer += b.Text
	}
	return answer
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
