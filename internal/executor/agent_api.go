package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// APIAgentClient runs single-turn agent sessions against the Messages API.
// Tool calls requested by the model are reported but not executed.
type APIAgentClient struct {
	baseURL      string
	defaultModel string
	maxTokens    int64
}

// NewAPIAgentClient creates a client for the Messages API.
func NewAPIAgentClient(baseURL, defaultModel string, maxTokens int64) *APIAgentClient {
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-5"
	}
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &APIAgentClient{baseURL: baseURL, defaultModel: defaultModel, maxTokens: maxTokens}
}

// Query implements AgentClient.
func (c *APIAgentClient) Query(ctx context.Context, q AgentQuery) (<-chan AgentEvent, error) {
	opts := []option.RequestOption{option.WithAPIKey(q.APIKey)}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	client := anthropic.NewClient(opts...)

	model := q.Model
	if model == "" {
		model = c.defaultModel
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(q.Prompt)),
		},
	}
	if len(q.Schema) > 0 {
		params.System = []anthropic.TextBlockParam{{
			Text: "Respond with a single JSON document, without surrounding prose, that validates against this JSON schema:\n" + string(q.Schema),
		}}
	}

	ch := make(chan AgentEvent)
	go func() {
		defer close(ch)
		start := time.Now()
		send := func(ev AgentEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		stream := client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		turn := &apiTurn{model: model}
		for stream.Next() {
			if msg, ok := turn.handle(stream.Current()); ok && !send(AgentEvent{Message: msg}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(AgentEvent{Err: err})
			return
		}
		send(AgentEvent{Message: turn.result(time.Since(start))})
	}()
	return ch, nil
}

// Per-million-token prices in USD, matched by model prefix (longest first).
var modelPrices = []struct {
	prefix        string
	input, output float64
}{
	{"claude-opus-4-5", 5, 25},
	{"claude-opus-4", 15, 75},
	{"claude-sonnet-4", 3, 15},
	{"claude-3-7-sonnet", 3, 15},
	{"claude-3-5-sonnet", 3, 15},
	{"claude-haiku-4-5", 1, 5},
	{"claude-3-5-haiku", 0.8, 4},
}

// estimateCost prices a response; ok is false for unknown models.
func estimateCost(model string, inputTokens, outputTokens int64) (float64, bool) {
	for _, p := range modelPrices {
		if strings.HasPrefix(model, p.prefix) {
			return (float64(inputTokens)*p.input + float64(outputTokens)*p.output) / 1e6, true
		}
	}
	return 0, false
}

// apiTurn folds the events of one streamed response into agent messages.
type apiTurn struct {
	model string

	full      strings.Builder
	text      strings.Builder
	toolInput strings.Builder
	block     ContentBlock

	inputTokens  int64
	outputTokens int64
	stopReason   string
}

// handle consumes one stream event and returns the message to emit, if any.
func (t *apiTurn) handle(event anthropic.MessageStreamEventUnion) (AgentMessage, bool) {
	switch event.Type {
	case "message_start":
		if event.Message.Model != "" {
			t.model = string(event.Message.Model)
		}
		t.inputTokens = event.Message.Usage.InputTokens
		t.outputTokens = event.Message.Usage.OutputTokens
		return AgentMessage{
			Type:      MessageSystem,
			Subtype:   "init",
			SessionID: event.Message.ID,
			Model:     t.model,
		}, true
	case "content_block_start":
		t.block = ContentBlock{Type: event.ContentBlock.Type, Name: event.ContentBlock.Name}
		t.text.Reset()
		t.toolInput.Reset()
	case "content_block_delta":
		switch event.Delta.Type {
		case "text_delta":
			t.text.WriteString(event.Delta.Text)
			t.full.WriteString(event.Delta.Text)
		case "input_json_delta":
			t.toolInput.WriteString(event.Delta.PartialJSON)
		}
	case "content_block_stop":
		block := t.block
		switch block.Type {
		case "text":
			block.Text = t.text.String()
		case "tool_use":
			if in := t.toolInput.String(); json.Valid([]byte(in)) {
				block.Input = json.RawMessage(in)
			}
		default:
			return AgentMessage{}, false
		}
		return AgentMessage{Type: MessageAssistant, Message: &AgentTurn{Content: []ContentBlock{block}}}, true
	case "message_delta":
		if r := string(event.Delta.StopReason); r != "" {
			t.stopReason = r
		}
		// Delta usage is cumulative.
		t.inputTokens = max(t.inputTokens, event.Usage.InputTokens)
		t.outputTokens = max(t.outputTokens, event.Usage.OutputTokens)
	}
	return AgentMessage{}, false
}

// result builds the terminal message. A response cut off by the token limit
// or refused by the model is an error.
func (t *apiTurn) result(elapsed time.Duration) AgentMessage {
	msg := AgentMessage{
		Type:       MessageResult,
		Subtype:    "success",
		Result:     t.full.String(),
		DurationMs: elapsed.Milliseconds(),
	}
	if cost, ok := estimateCost(t.model, t.inputTokens, t.outputTokens); ok {
		msg.TotalCostUSD = cost
	}
	slog.Debug("api agent usage", "model", t.model, "input_tokens", t.inputTokens,
		"output_tokens", t.outputTokens, "stop_reason", t.stopReason)

	switch t.stopReason {
	case "max_tokens":
		msg.Subtype = "error_max_tokens"
		msg.IsError = true
		msg.Errors = []string{fmt.Sprintf("Response truncated after %d output tokens (max_tokens reached)", t.outputTokens)}
	case "refusal":
		msg.Subtype = "error_refusal"
		msg.IsError = true
		msg.Errors = []string{"The model refused to answer"}
	}
	return msg
}
