package providers

import (
	"context"
	"errors"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/featherdev/feather/internal/llm"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicClient adapts the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient builds a client from an API key.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{client: anthropic.NewClient(apiKey)}
}

// Chat implements llm.ChatProvider.
func (c *AnthropicClient) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	apiReq, err := c.buildRequest(req)
	if err != nil {
		return llm.ChatResponse{}, err
	}

	resp, err := c.client.CreateMessages(ctx, apiReq)
	if err != nil {
		status, retryAfter := anthropicErrorMetadata(err)
		return llm.ChatResponse{}, wrapError("anthropic", err, status, retryAfter)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			content += *block.Text
		}
	}

	return llm.ChatResponse{
		Content: content,
		Raw:     resp,
		Usage: llm.Usage{
			Prompt:     resp.Usage.InputTokens,
			Completion: resp.Usage.OutputTokens,
			Total:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// Stream implements llm.StreamProvider. The SDK drives callbacks during
// CreateMessagesStream; they are adapted onto the channel contract here.
func (c *AnthropicClient) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, <-chan error) {
	chunkCh := make(chan llm.StreamChunk, 10)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		defer close(errCh)

		base, err := c.buildRequest(req)
		if err != nil {
			errCh <- err
			return
		}

		streamReq := anthropic.MessagesStreamRequest{MessagesRequest: base}
		streamReq.OnContentBlockDelta = func(delta anthropic.MessagesEventContentBlockDeltaData) {
			if delta.Delta.Type != "text_delta" || delta.Delta.Text == nil {
				return
			}
			select {
			case chunkCh <- llm.StreamChunk{ContentDelta: *delta.Delta.Text}:
			case <-ctx.Done():
			}
		}

		if _, err := c.client.CreateMessagesStream(ctx, streamReq); err != nil {
			if ctx.Err() != nil {
				errCh <- llm.Abort(err)
				return
			}
			status, retryAfter := anthropicErrorMetadata(err)
			errCh <- wrapError("anthropic", err, status, retryAfter)
			return
		}
		errCh <- nil
	}()

	return chunkCh, errCh
}

func (c *AnthropicClient) buildRequest(req llm.ChatRequest) (anthropic.MessagesRequest, error) {
	var system []anthropic.MessageSystemPart
	var msgs []anthropic.Message

	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem, llm.RoleSummary:
			system = append(system, anthropic.MessageSystemPart{Type: "text", Text: m.Content})
		case llm.RoleUser:
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
			})
		case llm.RoleAssistant:
			content := m.Content
			if content == "" {
				content = " "
			}
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(content)},
			})
		case llm.RoleTool:
			// Tool results travel as user turns labeled with the tool name.
			msgs = append(msgs, anthropic.Message{
				Role: anthropic.RoleUser,
				Content: []anthropic.MessageContent{
					anthropic.NewTextMessageContent(fmt.Sprintf("[%s result]\n%s", m.ToolName, m.Content)),
				},
			})
		default:
			return anthropic.MessagesRequest{}, &llm.ContractError{Msg: fmt.Sprintf("unsupported role %q", m.Role)}
		}
	}

	maxTokens := anthropicDefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	apiReq := anthropic.MessagesRequest{
		Model:     anthropic.Model(req.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		apiReq.Temperature = &t
	}
	if req.TopP != nil {
		p := float32(*req.TopP)
		apiReq.TopP = &p
	}
	if len(system) > 0 {
		apiReq.MultiSystem = system
	}
	return apiReq, nil
}

// anthropicErrorMetadata pulls the HTTP status from the SDK's typed errors.
func anthropicErrorMetadata(err error) (int, string) {
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode, ""
	}
	return 0, ""
}
