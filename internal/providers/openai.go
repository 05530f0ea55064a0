// Package providers holds the concrete adapters that bridge provider SDKs
// to the dispatcher's ChatProvider and StreamProvider contracts.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/featherdev/feather/internal/llm"
)

// OpenAIClient adapts the OpenAI chat completion API.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient builds a client; baseURL overrides the default endpoint
// for compatible gateways.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(config)}
}

// Chat implements llm.ChatProvider.
func (c *OpenAIClient) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	apiReq, err := c.buildRequest(req)
	if err != nil {
		return llm.ChatResponse{}, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		status, retryAfter := openaiErrorMetadata(err)
		return llm.ChatResponse{}, wrapError("openai", err, status, retryAfter)
	}
	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, wrapError("openai", errors.New("empty choice list"), 0, "")
	}

	return llm.ChatResponse{
		Content: resp.Choices[0].Message.Content,
		Raw:     resp,
		Usage: llm.Usage{
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
			Total:      resp.Usage.TotalTokens,
		},
	}, nil
}

// Stream implements llm.StreamProvider. Content deltas arrive on the first
// channel; the error channel carries at most one value, nil on clean EOF.
func (c *OpenAIClient) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, <-chan error) {
	chunkCh := make(chan llm.StreamChunk, 10)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		defer close(errCh)

		apiReq, err := c.buildRequest(req)
		if err != nil {
			errCh <- err
			return
		}
		apiReq.Stream = true

		stream, err := c.client.CreateChatCompletionStream(ctx, apiReq)
		if err != nil {
			status, retryAfter := openaiErrorMetadata(err)
			errCh <- wrapError("openai", err, status, retryAfter)
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) || strings.Contains(err.Error(), "EOF") {
					errCh <- nil
					return
				}
				if ctx.Err() != nil {
					errCh <- llm.Abort(err)
					return
				}
				status, retryAfter := openaiErrorMetadata(err)
				errCh <- wrapError("openai", err, status, retryAfter)
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				select {
				case chunkCh <- llm.StreamChunk{ContentDelta: delta}:
				case <-ctx.Done():
					errCh <- llm.Abort(ctx.Err())
					return
				}
			}
		}
	}()

	return chunkCh, errCh
}

func (c *OpenAIClient) buildRequest(req llm.ChatRequest) (openai.ChatCompletionRequest, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role, content, err := openaiMessage(m)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: content})
	}

	apiReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		apiReq.Temperature = &t
	}
	if req.TopP != nil {
		apiReq.TopP = float32(*req.TopP)
	}
	if req.MaxTokens != nil {
		apiReq.MaxTokens = *req.MaxTokens
	}
	return apiReq, nil
}

// openaiMessage maps dispatcher roles onto the chat completion roles.
// Summaries travel as system turns; tool results travel as user turns
// labeled with the tool name, since the dispatcher does not track the
// provider's tool-call IDs.
func openaiMessage(m llm.Message) (role, content string, err error) {
	switch m.Role {
	case llm.RoleSystem, llm.RoleSummary:
		return openai.ChatMessageRoleSystem, m.Content, nil
	case llm.RoleUser:
		return openai.ChatMessageRoleUser, m.Content, nil
	case llm.RoleAssistant:
		content = m.Content
		if content == "" {
			content = " "
		}
		return openai.ChatMessageRoleAssistant, content, nil
	case llm.RoleTool:
		return openai.ChatMessageRoleUser, fmt.Sprintf("[%s result]\n%s", m.ToolName, m.Content), nil
	default:
		return "", "", &llm.ContractError{Msg: fmt.Sprintf("unsupported role %q", m.Role)}
	}
}

// openaiErrorMetadata pulls the HTTP status from the SDK's typed errors.
func openaiErrorMetadata(err error) (int, string) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, ""
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, ""
	}
	return 0, ""
}
