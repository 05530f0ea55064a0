package providers

import (
	"testing"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/featherdev/feather/internal/llm"
)

func TestOpenAIBuildRequestMapsSampling(t *testing.T) {
	temp := 0.7
	topP := 0.9
	maxTokens := 256
	c := NewOpenAIClient("key", "")

	apiReq, err := c.buildRequest(llm.ChatRequest{
		Model:       "gpt-4o",
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Temperature: &temp,
		TopP:        &topP,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		t.Fatal(err)
	}
	if apiReq.Temperature == nil || *apiReq.Temperature != float32(temp) {
		t.Errorf("Temperature = %v", apiReq.Temperature)
	}
	if apiReq.TopP != float32(topP) {
		t.Errorf("TopP = %v", apiReq.TopP)
	}
	if apiReq.MaxTokens != maxTokens {
		t.Errorf("MaxTokens = %d", apiReq.MaxTokens)
	}
}

func TestOpenAIBuildRequestOmitsUnsetSampling(t *testing.T) {
	c := NewOpenAIClient("key", "")
	apiReq, err := c.buildRequest(llm.ChatRequest{
		Model:    "gpt-4o",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if apiReq.Temperature != nil || apiReq.TopP != 0 {
		t.Errorf("unset sampling must stay unset: %v / %v", apiReq.Temperature, apiReq.TopP)
	}
}

func TestOpenAIBuildRequestRoles(t *testing.T) {
	c := NewOpenAIClient("key", "")
	apiReq, err := c.buildRequest(llm.ChatRequest{
		Model: "gpt-4o",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleSummary, Content: "earlier: greetings"},
			{Role: llm.RoleUser, Content: "hi"},
			{Role: llm.RoleTool, ToolName: "search", Content: "result body"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	wantRoles := []string{
		openai.ChatMessageRoleSystem,
		openai.ChatMessageRoleSystem,
		openai.ChatMessageRoleUser,
		openai.ChatMessageRoleUser,
	}
	if len(apiReq.Messages) != len(wantRoles) {
		t.Fatalf("messages = %d, want %d", len(apiReq.Messages), len(wantRoles))
	}
	for i, want := range wantRoles {
		if apiReq.Messages[i].Role != want {
			t.Errorf("messages[%d].Role = %s, want %s", i, apiReq.Messages[i].Role, want)
		}
	}

	if _, err := c.buildRequest(llm.ChatRequest{
		Model:    "gpt-4o",
		Messages: []llm.Message{{Role: "narrator", Content: "x"}},
	}); err == nil {
		t.Error("unknown role must be rejected")
	}
}
