package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/longregen/marlowe/shared/jsonutil"
	"github.com/longregen/marlowe/shared/llm"
)

// OpenAIChat adapts the shared OpenAI-compatible client to the
// controller's ChatClient interface. It also serves as the Embedder for
// the memory retriever.
type OpenAIChat struct {
	client *llm.Client
}

func NewOpenAIChat(client *llm.Client) *OpenAIChat {
	return &OpenAIChat{client: client}
}

func (c *OpenAIChat) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	oaReq := openai.ChatCompletionRequest{
		Model:       c.client.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if oaReq.MaxTokens == 0 {
		oaReq.MaxTokens = c.client.MaxTokens
	}

	for _, m := range req.Messages {
		oaMsg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			oaMsg.ToolCalls = append(oaMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: jsonutil.MustJSON(tc.Arguments),
				},
			})
		}
		oaReq.Messages = append(oaReq.Messages, oaMsg)
	}

	for _, def := range req.Tools {
		oaReq.Tools = append(oaReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Schema,
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, oaReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: empty response")
	}

	choice := resp.Choices[0].Message
	reply := &ChatReply{Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("parse tool arguments for %s: %w", tc.Function.Name, err)
			}
		}
		reply.ToolCalls = append(reply.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return reply, nil
}

// Embed generates an embedding for the given text.
func (c *OpenAIChat) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.client.EmbeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("create embedding: empty response")
	}
	return resp.Data[0].Embedding, nil
}
