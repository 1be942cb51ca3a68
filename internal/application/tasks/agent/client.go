package agent

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// LLMClient wraps the OpenAI chat completions API for the two shapes
// the agent/simulator task service needs: free-form completion (the
// strong model's conversational turns) and a single forced function
// call returning schema-validated JSON (the weak model's structured
// decisions, §4.6).
type LLMClient struct {
	client *openai.Client
}

// NewLLMClient constructs a client bound to one API key. baseURL may be
// empty to use the default OpenAI endpoint.
func NewLLMClient(apiKey, baseURL string) *LLMClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &LLMClient{client: openai.NewClientWithConfig(cfg)}
}

// Complete sends a free-form chat request and returns the first
// choice's content, trimmed of surrounding whitespace by the caller.
func (c *LLMClient) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// StructuredCall forces the model to invoke the named function and
// returns its arguments unmarshalled into out. This is the "model
// vendor's function-calling facility" §4.6/spec §4.5 asks structured
// decisions to use.
func (c *LLMClient) StructuredCall(ctx context.Context, model, prompt string, fn FunctionSpec, out interface{}) error {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Tools: []openai.Tool{
			{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        fn.Name,
					Description: fn.Description,
					Parameters:  fn.Parameters,
				},
			},
		},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: fn.Name},
		},
	})
	if err != nil {
		return fmt.Errorf("structured call: %w", err)
	}
	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		return fmt.Errorf("structured call returned no tool call")
	}
	args := resp.Choices[0].Message.ToolCalls[0].Function.Arguments
	if err := json.Unmarshal([]byte(args), out); err != nil {
		return fmt.Errorf("unmarshal structured call arguments: %w", err)
	}
	return nil
}

// FunctionSpec names and schemas a structured-call function definition.
type FunctionSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}
