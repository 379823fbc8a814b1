package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const openaiDefaultModel = "gpt-4o"

// OpenAIProvider streams chat completions, accumulating tool-call argument
// deltas by index until the stream reports them complete.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider reads OPENAI_API_KEY from the environment.
func NewOpenAIProvider() (*OpenAIProvider, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	return &OpenAIProvider{client: openai.NewClient(key)}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = openaiDefaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: openaiMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = openaiTools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	out := make(chan StreamChunk)
	go p.consume(stream, out)
	return out, nil
}

func (p *OpenAIProvider) consume(stream *openai.ChatCompletionStream, out chan<- StreamChunk) {
	defer close(out)
	defer stream.Close()

	var full strings.Builder
	// Tool calls stream field-by-field, keyed by index.
	pending := make(map[int]*ToolCall)
	order := []int{}

	emit := func() {
		for _, idx := range order {
			call := pending[idx]
			if call.ID != "" && call.Name != "" {
				out <- StreamChunk{ToolCall: call}
			}
		}
		pending = make(map[int]*ToolCall)
		order = order[:0]
	}

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				emit()
				out <- StreamChunk{Done: true, FullText: full.String()}
				return
			}
			out <- StreamChunk{Done: true, FullText: full.String(), Err: fmt.Errorf("openai stream: %w", err)}
			return
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			full.WriteString(choice.Delta.Content)
			out <- StreamChunk{Delta: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := pending[idx]
			if !ok {
				call = &ToolCall{}
				pending[idx] = call
				order = append(order, idx)
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			call.Arguments += tc.Function.Arguments
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			emit()
		}
	}
}

// openaiMessages converts history to the chat format: system first, tool
// results as separate role "tool" messages.
func openaiMessages(messages []Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if msg.Role == RoleTool {
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
			continue
		}

		m := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		for _, call := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		result = append(result, m)
	}
	return result
}

func openaiTools(tools []ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		}
	}
	return result
}

var _ Provider = (*OpenAIProvider)(nil)
