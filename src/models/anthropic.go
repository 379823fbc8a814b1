package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultModel = "claude-sonnet-4-20250514"

// AnthropicProvider streams completions from the Anthropic Messages API,
// including extended thinking blocks and tool_use blocks whose argument JSON
// arrives as incremental fragments.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider reads ANTHROPIC_API_KEY from the environment.
func NewAnthropicProvider() (*AnthropicProvider, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is not set")
	}
	return &AnthropicProvider{client: anthropic.NewClient(option.WithAPIKey(key))}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)

		stream := p.client.Messages.NewStreaming(ctx, params)
		var (
			full      strings.Builder
			tool      *ToolCall
			toolArgs  strings.Builder
			thinking  *ThinkingBlock
			reasoning strings.Builder
		)

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				switch block.Type {
				case "tool_use":
					use := block.AsToolUse()
					tool = &ToolCall{ID: use.ID, Name: use.Name}
					toolArgs.Reset()
				case "thinking":
					thinking = &ThinkingBlock{}
					reasoning.Reset()
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						full.WriteString(delta.Text)
						out <- StreamChunk{Delta: delta.Text}
					}
				case "thinking_delta":
					if delta.Thinking != "" {
						reasoning.WriteString(delta.Thinking)
						out <- StreamChunk{Thinking: delta.Thinking}
					}
				case "signature_delta":
					// The signature arrives at the tail of a thinking block
					// and must be replayed verbatim on the next request.
					if thinking != nil {
						thinking.Signature += delta.Signature
					}
				case "input_json_delta":
					// Argument JSON streams in fragments; buffer until the
					// block closes so the invocation is handed over whole.
					if tool != nil {
						toolArgs.WriteString(delta.PartialJSON)
					}
				}

			case "content_block_stop":
				if thinking != nil {
					thinking.Thinking = reasoning.String()
					out <- StreamChunk{ThinkingBlock: thinking}
					thinking = nil
				}
				if tool != nil {
					tool.Arguments = toolArgs.String()
					out <- StreamChunk{ToolCall: tool}
					tool = nil
				}

			case "message_stop":
				out <- StreamChunk{Done: true, FullText: full.String()}
				return
			}
		}

		if err := stream.Err(); err != nil {
			out <- StreamChunk{Done: true, FullText: full.String(), Err: fmt.Errorf("anthropic stream: %w", err)}
			return
		}
		out <- StreamChunk{Done: true, FullText: full.String()}
	}()

	return out, nil
}

func (p *AnthropicProvider) buildParams(req Request) (anthropic.MessageNewParams, error) {
	messages, err := anthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	model := req.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := anthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	if req.ThinkingBudget > 0 {
		budget := int64(req.ThinkingBudget)
		if budget < 1024 {
			budget = 1024 // API minimum
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	return params, nil
}

// anthropicMessages converts the history into Anthropic content blocks. Tool
// results ride in user messages as tool_result blocks; consecutive tool
// messages are merged into one user message to satisfy the API's strict
// role alternation.
func anthropicMessages(messages []Message) ([]anthropic.MessageParam, error) {
	var (
		result  []anthropic.MessageParam
		pending []anthropic.ContentBlockParamUnion // buffered tool_result blocks
	)
	flush := func() {
		if len(pending) > 0 {
			result = append(result, anthropic.NewUserMessage(pending...))
			pending = nil
		}
	}

	for _, msg := range messages {
		if msg.Role == RoleTool {
			pending = append(pending, anthropic.NewToolResultBlock(
				msg.ToolCallID, msg.Content, msg.IsError))
			continue
		}
		flush()

		var content []anthropic.ContentBlockParamUnion
		// Signed thinking blocks must lead the assistant content; the API
		// rejects a replayed tool_use turn whose thinking is missing or
		// out of position.
		for _, tb := range msg.Thinking {
			content = append(content, anthropic.NewThinkingBlock(tb.Signature, tb.Thinking))
		}
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, call := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
				return nil, fmt.Errorf("tool call %s has invalid arguments: %w", call.ID, err)
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	flush()
	return result, nil
}

func anthropicTools(tools []ToolDef) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", tool.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool definition for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

var _ Provider = (*AnthropicProvider)(nil)
