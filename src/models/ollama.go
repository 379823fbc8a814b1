package models

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

const ollamaDefaultModel = "llama3.1"

// OllamaProvider streams chat completions from a local Ollama daemon. It is
// text-only: tool descriptors in the request are ignored, so turns complete
// without tool rounds.
type OllamaProvider struct {
	client *ollama.Client
}

// NewOllamaProvider honours OLLAMA_HOST, defaulting to the daemon's standard
// local address.
func NewOllamaProvider() (*OllamaProvider, error) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST %q: %w", host, err)
	}
	httpClient := &http.Client{Timeout: 120 * time.Second}
	return &OllamaProvider{client: ollama.NewClient(u, httpClient)}, nil
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = ollamaDefaultModel
	}

	var history []ollama.Message
	if req.System != "" {
		history = append(history, ollama.Message{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleTool:
			// No native tool channel; surface results as user context.
			history = append(history, ollama.Message{
				Role:    "user",
				Content: fmt.Sprintf("[tool result %s]\n%s", msg.ToolCallID, msg.Content),
			})
		default:
			if msg.Content == "" {
				continue
			}
			history = append(history, ollama.Message{Role: string(msg.Role), Content: msg.Content})
		}
	}

	chatReq := &ollama.ChatRequest{
		Model:    model,
		Messages: history,
	}

	out := make(chan StreamChunk, 16)
	go func() {
		defer close(out)
		var full strings.Builder
		err := p.client.Chat(ctx, chatReq, func(resp ollama.ChatResponse) error {
			if resp.Message.Content != "" {
				full.WriteString(resp.Message.Content)
				out <- StreamChunk{Delta: resp.Message.Content}
			}
			return nil
		})
		if err != nil {
			out <- StreamChunk{Done: true, FullText: full.String(), Err: fmt.Errorf("ollama chat: %w", err)}
			return
		}
		out <- StreamChunk{Done: true, FullText: full.String()}
	}()

	return out, nil
}

var _ Provider = (*OllamaProvider)(nil)
