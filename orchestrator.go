package sublimechain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sublime-labs/sublimechain/src/memory"
	"github.com/sublime-labs/sublimechain/src/models"
)

// TurnState is the orchestrator's position in the turn state machine.
type TurnState int

const (
	StateIdle TurnState = iota
	StateStreaming
	StateAwaitingTools
	StateCompleted
	StateFailed
	StateTurnLimitReached
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateAwaitingTools:
		return "awaiting-tools"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTurnLimitReached:
		return "turn-limit-reached"
	default:
		return "unknown"
	}
}

var (
	// ErrTurnLimit signals that the model kept requesting tools past the
	// configured maximum number of rounds.
	ErrTurnLimit = errors.New("tool round limit reached")
	// ErrEmptyInput rejects a turn with no user content.
	ErrEmptyInput = errors.New("user input is empty")
)

// TurnHooks receive incremental events while a turn runs. All fields are
// optional. Hooks are called from the turn's goroutine in event order.
type TurnHooks struct {
	OnText      func(delta string)
	OnThinking  func(delta string)
	OnToolStart func(inv ToolInvocation)
	OnToolDone  func(res ToolResult)
	OnState     func(state TurnState)
}

func (h TurnHooks) state(s TurnState) {
	if h.OnState != nil {
		h.OnState(s)
	}
}

// TurnOutcome summarizes a finished turn.
type TurnOutcome struct {
	State           TurnState
	FinalText       string
	Rounds          int // model rounds consumed, including the final one
	ToolInvocations int
	SnapshotVersion uint64
}

// Orchestrator drives one session's conversation: it opens the model stream
// with the full history and the current registry snapshot, forwards deltas as
// they arrive, dispatches tool batches, folds results back into history, and
// reopens the stream until the model answers without tools. Tool results are
// always folded back before the model is asked to continue.
type Orchestrator struct {
	provider models.Provider
	registry *Registry
	memory   *memory.Manager // optional
	system   string
	logger   *slog.Logger

	turnMu sync.Mutex // turns within one session are strictly sequential
}

// OrchestratorOptions carry the optional collaborators.
type OrchestratorOptions struct {
	Memory       *memory.Manager
	SystemPrompt string
	Logger       *slog.Logger
}

func NewOrchestrator(provider models.Provider, registry *Registry, opts OrchestratorOptions) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		provider: provider,
		registry: registry,
		memory:   opts.Memory,
		system:   opts.SystemPrompt,
		logger:   logger,
	}
}

// SetProvider swaps the inference backend. Takes effect on the next turn.
func (o *Orchestrator) SetProvider(p models.Provider) {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()
	o.provider = p
}

// RunTurn executes one full turn for the session. Configuration and the
// registry snapshot are captured at turn open; mid-turn changes affect the
// next turn only. On failure the session keeps every entry completed so far
// and nothing half-written.
func (o *Orchestrator) RunTurn(ctx context.Context, sess *Session, userInput string, hooks TurnHooks) (TurnOutcome, error) {
	o.turnMu.Lock()
	defer o.turnMu.Unlock()

	input := strings.TrimSpace(userInput)
	if input == "" {
		return TurnOutcome{State: StateFailed}, ErrEmptyInput
	}

	cfg := sess.Config()
	snap := o.registry.Current()
	coord := NewCoordinator(CoordinatorConfig{
		Concurrency: cfg.Concurrency,
		CallTimeout: cfg.CallTimeout,
	}, o.logger)

	system := o.system
	if cfg.MemoryEnabled && o.memory != nil {
		if records, err := o.memory.Recall(ctx, input, 5); err != nil {
			o.logger.Warn("memory recall failed", "session", sess.ID(), "error", err)
		} else if len(records) > 0 {
			system = system + "\n\nRelevant context from earlier conversations:\n" + formatRecords(records)
		}
	}

	sess.appendUser(input)

	tools := toolDefs(snap.Specs())
	outcome := TurnOutcome{SnapshotVersion: snap.Version()}

	for round := 0; ; round++ {
		if round >= cfg.MaxToolRounds {
			outcome.State = StateTurnLimitReached
			hooks.state(StateTurnLimitReached)
			o.logger.Warn("turn hit tool round limit",
				"session", sess.ID(), "rounds", round)
			return outcome, ErrTurnLimit
		}

		hooks.state(StateStreaming)
		text, thinking, calls, err := o.streamRound(ctx, models.Request{
			Model:          cfg.Model,
			System:         system,
			Messages:       sess.Messages(),
			Tools:          tools,
			MaxTokens:      cfg.MaxTokens,
			ThinkingBudget: cfg.ThinkingBudget,
		}, hooks)
		if err != nil {
			outcome.State = StateFailed
			hooks.state(StateFailed)
			return outcome, err
		}
		outcome.Rounds = round + 1

		if len(calls) == 0 {
			sess.appendAssistant(text, thinking, nil)
			outcome.State = StateCompleted
			outcome.FinalText = text
			hooks.state(StateCompleted)
			o.learn(sess, cfg, input, text)
			return outcome, nil
		}

		// Providers without invocation ids get synthesized ones so results
		// can still be correlated.
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = uuid.NewString()
			}
		}
		sess.appendAssistant(text, thinking, calls)

		hooks.state(StateAwaitingTools)
		invs := make([]ToolInvocation, len(calls))
		for i, call := range calls {
			invs[i] = ToolInvocation{
				ID:        call.ID,
				Name:      call.Name,
				Arguments: json.RawMessage(call.Arguments),
			}
			if hooks.OnToolStart != nil {
				hooks.OnToolStart(invs[i])
			}
		}
		outcome.ToolInvocations += len(invs)

		results := coord.Dispatch(ctx, invs, snap)
		for _, res := range results {
			if hooks.OnToolDone != nil {
				hooks.OnToolDone(res)
			}
			sess.appendToolResult(foldResult(res))
		}

		if err := ctx.Err(); err != nil {
			outcome.State = StateFailed
			hooks.state(StateFailed)
			return outcome, fmt.Errorf("turn canceled: %w", err)
		}
	}
}

// streamRound consumes one model stream: deltas are forwarded as they arrive,
// completed thinking blocks and tool invocations are accumulated, and the
// final text is returned. Thinking blocks are kept whole because providers
// with signed reasoning require them replayed on the follow-up request.
func (o *Orchestrator) streamRound(ctx context.Context, req models.Request, hooks TurnHooks) (string, []models.ThinkingBlock, []models.ToolCall, error) {
	stream, err := o.provider.Stream(ctx, req)
	if err != nil {
		return "", nil, nil, fmt.Errorf("model stream: %w", err)
	}

	var (
		text     string
		thinking []models.ThinkingBlock
		calls    []models.ToolCall
	)
	for chunk := range stream {
		if chunk.Err != nil {
			return "", nil, nil, fmt.Errorf("model stream: %w", chunk.Err)
		}
		if chunk.Delta != "" && hooks.OnText != nil {
			hooks.OnText(chunk.Delta)
		}
		if chunk.Thinking != "" && hooks.OnThinking != nil {
			hooks.OnThinking(chunk.Thinking)
		}
		if chunk.ThinkingBlock != nil {
			thinking = append(thinking, *chunk.ThinkingBlock)
		}
		if chunk.ToolCall != nil {
			calls = append(calls, *chunk.ToolCall)
		}
		if chunk.Done {
			text = chunk.FullText
		}
	}
	if err := ctx.Err(); err != nil {
		return "", nil, nil, fmt.Errorf("turn canceled: %w", err)
	}
	return text, thinking, calls, nil
}

func (o *Orchestrator) learn(sess *Session, cfg Config, input, answer string) {
	if !cfg.MemoryEnabled || o.memory == nil {
		return
	}
	o.memory.LearnAsync(sess.ID(), "user", input)
	o.memory.LearnAsync(sess.ID(), "assistant", answer)
}

// foldResult shapes a result for the conversation: failures are wrapped so
// the model sees them as context it can reason about, never as a crash.
func foldResult(res ToolResult) ToolResult {
	if res.IsError() {
		res.Content = fmt.Sprintf("<error>Tool %s execution failed: %s</error>", res.Tool, res.Content)
	}
	return res
}

func toolDefs(specs []ToolSpec) []models.ToolDef {
	defs := make([]models.ToolDef, len(specs))
	for i, spec := range specs {
		defs[i] = models.ToolDef{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.InputSchema,
		}
	}
	return defs
}

func formatRecords(records []memory.Record) string {
	var sb strings.Builder
	for _, rec := range records {
		sb.WriteString("- ")
		sb.WriteString(rec.Content)
		sb.WriteByte('\n')
	}
	return sb.String()
}
