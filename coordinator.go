package sublimechain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/sync/semaphore"
)

const (
	defaultConcurrency = 4
	defaultCallTimeout = 30 * time.Second
)

// CoordinatorConfig bounds the execution of one invocation batch.
type CoordinatorConfig struct {
	// Concurrency is the ceiling on simultaneously executing tool calls.
	Concurrency int
	// CallTimeout is the per-invocation deadline. Work still running when it
	// expires is abandoned, not killed; its late result is discarded.
	CallTimeout time.Duration
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	return c
}

// Coordinator executes one batch of tool invocations against a registry
// snapshot: bounded concurrency, per-call timeouts, one result per invocation
// in submission order. It never retries and never panics on tool failure;
// failures are data.
type Coordinator struct {
	cfg    CoordinatorConfig
	logger *slog.Logger
}

// NewCoordinator constructs a coordinator. Zero config fields take defaults;
// a nil logger falls back to slog.Default().
func NewCoordinator(cfg CoordinatorConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{cfg: cfg.withDefaults(), logger: logger}
}

// Dispatch runs every invocation in the batch and returns results in the same
// order as submitted, regardless of completion order. Cancellation of ctx
// stops waiting on in-flight work the same way a timeout does.
func (c *Coordinator) Dispatch(ctx context.Context, invs []ToolInvocation, snap *Snapshot) []ToolResult {
	results := make([]ToolResult, len(invs))
	if len(invs) == 0 {
		return results
	}

	sem := semaphore.NewWeighted(int64(c.cfg.Concurrency))
	var wg sync.WaitGroup

	for i, inv := range invs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = ToolResult{
					InvocationID: inv.ID,
					Tool:         inv.Name,
					Status:       StatusError,
					Content:      fmt.Sprintf("dispatch canceled: %v", err),
				}
				return
			}
			defer sem.Release(1)
			results[i] = c.execute(ctx, inv, snap)
		}()
	}
	wg.Wait()

	return results
}

// execute resolves, validates and runs a single invocation. Validation
// failures never reach the tool body.
func (c *Coordinator) execute(ctx context.Context, inv ToolInvocation, snap *Snapshot) ToolResult {
	start := time.Now()
	finish := func(status ResultStatus, msg string) ToolResult {
		return ToolResult{
			InvocationID: inv.ID,
			Tool:         inv.Name,
			Status:       status,
			Content:      msg,
			Duration:     time.Since(start),
		}
	}

	bind, ok := snap.lookup(inv.Name)
	if !ok {
		return finish(StatusError, fmt.Sprintf("unknown tool %q", inv.Name))
	}

	args, err := decodeArguments(inv.Arguments)
	if err != nil {
		return finish(StatusError, fmt.Sprintf("invalid arguments: %v", err))
	}
	if bind.schema != nil {
		if err := bind.schema.Validate(anyArguments(args)); err != nil {
			return finish(StatusError, fmt.Sprintf("arguments failed validation: %v", err))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	// Buffered so an abandoned worker can still deliver and exit.
	done := make(chan outcome, 1)
	go func() {
		content, err := c.invoke(callCtx, bind, args)
		done <- outcome{content, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return finish(StatusError, out.err.Error())
		}
		return finish(StatusOK, out.content)
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return finish(StatusError, fmt.Sprintf("canceled: %v", ctx.Err()))
		}
		c.logger.Warn("tool timed out, any late result will be discarded",
			"tool", inv.Name, "invocation", inv.ID, "timeout", c.cfg.CallTimeout)
		return finish(StatusTimeout, fmt.Sprintf("no result within %s", c.cfg.CallTimeout))
	}
}

func (c *Coordinator) invoke(ctx context.Context, bind binding, args map[string]any) (string, error) {
	if bind.local != nil {
		resp, err := bind.local.Invoke(ctx, ToolRequest{Arguments: args})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
	return bind.server.Call(ctx, bind.remote, args)
}

// decodeArguments parses the raw argument JSON. Payloads cut off by
// fine-grained streaming are first run through jsonrepair before being
// declared invalid. An empty payload means no arguments.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		return args, nil
	}
	repaired, err := jsonrepair.JSONRepair(string(raw))
	if err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("malformed JSON after repair: %w", err)
	}
	return args, nil
}

// anyArguments re-types the argument map for the validator, which expects the
// shape produced by unmarshalling into interface{}.
func anyArguments(args map[string]any) any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
