package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	sublime "github.com/sublime-labs/sublimechain"
	"github.com/sublime-labs/sublimechain/src/memory"
	"github.com/sublime-labs/sublimechain/src/models"
)

var (
	promptColor   = color.New(color.FgCyan, color.Bold)
	thinkColor    = color.New(color.FgHiBlack)
	toolColor     = color.New(color.FgYellow)
	errColor      = color.New(color.FgRed)
	noticeColor   = color.New(color.FgGreen)
	headlineColor = color.New(color.FgMagenta, color.Bold)
)

// shell is the interactive front end: a readline loop that feeds turns to the
// orchestrator and renders stream events as they arrive.
type shell struct {
	orch     *sublime.Orchestrator
	registry *sublime.Registry
	session  *sublime.Session
	mem      *memory.Manager
}

func (s *shell) run() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          promptColor.Sprint("you> "),
		HistoryFile:     os.ExpandEnv("$HOME/.sublime_history"),
		InterruptPrompt: "^C",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	headlineColor.Println("SublimeChain interactive shell")
	fmt.Printf("provider=%s  tools=%d  session=%s\n",
		s.session.Config().Provider, s.registry.Current().Len(), s.session.ID())
	fmt.Println("Type a message, or /help for commands.")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if s.command(line) {
				return nil
			}
			continue
		}
		s.turn(line)
	}
}

// turn runs one conversational turn, cancelable with Ctrl-C.
func (s *shell) turn(input string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT)
	defer stop()

	hooks := sublime.TurnHooks{
		OnText: func(delta string) {
			fmt.Print(delta)
		},
		OnThinking: func(delta string) {
			thinkColor.Print(delta)
		},
		OnToolStart: func(inv sublime.ToolInvocation) {
			toolColor.Printf("\n[tool] %s %s\n", inv.Name, compactArgs(inv.Arguments))
		},
		OnToolDone: func(res sublime.ToolResult) {
			if res.IsError() {
				errColor.Printf("[tool] %s %s: %s\n", res.Tool, res.Status, firstLine(res.Content))
			} else {
				toolColor.Printf("[tool] %s done in %s\n", res.Tool, res.Duration.Round(time.Millisecond))
			}
		},
	}

	start := time.Now()
	outcome, err := s.orch.RunTurn(ctx, s.session, input, hooks)
	fmt.Println()
	switch {
	case errors.Is(err, sublime.ErrTurnLimit):
		errColor.Printf("(stopped after %d tool rounds)\n", outcome.Rounds)
	case err != nil:
		errColor.Printf("turn failed: %v\n", err)
	default:
		if outcome.ToolInvocations > 0 {
			noticeColor.Printf("(%d tool call(s), %d round(s), %s)\n",
				outcome.ToolInvocations, outcome.Rounds, time.Since(start).Round(time.Millisecond))
		}
	}
}

// command handles slash commands. Returns true when the shell should exit.
func (s *shell) command(line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/exit", "/quit":
		return true

	case "/help":
		fmt.Print(`commands:
  /tools            list available tools
  /config           show the active session configuration
  /model <name>     switch the model for the next turn
  /provider <name>  switch the inference backend (anthropic|openai|ollama)
  /reload           re-list tool servers and publish a new snapshot
  /memory           show how many records the memory bank holds
  /remember <text>  store a note in long-term memory
  /recall <query>   search long-term memory
  /reset            clear the conversation history
  /exit             leave the shell
`)

	case "/tools":
		snap := s.registry.Current()
		fmt.Printf("snapshot v%d, %d tool(s):\n", snap.Version(), snap.Len())
		for _, spec := range snap.Specs() {
			fmt.Printf("  %-24s %s\n", spec.Name, firstLine(spec.Description))
		}

	case "/config":
		cfg := s.session.Config()
		fmt.Printf("provider=%s model=%s max_tokens=%d thinking=%d rounds=%d timeout=%s concurrency=%d memory=%v\n",
			cfg.Provider, cfg.Model, cfg.MaxTokens, cfg.ThinkingBudget,
			cfg.MaxToolRounds, cfg.CallTimeout, cfg.Concurrency, cfg.MemoryEnabled)

	case "/model":
		if rest == "" {
			errColor.Println("usage: /model <name>")
			break
		}
		s.session.UpdateConfig(func(c *sublime.Config) { c.Model = rest })
		noticeColor.Printf("model set to %s (next turn)\n", rest)

	case "/provider":
		if rest == "" {
			errColor.Println("usage: /provider <name>")
			break
		}
		p, err := models.New(rest)
		if err != nil {
			errColor.Printf("switch provider: %v\n", err)
			break
		}
		s.orch.SetProvider(p)
		s.session.UpdateConfig(func(c *sublime.Config) { c.Provider = rest })
		noticeColor.Printf("provider set to %s (next turn)\n", rest)

	case "/reload":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		snap, err := s.registry.Load(ctx)
		cancel()
		if err != nil {
			errColor.Printf("reload: %v\n", err)
			break
		}
		noticeColor.Printf("snapshot v%d published, %d tool(s)\n", snap.Version(), snap.Len())

	case "/memory":
		if s.mem == nil {
			fmt.Println("memory is disabled")
			break
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n, err := s.mem.Count(ctx)
		cancel()
		if err != nil {
			errColor.Printf("memory: %v\n", err)
			break
		}
		fmt.Printf("%d record(s) in the memory bank\n", n)

	case "/remember":
		if s.mem == nil {
			fmt.Println("memory is disabled")
			break
		}
		if rest == "" {
			errColor.Println("usage: /remember <text>")
			break
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.mem.Learn(ctx, s.session.ID(), "user", rest)
		cancel()
		if err != nil {
			errColor.Printf("remember: %v\n", err)
			break
		}
		noticeColor.Println("stored")

	case "/recall":
		if s.mem == nil {
			fmt.Println("memory is disabled")
			break
		}
		if rest == "" {
			errColor.Println("usage: /recall <query>")
			break
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		records, err := s.mem.ForceRecall(ctx, rest, 5)
		cancel()
		if err != nil {
			errColor.Printf("recall: %v\n", err)
			break
		}
		if len(records) == 0 {
			fmt.Println("nothing found")
			break
		}
		for _, rec := range records {
			fmt.Printf("  %.3f  [%s] %s\n", rec.Score, rec.Role, firstLine(rec.Content))
		}

	case "/reset":
		s.session.Reset()
		noticeColor.Println("history cleared")

	default:
		errColor.Printf("unknown command %s, try /help\n", cmd)
	}
	return false
}

func compactArgs(raw []byte) string {
	args := strings.Join(strings.Fields(string(raw)), " ")
	return clip(args, 120)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return clip(s, 100)
}

// clip shortens s to at most max bytes, cutting on a rune boundary so a
// multi-byte character is never split mid-sequence.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "…"
}
