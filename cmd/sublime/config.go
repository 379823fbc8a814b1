package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	sublime "github.com/sublime-labs/sublimechain"
	"github.com/sublime-labs/sublimechain/src/memory"
)

// duration parses "30s" style values from YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = duration(parsed)
	return nil
}

// ServerConfig describes one external tool server to spawn.
type ServerConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
}

// MemoryConfig selects the long-term memory backend.
type MemoryConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Store           string `yaml:"store"` // memory | postgres | mongo
	PostgresDSN     string `yaml:"postgres_dsn"`
	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`
}

// FileConfig is the YAML configuration surface.
type FileConfig struct {
	Provider       string         `yaml:"provider"`
	Model          string         `yaml:"model"`
	MaxTokens      int            `yaml:"max_tokens"`
	ThinkingBudget int            `yaml:"thinking_budget"`
	MaxToolRounds  int            `yaml:"max_tool_rounds"`
	ToolTimeout    duration       `yaml:"tool_timeout"`
	Concurrency    int            `yaml:"concurrency"`
	HistoryLimit   int            `yaml:"history_limit"`
	SystemPrompt   string         `yaml:"system_prompt"`
	Memory         MemoryConfig   `yaml:"memory"`
	Servers        []ServerConfig `yaml:"servers"`
}

func defaultConfig() FileConfig {
	return FileConfig{
		Provider:       "anthropic",
		MaxTokens:      4096,
		ThinkingBudget: 1024,
		MaxToolRounds:  8,
		ToolTimeout:    duration(30 * time.Second),
		Concurrency:    4,
		HistoryLimit:   20,
		SystemPrompt: "You are SublimeChain, a capable assistant with tools. " +
			"Use them when they genuinely help, and explain results plainly.",
		Memory: MemoryConfig{Enabled: true, Store: "memory"},
	}
}

// loadConfig reads .env (best effort) and the YAML file when present.
func loadConfig(path string) (FileConfig, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()
	if path == "" {
		path = "sublime.yaml"
		if _, err := os.Stat(path); err != nil {
			return cfg, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c FileConfig) sessionConfig() sublime.Config {
	return sublime.Config{
		Provider:       c.Provider,
		Model:          c.Model,
		MaxTokens:      c.MaxTokens,
		ThinkingBudget: c.ThinkingBudget,
		MaxToolRounds:  c.MaxToolRounds,
		CallTimeout:    time.Duration(c.ToolTimeout),
		Concurrency:    c.Concurrency,
		MemoryEnabled:  c.Memory.Enabled,
		HistoryLimit:   c.HistoryLimit,
	}
}

// buildStore opens the configured memory backend.
func buildStore(ctx context.Context, cfg MemoryConfig) (memory.VectorStore, error) {
	switch cfg.Store {
	case "", "memory":
		return memory.NewInMemoryStore(), nil
	case "postgres":
		return memory.NewPostgresStore(ctx, cfg.PostgresDSN, 0)
	case "mongo", "mongodb":
		return memory.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	default:
		return nil, fmt.Errorf("unknown memory store %q", cfg.Store)
	}
}
